package strategy

import (
	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
)

type TrendFollowConfig struct {
	FastPeriod int
	SlowPeriod int
	Quantity   float64
	Symbols    []string
}

func DefaultTrendFollowConfig() TrendFollowConfig {
	return TrendFollowConfig{FastPeriod: 5, SlowPeriod: 20, Quantity: 10}
}

// TrendFollow buys when the fast SMA crosses above the slow one and closes
// the position when it crosses back below.
type TrendFollow struct {
	sim.NopStrategy

	cfg TrendFollowConfig
	log *zap.SugaredLogger
}

func NewTrendFollow(cfg TrendFollowConfig, logger *zap.Logger) *TrendFollow {
	def := DefaultTrendFollowConfig()
	if cfg.FastPeriod < 2 || cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.FastPeriod, cfg.SlowPeriod = def.FastPeriod, def.SlowPeriod
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = def.Quantity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrendFollow{cfg: cfg, log: logger.Named("trend_follow").Sugar()}
}

func (s *TrendFollow) Name() string { return "trend_follow" }

func (s *TrendFollow) OnTick(mv sim.MarketView, l sim.LedgerView, t sim.Trader, step int) {
	for _, sym := range watched(mv, s.cfg.Symbols) {
		switch crossing(mv.Prices(sym), s.cfg.FastPeriod, s.cfg.SlowPeriod) {
		case 1:
			if l.Cash() < mv.CurrentPrice(sym)*s.cfg.Quantity {
				continue
			}
			if _, err := t.ExecuteMarketOrder(sym, order.Buy, s.cfg.Quantity); err != nil {
				s.log.Debugw("trend_buy_failed", "symbol", sym, "err", err)
				continue
			}
			s.log.Infow("trend_buy", "symbol", sym, "step", step)
		case -1:
			if !l.HasPosition(sym) {
				continue
			}
			qty := l.PositionQuantity(sym)
			if _, err := t.ExecuteMarketOrder(sym, order.Sell, qty); err != nil {
				s.log.Debugw("trend_sell_failed", "symbol", sym, "err", err)
				continue
			}
			s.log.Infow("trend_sell", "symbol", sym, "quantity", qty, "step", step)
		}
	}
}

// crossing returns 1 when the fast SMA crossed above the slow SMA on the last
// point, -1 when it crossed below and 0 otherwise.
func crossing(prices []float64, fast, slow int) int {
	if len(prices) < slow+1 {
		return 0
	}
	f := talib.Sma(prices, fast)
	sl := talib.Sma(prices, slow)
	n := len(prices) - 1

	prevDiff := f[n-1] - sl[n-1]
	diff := f[n] - sl[n]
	switch {
	case prevDiff <= 0 && diff > 0:
		return 1
	case prevDiff >= 0 && diff < 0:
		return -1
	}
	return 0
}
