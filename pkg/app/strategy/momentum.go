// Package strategy holds the trading strategies the simulator can drive each
// tick. Strategies are called with the simulator lock held and need no
// synchronization of their own.
package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
)

const (
	// DefaultMomentumThreshold is the daily return, in percent, that counts
	// as a momentum signal.
	DefaultMomentumThreshold = 2.0
	DefaultMomentumQuantity  = 10.0
)

// MomentumConfig configures a Momentum strategy.
type MomentumConfig struct {
	Threshold float64 // percent
	Quantity  float64
	Symbols   []string // empty means every listed symbol
}

// Momentum buys on a strong up day and trims half its order size on a strong
// down day while it holds the symbol.
type Momentum struct {
	sim.NopStrategy

	cfg    MomentumConfig
	log    *zap.SugaredLogger
	buys   int
	sells  int
	misses int
}

func NewMomentum(cfg MomentumConfig, logger *zap.Logger) *Momentum {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultMomentumThreshold
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = DefaultMomentumQuantity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Momentum{cfg: cfg, log: logger.Named("momentum").Sugar()}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) OnTick(mv sim.MarketView, l sim.LedgerView, t sim.Trader, step int) {
	for _, sym := range watched(mv, m.cfg.Symbols) {
		ret := mv.DailyReturn(sym)
		price := mv.CurrentPrice(sym)

		switch {
		case ret > m.cfg.Threshold:
			if l.Cash() < price*m.cfg.Quantity {
				m.misses++
				continue
			}
			if _, err := t.ExecuteMarketOrder(sym, order.Buy, m.cfg.Quantity); err != nil {
				m.misses++
				m.log.Debugw("momentum_buy_failed", "symbol", sym, "err", err)
				continue
			}
			m.buys++
			m.log.Infow("momentum_buy", "symbol", sym, "return", ret, "step", step)

		case ret < -m.cfg.Threshold && l.HasPosition(sym):
			qty := math.Min(math.Max(1, m.cfg.Quantity/2), l.PositionQuantity(sym))
			if _, err := t.ExecuteMarketOrder(sym, order.Sell, qty); err != nil {
				m.misses++
				m.log.Debugw("momentum_sell_failed", "symbol", sym, "err", err)
				continue
			}
			m.sells++
			m.log.Infow("momentum_sell", "symbol", sym, "return", ret, "step", step)
		}
	}
}

// Signals returns how many buys and sells were placed and how many signals
// could not be acted on.
func (m *Momentum) Signals() (buys, sells, misses int) {
	return m.buys, m.sells, m.misses
}

// watched filters the configured symbols against what the market lists.
func watched(mv sim.MarketView, symbols []string) []string {
	if len(symbols) == 0 {
		return mv.Symbols()
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if mv.HasSymbol(s) {
			out = append(out, s)
		}
	}
	return out
}
