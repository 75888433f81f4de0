package strategy

import (
	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/engine"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
)

// MeanReversionConfig configures a MeanReversion strategy.
type MeanReversionConfig struct {
	Period     int
	Oversold   float64
	Overbought float64
	Quantity   float64
	// Discount places the limit buy this fraction below the current price.
	Discount float64
	// MaxAge cancels a resting buy after this many ticks. Zero keeps it.
	MaxAge  int
	Symbols []string
}

func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Period:     14,
		Oversold:   30,
		Overbought: 70,
		Quantity:   10,
		Discount:   0.005,
		MaxAge:     5,
	}
}

type restingBuy struct {
	id     int64
	placed int
}

// MeanReversion rests a limit buy under the market when RSI says a symbol is
// oversold and sells the whole position at market once it is overbought. At
// most one buy per symbol rests at a time.
type MeanReversion struct {
	sim.NopStrategy

	cfg     MeanReversionConfig
	log     *zap.SugaredLogger
	resting map[string]restingBuy
}

func NewMeanReversion(cfg MeanReversionConfig, logger *zap.Logger) *MeanReversion {
	def := DefaultMeanReversionConfig()
	if cfg.Period < 2 {
		cfg.Period = def.Period
	}
	if cfg.Oversold <= 0 || cfg.Overbought <= cfg.Oversold || cfg.Overbought >= 100 {
		cfg.Oversold, cfg.Overbought = def.Oversold, def.Overbought
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = def.Quantity
	}
	if cfg.Discount < 0 || cfg.Discount >= 1 {
		cfg.Discount = def.Discount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MeanReversion{
		cfg:     cfg,
		log:     logger.Named("mean_reversion").Sugar(),
		resting: make(map[string]restingBuy),
	}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) OnSimulationStart() {
	s.resting = make(map[string]restingBuy)
}

func (s *MeanReversion) OnTick(mv sim.MarketView, l sim.LedgerView, t sim.Trader, step int) {
	for _, sym := range watched(mv, s.cfg.Symbols) {
		if rb, ok := s.resting[sym]; ok {
			if s.cfg.MaxAge > 0 && step-rb.placed >= s.cfg.MaxAge {
				if _, err := t.CancelOrder(rb.id); err == nil {
					s.log.Debugw("mean_reversion_cancel", "symbol", sym, "order_id", rb.id)
				}
				delete(s.resting, sym)
			}
			continue
		}

		rsi, ok := lastRSI(mv.Prices(sym), s.cfg.Period)
		if !ok {
			continue
		}
		price := mv.CurrentPrice(sym)

		switch {
		case rsi < s.cfg.Oversold && !l.HasPosition(sym):
			limit := price * (1 - s.cfg.Discount)
			o, err := t.ExecuteLimitOrder(sym, order.Buy, s.cfg.Quantity, limit)
			if err != nil {
				s.log.Debugw("mean_reversion_buy_rejected", "symbol", sym, "err", err)
				continue
			}
			if o.Status == order.Pending {
				s.resting[sym] = restingBuy{id: o.ID, placed: step}
			}
			s.log.Infow("mean_reversion_buy", "symbol", sym, "rsi", rsi, "limit", limit, "step", step)

		case rsi > s.cfg.Overbought && l.HasPosition(sym):
			qty := l.PositionQuantity(sym)
			if _, err := t.ExecuteMarketOrder(sym, order.Sell, qty); err != nil {
				s.log.Debugw("mean_reversion_sell_failed", "symbol", sym, "err", err)
				continue
			}
			s.log.Infow("mean_reversion_sell", "symbol", sym, "rsi", rsi, "quantity", qty, "step", step)
		}
	}
}

func (s *MeanReversion) OnOrderExecuted(exec engine.Execution) {
	if rb, ok := s.resting[exec.Order.Symbol]; ok && rb.id == exec.Order.ID {
		delete(s.resting, exec.Order.Symbol)
	}
}

// Resting reports the id of the buy resting for symbol, if any.
func (s *MeanReversion) Resting(symbol string) (int64, bool) {
	rb, ok := s.resting[symbol]
	return rb.id, ok
}

// lastRSI needs period+1 prices; talib leaves the warm-up slots at zero.
func lastRSI(prices []float64, period int) (float64, bool) {
	if len(prices) <= period {
		return 0, false
	}
	rsi := talib.Rsi(prices, period)
	return rsi[len(rsi)-1], true
}
