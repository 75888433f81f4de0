package sim

import (
	"github.com/uhyunpark/marketsim/pkg/app/core/account"
	"github.com/uhyunpark/marketsim/pkg/app/core/engine"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
)

// MarketView is the read-only price state handed to strategies.
type MarketView interface {
	Symbols() []string
	HasSymbol(symbol string) bool
	CurrentPrice(symbol string) float64
	DailyReturn(symbol string) float64
	Volatility(symbol string) float64
	Prices(symbol string) []float64
}

// LedgerView is the read-only ledger state handed to strategies.
type LedgerView interface {
	Cash() float64
	TotalValue() float64
	HasPosition(symbol string) bool
	PositionQuantity(symbol string) float64
	Position(symbol string) (account.Position, bool)
}

// Trader is the write access a strategy gets: order entry only.
type Trader interface {
	ExecuteMarketOrder(symbol string, side order.Side, quantity float64) (order.Order, error)
	ExecuteLimitOrder(symbol string, side order.Side, quantity, price float64) (order.Order, error)
	CancelOrder(id int64) (order.Order, error)
}

var (
	_ MarketView = (*market.PriceProcess)(nil)
	_ LedgerView = (*account.Ledger)(nil)
)

// Strategy is driven by the simulator once per tick, after prices moved and
// pending orders were matched.
type Strategy interface {
	Name() string
	OnSimulationStart()
	OnSimulationStop()
	OnTick(m MarketView, l LedgerView, t Trader, step int)
	OnOrderExecuted(exec engine.Execution)
}

// NopStrategy implements every Strategy hook as a no-op. Embed it and
// override what you need.
type NopStrategy struct{}

func (NopStrategy) Name() string                               { return "nop" }
func (NopStrategy) OnSimulationStart()                         {}
func (NopStrategy) OnSimulationStop()                          {}
func (NopStrategy) OnTick(MarketView, LedgerView, Trader, int) {}
func (NopStrategy) OnOrderExecuted(engine.Execution)           {}

// Listener receives order and simulation events. Events are delivered after
// the simulator lock is released, in the order they happened. A listener may
// call back into the simulator.
type Listener interface {
	OnOrderSubmitted(o order.Order)
	OnOrderValidated(o order.Order, valid bool)
	OnOrderExecuted(o order.Order, price, quantity float64)
	OnOrderCancelled(o order.Order)
	OnOrderFailed(o order.Order, reason string)
	OnSimulationStart(runID string, steps int)
	OnSimulationStop(runID string, completed int)
	OnStep(step int, quotes []market.Quote)
}

// NopListener implements every Listener hook as a no-op.
type NopListener struct{}

func (NopListener) OnOrderSubmitted(order.Order)                  {}
func (NopListener) OnOrderValidated(order.Order, bool)            {}
func (NopListener) OnOrderExecuted(order.Order, float64, float64) {}
func (NopListener) OnOrderCancelled(order.Order)                  {}
func (NopListener) OnOrderFailed(order.Order, string)             {}
func (NopListener) OnSimulationStart(string, int)                 {}
func (NopListener) OnSimulationStop(string, int)                  {}
func (NopListener) OnStep(int, []market.Quote)                    {}
