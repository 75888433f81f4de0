// Package engine implements the matching engine: a FIFO queue of pending
// limit orders checked against the price process every tick, with fills
// applied to the ledger at the market price.
//
// The engine borrows the price process and the ledger and is not safe for
// concurrent use; sim.Simulator serializes access.
package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/account"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
)

// summaryInterval is how often (in steps) Step logs a market summary.
const summaryInterval = 10

// Market is the subset of the price process the engine reads and advances.
type Market interface {
	HasSymbol(symbol string) bool
	CurrentPrice(symbol string) float64
	Symbols() []string
	Advance()
	Quotes() []market.Quote
}

// Execution records one fill
type Execution struct {
	Order    order.Order // copy taken after the fill
	Price    float64     // market price the ledger was charged
	Quantity float64
	Step     int // engine step the fill happened in; 0 before the first step
}

type Engine struct {
	market Market
	ledger *account.Ledger
	ids    *order.IDAllocator
	log    *zap.SugaredLogger

	pending  []*order.Order // FIFO by arrival
	executed []Execution    // append-only
	step     int
}

// New creates an engine over the given price process and ledger.
// A nil allocator gets a fresh one starting at id 1; a nil logger disables logging.
func New(m Market, ledger *account.Ledger, ids *order.IDAllocator, logger *zap.SugaredLogger) *Engine {
	if ids == nil {
		ids = order.NewIDAllocator(nil)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		market: m,
		ledger: ledger,
		ids:    ids,
		log:    logger,
	}
}

func (e *Engine) Ledger() *account.Ledger { return e.ledger }
func (e *Engine) Market() Market          { return e.market }
func (e *Engine) IDs() *order.IDAllocator { return e.ids }
func (e *Engine) CurrentStep() int        { return e.step }
func (e *Engine) PendingOrderCount() int  { return len(e.pending) }

// NewOrder builds a pending order with the engine's next id. It is not submitted.
func (e *Engine) NewOrder(symbol string, side order.Side, quantity, price float64) *order.Order {
	return e.ids.NewOrder(symbol, side, quantity, price)
}

// Validate runs the admission gates and returns the first failure.
func (e *Engine) Validate(o *order.Order) error {
	if !e.market.HasSymbol(o.Symbol) {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, o.Symbol)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidQuantity, o.Quantity)
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidPrice, o.Price)
	}
	if !e.ledger.CanAfford(o) {
		return fmt.Errorf("%w: %s %s %v @ %v", ErrInsufficientFunds, o.Side, o.Symbol, o.Quantity, o.Price)
	}
	return nil
}

// Submit validates and enqueues o. Rejected orders are logged and not queued.
func (e *Engine) Submit(o *order.Order) bool {
	return e.admit(o) == nil
}

func (e *Engine) admit(o *order.Order) error {
	if err := e.Validate(o); err != nil {
		e.log.Infow("order_rejected", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side.String(), "err", err)
		return err
	}
	e.pending = append(e.pending, o)
	e.log.Debugw("order_submitted", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side.String(),
		"qty", o.Quantity, "limit", o.Price)
	return nil
}

// TryExecute fills o for its full quantity at the current market price when
// the limit condition holds (BUY: market <= limit, SELL: market >= limit)
// and the ledger accepts it. Otherwise o is left untouched.
func (e *Engine) TryExecute(o *order.Order) (Execution, bool) {
	price := e.market.CurrentPrice(o.Symbol)

	var executable bool
	switch o.Side {
	case order.Buy:
		executable = price <= o.Price
	case order.Sell:
		executable = price >= o.Price
	}
	if !executable || !e.ledger.CanAfford(o) {
		return Execution{}, false
	}

	qty := o.Remaining()
	o.Fill(qty)
	e.ledger.Execute(o, price)

	exec := Execution{Order: *o, Price: price, Quantity: qty, Step: e.step}
	e.executed = append(e.executed, exec)
	e.log.Infow("order_executed", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side.String(),
		"qty", qty, "price", price, "step", e.step)
	return exec, true
}

// ProcessPendingOrders makes one pass over the queue. Orders that do not
// execute are requeued in their original relative order.
func (e *Engine) ProcessPendingOrders() []Execution {
	if len(e.pending) == 0 {
		return nil
	}

	var fills []Execution
	remaining := e.pending[:0]
	for _, o := range e.pending {
		if exec, ok := e.TryExecute(o); ok {
			fills = append(fills, exec)
			continue
		}
		remaining = append(remaining, o)
	}
	// clear the tail so executed orders are not retained by the backing array
	for i := len(remaining); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = remaining
	return fills
}

// MarketEntry reports how far a market order got through entry.
type MarketEntry struct {
	Entered   order.Order  // as built, before any fill; zero when the symbol is unknown
	Order     *order.Order // nil when the symbol is unknown
	Validated bool
	Execution Execution // set when the order filled
}

// EnterMarketOrder builds an order limited at the current price and fills it
// immediately, or rejects it. Nothing is queued. The returned entry is filled
// in up to the stage that failed.
func (e *Engine) EnterMarketOrder(symbol string, side order.Side, quantity float64) (MarketEntry, error) {
	var m MarketEntry
	if !e.market.HasSymbol(symbol) {
		e.log.Infow("order_rejected", "symbol", symbol, "side", side.String(), "err", ErrUnknownSymbol)
		return m, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	o := e.NewOrder(symbol, side, quantity, e.market.CurrentPrice(symbol))
	m.Order, m.Entered = o, *o
	if err := e.Validate(o); err != nil {
		e.log.Infow("order_rejected", "order_id", o.ID, "symbol", symbol, "side", side.String(), "err", err)
		return m, err
	}
	m.Validated = true

	exec, ok := e.TryExecute(o)
	if !ok {
		return m, fmt.Errorf("%w: order %d", ErrNotExecutable, o.ID)
	}
	m.Execution = exec
	return m, nil
}

// ExecuteMarketOrder is EnterMarketOrder reduced to the order. The order is
// nil when the symbol is unknown.
func (e *Engine) ExecuteMarketOrder(symbol string, side order.Side, quantity float64) (*order.Order, error) {
	m, err := e.EnterMarketOrder(symbol, side, quantity)
	return m.Order, err
}

// ExecuteLimitOrder submits a resting order. It fills on a later
// ProcessPendingOrders pass once the price condition holds.
func (e *Engine) ExecuteLimitOrder(symbol string, side order.Side, quantity, price float64) (*order.Order, error) {
	o := e.NewOrder(symbol, side, quantity, price)
	return o, e.admit(o)
}

// Cancel removes the pending order with id and marks it cancelled. Other
// orders keep their relative order. A miss is logged and reported as false.
func (e *Engine) Cancel(id int64) (order.Order, bool) {
	for i, o := range e.pending {
		if o.ID != id {
			continue
		}
		o.Cancel()
		copy(e.pending[i:], e.pending[i+1:])
		e.pending[len(e.pending)-1] = nil
		e.pending = e.pending[:len(e.pending)-1]
		e.log.Infow("order_cancelled", "order_id", id, "symbol", o.Symbol)
		return *o, true
	}
	e.log.Infow("order_cancel_miss", "order_id", id)
	return order.Order{}, false
}

// Step runs one tick: advance prices, mark every held position, then one
// pending-order pass. Every summaryInterval steps it logs a summary.
// Returns the tick's fills.
func (e *Engine) Step() []Execution {
	e.step++
	e.market.Advance()
	for _, sym := range e.market.Symbols() {
		e.ledger.UpdatePositionValue(sym, e.market.CurrentPrice(sym))
	}
	fills := e.ProcessPendingOrders()
	if e.step%summaryInterval == 0 {
		e.LogSummary()
	}
	return fills
}

// RunSimulation runs steps ticks to completion and returns all fills.
func (e *Engine) RunSimulation(steps int) []Execution {
	e.log.Infow("simulation_start", "steps", steps, "from_step", e.step, "pending", len(e.pending))

	var fills []Execution
	for i := 0; i < steps; i++ {
		fills = append(fills, e.Step()...)
	}

	stats := e.Stats()
	e.log.Infow("simulation_complete",
		"steps", steps,
		"executed", stats.Executed,
		"pending", stats.Pending,
		"cash", e.ledger.Cash(),
		"total_value", e.ledger.TotalValue(),
	)
	return fills
}

// LogSummary logs engine progress and one quote per symbol.
func (e *Engine) LogSummary() {
	e.log.Infow("simulation_step", "step", e.step, "pending", len(e.pending), "total_value", e.ledger.TotalValue())
	for _, q := range e.market.Quotes() {
		e.log.Debugw("market_quote", "symbol", q.Symbol, "price", q.Price, "daily_return_pct", q.DailyReturn, "volatility", q.Volatility)
	}
}

// PendingOrders returns copies of the queued orders in queue order
func (e *Engine) PendingOrders() []order.Order {
	out := make([]order.Order, len(e.pending))
	for i, o := range e.pending {
		out[i] = *o
	}
	return out
}

// ExecutedOrders returns the executed orders, oldest first
func (e *Engine) ExecutedOrders() []order.Order {
	out := make([]order.Order, len(e.executed))
	for i, x := range e.executed {
		out[i] = x.Order
	}
	return out
}

// Executions returns the execution log, oldest first
func (e *Engine) Executions() []Execution {
	out := make([]Execution, len(e.executed))
	copy(out, e.executed)
	return out
}
