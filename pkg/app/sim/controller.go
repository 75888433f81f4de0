package sim

import (
	"context"
	"errors"

	"github.com/uhyunpark/marketsim/pkg/app/core/account"
	"github.com/uhyunpark/marketsim/pkg/app/core/engine"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/storage"
)

var (
	ErrSimulationRunning = errors.New("simulation already running")
	ErrInvalidSteps      = errors.New("steps out of range")
	ErrInvalidOrderType  = errors.New("order type must be market or limit")
	ErrNoJournal         = errors.New("journal disabled")
)

type OrderType string

const (
	MarketOrder OrderType = "market"
	LimitOrder  OrderType = "limit"
)

// OrderRequest is a side-and-type tagged order entry. Price is ignored for
// market orders.
type OrderRequest struct {
	Symbol   string
	Side     order.Side
	Type     OrderType
	Quantity float64
	Price    float64
}

// RunResult reports one RunSimulation call
type RunResult struct {
	RunID          string
	StepsRequested int
	StepsCompleted int
	Stopped        bool
	Executions     []engine.Execution
	StateHash      string
}

// Controller is the command surface for remote or programmatic control.
// Every method is safe for concurrent use.
type Controller interface {
	Trader

	SubmitOrder(req OrderRequest) (order.Order, error)
	ExecutedOrders() []order.Order
	PendingOrders() []order.Order
	PendingOrderCount() int

	// RunSimulation runs steps ticks and blocks until they complete, the
	// context ends, or StopSimulation is called. Only one run is active at a time.
	RunSimulation(ctx context.Context, steps int) (RunResult, error)
	// StartSimulation claims the run before returning and runs it in the
	// background, handing the outcome to done.
	StartSimulation(ctx context.Context, steps int, done func(RunResult, error)) (string, error)
	// StopSimulation makes an active run return after its current tick.
	// Reports whether a run was active.
	StopSimulation() bool
	Running() bool

	RegisterListener(l Listener)
	UnregisterListener(l Listener)

	Quotes() []market.Quote
	Quote(symbol string) (market.Quote, bool)
	History(symbol string, limit int) ([]market.PricePoint, error)
	Portfolio() account.Snapshot
	Stats() engine.Stats
	CurrentStep() int

	SessionID() string
	Runs() ([]storage.RunRecord, error)
	RunExecutions(runID string, limit int) ([]storage.ExecutionRecord, error)
}

var _ Controller = (*Simulator)(nil)
