// Package sim drives the core engine: it owns the price process, ledger and
// matching engine of one simulated account, runs the tick loop with
// strategy hooks, fans events out to listeners and journals executions.
//
// Every public method takes the simulator lock, so an order admitted through
// the API and a fill applied by the tick loop never interleave.
package sim

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/pkg/app/core/account"
	"github.com/uhyunpark/marketsim/pkg/app/core/engine"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/storage"
	"github.com/uhyunpark/marketsim/pkg/util"
)

// DefaultMaxSteps caps a single run when Config.MaxSteps is unset.
const DefaultMaxSteps = 10000

type Config struct {
	InitialCash  float64
	Params       market.Params // zero value means market.DefaultParams
	Seed         int64         // 0 seeds from the clock
	TickInterval time.Duration // pause between ticks of a run; 0 runs flat out
	MaxSteps     int           // per RunSimulation call; 0 means DefaultMaxSteps
	Clock        util.Clock
	Journal      *storage.Journal // nil disables journaling
}

type Simulator struct {
	mu         sync.Mutex
	prices     *market.PriceProcess
	ledger     *account.Ledger
	engine     *engine.Engine
	strategies []Strategy
	journal    *storage.Journal
	clock      util.Clock
	log        *zap.SugaredLogger

	tickInterval time.Duration
	maxSteps     int
	sessionID    string
	runID        string             // active run, or sessionID between runs
	runFills     []engine.Execution // fills of the active run
	outbox       []func(Listener)   // events raised under mu, delivered after unlock

	lmu       sync.RWMutex
	listeners []Listener

	running *atomic.Bool
	stop    *atomic.Bool
}

// New builds a simulator with an empty universe. Register symbols before
// submitting orders.
func New(cfg Config, logger *zap.Logger) (*Simulator, error) {
	if cfg.InitialCash < 0 {
		return nil, fmt.Errorf("initial cash cannot be negative: %v", cfg.InitialCash)
	}
	if cfg.Params == (market.Params{}) {
		cfg.Params = market.DefaultParams
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		prices *market.PriceProcess
		err    error
	)
	if cfg.Seed != 0 {
		prices, err = market.NewPriceProcessWithSource(cfg.Params, cfg.Clock, rand.NewSource(cfg.Seed))
	} else {
		prices, err = market.NewPriceProcess(cfg.Params, cfg.Clock)
	}
	if err != nil {
		return nil, err
	}

	ledger := account.NewLedger(cfg.InitialCash)
	s := &Simulator{
		prices:       prices,
		ledger:       ledger,
		engine:       engine.New(prices, ledger, order.NewIDAllocator(cfg.Clock), logger.Named("engine").Sugar()),
		journal:      cfg.Journal,
		clock:        cfg.Clock,
		log:          logger.Sugar(),
		tickInterval: cfg.TickInterval,
		maxSteps:     cfg.MaxSteps,
		sessionID:    uuid.NewString(),
		running:      atomic.NewBool(false),
		stop:         atomic.NewBool(false),
	}
	s.runID = s.sessionID

	if s.journal != nil {
		rec := storage.RunRecord{RunID: s.sessionID, StartedAt: s.clock.Now(), StartValue: cfg.InitialCash}
		if err := s.journal.RecordRun(rec); err != nil {
			return nil, fmt.Errorf("failed to record session: %w", err)
		}
	}
	return s, nil
}

// RegisterSymbol adds a tradable symbol to the price process.
func (s *Simulator) RegisterSymbol(symbol string, initialPrice, volatility float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prices.RegisterSymbol(symbol, initialPrice, volatility)
}

// AddStrategy appends a strategy; strategies run in registration order.
func (s *Simulator) AddStrategy(st Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies = append(s.strategies, st)
	s.log.Infow("strategy_added", "strategy", st.Name())
}

func (s *Simulator) RegisterListener(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Simulator) UnregisterListener(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// locked runs fn under the simulator lock, then delivers the events fn raised.
func (s *Simulator) locked(fn func()) {
	s.mu.Lock()
	fn()
	events := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	s.dispatch(events)
}

func (s *Simulator) emit(ev func(Listener)) {
	s.outbox = append(s.outbox, ev)
}

func (s *Simulator) dispatch(events []func(Listener)) {
	if len(events) == 0 {
		return
	}
	s.lmu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.lmu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			ev(l)
		}
	}
}

// ---------------------------------------------------------------------------
// Order entry
// ---------------------------------------------------------------------------

func (s *Simulator) SubmitOrder(req OrderRequest) (order.Order, error) {
	switch req.Type {
	case MarketOrder:
		return s.ExecuteMarketOrder(req.Symbol, req.Side, req.Quantity)
	case LimitOrder:
		return s.ExecuteLimitOrder(req.Symbol, req.Side, req.Quantity, req.Price)
	default:
		return order.Order{}, fmt.Errorf("%w: %q", ErrInvalidOrderType, req.Type)
	}
}

func (s *Simulator) ExecuteMarketOrder(symbol string, side order.Side, quantity float64) (o order.Order, err error) {
	s.locked(func() { o, err = s.executeMarket(symbol, side, quantity) })
	return o, err
}

func (s *Simulator) ExecuteLimitOrder(symbol string, side order.Side, quantity, price float64) (o order.Order, err error) {
	s.locked(func() { o, err = s.executeLimit(symbol, side, quantity, price) })
	return o, err
}

func (s *Simulator) CancelOrder(id int64) (o order.Order, err error) {
	s.locked(func() { o, err = s.cancel(id) })
	return o, err
}

// executeMarket raises one event per stage the engine reports.
func (s *Simulator) executeMarket(symbol string, side order.Side, quantity float64) (order.Order, error) {
	m, err := s.engine.EnterMarketOrder(symbol, side, quantity)
	if m.Order == nil {
		rejected := order.Order{Symbol: symbol, Side: side, Quantity: quantity, CreatedAt: s.clock.Now()}
		s.emit(func(l Listener) { l.OnOrderFailed(rejected, err.Error()) })
		return rejected, err
	}

	entered, validated := m.Entered, m.Validated
	s.emit(func(l Listener) {
		l.OnOrderSubmitted(entered)
		l.OnOrderValidated(entered, validated)
		if err != nil {
			l.OnOrderFailed(entered, err.Error())
		}
	})
	if err != nil {
		return *m.Order, err
	}
	s.afterExecutions([]engine.Execution{m.Execution})
	return *m.Order, nil
}

func (s *Simulator) executeLimit(symbol string, side order.Side, quantity, price float64) (order.Order, error) {
	o, err := s.engine.ExecuteLimitOrder(symbol, side, quantity, price)
	submitted := *o
	s.emit(func(l Listener) {
		l.OnOrderSubmitted(submitted)
		l.OnOrderValidated(submitted, err == nil)
		if err != nil {
			l.OnOrderFailed(submitted, err.Error())
		}
	})
	return submitted, err
}

func (s *Simulator) cancel(id int64) (order.Order, error) {
	o, ok := s.engine.Cancel(id)
	if !ok {
		return order.Order{}, fmt.Errorf("%w: %d", engine.ErrOrderNotFound, id)
	}
	s.emit(func(l Listener) { l.OnOrderCancelled(o) })
	return o, nil
}

// afterExecutions notifies strategies and listeners of fills and journals them.
func (s *Simulator) afterExecutions(fills []engine.Execution) {
	if len(fills) == 0 {
		return
	}

	if s.runID != s.sessionID {
		s.runFills = append(s.runFills, fills...)
	}

	recs := make([]storage.ExecutionRecord, 0, len(fills))
	now := s.clock.Now()
	for _, x := range fills {
		exec := x
		s.emit(func(l Listener) { l.OnOrderExecuted(exec.Order, exec.Price, exec.Quantity) })
		for _, st := range s.strategies {
			st.OnOrderExecuted(exec)
		}
		recs = append(recs, storage.ExecutionRecord{
			RunID:      s.runID,
			Step:       exec.Step,
			OrderID:    exec.Order.ID,
			Symbol:     exec.Order.Symbol,
			Side:       exec.Order.Side.String(),
			Quantity:   exec.Quantity,
			LimitPrice: exec.Order.Price,
			Price:      exec.Price,
			ExecutedAt: now,
		})
	}

	if s.journal != nil {
		if err := s.journal.RecordExecutions(recs); err != nil {
			s.log.Warnw("journal_write_failed", "run_id", s.runID, "executions", len(recs), "err", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Tick loop
// ---------------------------------------------------------------------------

// tick advances the engine one step, then gives every strategy a turn.
// Returns the fills of the pending-order pass. Called with mu held.
func (s *Simulator) tick() []engine.Execution {
	fills := s.engine.Step()
	s.afterExecutions(fills)

	step := s.engine.CurrentStep()
	quotes := s.prices.Quotes()
	s.emit(func(l Listener) { l.OnStep(step, quotes) })

	trader := tickTrader{s: s}
	for _, st := range s.strategies {
		st.OnTick(s.prices, s.ledger, trader, step)
	}
	return fills
}

// Step runs a single tick outside of a run.
func (s *Simulator) Step() (fills []engine.Execution) {
	s.locked(func() { fills = s.tick() })
	return fills
}

// RunSimulation runs up to steps ticks and blocks until the run ends. A
// cancelled ctx ends the run early and is returned as the error alongside
// the partial result.
func (s *Simulator) RunSimulation(ctx context.Context, steps int) (RunResult, error) {
	res, rec, err := s.beginRun(steps)
	if err != nil {
		return RunResult{}, err
	}
	return s.runLoop(ctx, res, rec)
}

// StartSimulation claims the run slot and starts the run in the background,
// so a second caller sees ErrSimulationRunning as soon as it returns. done
// receives the outcome once the run ends and may be nil.
func (s *Simulator) StartSimulation(ctx context.Context, steps int, done func(RunResult, error)) (string, error) {
	res, rec, err := s.beginRun(steps)
	if err != nil {
		return "", err
	}
	go func() {
		out, runErr := s.runLoop(ctx, res, rec)
		if done != nil {
			done(out, runErr)
		}
	}()
	return res.RunID, nil
}

// beginRun checks bounds, claims the running flag and opens the run record.
func (s *Simulator) beginRun(steps int) (RunResult, storage.RunRecord, error) {
	if steps < 1 || steps > s.maxSteps {
		return RunResult{}, storage.RunRecord{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidSteps, steps, s.maxSteps)
	}
	if !s.running.CompareAndSwap(false, true) {
		return RunResult{}, storage.RunRecord{}, ErrSimulationRunning
	}
	s.stop.Store(false)

	res := RunResult{RunID: uuid.NewString(), StepsRequested: steps}
	var rec storage.RunRecord

	s.locked(func() {
		s.runID = res.RunID
		rec = storage.RunRecord{
			RunID:          res.RunID,
			StartedAt:      s.clock.Now(),
			StepsRequested: steps,
			StartValue:     s.ledger.TotalValue(),
		}
		s.recordRun(rec)
		for _, st := range s.strategies {
			st.OnSimulationStart()
		}
		s.emit(func(l Listener) { l.OnSimulationStart(res.RunID, steps) })
		s.log.Infow("simulation_start", "run_id", res.RunID, "steps", steps, "from_step", s.engine.CurrentStep())
	})
	return res, rec, nil
}

// runLoop ticks until the run is complete, stopped or cancelled, then
// closes the record and releases the running flag.
func (s *Simulator) runLoop(ctx context.Context, res RunResult, rec storage.RunRecord) (RunResult, error) {
	defer s.running.Store(false)

	var runErr error
loop:
	for res.StepsCompleted < res.StepsRequested {
		if s.stop.Load() {
			res.Stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			res.Stopped, runErr = true, err
			break
		}
		if res.StepsCompleted > 0 && s.tickInterval > 0 {
			select {
			case <-ctx.Done():
				res.Stopped, runErr = true, ctx.Err()
				break loop
			case <-s.clock.After(s.tickInterval):
			}
		}

		s.locked(func() { s.tick() })
		res.StepsCompleted++
	}

	s.locked(func() {
		for _, st := range s.strategies {
			st.OnSimulationStop()
		}
		res.Executions = s.runFills
		s.runFills = nil
		res.StateHash = s.ledger.StateHash().Hex()
		rec.FinishedAt = s.clock.Now()
		rec.StepsCompleted = res.StepsCompleted
		rec.Stopped = res.Stopped
		rec.EndValue = s.ledger.TotalValue()
		rec.StateHash = res.StateHash
		s.recordRun(rec)
		s.runID = s.sessionID

		completed := res.StepsCompleted
		s.emit(func(l Listener) { l.OnSimulationStop(res.RunID, completed) })

		stats := s.engine.Stats()
		s.log.Infow("simulation_complete",
			"run_id", res.RunID,
			"steps", res.StepsCompleted,
			"stopped", res.Stopped,
			"executed", stats.Executed,
			"pending", stats.Pending,
			"total_value", s.ledger.TotalValue(),
			"state_hash", res.StateHash,
		)
	})
	return res, runErr
}

func (s *Simulator) recordRun(rec storage.RunRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordRun(rec); err != nil {
		s.log.Warnw("journal_write_failed", "run_id", rec.RunID, "err", err)
	}
}

func (s *Simulator) StopSimulation() bool {
	if !s.running.Load() {
		return false
	}
	s.stop.Store(true)
	s.log.Infow("simulation_stop_requested")
	return true
}

func (s *Simulator) Running() bool { return s.running.Load() }

// Close stops an active run and releases the journal and any strategy that
// holds resources.
func (s *Simulator) Close() error {
	s.StopSimulation()

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for _, st := range s.strategies {
		if c, ok := st.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	if s.journal != nil {
		err = multierr.Append(err, s.journal.Close())
		s.journal = nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (s *Simulator) ExecutedOrders() []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.ExecutedOrders()
}

func (s *Simulator) PendingOrders() []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.PendingOrders()
}

func (s *Simulator) PendingOrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.PendingOrderCount()
}

func (s *Simulator) Quotes() []market.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prices.Quotes()
}

func (s *Simulator) Quote(symbol string) (market.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.prices.HasSymbol(symbol) {
		return market.Quote{}, false
	}
	return market.Quote{
		Symbol:      symbol,
		Price:       s.prices.CurrentPrice(symbol),
		DailyReturn: s.prices.DailyReturn(symbol),
		Volatility:  s.prices.Volatility(symbol),
	}, true
}

// History returns up to limit of the newest price points, oldest first.
// A non-positive limit returns the whole history.
func (s *Simulator) History(symbol string, limit int) ([]market.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.prices.HasSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownSymbol, symbol)
	}
	pts := s.prices.History(symbol)
	if limit > 0 && len(pts) > limit {
		pts = pts[len(pts)-limit:]
	}
	return pts, nil
}

func (s *Simulator) Portfolio() account.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Snapshot()
}

func (s *Simulator) Stats() engine.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Stats()
}

func (s *Simulator) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CurrentStep()
}

func (s *Simulator) SessionID() string { return s.sessionID }

func (s *Simulator) Runs() ([]storage.RunRecord, error) {
	j := s.journalHandle()
	if j == nil {
		return nil, ErrNoJournal
	}
	return j.Runs()
}

// RunExecutions returns up to limit journaled executions of a run (or of
// the session), newest first.
func (s *Simulator) RunExecutions(runID string, limit int) ([]storage.ExecutionRecord, error) {
	j := s.journalHandle()
	if j == nil {
		return nil, ErrNoJournal
	}
	if _, err := j.Run(runID); err != nil {
		return nil, err
	}
	return j.RecentExecutions(runID, limit)
}

func (s *Simulator) journalHandle() *storage.Journal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal
}

// tickTrader is the Trader handed to strategies inside a tick. The
// simulator lock is already held, so it calls the unlocked paths.
type tickTrader struct{ s *Simulator }

func (t tickTrader) ExecuteMarketOrder(symbol string, side order.Side, quantity float64) (order.Order, error) {
	return t.s.executeMarket(symbol, side, quantity)
}

func (t tickTrader) ExecuteLimitOrder(symbol string, side order.Side, quantity, price float64) (order.Order, error) {
	return t.s.executeLimit(symbol, side, quantity, price)
}

func (t tickTrader) CancelOrder(id int64) (order.Order, error) {
	return t.s.cancel(id)
}
