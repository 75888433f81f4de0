package engine

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uhyunpark/marketsim/pkg/app/core/account"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/core/order"
	"github.com/uhyunpark/marketsim/pkg/util"
)

// scriptedMarket replays a fixed price path per symbol on each Advance.
type scriptedMarket struct {
	paths map[string][]float64
	pos   int
}

func (m *scriptedMarket) HasSymbol(s string) bool {
	_, ok := m.paths[s]
	return ok
}

func (m *scriptedMarket) CurrentPrice(s string) float64 {
	path, ok := m.paths[s]
	if !ok {
		return 0
	}
	if m.pos >= len(path) {
		return path[len(path)-1]
	}
	return path[m.pos]
}

func (m *scriptedMarket) Symbols() []string {
	out := make([]string, 0, len(m.paths))
	for s := range m.paths {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *scriptedMarket) Advance() { m.pos++ }

func (m *scriptedMarket) Quotes() []market.Quote {
	var out []market.Quote
	for _, s := range m.Symbols() {
		out = append(out, market.Quote{Symbol: s, Price: m.CurrentPrice(s)})
	}
	return out
}

func newTestEngine(t *testing.T, cash float64, prices map[string]float64) (*Engine, *market.PriceProcess) {
	t.Helper()
	clock := util.NewManualClock(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	pp, err := market.NewPriceProcessWithSource(market.DefaultParams, clock, rand.NewSource(7))
	if err != nil {
		t.Fatalf("failed to create price process: %v", err)
	}
	for sym, price := range prices {
		if err := pp.RegisterSymbol(sym, price, 0); err != nil {
			t.Fatalf("register %s: %v", sym, err)
		}
	}
	e := New(pp, account.NewLedger(cash), order.NewIDAllocator(clock), zaptest.NewLogger(t).Sugar())
	return e, pp
}

func TestMarketBuyFillsImmediately(t *testing.T) {
	e, _ := newTestEngine(t, 1000, map[string]float64{"Y": 50})

	o, err := e.ExecuteMarketOrder("Y", order.Buy, 10)
	if err != nil {
		t.Fatalf("market buy failed: %v", err)
	}
	if o.Status != order.Filled {
		t.Errorf("status = %v, want FILLED", o.Status)
	}
	if got := e.Ledger().Cash(); got != 500 {
		t.Errorf("cash = %v, want 500", got)
	}
	pos, ok := e.Ledger().Position("Y")
	if !ok || pos.Quantity != 10 || pos.AverageCost != 50 {
		t.Errorf("position = %+v, want 10 @ 50", pos)
	}
	if e.PendingOrderCount() != 0 {
		t.Errorf("market order was queued")
	}
	if n := len(e.ExecutedOrders()); n != 1 {
		t.Errorf("executed orders = %d, want 1", n)
	}
}

func TestLimitBuyRestsUntilPriceDrops(t *testing.T) {
	e, pp := newTestEngine(t, 1000, map[string]float64{"Y": 50})

	o, err := e.ExecuteLimitOrder("Y", order.Buy, 5, 40)
	if err != nil {
		t.Fatalf("limit buy rejected: %v", err)
	}

	if fills := e.ProcessPendingOrders(); len(fills) != 0 {
		t.Fatalf("filled above limit: %+v", fills)
	}
	if o.Status != order.Pending || e.PendingOrderCount() != 1 {
		t.Fatalf("status = %v, pending = %d after first pass", o.Status, e.PendingOrderCount())
	}

	if err := pp.SetPrice("Y", 38); err != nil {
		t.Fatalf("set price: %v", err)
	}
	fills := e.ProcessPendingOrders()
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}
	// execution happens at market, not at the limit
	if fills[0].Price != 38 {
		t.Errorf("execution price = %v, want 38", fills[0].Price)
	}
	if got := e.Ledger().Cash(); got != 1000-5*38.0 {
		t.Errorf("cash = %v, want %v", got, 1000-5*38.0)
	}
	if o.Status != order.Filled || e.PendingOrderCount() != 0 {
		t.Errorf("status = %v, pending = %d after fill", o.Status, e.PendingOrderCount())
	}
}

func TestExecutionRechecksFunds(t *testing.T) {
	t.Run("buy", func(t *testing.T) {
		e, pp := newTestEngine(t, 1000, map[string]float64{"Y": 100})

		// each is affordable alone, not both
		a, err := e.ExecuteLimitOrder("Y", order.Buy, 10, 95)
		if err != nil {
			t.Fatalf("limit a: %v", err)
		}
		b, err := e.ExecuteLimitOrder("Y", order.Buy, 10, 95)
		if err != nil {
			t.Fatalf("limit b: %v", err)
		}

		if err := pp.SetPrice("Y", 90); err != nil {
			t.Fatalf("set price: %v", err)
		}
		fills := e.ProcessPendingOrders()
		if len(fills) != 1 || fills[0].Order.ID != a.ID {
			t.Fatalf("fills = %+v, want only order %d", fills, a.ID)
		}
		if a.Status != order.Filled || b.Status != order.Pending {
			t.Errorf("a = %v, b = %v, want FILLED and PENDING", a.Status, b.Status)
		}
		if e.PendingOrderCount() != 1 || len(e.ExecutedOrders()) != 1 {
			t.Errorf("pending = %d, executed = %d", e.PendingOrderCount(), len(e.ExecutedOrders()))
		}
		if got := e.Ledger().Cash(); got != 100 {
			t.Errorf("cash = %v, want 100", got)
		}
	})

	t.Run("sell", func(t *testing.T) {
		e, pp := newTestEngine(t, 2000, map[string]float64{"Y": 100})
		if _, err := e.ExecuteMarketOrder("Y", order.Buy, 10); err != nil {
			t.Fatalf("market buy: %v", err)
		}

		s1, err := e.ExecuteLimitOrder("Y", order.Sell, 10, 105)
		if err != nil {
			t.Fatalf("limit s1: %v", err)
		}
		s2, err := e.ExecuteLimitOrder("Y", order.Sell, 10, 105)
		if err != nil {
			t.Fatalf("limit s2: %v", err)
		}

		if err := pp.SetPrice("Y", 110); err != nil {
			t.Fatalf("set price: %v", err)
		}
		fills := e.ProcessPendingOrders()
		if len(fills) != 1 || fills[0].Order.ID != s1.ID {
			t.Fatalf("fills = %+v, want only order %d", fills, s1.ID)
		}
		if s1.Status != order.Filled || s2.Status != order.Pending {
			t.Errorf("s1 = %v, s2 = %v, want FILLED and PENDING", s1.Status, s2.Status)
		}
		if e.Ledger().HasPosition("Y") {
			t.Error("position left after selling everything")
		}
		if got := e.Ledger().Cash(); got != 2100 {
			t.Errorf("cash = %v, want 2100", got)
		}
	})
}

func TestEnterMarketOrderStages(t *testing.T) {
	e, _ := newTestEngine(t, 100, map[string]float64{"Y": 50})

	m, err := e.EnterMarketOrder("NOPE", order.Buy, 1)
	if !errors.Is(err, ErrUnknownSymbol) || m.Order != nil || m.Validated {
		t.Errorf("unknown symbol: entry = %+v, err = %v", m, err)
	}

	m, err = e.EnterMarketOrder("Y", order.Buy, 3)
	if !errors.Is(err, ErrInsufficientFunds) || m.Order == nil || m.Validated {
		t.Errorf("unaffordable: entry = %+v, err = %v", m, err)
	}

	m, err = e.EnterMarketOrder("Y", order.Buy, 2)
	if err != nil {
		t.Fatalf("affordable: %v", err)
	}
	if !m.Validated || m.Entered.Status != order.Pending || m.Entered.Filled != 0 {
		t.Errorf("entered = %+v, want the unfilled order", m.Entered)
	}
	if m.Order.Status != order.Filled || m.Execution.Price != 50 || m.Execution.Quantity != 2 {
		t.Errorf("order = %+v, execution = %+v", m.Order, m.Execution)
	}
}

func TestSummaryFollowsEngineStep(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := &scriptedMarket{paths: map[string][]float64{"X": {100}}}
	e := New(m, account.NewLedger(1000), nil, zap.New(core).Sugar())

	// runs of 7 and 18 cross engine steps 10 and 20
	e.RunSimulation(7)
	e.RunSimulation(18)

	var steps []int64
	for _, entry := range logs.FilterMessage("simulation_step").All() {
		steps = append(steps, entry.ContextMap()["step"].(int64))
	}
	if len(steps) != 2 || steps[0] != 10 || steps[1] != 20 {
		t.Errorf("summaries at steps %v, want [10 20]", steps)
	}
}

func TestLimitOrdersFillThroughSteps(t *testing.T) {
	m := &scriptedMarket{paths: map[string][]float64{
		"X": {100, 105, 98, 94, 110},
	}}
	e := New(m, account.NewLedger(10000), nil, nil)

	buy, err := e.ExecuteLimitOrder("X", order.Buy, 10, 95)
	if err != nil {
		t.Fatalf("limit buy rejected: %v", err)
	}

	wantPending := []int{1, 1, 0} // prices 105, 98, 94
	for i, want := range wantPending {
		e.Step()
		if got := e.PendingOrderCount(); got != want {
			t.Fatalf("step %d: pending = %d, want %d", i+1, got, want)
		}
	}
	if buy.Status != order.Filled {
		t.Fatalf("buy status = %v, want FILLED", buy.Status)
	}

	sell, err := e.ExecuteLimitOrder("X", order.Sell, 10, 108)
	if err != nil {
		t.Fatalf("limit sell rejected: %v", err)
	}
	fills := e.Step() // price 110
	if len(fills) != 1 || fills[0].Order.ID != sell.ID || fills[0].Price != 110 {
		t.Fatalf("unexpected fills: %+v", fills)
	}
	if fills[0].Step != 4 {
		t.Errorf("fill step = %d, want 4", fills[0].Step)
	}
	if e.Ledger().HasPosition("X") {
		t.Error("position kept after selling everything")
	}
	if got, want := e.Ledger().Cash(), 10000-10*94.0+10*110.0; got != want {
		t.Errorf("cash = %v, want %v", got, want)
	}
}

func TestStepMarksPositions(t *testing.T) {
	m := &scriptedMarket{paths: map[string][]float64{"X": {100, 120}}}
	e := New(m, account.NewLedger(1000), nil, nil)

	if _, err := e.ExecuteMarketOrder("X", order.Buy, 5); err != nil {
		t.Fatalf("market buy: %v", err)
	}
	e.Step()
	pos, _ := e.Ledger().Position("X")
	if pos.UnrealizedPnL != 100 {
		t.Errorf("unrealized = %v, want 100", pos.UnrealizedPnL)
	}
	if got := e.Ledger().TotalValue(); got != 1100 {
		t.Errorf("total value = %v, want 1100", got)
	}
}

func TestValidateGates(t *testing.T) {
	e, _ := newTestEngine(t, 1000, map[string]float64{"Y": 50})
	e.ExecuteMarketOrder("Y", order.Buy, 2) // hold 2 Y, cash 900

	tests := []struct {
		name    string
		o       *order.Order
		wantErr error
	}{
		{name: "valid buy", o: e.NewOrder("Y", order.Buy, 1, 50)},
		{name: "valid sell", o: e.NewOrder("Y", order.Sell, 2, 50)},
		{name: "unknown symbol", o: e.NewOrder("ZZZ", order.Buy, 1, 10), wantErr: ErrUnknownSymbol},
		{name: "zero quantity", o: e.NewOrder("Y", order.Buy, 0, 10), wantErr: ErrInvalidQuantity},
		{name: "negative quantity", o: e.NewOrder("Y", order.Buy, -1, 10), wantErr: ErrInvalidQuantity},
		{name: "zero price", o: e.NewOrder("Y", order.Buy, 1, 0), wantErr: ErrInvalidPrice},
		{name: "buy beyond cash", o: e.NewOrder("Y", order.Buy, 10, 100), wantErr: ErrInsufficientFunds},
		{name: "sell beyond position", o: e.NewOrder("Y", order.Sell, 3, 50), wantErr: ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.o)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmitRejectsUnaffordable(t *testing.T) {
	e, _ := newTestEngine(t, 1000, map[string]float64{"Y": 50})

	before := e.PendingOrderCount()
	if e.Submit(e.NewOrder("Y", order.Buy, 30, 40)) {
		t.Fatal("order costing 1200 admitted with 1000 cash")
	}
	if e.PendingOrderCount() != before {
		t.Errorf("queue length changed on rejection")
	}

	if !e.Submit(e.NewOrder("Y", order.Buy, 25, 40)) {
		t.Fatal("affordable order rejected")
	}
	if e.PendingOrderCount() != before+1 {
		t.Errorf("pending = %d, want %d", e.PendingOrderCount(), before+1)
	}
}

func TestMarketOrderRejections(t *testing.T) {
	e, _ := newTestEngine(t, 100, map[string]float64{"Y": 50})

	if _, err := e.ExecuteMarketOrder("NOPE", order.Buy, 1); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("unknown symbol err = %v", err)
	}
	if e.IDs().Last() != 0 {
		t.Errorf("id consumed for unknown symbol")
	}
	if _, err := e.ExecuteMarketOrder("Y", order.Buy, 3); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("unaffordable err = %v", err)
	}
	if _, err := e.ExecuteMarketOrder("Y", order.Sell, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("naked sell err = %v", err)
	}
	if e.Ledger().Cash() != 100 || len(e.ExecutedOrders()) != 0 {
		t.Errorf("state changed by rejected market orders")
	}
}

func TestCancelPreservesQueueOrder(t *testing.T) {
	e, _ := newTestEngine(t, 100000, map[string]float64{"Y": 50})

	var ids []int64
	for i := 0; i < 4; i++ {
		o, err := e.ExecuteLimitOrder("Y", order.Buy, 1, float64(10+i))
		if err != nil {
			t.Fatalf("limit %d: %v", i, err)
		}
		ids = append(ids, o.ID)
	}

	cancelled, ok := e.Cancel(ids[1])
	if !ok {
		t.Fatal("cancel of pending order missed")
	}
	if cancelled.Status != order.Cancelled || cancelled.ID != ids[1] {
		t.Errorf("cancelled = %+v", cancelled)
	}

	got := e.PendingOrders()
	want := []int64{ids[0], ids[2], ids[3]}
	if len(got) != len(want) {
		t.Fatalf("pending = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("pending[%d] = %d, want %d", i, got[i].ID, want[i])
		}
	}

	if _, ok := e.Cancel(999); ok {
		t.Error("cancel of unknown id reported success")
	}
	if _, ok := e.Cancel(ids[1]); ok {
		t.Error("second cancel of the same id reported success")
	}
}

func TestRequeuePreservesFIFO(t *testing.T) {
	m := &scriptedMarket{paths: map[string][]float64{"X": {100, 97, 97}}}
	e := New(m, account.NewLedger(100000), nil, nil)

	limits := []float64{90, 98, 80, 99, 70}
	var ids []int64
	for _, lim := range limits {
		o, err := e.ExecuteLimitOrder("X", order.Buy, 1, lim)
		if err != nil {
			t.Fatalf("limit %v: %v", lim, err)
		}
		ids = append(ids, o.ID)
	}

	fills := e.Step() // 97: limits 98 and 99 fill
	if len(fills) != 2 || fills[0].Order.ID != ids[1] || fills[1].Order.ID != ids[3] {
		t.Fatalf("fills = %+v", fills)
	}
	got := e.PendingOrders()
	want := []int64{ids[0], ids[2], ids[4]}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("pending order = %v, want ids %v", got, want)
		}
	}
}

func TestPartiallyFilledNeverEmitted(t *testing.T) {
	m := &scriptedMarket{paths: map[string][]float64{
		"A": {50, 48, 52, 47, 55, 45, 60, 40},
		"B": {10, 11, 9, 12, 8, 13, 7, 14},
	}}
	e := New(m, account.NewLedger(1e6), nil, nil)

	for i := 0; i < 6; i++ {
		e.ExecuteLimitOrder("A", order.Buy, float64(i+1), 48-float64(i))
		e.ExecuteLimitOrder("B", order.Buy, 2.5, 9+float64(i%3))
		e.ExecuteMarketOrder("A", order.Buy, 0.5)
	}
	e.RunSimulation(7)

	check := func(o order.Order) {
		if o.Status == order.PartiallyFilled {
			t.Fatalf("order %d reached PARTIALLY_FILLED", o.ID)
		}
	}
	for _, o := range e.ExecutedOrders() {
		check(o)
		if o.Status != order.Filled || o.Filled != o.Quantity {
			t.Errorf("executed order %d: status %v filled %v/%v", o.ID, o.Status, o.Filled, o.Quantity)
		}
	}
	for _, o := range e.PendingOrders() {
		check(o)
		if o.Filled != 0 {
			t.Errorf("pending order %d has fill %v", o.ID, o.Filled)
		}
	}
}

func TestRunSimulationCountsSteps(t *testing.T) {
	e, pp := newTestEngine(t, 1000, map[string]float64{"X": 100})
	e.RunSimulation(25)
	if e.CurrentStep() != 25 {
		t.Errorf("step = %d, want 25", e.CurrentStep())
	}
	if pp.HistoryLen("X") != 26 {
		t.Errorf("history = %d, want 26", pp.HistoryLen("X"))
	}
}

func TestStats(t *testing.T) {
	e, _ := newTestEngine(t, 10000, map[string]float64{"Y": 50})
	e.ExecuteMarketOrder("Y", order.Buy, 10)
	e.ExecuteMarketOrder("Y", order.Sell, 4)
	e.ExecuteLimitOrder("Y", order.Buy, 1, 10)

	s := e.Stats()
	if s.Executed != 2 || s.Pending != 1 || s.BuyOrders != 1 || s.SellOrders != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.TotalVolume != 700 {
		t.Errorf("volume = %v, want 700", s.TotalVolume)
	}
	if s.AverageOrderValue != 350 {
		t.Errorf("average = %v, want 350", s.AverageOrderValue)
	}
	if empty := New(&scriptedMarket{}, account.NewLedger(1), nil, nil).Stats(); empty.AverageOrderValue != 0 {
		t.Errorf("empty average = %v", empty.AverageOrderValue)
	}
}
