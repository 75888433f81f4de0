package account

import (
	"math"
	"testing"

	"github.com/uhyunpark/marketsim/pkg/app/core/order"
)

func newOrder(id int64, symbol string, side order.Side, qty, price float64) *order.Order {
	return &order.Order{ID: id, Symbol: symbol, Side: side, Quantity: qty, Price: price}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCanAfford(t *testing.T) {
	l := NewLedger(1000)
	l.Execute(newOrder(1, "X", order.Buy, 5, 100), 100) // cash 500, hold 5 X

	tests := []struct {
		name string
		o    *order.Order
		want bool
	}{
		{name: "buy exactly cash", o: newOrder(2, "Y", order.Buy, 5, 100), want: true},
		{name: "buy above cash", o: newOrder(3, "Y", order.Buy, 5, 100.01), want: false},
		{name: "sell held quantity", o: newOrder(4, "X", order.Sell, 5, 1), want: true},
		{name: "sell more than held", o: newOrder(5, "X", order.Sell, 6, 1), want: false},
		{name: "sell unheld symbol", o: newOrder(6, "Z", order.Sell, 1, 1), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.CanAfford(tt.o); got != tt.want {
				t.Errorf("CanAfford = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCashConservation(t *testing.T) {
	l := NewLedger(10000)

	if !l.Execute(newOrder(1, "X", order.Buy, 10, 100), 95) {
		t.Fatal("buy rejected")
	}
	if got, want := l.Cash(), 10000-10*95.0; got != want {
		t.Fatalf("cash after buy = %v, want %v", got, want)
	}

	if !l.Execute(newOrder(2, "X", order.Sell, 10, 90), 120) {
		t.Fatal("sell rejected")
	}
	if got, want := l.Cash(), 10000-10*95.0+10*120.0; got != want {
		t.Errorf("cash after sell = %v, want %v", got, want)
	}
	if l.HasPosition("X") {
		t.Error("position not removed after full sell")
	}
	if l.PositionQuantity("X") != 0 {
		t.Errorf("quantity = %v, want 0", l.PositionQuantity("X"))
	}
}

func TestWeightedAverageCost(t *testing.T) {
	l := NewLedger(10000)
	l.Execute(newOrder(1, "X", order.Buy, 10, 100), 100)
	l.Execute(newOrder(2, "X", order.Buy, 10, 120), 120)

	pos, ok := l.Position("X")
	if !ok {
		t.Fatal("position missing")
	}
	if pos.Quantity != 20 {
		t.Errorf("quantity = %v, want 20", pos.Quantity)
	}
	if pos.AverageCost != 110 {
		t.Errorf("average cost = %v, want 110", pos.AverageCost)
	}
}

func TestExecuteRejectsUnaffordable(t *testing.T) {
	l := NewLedger(100)
	if l.Execute(newOrder(1, "X", order.Buy, 2, 60), 50) {
		t.Fatal("unaffordable buy executed")
	}
	if l.Execute(newOrder(2, "X", order.Sell, 1, 50), 50) {
		t.Fatal("sell without position executed")
	}
	if l.Cash() != 100 || l.ExecutionCount() != 0 {
		t.Errorf("state changed: cash=%v executions=%d", l.Cash(), l.ExecutionCount())
	}
}

func TestRealizedPnLAndClosedAggregate(t *testing.T) {
	l := NewLedger(10000)
	l.Execute(newOrder(1, "X", order.Buy, 10, 100), 100)
	l.Execute(newOrder(2, "X", order.Sell, 4, 100), 110)

	pos, _ := l.Position("X")
	if !almostEqual(pos.RealizedPnL, 40) {
		t.Errorf("realized = %v, want 40", pos.RealizedPnL)
	}
	if pos.Quantity != 6 {
		t.Errorf("quantity = %v, want 6", pos.Quantity)
	}

	l.Execute(newOrder(3, "X", order.Sell, 6, 90), 90)
	if l.HasPosition("X") {
		t.Fatal("position survived full close")
	}
	// 40 + 6×(90-100)
	if !almostEqual(l.ClosedPnL(), -20) {
		t.Errorf("closed P&L = %v, want -20", l.ClosedPnL())
	}
	if l.TotalPnL() != 0 {
		t.Errorf("open P&L = %v, want 0 with no positions", l.TotalPnL())
	}
}

func TestEpsilonRemoval(t *testing.T) {
	l := NewLedger(10000)
	l.Execute(newOrder(1, "X", order.Buy, 1.0005, 10), 10)
	l.Execute(newOrder(2, "X", order.Sell, 1, 10), 10)
	if l.HasPosition("X") {
		t.Errorf("residual %v kept, want removal under epsilon", l.PositionQuantity("X"))
	}
}

func TestTotalValueFormula(t *testing.T) {
	l := NewLedger(1000)
	if l.TotalValue() != 1000 {
		t.Fatalf("initial total value = %v, want 1000", l.TotalValue())
	}

	l.Execute(newOrder(1, "Y", order.Buy, 10, 50), 50)
	// cash 500 + cost basis 500 + unrealized 0
	if l.TotalValue() != 1000 {
		t.Errorf("total after buy = %v, want 1000", l.TotalValue())
	}

	l.UpdatePositionValue("Y", 60)
	pos, _ := l.Position("Y")
	if pos.UnrealizedPnL != 100 {
		t.Errorf("unrealized = %v, want 100", pos.UnrealizedPnL)
	}
	if l.TotalValue() != 1100 {
		t.Errorf("total after mark = %v, want 1100", l.TotalValue())
	}
	if !almostEqual(l.PortfolioReturn(), 10) {
		t.Errorf("return = %v, want 10", l.PortfolioReturn())
	}
	if l.PositionValue("Y", 60) != 600 {
		t.Errorf("position value = %v, want 600", l.PositionValue("Y", 60))
	}

	// Unknown symbols are ignored.
	l.UpdatePositionValue("NOPE", 1)
	if l.TotalValue() != 1100 {
		t.Errorf("total changed on unknown symbol: %v", l.TotalValue())
	}
}

func TestHistoryAppendOnly(t *testing.T) {
	l := NewLedger(1000)
	l.Execute(newOrder(1, "A", order.Buy, 1, 10), 10)
	l.Execute(newOrder(2, "B", order.Buy, 1, 10), 10)

	h := l.History()
	if len(h) != 2 || h[0].ID != 1 || h[1].ID != 2 {
		t.Fatalf("history = %+v", h)
	}
	h[0].ID = 99
	if l.History()[0].ID != 1 {
		t.Error("History() exposes internal slice")
	}
}

func TestPositionsSorted(t *testing.T) {
	l := NewLedger(1000)
	for i, sym := range []string{"TSLA", "AAPL", "MSFT"} {
		l.Execute(newOrder(int64(i+1), sym, order.Buy, 1, 10), 10)
	}
	got := l.Symbols()
	want := []string{"AAPL", "MSFT", "TSLA"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("symbols = %v, want %v", got, want)
		}
	}
	if ps := l.Positions(); ps[0].Symbol != "AAPL" {
		t.Errorf("positions not sorted: %+v", ps)
	}
}

func TestValidate(t *testing.T) {
	l := NewLedger(1000)
	l.Execute(newOrder(1, "X", order.Buy, 2, 100), 100)
	if err := l.Validate(); err != nil {
		t.Fatalf("valid ledger rejected: %v", err)
	}

	l.positions["X"].AverageCost = 0
	if err := l.Validate(); err == nil {
		t.Error("zero average cost accepted")
	}
	l.positions["X"].AverageCost = 100

	l.positions["Y"] = &Position{Symbol: "Z", Quantity: 1, AverageCost: 1}
	if err := l.Validate(); err == nil {
		t.Error("symbol mismatch accepted")
	}
}

func TestStateHash(t *testing.T) {
	a := NewLedger(1000)
	b := NewLedger(1000)
	if a.StateHash() != b.StateHash() {
		t.Fatal("identical ledgers hash differently")
	}

	a.Execute(newOrder(1, "X", order.Buy, 1, 10), 10)
	a.Execute(newOrder(2, "Y", order.Buy, 1, 10), 10)
	if a.StateHash() == b.StateHash() {
		t.Fatal("different ledgers hash equal")
	}

	// Insertion order does not matter.
	b.Execute(newOrder(1, "Y", order.Buy, 1, 10), 10)
	b.Execute(newOrder(2, "X", order.Buy, 1, 10), 10)
	if a.StateHash() != b.StateHash() {
		t.Error("hash depends on position insertion order")
	}

	snap := a.Snapshot()
	if snap.StateHash != a.StateHash() || snap.Executions != 2 || len(snap.Positions) != 2 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
