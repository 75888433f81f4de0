// Package account holds the trader's ledger: cash, open positions and the
// log of executed orders.
//
// The ledger is mutated only by Execute and UpdatePositionValue. It performs
// no locking; callers that share it across goroutines must serialize access.
package account

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/marketsim/pkg/app/core/order"
)

type Ledger struct {
	initialCash float64
	cash        float64
	totalValue  float64 // cached, recomputed after every mutation
	closedPnL   float64 // realized P&L of positions that were closed out

	positions map[string]*Position
	history   []order.Order // append-only
}

// NewLedger creates a ledger holding only cash
func NewLedger(initialCash float64) *Ledger {
	l := &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
	}
	l.recomputeTotalValue()
	return l
}

// CanAfford is an admission check against the order's limit price.
// BUY: cash >= quantity × limit. SELL: held quantity >= quantity.
// Nothing is reserved.
func (l *Ledger) CanAfford(o *order.Order) bool {
	switch o.Side {
	case order.Buy:
		return l.cash >= o.Quantity*o.Price
	case order.Sell:
		pos, ok := l.positions[o.Symbol]
		return ok && pos.Quantity >= o.Quantity
	default:
		return false
	}
}

// Execute applies an order's full quantity at price. It is a no-op
// returning false when CanAfford fails.
func (l *Ledger) Execute(o *order.Order, price float64) bool {
	if !l.CanAfford(o) {
		return false
	}

	qty := o.Quantity
	switch o.Side {
	case order.Buy:
		l.cash -= qty * price
		pos, ok := l.positions[o.Symbol]
		if !ok {
			l.positions[o.Symbol] = &Position{Symbol: o.Symbol, Quantity: qty, AverageCost: price}
			break
		}
		total := pos.Quantity + qty
		pos.AverageCost = (pos.Quantity*pos.AverageCost + qty*price) / total
		pos.Quantity = total

	case order.Sell:
		l.cash += qty * price
		pos := l.positions[o.Symbol]
		pos.RealizedPnL += qty * (price - pos.AverageCost)
		pos.Quantity -= qty
		if pos.Quantity <= positionEpsilon {
			l.closedPnL += pos.RealizedPnL
			delete(l.positions, o.Symbol)
		}
	}

	l.history = append(l.history, *o)
	l.recomputeTotalValue()
	return true
}

// UpdatePositionValue marks the held position in symbol to price.
// Unknown symbols are ignored.
func (l *Ledger) UpdatePositionValue(symbol string, price float64) {
	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.UnrealizedPnL = pos.Quantity * (price - pos.AverageCost)
	l.recomputeTotalValue()
}

// totalValue = cash + Σ(qty × avgCost + unrealized). Equal to mark-to-market
// only while every position was marked since its last change.
func (l *Ledger) recomputeTotalValue() {
	total := l.cash
	for _, pos := range l.positions {
		total += pos.CostBasis() + pos.UnrealizedPnL
	}
	l.totalValue = total
}

func (l *Ledger) Cash() float64        { return l.cash }
func (l *Ledger) InitialCash() float64 { return l.initialCash }

// TotalValue returns the cached total. Mark positions first for a fresh value.
func (l *Ledger) TotalValue() float64 { return l.totalValue }

// ClosedPnL returns the realized P&L carried by positions that were removed.
func (l *Ledger) ClosedPnL() float64 { return l.closedPnL }

// Position returns a copy of the held position
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

func (l *Ledger) HasPosition(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

// PositionQuantity returns 0 when nothing is held
func (l *Ledger) PositionQuantity(symbol string) float64 {
	if pos, ok := l.positions[symbol]; ok {
		return pos.Quantity
	}
	return 0
}

// PositionValue returns held quantity × price, 0 when nothing is held
func (l *Ledger) PositionValue(symbol string, price float64) float64 {
	if pos, ok := l.positions[symbol]; ok {
		return pos.MarketValue(price)
	}
	return 0
}

// Positions returns copies of every open position sorted by symbol
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the held symbols sorted
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// TotalPnL sums realized and unrealized P&L over open positions
func (l *Ledger) TotalPnL() float64 {
	total := 0.0
	for _, pos := range l.positions {
		total += pos.TotalPnL()
	}
	return total
}

// PortfolioReturn returns percent change of total value over initial cash
func (l *Ledger) PortfolioReturn() float64 {
	if l.initialCash == 0 {
		return 0
	}
	return (l.totalValue - l.initialCash) / l.initialCash * 100.0
}

// History returns a copy of the execution history, oldest first
func (l *Ledger) History() []order.Order {
	out := make([]order.Order, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Ledger) ExecutionCount() int { return len(l.history) }

// Validate checks ledger invariants
func (l *Ledger) Validate() error {
	if math.IsNaN(l.cash) || math.IsInf(l.cash, 0) {
		return fmt.Errorf("cash is not finite: %v", l.cash)
	}
	if l.cash < 0 {
		return fmt.Errorf("negative cash: %v", l.cash)
	}
	for symbol, pos := range l.positions {
		if pos.Symbol != symbol {
			return fmt.Errorf("position symbol mismatch: map key=%s, pos.Symbol=%s", symbol, pos.Symbol)
		}
		if pos.Quantity <= positionEpsilon {
			return fmt.Errorf("flat position kept for %s: %v", symbol, pos.Quantity)
		}
		if pos.AverageCost <= 0 {
			return fmt.Errorf("non-positive average cost for %s: %v", symbol, pos.AverageCost)
		}
	}
	return nil
}

// StateHash returns a Keccak-256 digest over cash and open positions in
// symbol order. Two ledgers with the same state hash identically.
func (l *Ledger) StateHash() common.Hash {
	buf := make([]byte, 0, 8*(2+4*len(l.positions)))
	buf = appendFloat(buf, l.cash)
	buf = appendFloat(buf, l.closedPnL)
	for _, pos := range l.Positions() {
		buf = append(buf, pos.Symbol...)
		buf = appendFloat(buf, pos.Quantity)
		buf = appendFloat(buf, pos.AverageCost)
		buf = appendFloat(buf, pos.RealizedPnL)
	}
	return crypto.Keccak256Hash(buf)
}

func appendFloat(b []byte, f float64) []byte {
	return binary.BigEndian.AppendUint64(b, math.Float64bits(f))
}

// Snapshot is a point-in-time copy of the ledger
type Snapshot struct {
	Cash            float64     `json:"cash"`
	InitialCash     float64     `json:"initialCash"`
	TotalValue      float64     `json:"totalValue"`
	TotalPnL        float64     `json:"totalPnl"`
	ClosedPnL       float64     `json:"closedPnl"`
	PortfolioReturn float64     `json:"portfolioReturn"`
	Positions       []Position  `json:"positions"`
	Executions      int         `json:"executions"`
	StateHash       common.Hash `json:"stateHash"`
}

func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Cash:            l.cash,
		InitialCash:     l.initialCash,
		TotalValue:      l.totalValue,
		TotalPnL:        l.TotalPnL(),
		ClosedPnL:       l.closedPnL,
		PortfolioReturn: l.PortfolioReturn(),
		Positions:       l.Positions(),
		Executions:      len(l.history),
		StateHash:       l.StateHash(),
	}
}
