// Package order defines the Order value type traded by the engine and the
// allocator that hands out order ids.
package order

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/atomic"

	"github.com/uhyunpark/marketsim/pkg/util"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch {
	case strings.EqualFold(s, "buy"):
		return Buy, nil
	case strings.EqualFold(s, "sell"):
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Status represents the lifecycle state of an order
type Status int8

const (
	Pending Status = iota
	// PartiallyFilled is reachable through Fill but the current matching
	// policy fills all-or-nothing and never produces it.
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Order is one trading intent. Identity (ID, Symbol, Side, Quantity, Price,
// CreatedAt) never changes after construction; Filled and Status do.
type Order struct {
	ID        int64
	Symbol    string
	Side      Side
	Quantity  float64 // requested quantity
	Price     float64 // limit price
	Filled    float64 // in [0, Quantity], never decreases
	Status    Status
	CreatedAt time.Time
}

// Remaining returns unfilled quantity
func (o *Order) Remaining() float64 {
	return o.Quantity - o.Filled
}

func (o *Order) IsFilled() bool {
	return o.Filled >= o.Quantity
}

// IsClosed returns true if order is no longer active
func (o *Order) IsClosed() bool {
	return o.Status == Filled || o.Status == Cancelled
}

// Fill adds amount to the filled quantity. Amounts outside (0, Remaining()]
// are ignored.
func (o *Order) Fill(amount float64) {
	if amount <= 0 || amount > o.Remaining() {
		return
	}
	o.Filled += amount
	if o.IsFilled() {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}

func (o *Order) Cancel() {
	o.Status = Cancelled
}

func (o Order) String() string {
	return fmt.Sprintf("Order #%d - %s %s %.2f @ $%.2f (Filled: %.2f/%.2f) [%s]",
		o.ID, o.Symbol, o.Side, o.Quantity, o.Price, o.Filled, o.Quantity, o.Status)
}

// IDAllocator hands out strictly increasing order ids starting at 1.
// Safe for concurrent use.
type IDAllocator struct {
	last  *atomic.Int64
	clock util.Clock
}

func NewIDAllocator(clock util.Clock) *IDAllocator {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &IDAllocator{last: atomic.NewInt64(0), clock: clock}
}

// Next returns the next id; ids are never reused.
func (a *IDAllocator) Next() int64 {
	return a.last.Inc()
}

// Last returns the most recently issued id (0 if none).
func (a *IDAllocator) Last() int64 {
	return a.last.Load()
}

// NewOrder builds a pending order with the next id.
func (a *IDAllocator) NewOrder(symbol string, side Side, quantity, price float64) *Order {
	return &Order{
		ID:        a.Next(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Status:    Pending,
		CreatedAt: a.clock.Now(),
	}
}
