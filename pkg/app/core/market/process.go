// Package market implements the synthetic price process: one current price,
// volatility and bounded history per registered symbol, advanced by a
// discretized geometric Brownian motion step on every tick.
//
// A PriceProcess is a single-writer structure and is not safe for concurrent
// use. The simulator serializes all access to it.
package market

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/uhyunpark/marketsim/pkg/util"
)

// ErrInvalidSymbolConfig is returned when a symbol is registered with a
// non-positive initial price or a negative volatility.
var ErrInvalidSymbolConfig = errors.New("invalid symbol config")

// SymbolState is the per-symbol state owned by the price process.
type SymbolState struct {
	Symbol     string
	Price      float64 // current price, always >= Params.MinPrice after a step
	Volatility float64 // annualized std-dev fraction
	history    *History
}

// Quote is a read-only view of one symbol used for summaries.
type Quote struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	DailyReturn float64 `json:"dailyReturn"` // percent
	Volatility  float64 `json:"volatility"`
}

type PriceProcess struct {
	params  Params
	rng     *rand.Rand
	clock   util.Clock
	symbols map[string]*SymbolState
}

// NewPriceProcess creates a price process seeded from the clock's wall time.
// Paths are not reproducible across runs.
func NewPriceProcess(params Params, clock util.Clock) (*PriceProcess, error) {
	if clock == nil {
		clock = util.RealClock{}
	}
	return NewPriceProcessWithSource(params, clock, rand.NewSource(clock.Now().UnixNano()))
}

// NewPriceProcessWithSource creates a price process drawing shocks from src.
func NewPriceProcessWithSource(params Params, clock util.Clock, src rand.Source) (*PriceProcess, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid price process params: %w", err)
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &PriceProcess{
		params:  params,
		rng:     rand.New(src),
		clock:   clock,
		symbols: make(map[string]*SymbolState),
	}, nil
}

// NewPriceProcessWithDefaults creates a price process using DefaultParams and
// the wall clock.
func NewPriceProcessWithDefaults() *PriceProcess {
	p, err := NewPriceProcess(DefaultParams, util.RealClock{})
	if err != nil {
		panic(fmt.Sprintf("default price process params rejected: %v", err))
	}
	return p
}

func (p *PriceProcess) Params() Params { return p.params }

// RegisterSymbol adds a symbol and records its initial price as the first
// history point. Registering an existing symbol resets its state.
func (p *PriceProcess) RegisterSymbol(symbol string, initialPrice, volatility float64) error {
	if symbol == "" {
		return fmt.Errorf("%w: symbol cannot be empty", ErrInvalidSymbolConfig)
	}
	if initialPrice <= 0 || math.IsNaN(initialPrice) || math.IsInf(initialPrice, 0) {
		return fmt.Errorf("%w: %s initial price must be positive, got %v", ErrInvalidSymbolConfig, symbol, initialPrice)
	}
	if volatility < 0 || math.IsNaN(volatility) {
		return fmt.Errorf("%w: %s volatility cannot be negative, got %v", ErrInvalidSymbolConfig, symbol, volatility)
	}

	st := &SymbolState{
		Symbol:     symbol,
		Price:      initialPrice,
		Volatility: volatility,
		history:    NewHistory(p.params.HistoryCapacity),
	}
	st.history.Push(PricePoint{Price: initialPrice, Volume: p.params.BaseVolume, Timestamp: p.clock.Now()})
	p.symbols[symbol] = st
	return nil
}

// Advance moves every registered symbol one GBM step:
//
//	change = S × (drift×dt + σ×√dt×Z),  S' = max(MinPrice, S + change)
//
// Symbols are stepped in sorted order so a seeded source yields one path.
func (p *PriceProcess) Advance() {
	for _, sym := range p.Symbols() {
		p.step(p.symbols[sym])
	}
}

// Step advances a single symbol. Unknown symbols are ignored.
func (p *PriceProcess) Step(symbol string) {
	if st, ok := p.symbols[symbol]; ok {
		p.step(st)
	}
}

func (p *PriceProcess) step(st *SymbolState) {
	z := p.rng.NormFloat64()
	dt := p.params.Dt
	change := st.Price * (p.params.Drift*dt + st.Volatility*math.Sqrt(dt)*z)
	st.Price = math.Max(p.params.MinPrice, st.Price+change)
	st.history.Push(PricePoint{
		Price:     st.Price,
		Volume:    p.params.BaseVolume * (1 + math.Abs(z)),
		Timestamp: p.clock.Now(),
	})
}

// SetPrice overrides a symbol's current price and records it in history.
func (p *PriceProcess) SetPrice(symbol string, price float64) error {
	st, ok := p.symbols[symbol]
	if !ok {
		return fmt.Errorf("symbol %s not registered", symbol)
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive, got %v", price)
	}
	st.Price = price
	st.history.Push(PricePoint{Price: price, Volume: p.params.BaseVolume, Timestamp: p.clock.Now()})
	return nil
}

// CurrentPrice returns 0 for an unknown symbol; use HasSymbol to tell the two apart.
func (p *PriceProcess) CurrentPrice(symbol string) float64 {
	if st, ok := p.symbols[symbol]; ok {
		return st.Price
	}
	return 0
}

func (p *PriceProcess) HasSymbol(symbol string) bool {
	_, ok := p.symbols[symbol]
	return ok
}

// DailyReturn is the percent change between the last two history points,
// or 0 with fewer than two points.
func (p *PriceProcess) DailyReturn(symbol string) float64 {
	st, ok := p.symbols[symbol]
	if !ok || st.history.Len() < 2 {
		return 0
	}
	n := st.history.Len()
	last := st.history.At(n - 1).Price
	prev := st.history.At(n - 2).Price
	return (last - prev) / prev * 100.0
}

func (p *PriceProcess) Volatility(symbol string) float64 {
	if st, ok := p.symbols[symbol]; ok {
		return st.Volatility
	}
	return 0
}

// SetVolatility updates a registered symbol. Returns false for unknown
// symbols or a negative volatility.
func (p *PriceProcess) SetVolatility(symbol string, vol float64) bool {
	st, ok := p.symbols[symbol]
	if !ok || vol < 0 {
		return false
	}
	st.Volatility = vol
	return true
}

// Symbols returns the registered symbols in sorted order.
func (p *PriceProcess) Symbols() []string {
	out := make([]string, 0, len(p.symbols))
	for sym := range p.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the symbol's history, oldest first.
func (p *PriceProcess) History(symbol string) []PricePoint {
	if st, ok := p.symbols[symbol]; ok {
		return st.history.Points()
	}
	return nil
}

// Prices returns the symbol's price series, oldest first.
func (p *PriceProcess) Prices(symbol string) []float64 {
	if st, ok := p.symbols[symbol]; ok {
		return st.history.Prices()
	}
	return nil
}

func (p *PriceProcess) HistoryLen(symbol string) int {
	if st, ok := p.symbols[symbol]; ok {
		return st.history.Len()
	}
	return 0
}

// Quotes returns a snapshot of every symbol, sorted by symbol.
func (p *PriceProcess) Quotes() []Quote {
	syms := p.Symbols()
	out := make([]Quote, 0, len(syms))
	for _, sym := range syms {
		st := p.symbols[sym]
		out = append(out, Quote{
			Symbol:      sym,
			Price:       st.Price,
			DailyReturn: p.DailyReturn(sym),
			Volatility:  st.Volatility,
		})
	}
	return out
}
