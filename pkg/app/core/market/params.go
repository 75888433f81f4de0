package market

import "fmt"

// Params holds the price-process constants shared by every symbol.
type Params struct {
	// Drift is the annual expected return applied each step (0.05 = 5%).
	Drift float64

	// Dt is the length of one step in years. 1/252 is one trading day.
	Dt float64

	// MinPrice is the floor applied after every step.
	MinPrice float64

	// HistoryCapacity bounds each symbol's rolling history.
	HistoryCapacity int

	// BaseVolume is the volume recorded at registration; each step records
	// BaseVolume × (1 + |Z|).
	BaseVolume float64
}

// DefaultParams models one trading day per step with a 5% annual drift.
var DefaultParams = Params{
	Drift:           0.05,
	Dt:              1.0 / 252.0,
	MinPrice:        0.01,
	HistoryCapacity: 1000,
	BaseVolume:      1000.0,
}

// Validate checks parameter sanity
func (p Params) Validate() error {
	if p.Dt <= 0 {
		return fmt.Errorf("dt must be positive")
	}
	if p.MinPrice <= 0 {
		return fmt.Errorf("min price must be positive")
	}
	if p.HistoryCapacity < 2 {
		return fmt.Errorf("history capacity must be at least 2, got %d", p.HistoryCapacity)
	}
	if p.BaseVolume < 0 {
		return fmt.Errorf("base volume cannot be negative")
	}
	return nil
}
