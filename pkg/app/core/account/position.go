package account

// positionEpsilon is the quantity below which a position is treated as flat
// and removed from the ledger.
const positionEpsilon = 0.001

// Position represents shares held in one symbol
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`

	// Quantity-weighted average execution price of the buys that built the
	// position. Updated on each buy: newAvg = (oldQty×oldAvg + qty×price) / (oldQty+qty)
	AverageCost float64 `json:"averageCost"`

	// Mark-to-market P&L, only as fresh as the last UpdatePositionValue call.
	UnrealizedPnL float64 `json:"unrealizedPnl"`

	// Cumulative P&L of sells against AverageCost. Lost when the position
	// is closed out; see Ledger.ClosedPnL for the aggregate.
	RealizedPnL float64 `json:"realizedPnl"`
}

// CostBasis returns quantity × average cost
func (p *Position) CostBasis() float64 {
	return p.Quantity * p.AverageCost
}

// MarketValue returns quantity × price
func (p *Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// TotalPnL returns realized + unrealized
func (p *Position) TotalPnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL
}
