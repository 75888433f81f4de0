package engine

import "github.com/uhyunpark/marketsim/pkg/app/core/order"

// Stats summarizes the execution log
type Stats struct {
	Executed          int     `json:"executed"`
	Pending           int     `json:"pending"`
	BuyOrders         int     `json:"buyOrders"`
	SellOrders        int     `json:"sellOrders"`
	TotalVolume       float64 `json:"totalVolume"`       // Σ quantity × order price
	AverageOrderValue float64 `json:"averageOrderValue"` // 0 with no executions
	Step              int     `json:"step"`
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Executed: len(e.executed),
		Pending:  len(e.pending),
		Step:     e.step,
	}
	for _, x := range e.executed {
		if x.Order.Side == order.Buy {
			s.BuyOrders++
		} else {
			s.SellOrders++
		}
		s.TotalVolume += x.Order.Quantity * x.Order.Price
	}
	if s.Executed > 0 {
		s.AverageOrderValue = s.TotalVolume / float64(s.Executed)
	}
	return s
}
