package market

import "time"

// PricePoint is one recorded observation of a symbol's price.
type PricePoint struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// History is a fixed-capacity ring buffer of price points.
// Once full, each Push evicts the oldest point.
type History struct {
	points []PricePoint
	start  int // index of the oldest point
	size   int
}

func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{points: make([]PricePoint, capacity)}
}

func (h *History) Cap() int { return len(h.points) }
func (h *History) Len() int { return h.size }

func (h *History) Push(p PricePoint) {
	if h.size < len(h.points) {
		h.points[(h.start+h.size)%len(h.points)] = p
		h.size++
		return
	}
	h.points[h.start] = p
	h.start = (h.start + 1) % len(h.points)
}

// At returns the i-th point counting from the oldest.
func (h *History) At(i int) PricePoint {
	return h.points[(h.start+i)%len(h.points)]
}

// Last returns the newest point, or false if the history is empty.
func (h *History) Last() (PricePoint, bool) {
	if h.size == 0 {
		return PricePoint{}, false
	}
	return h.At(h.size - 1), true
}

// Points returns a copy of the history, oldest first.
func (h *History) Points() []PricePoint {
	out := make([]PricePoint, h.size)
	for i := range out {
		out[i] = h.At(i)
	}
	return out
}

// Prices returns the price series, oldest first.
func (h *History) Prices() []float64 {
	out := make([]float64, h.size)
	for i := range out {
		out[i] = h.At(i).Price
	}
	return out
}
