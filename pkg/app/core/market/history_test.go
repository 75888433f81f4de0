package market

import "testing"

func TestHistoryRingBuffer(t *testing.T) {
	h := NewHistory(3)

	if _, ok := h.Last(); ok {
		t.Fatal("empty history returned a last point")
	}

	for i := 1; i <= 5; i++ {
		h.Push(PricePoint{Price: float64(i)})
	}

	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	got := h.Prices()
	want := []float64{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prices = %v, want %v", got, want)
		}
	}
	last, _ := h.Last()
	if last.Price != 5 {
		t.Errorf("last = %v, want 5", last.Price)
	}
	if h.At(0).Price != 3 {
		t.Errorf("oldest = %v, want 3", h.At(0).Price)
	}
}

func TestHistoryPointsIsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Push(PricePoint{Price: 1})
	pts := h.Points()
	pts[0].Price = 99
	if h.At(0).Price != 1 {
		t.Error("mutating Points() result changed the history")
	}
}
