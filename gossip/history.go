package gossip

// CodeHistory keeps the most recent own codes, oldest first.
type CodeHistory struct {
	values []float64
	max    int
}

func NewCodeHistory(max int) *CodeHistory {
	return &CodeHistory{
		values: make([]float64, 0, max),
		max:    max,
	}
}

// Push appends x, dropping the oldest value when full.
func (h *CodeHistory) Push(x float64) {
	if len(h.values) >= h.max {
		copy(h.values, h.values[1:])
		h.values = h.values[:len(h.values)-1]
	}
	h.values = append(h.values, x)
}

func (h *CodeHistory) Len() int {
	return len(h.values)
}

// Values returns a copy of the history, oldest first.
func (h *CodeHistory) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}
