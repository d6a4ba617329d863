package history

import "sync"

// OutcomeLog is a fixed-size ring of fetch outcomes per symbol, used for the
// reliability estimate in quality reports.
type OutcomeLog struct {
	mu     sync.Mutex
	ring   []bool
	next   int
	filled int
}

// NewOutcomeLog creates a ring holding the last `size` outcomes.
func NewOutcomeLog(size int) *OutcomeLog {
	if size <= 0 {
		size = 20
	}
	return &OutcomeLog{ring: make([]bool, size)}
}

// Record appends one fetch outcome, evicting the oldest when full.
func (o *OutcomeLog) Record(success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ring[o.next] = success
	o.next = (o.next + 1) % len(o.ring)
	if o.filled < len(o.ring) {
		o.filled++
	}
}

// SuccessRate returns the fraction of recorded outcomes that succeeded,
// in [0, 1]. An empty log reads as fully reliable; a symbol nobody has
// fetched yet has no evidence against it.
func (o *OutcomeLog) SuccessRate() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.filled == 0 {
		return 1
	}
	ok := 0
	for i := 0; i < o.filled; i++ {
		if o.ring[i] {
			ok++
		}
	}
	return float64(ok) / float64(o.filled)
}

// Count returns how many outcomes are recorded.
func (o *OutcomeLog) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filled
}
