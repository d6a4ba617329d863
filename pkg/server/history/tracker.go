package history

import (
	"sync"
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/logging"
)

// Tracker owns the per-symbol series and outcome logs. Series are created
// lazily on first append and guarded individually; the tracker-level lock only
// protects the maps.
type Tracker struct {
	mu       sync.RWMutex
	series   map[string]*Series
	outcomes map[string]*OutcomeLog
	bounds   Bounds
	logger   *logging.Logger
}

// NewTracker creates a tracker applying the same bounds to every symbol.
func NewTracker(bounds Bounds, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Tracker{
		series:   make(map[string]*Series),
		outcomes: make(map[string]*OutcomeLog),
		bounds:   bounds,
		logger:   logger,
	}
}

// Series returns the series for a symbol, creating it if needed.
func (t *Tracker) Series(symbol string) *Series {
	t.mu.RLock()
	s, ok := t.series[symbol]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.series[symbol]; ok {
		return s
	}
	s = NewSeries(symbol, t.bounds, t.logger.With("symbol", symbol))
	t.series[symbol] = s
	return s
}

// Outcomes returns the outcome log for a symbol, creating it if needed.
func (t *Tracker) Outcomes(symbol string) *OutcomeLog {
	t.mu.RLock()
	o, ok := t.outcomes[symbol]
	t.mu.RUnlock()
	if ok {
		return o
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok = t.outcomes[symbol]; ok {
		return o
	}
	o = NewOutcomeLog(20)
	t.outcomes[symbol] = o
	return o
}

// Append records an accepted price for a symbol.
func (t *Tracker) Append(symbol string, p Point) error {
	return t.Series(symbol).Append(p)
}

// Window returns the trailing points for a symbol. A zero window returns the
// full retained series.
func (t *Tracker) Window(symbol string, now time.Time, window time.Duration) []Point {
	return t.Series(symbol).Window(now, window)
}

// Symbols returns the symbols with recorded history.
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.series))
	for s := range t.series {
		out = append(out, s)
	}
	return out
}
