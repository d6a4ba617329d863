// Package history keeps a bounded, retention-limited time series of accepted
// prices per symbol and computes rolling statistics over it.
package history

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/logging"
)

// ErrOutOfOrder indicates an append with a timestamp not after the last point.
var ErrOutOfOrder = errors.New("history point out of order")

// Point is one accepted price observation. Appended in strictly increasing
// timestamp order per symbol.
type Point struct {
	Timestamp  time.Time       `json:"timestamp"`
	Price      decimal.Decimal `json:"price"`
	Confidence decimal.Decimal `json:"confidence"`
	Source     string          `json:"source"`
	Staleness  time.Duration   `json:"staleness"`
	Score      float64         `json:"score"`
}

// Bounds configures the three limits on a series: time retention, point cap,
// and the length past which the series is down-sampled.
type Bounds struct {
	Retention            time.Duration
	MaxPoints            int
	CompressionThreshold int
}

// Series is the per-symbol bounded series. Safe for concurrent use; each
// symbol has its own lock so unrelated symbols never contend.
type Series struct {
	mu     sync.RWMutex
	symbol string
	points []Point
	bounds Bounds
	logger *logging.Logger
}

// NewSeries creates an empty series for a symbol.
func NewSeries(symbol string, bounds Bounds, logger *logging.Logger) *Series {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Series{
		symbol: symbol,
		points: make([]Point, 0, 64),
		bounds: bounds,
		logger: logger,
	}
}

// Append adds a point. Points must arrive in strictly increasing timestamp
// order; a point at or before the current tail is rejected.
func (s *Series) Append(p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.points); n > 0 && !p.Timestamp.After(s.points[n-1].Timestamp) {
		return ErrOutOfOrder
	}

	s.points = append(s.points, p)
	s.prune(p.Timestamp)

	if s.bounds.CompressionThreshold > 0 && len(s.points) > s.bounds.CompressionThreshold {
		s.compress()
	}
	return nil
}

// prune drops points outside the retention window and beyond the point cap.
// Caller holds the write lock.
func (s *Series) prune(now time.Time) {
	if s.bounds.Retention > 0 {
		cutoff := now.Add(-s.bounds.Retention)
		idx := 0
		for idx < len(s.points) && s.points[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			s.points = append(s.points[:0], s.points[idx:]...)
		}
	}

	if s.bounds.MaxPoints > 0 && len(s.points) > s.bounds.MaxPoints {
		drop := len(s.points) - s.bounds.MaxPoints
		s.points = append(s.points[:0], s.points[drop:]...)
	}
}

// compress down-samples the series, keeping every Nth point plus the most
// recent one. Resolution is traded for memory; old points are thinned, not
// deleted wholesale. Caller holds the write lock.
func (s *Series) compress() {
	threshold := s.bounds.CompressionThreshold
	target := float64(threshold) * 0.8
	n := int(math.Ceil(float64(len(s.points)) / target))
	if n <= 1 {
		return
	}

	kept := s.points[:0]
	last := len(s.points) - 1
	for i, p := range s.points {
		if i%n == 0 || i == last {
			kept = append(kept, p)
		}
	}
	s.logger.Debug("Compressed history series",
		"symbol", s.symbol, "keep_every", n, "points", len(kept))
	s.points = kept
}

// Len returns the number of retained points.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Last returns the most recent point, if any.
func (s *Series) Last() (Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// All returns a copy of the full series.
func (s *Series) All() []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Window returns a copy of the points within the trailing window ending at now.
// A zero window returns the full series.
func (s *Series) Window(now time.Time, window time.Duration) []Point {
	if window <= 0 {
		return s.All()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(-window)
	idx := 0
	for idx < len(s.points) && s.points[idx].Timestamp.Before(cutoff) {
		idx++
	}
	out := make([]Point, len(s.points)-idx)
	copy(out, s.points[idx:])
	return out
}

// prices extracts the price column as float64 for analytics.
func prices(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i], _ = p.Price.Float64()
	}
	return out
}
