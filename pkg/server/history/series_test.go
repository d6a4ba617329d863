package history

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(ts time.Time, price float64) Point {
	return Point{
		Timestamp: ts,
		Price:     decimal.NewFromFloat(price),
		Source:    "pyth",
		Score:     90,
	}
}

func fillSeries(t *testing.T, s *Series, start time.Time, step time.Duration, prices []float64) {
	t.Helper()
	for i, p := range prices {
		require.NoError(t, s.Append(point(start.Add(time.Duration(i)*step), p)))
	}
}

func TestSeries_AppendAndWindow(t *testing.T) {
	s := NewSeries("SOL/USD", Bounds{}, nil)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	fillSeries(t, s, start, time.Minute, []float64{100, 101, 102, 103})

	assert.Equal(t, 4, s.Len())

	last, ok := s.Last()
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.NewFromFloat(103)))

	// Trailing 90 seconds from the final point covers the last two entries.
	got := s.Window(start.Add(3*time.Minute), 90*time.Second)
	assert.Len(t, got, 2)
}

func TestSeries_RejectsOutOfOrder(t *testing.T) {
	s := NewSeries("SOL/USD", Bounds{}, nil)
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(point(ts, 100)))

	err := s.Append(point(ts, 101))
	assert.ErrorIs(t, err, ErrOutOfOrder)

	err = s.Append(point(ts.Add(-time.Second), 101))
	assert.ErrorIs(t, err, ErrOutOfOrder)

	assert.Equal(t, 1, s.Len())
}

func TestSeries_RetentionPrunesOldPoints(t *testing.T) {
	s := NewSeries("SOL/USD", Bounds{Retention: 10 * time.Minute}, nil)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	fillSeries(t, s, start, time.Minute, []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110, 111, 112, 113, 114})

	// Last appended at start+14m; points before start+4m are outside retention.
	points := s.All()
	for _, p := range points {
		assert.False(t, p.Timestamp.Before(start.Add(4*time.Minute)))
	}
}

func TestSeries_MaxPointsActsAsFIFO(t *testing.T) {
	s := NewSeries("SOL/USD", Bounds{MaxPoints: 5}, nil)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	fillSeries(t, s, start, time.Second, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	points := s.All()
	require.Len(t, points, 5)
	assert.True(t, points[0].Price.Equal(decimal.NewFromFloat(4)))
	assert.True(t, points[4].Price.Equal(decimal.NewFromFloat(8)))
}

func TestSeries_CompressionKeepsNewestPoint(t *testing.T) {
	s := NewSeries("SOL/USD", Bounds{CompressionThreshold: 10}, nil)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	prices := make([]float64, 12)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	fillSeries(t, s, start, time.Second, prices)

	assert.Less(t, s.Len(), 12)

	last, ok := s.Last()
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.NewFromFloat(111)),
		"compression must keep the most recent point, got %s", last.Price)
}

func TestOutcomeLog(t *testing.T) {
	log := NewOutcomeLog(4)

	assert.Equal(t, 1.0, log.SuccessRate(), "empty log reads as fully reliable")

	log.Record(true)
	log.Record(true)
	log.Record(false)
	log.Record(false)
	assert.InDelta(t, 0.5, log.SuccessRate(), 1e-9)
	assert.Equal(t, 4, log.Count())

	// Two more successes evict the two oldest successes.
	log.Record(true)
	log.Record(true)
	assert.InDelta(t, 0.5, log.SuccessRate(), 1e-9)
	assert.Equal(t, 4, log.Count())
}

func TestTracker_LazySeriesCreation(t *testing.T) {
	tr := NewTracker(Bounds{MaxPoints: 100}, nil)

	assert.Empty(t, tr.Symbols())

	require.NoError(t, tr.Append("SOL/USD", point(time.Now(), 100)))
	assert.Equal(t, []string{"SOL/USD"}, tr.Symbols())
	assert.Same(t, tr.Series("SOL/USD"), tr.Series("SOL/USD"))
}
