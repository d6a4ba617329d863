package quality

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/server/confidence"
	"github.com/rz1989s/saros-price-oracle/pkg/server/feed"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// staticSource always returns a fresh, tight sample.
type staticSource struct {
	name  string
	price float64
}

func (s *staticSource) Name() string             { return s.name }
func (s *staticSource) Type() sources.SourceType { return sources.SourceTypeSim }
func (s *staticSource) Symbols() []string        { return []string{"SOL/USD"} }

func (s *staticSource) Fetch(_ context.Context, symbol string) (sources.PriceSample, error) {
	return sources.PriceSample{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(s.price),
		ConfWidth: decimal.NewFromFloat(0.05),
		Timestamp: time.Now(),
		Source:    s.name,
		Status:    sources.TradingStatusActive,
	}, nil
}

func testSetup(t *testing.T) (*Generator, *history.Tracker) {
	t.Helper()

	cfg := config.FeedConfig{
		Symbol:                "SOL/USD",
		PrimarySource:         "static",
		RefreshInterval:       30 * time.Second,
		MaxStaleness:          60 * time.Second,
		MinQualityScore:       50,
		DeviationThresholdPct: 2.0,
		RetryAttempts:         1,
		RetryBackoff:          10 * time.Millisecond,
		FetchTimeout:          time.Second,
	}

	tracker := history.NewTracker(history.Bounds{MaxPoints: 100}, nil)
	manager := feed.NewManager(
		map[string]config.FeedConfig{"SOL/USD": cfg},
		map[string]sources.Source{"static": &staticSource{name: "static", price: 100}},
		tracker, 4, nil)
	t.Cleanup(manager.Close)

	return NewGenerator(manager, tracker, time.Minute, nil), tracker
}

func TestGenerate_HealthyFeed(t *testing.T) {
	gen, _ := testSetup(t)

	report, err := gen.Generate(context.Background(), "SOL/USD")
	require.NoError(t, err)

	assert.Equal(t, "SOL/USD", report.Symbol)
	assert.GreaterOrEqual(t, report.Overall, 0.0)
	assert.LessOrEqual(t, report.Overall, 100.0)

	// Fresh tight sample, full reliability, no history to contradict it.
	assert.Greater(t, report.Overall, 80.0)
	assert.Equal(t, confidence.RecommendUse, report.Recommendation)
	assert.Equal(t, StabilityStable, report.Stability)
	assert.Empty(t, report.Actions)
}

func TestGenerate_ServesFromCache(t *testing.T) {
	gen, _ := testSetup(t)

	first, err := gen.Generate(context.Background(), "SOL/USD")
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), "SOL/USD")
	require.NoError(t, err)

	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
}

func TestGenerate_UnknownSymbol(t *testing.T) {
	gen, _ := testSetup(t)

	_, err := gen.Generate(context.Background(), "BTC/USD")
	assert.ErrorIs(t, err, sources.ErrNotConfigured)
}

func TestGenerate_ReliabilityReflectsOutcomes(t *testing.T) {
	gen, tracker := testSetup(t)

	log := tracker.Outcomes("SOL/USD")
	for i := 0; i < 5; i++ {
		log.Record(false)
	}

	report, err := gen.Generate(context.Background(), "SOL/USD")
	require.NoError(t, err)

	// One success recorded by the fetch itself plus five scripted failures.
	assert.Less(t, report.Reliability.Score, 50.0)
	assert.Contains(t, report.Actions[0], "fetch failures")
}

func TestRecommend_Thresholds(t *testing.T) {
	tests := []struct {
		overall  float64
		bucket   confidence.StalenessBucket
		minScore float64
		want     confidence.Recommendation
	}{
		{95, confidence.BucketFresh, 50, confidence.RecommendUse},
		{85, confidence.BucketStale, 50, confidence.RecommendWithCaution},
		{70, confidence.BucketAcceptable, 50, confidence.RecommendWithCaution},
		{50, confidence.BucketAcceptable, 50, confidence.RecommendFallback},
		{20, confidence.BucketFresh, 50, confidence.RecommendReject},
		{95, confidence.BucketExpired, 50, confidence.RecommendReject},
		// The feed's quality floor rejects scores beneath it.
		{45, confidence.BucketAcceptable, 50, confidence.RecommendReject},
		{45, confidence.BucketAcceptable, 40, confidence.RecommendFallback},
		{70, confidence.BucketAcceptable, 75, confidence.RecommendReject},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, recommend(tt.overall, tt.bucket, tt.minScore),
			"overall=%v bucket=%s min=%v", tt.overall, tt.bucket, tt.minScore)
	}
}

func TestStalenessScore(t *testing.T) {
	assert.Equal(t, 100.0, stalenessScore(confidence.BucketFresh))
	assert.Equal(t, 80.0, stalenessScore(confidence.BucketAcceptable))
	assert.Equal(t, 50.0, stalenessScore(confidence.BucketStale))
	assert.Equal(t, 10.0, stalenessScore(confidence.BucketExpired))
}
