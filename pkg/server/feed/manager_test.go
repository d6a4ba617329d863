package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// fakeSource scripts per-call results for a single symbol.
type fakeSource struct {
	name string

	mu      sync.Mutex
	calls   int
	results []fakeResult
}

type fakeResult struct {
	sample sources.PriceSample
	err    error
}

func (f *fakeSource) Name() string             { return f.name }
func (f *fakeSource) Type() sources.SourceType { return sources.SourceTypeSim }
func (f *fakeSource) Symbols() []string        { return []string{"SOL/USD"} }

func (f *fakeSource) Fetch(_ context.Context, _ string) (sources.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	return r.sample, r.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(source string, price float64, ts time.Time) fakeResult {
	return fakeResult{sample: sources.PriceSample{
		Symbol:    "SOL/USD",
		Price:     decimal.NewFromFloat(price),
		ConfWidth: decimal.NewFromFloat(0.05),
		Timestamp: ts,
		Source:    source,
		Status:    sources.TradingStatusActive,
	}}
}

func fail() fakeResult {
	return fakeResult{err: sources.ErrProviderError}
}

func baseFeed() config.FeedConfig {
	return config.FeedConfig{
		Symbol:                "SOL/USD",
		PrimarySource:         "primary",
		FallbackSources:       []string{"fallback"},
		RefreshInterval:       30 * time.Second,
		MaxStaleness:          60 * time.Second,
		MinQualityScore:       50,
		DeviationThresholdPct: 2.0,
		RetryAttempts:         3,
		RetryBackoff:          500 * time.Millisecond,
		FetchTimeout:          5 * time.Second,
	}
}

// testManager wires a manager with a frozen clock and a recording sleeper.
func testManager(t *testing.T, cfg config.FeedConfig, srcs ...*fakeSource) (*Manager, time.Time, *[]time.Duration) {
	t.Helper()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	srcMap := make(map[string]sources.Source, len(srcs))
	for _, s := range srcs {
		srcMap[s.name] = s
	}

	tracker := history.NewTracker(history.Bounds{MaxPoints: 100}, nil)
	m := NewManager(map[string]config.FeedConfig{cfg.Symbol: cfg}, srcMap, tracker, 4, nil)
	t.Cleanup(m.Close)

	var slept []time.Duration
	m.now = func() time.Time { return now }
	m.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	return m, now, &slept
}

func TestGetPrice_PrimarySuccess(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}

	m, _, _ := testManager(t, baseFeed(), primary)

	agg, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	assert.Equal(t, MethodPrimary, agg.Method)
	assert.True(t, agg.Price.Equal(decimal.NewFromFloat(100)))
	assert.Equal(t, StateHealthy, m.FeedStatus("SOL/USD"))
	assert.Equal(t, 1, primary.callCount())
}

func TestGetPrice_CacheHitReturnsSameValue(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}

	m, _, _ := testManager(t, baseFeed(), primary)

	first, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)
	second, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	assert.Same(t, first, second, "a cache hit must hand out the identical value")
	assert.Equal(t, 1, primary.callCount(), "no second adapter call within the refresh interval")
	assert.Equal(t, int64(1), m.Stats().CacheHits)
}

func TestGetPrice_ForceRefreshBypassesCache(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}

	m, _, _ := testManager(t, baseFeed(), primary)

	_, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)
	_, err = m.GetPrice(context.Background(), "SOL/USD", true)
	require.NoError(t, err)

	assert.Equal(t, 2, primary.callCount())
}

func TestGetPrice_RetryThenFallback(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{fail()}}
	fallback := &fakeSource{name: "fallback", results: []fakeResult{ok("fallback", 102, now.Add(-40 * time.Second))}}

	m, _, slept := testManager(t, baseFeed(), primary, fallback)

	agg, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	assert.Equal(t, MethodFallback, agg.Method)
	assert.True(t, agg.Price.Equal(decimal.NewFromFloat(102)))

	// Retry budget is spent on the primary: three attempts with growing delay,
	// one attempt on the fallback.
	assert.Equal(t, 3, primary.callCount())
	assert.Equal(t, 1, fallback.callCount())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1 * time.Second}, *slept)

	// A 40s-old fallback sample scores below the healthy bar.
	assert.Equal(t, StateDegraded, m.FeedStatus("SOL/USD"))
}

func TestGetPrice_AllSourcesFailed(t *testing.T) {
	primary := &fakeSource{name: "primary", results: []fakeResult{fail()}}
	fallback := &fakeSource{name: "fallback", results: []fakeResult{fail()}}

	m, _, _ := testManager(t, baseFeed(), primary, fallback)

	_, err := m.GetPrice(context.Background(), "SOL/USD", false)
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.Equal(t, StateFailed, m.FeedStatus("SOL/USD"))

	_, err = m.LastKnown("SOL/USD")
	assert.ErrorIs(t, err, ErrNoCachedPrice)
}

func TestGetPrice_LastKnownSurvivesFailure(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{
		ok("primary", 100, now.Add(-2 * time.Second)),
		fail(),
	}}
	fallback := &fakeSource{name: "fallback", results: []fakeResult{fail()}}

	m, _, _ := testManager(t, baseFeed(), primary, fallback)

	first, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	_, err = m.GetPrice(context.Background(), "SOL/USD", true)
	require.ErrorIs(t, err, ErrAllSourcesFailed)

	cached, err := m.LastKnown("SOL/USD")
	require.NoError(t, err)
	assert.Same(t, first, cached)
}

func TestGetPrice_UnknownSymbol(t *testing.T) {
	m, _, _ := testManager(t, baseFeed(), &fakeSource{name: "primary", results: []fakeResult{fail()}})

	_, err := m.GetPrice(context.Background(), "BTC/USD", false)
	assert.ErrorIs(t, err, sources.ErrNotConfigured)
}

func TestGetPrice_UnknownPrimaryFailsFast(t *testing.T) {
	cfg := baseFeed()
	cfg.PrimarySource = "missing"
	cfg.FallbackSources = nil

	m, _, slept := testManager(t, cfg, &fakeSource{name: "primary", results: []fakeResult{fail()}})

	_, err := m.GetPrice(context.Background(), "SOL/USD", false)
	assert.ErrorIs(t, err, sources.ErrNotConfigured)
	assert.Empty(t, *slept, "an unregistered source must not be retried")
}

func TestGetPrice_CrossValidationWarning(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}
	fallback := &fakeSource{name: "fallback", results: []fakeResult{ok("fallback", 105, now.Add(-2 * time.Second))}}

	cfg := baseFeed()
	cfg.EnableCrossValidation = true

	m, _, _ := testManager(t, cfg, primary, fallback)

	agg, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	assert.Equal(t, MethodPrimary, agg.Method)
	assert.True(t, agg.CrossValidated)
	assert.InDelta(t, 5.0, agg.MaxDeviationPct, 1e-9)
	assert.Contains(t, agg.Warnings, WarnCrossValidationDeviation)
}

func TestGetPrice_DeviationRejectionFallsBackToAggregation(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}
	fallback := &fakeSource{name: "fallback", results: []fakeResult{ok("fallback", 105, now.Add(-2 * time.Second))}}

	cfg := baseFeed()
	cfg.EnableCrossValidation = true
	cfg.RejectOnDeviation = true
	cfg.EnableAggregation = true

	m, _, _ := testManager(t, cfg, primary, fallback)

	agg, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	assert.Equal(t, MethodWeighted, agg.Method)
	require.Len(t, agg.Samples, 2)

	// The consensus stays inside the contributing range.
	assert.True(t, agg.Price.GreaterThanOrEqual(decimal.NewFromFloat(100)))
	assert.True(t, agg.Price.LessThanOrEqual(decimal.NewFromFloat(105)))
	assert.Contains(t, agg.Warnings, WarnCrossValidationDeviation)
}

func TestGetPrice_DeviationRejectionWithoutAggregation(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}
	fallback := &fakeSource{name: "fallback", results: []fakeResult{ok("fallback", 105, now.Add(-2 * time.Second))}}

	cfg := baseFeed()
	cfg.EnableCrossValidation = true
	cfg.RejectOnDeviation = true
	cfg.EnableAggregation = false

	m, _, _ := testManager(t, cfg, primary, fallback)

	_, err := m.GetPrice(context.Background(), "SOL/USD", false)
	assert.ErrorIs(t, err, ErrDeviationRejected)
	assert.Equal(t, StateFailed, m.FeedStatus("SOL/USD"))
}

func TestGetPrices_BestEffort(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}

	cfgGood := baseFeed()
	cfgGood.FallbackSources = nil
	cfgBad := baseFeed()
	cfgBad.Symbol = "BTC/USD"
	cfgBad.PrimarySource = "missing"
	cfgBad.FallbackSources = nil

	tracker := history.NewTracker(history.Bounds{MaxPoints: 100}, nil)
	m := NewManager(map[string]config.FeedConfig{
		"SOL/USD": cfgGood,
		"BTC/USD": cfgBad,
	}, map[string]sources.Source{"primary": primary}, tracker, 4, nil)
	t.Cleanup(m.Close)
	m.now = func() time.Time { return now }

	prices := m.GetPrices(context.Background(), []string{"SOL/USD", "BTC/USD"})

	require.Len(t, prices, 1)
	assert.Contains(t, prices, "SOL/USD")
}

func TestSubscribe_ReceivesAcceptedPrices(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}

	m, _, _ := testManager(t, baseFeed(), primary)

	ch := make(chan *AggregatedPrice, 1)
	m.Subscribe(ch)

	agg, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Same(t, agg, got)
	default:
		t.Fatal("expected an update on the subscriber channel")
	}
}

func TestUpdateFeed_RejectsInvalidConfig(t *testing.T) {
	m, _, _ := testManager(t, baseFeed(), &fakeSource{name: "primary", results: []fakeResult{fail()}})

	cfg := baseFeed()
	cfg.RefreshInterval = 2 * time.Minute // exceeds the staleness budget
	assert.Error(t, m.UpdateFeed(cfg))

	cfg = baseFeed()
	cfg.MaxStaleness = 5 * time.Minute
	cfg.RefreshInterval = 2 * time.Minute
	assert.NoError(t, m.UpdateFeed(cfg))

	got, ok := m.FeedConfig("SOL/USD")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, got.RefreshInterval)
}

func TestRecordHistory_AppendsAcceptedPrice(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	primary := &fakeSource{name: "primary", results: []fakeResult{ok("primary", 100, now.Add(-2 * time.Second))}}

	m, _, _ := testManager(t, baseFeed(), primary)

	_, err := m.GetPrice(context.Background(), "SOL/USD", false)
	require.NoError(t, err)

	points := m.tracker.Window("SOL/USD", now, 0)
	require.Len(t, points, 1)
	assert.True(t, points[0].Price.Equal(decimal.NewFromFloat(100)))
	assert.Equal(t, "primary", points[0].Source)
}

// gatedSource blocks every Fetch until the gate channel is closed.
type gatedSource struct {
	name string
	gate chan struct{}

	mu    sync.Mutex
	calls int
}

func (g *gatedSource) Name() string             { return g.name }
func (g *gatedSource) Type() sources.SourceType { return sources.SourceTypeSim }
func (g *gatedSource) Symbols() []string        { return []string{"SOL/USD"} }

func (g *gatedSource) Fetch(_ context.Context, symbol string) (sources.PriceSample, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	<-g.gate

	return sources.PriceSample{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(100),
		ConfWidth: decimal.NewFromFloat(0.05),
		Timestamp: time.Now(),
		Source:    g.name,
		Status:    sources.TradingStatusActive,
	}, nil
}

func (g *gatedSource) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func TestGetPrice_CoalescesConcurrentRequests(t *testing.T) {
	src := &gatedSource{name: "primary", gate: make(chan struct{})}

	cfg := baseFeed()
	cfg.FallbackSources = nil

	tracker := history.NewTracker(history.Bounds{MaxPoints: 100}, nil)
	m := NewManager(map[string]config.FeedConfig{"SOL/USD": cfg},
		map[string]sources.Source{"primary": src}, tracker, 4, nil)
	t.Cleanup(m.Close)

	const callers = 8
	var (
		wg      sync.WaitGroup
		results [callers]*AggregatedPrice
		errs    [callers]error
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.GetPrice(context.Background(), "SOL/USD", false)
		}()
	}

	// Give every caller time to join the shared in-flight fetch, then let it
	// finish.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, 1, src.callCount(), "concurrent callers must share one adapter call")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestStopTracking_CancelsRetrySleep(t *testing.T) {
	primary := &fakeSource{name: "primary", results: []fakeResult{fail()}}

	cfg := baseFeed()
	cfg.FallbackSources = nil
	cfg.RetryBackoff = 10 * time.Second

	tracker := history.NewTracker(history.Bounds{MaxPoints: 100}, nil)
	m := NewManager(map[string]config.FeedConfig{"SOL/USD": cfg},
		map[string]sources.Source{"primary": primary}, tracker, 4, nil)
	t.Cleanup(m.Close)

	require.NoError(t, m.StartTracking("SOL/USD"))
	require.NoError(t, m.StartTracking("SOL/USD"), "starting twice must be a no-op")
	require.True(t, m.IsTracking("SOL/USD"))

	// Wait for the loop's first attempt, which then parks in the 10s retry
	// sleep.
	deadline := time.Now().Add(2 * time.Second)
	for primary.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, primary.callCount())

	m.StopTracking("SOL/USD")
	assert.False(t, m.IsTracking("SOL/USD"))

	// The cancelled sleep must not wake up into another attempt.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, primary.callCount())
}

// overlapSource records the peak number of simultaneous Fetch calls.
type overlapSource struct {
	name string

	mu     sync.Mutex
	active int
	peak   int
}

func (o *overlapSource) Name() string             { return o.name }
func (o *overlapSource) Type() sources.SourceType { return sources.SourceTypeSim }
func (o *overlapSource) Symbols() []string        { return []string{"SOL/USD", "BTC/USD"} }

func (o *overlapSource) Fetch(_ context.Context, symbol string) (sources.PriceSample, error) {
	o.mu.Lock()
	o.active++
	if o.active > o.peak {
		o.peak = o.active
	}
	o.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	o.mu.Lock()
	o.active--
	o.mu.Unlock()

	return sources.PriceSample{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(100),
		ConfWidth: decimal.NewFromFloat(0.05),
		Timestamp: time.Now(),
		Source:    o.name,
		Status:    sources.TradingStatusActive,
	}, nil
}

func (o *overlapSource) maxOverlap() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peak
}

func TestGetPrices_BoundsOutboundConcurrency(t *testing.T) {
	src := &overlapSource{name: "primary"}

	sol := baseFeed()
	sol.FallbackSources = nil
	btc := baseFeed()
	btc.Symbol = "BTC/USD"
	btc.FallbackSources = nil

	tracker := history.NewTracker(history.Bounds{MaxPoints: 100}, nil)
	m := NewManager(map[string]config.FeedConfig{"SOL/USD": sol, "BTC/USD": btc},
		map[string]sources.Source{"primary": src}, tracker, 1, nil)
	t.Cleanup(m.Close)

	prices := m.GetPrices(context.Background(), []string{"SOL/USD", "BTC/USD"})

	assert.Len(t, prices, 2)
	assert.Equal(t, 1, src.maxOverlap(), "adapter calls must respect the concurrency bound")
}

func TestBackoffWithJitter(t *testing.T) {
	base := 500 * time.Millisecond
	maxDelay := 30 * time.Second

	for failures := 0; failures < 10; failures++ {
		d := backoffWithJitter(base, failures, maxDelay)
		assert.GreaterOrEqual(t, d, base, "failures=%d", failures)
		assert.LessOrEqual(t, d, maxDelay+maxDelay/4, "failures=%d", failures)
	}
}
