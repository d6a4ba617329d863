package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/logging"
	"github.com/rz1989s/saros-price-oracle/pkg/metrics"
	"github.com/rz1989s/saros-price-oracle/pkg/server/confidence"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
	"github.com/rz1989s/saros-price-oracle/pkg/server/validate"
)

// Manager is the feed orchestrator. One instance is constructed at process
// start and handed to every caller; Close cancels all background work.
type Manager struct {
	logger  *logging.Logger
	tracker *history.Tracker

	// injectable clock and sleeper, fixed in tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	srcMu sync.RWMutex
	srcs  map[string]sources.Source

	cfgMu sync.RWMutex
	feeds map[string]config.FeedConfig

	// per-symbol state; the map lock is only held to look up or create an
	// entry, never across a fetch
	stMu   sync.Mutex
	states map[string]*feedState

	group singleflight.Group
	sem   *semaphore.Weighted

	rootCtx    context.Context
	rootCancel context.CancelFunc

	requests  atomic.Int64
	cacheHits atomic.Int64
	fetches   atomic.Int64
	latencyNs atomic.Int64

	subMu sync.RWMutex
	subs  []chan<- *AggregatedPrice
}

type feedState struct {
	mu            sync.Mutex
	state         State
	cached        *AggregatedPrice
	cachedAt      time.Time
	tracking      bool
	cancelRefresh context.CancelFunc
	failures      int
}

// NewManager creates a feed manager over the given merged feed configs and
// source adapters. maxConcurrent bounds outbound adapter calls across all
// symbols to protect provider rate limits.
func NewManager(feeds map[string]config.FeedConfig, srcs map[string]sources.Source, tracker *history.Tracker, maxConcurrent int64, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:     logger,
		tracker:    tracker,
		now:        time.Now,
		sleep:      sleepCtx,
		srcs:       srcs,
		feeds:      feeds,
		states:     make(map[string]*feedState, len(feeds)),
		sem:        semaphore.NewWeighted(maxConcurrent),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close stops all background refresh loops.
func (m *Manager) Close() {
	m.rootCancel()
}

// FeedConfig returns the merged config for a symbol.
func (m *Manager) FeedConfig(symbol string) (config.FeedConfig, bool) {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	cfg, ok := m.feeds[symbol]
	return cfg, ok
}

// UpdateFeed replaces the config for a symbol (admin API). The new config is
// validated; the cached price survives so consumers keep a value across an
// admin change.
func (m *Manager) UpdateFeed(cfg config.FeedConfig) error {
	if err := config.ValidateFeed(cfg); err != nil {
		return err
	}
	m.cfgMu.Lock()
	m.feeds[cfg.Symbol] = cfg
	m.cfgMu.Unlock()
	m.logger.Info("Feed config updated", "symbol", cfg.Symbol)
	return nil
}

// Symbols returns all configured symbols, sorted.
func (m *Manager) Symbols() []string {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	out := make([]string, 0, len(m.feeds))
	for s := range m.feeds {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// state returns the per-symbol state, creating it on first use.
func (m *Manager) state(symbol string) *feedState {
	m.stMu.Lock()
	defer m.stMu.Unlock()
	st, ok := m.states[symbol]
	if !ok {
		st = &feedState{state: StateUnknown}
		m.states[symbol] = st
	}
	return st
}

// FeedStatus returns the current state for a symbol.
func (m *Manager) FeedStatus(symbol string) State {
	st := m.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// LastKnown returns the most recently accepted price regardless of staleness.
// Consumers degrade to this value with an explicit staleness indicator when a
// refresh hard-fails.
func (m *Manager) LastKnown(symbol string) (*AggregatedPrice, error) {
	st := m.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cached == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCachedPrice, symbol)
	}
	return st.cached, nil
}

// GetPrice returns the aggregated price for a symbol, serving from cache when
// fresh enough. Concurrent callers for the same symbol share one in-flight
// fetch.
func (m *Manager) GetPrice(ctx context.Context, symbol string, forceRefresh bool) (*AggregatedPrice, error) {
	m.requests.Add(1)

	cfg, ok := m.FeedConfig(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", sources.ErrNotConfigured, symbol)
	}

	st := m.state(symbol)

	if !forceRefresh {
		st.mu.Lock()
		if cached := st.cached; cached != nil {
			age := m.now().Sub(st.cachedAt)
			if age < cfg.RefreshInterval && cached.Staleness+age < cfg.MaxStaleness {
				st.mu.Unlock()
				m.cacheHits.Add(1)
				metrics.RecordCacheRequest(symbol, true)
				return cached, nil
			}
		}
		st.mu.Unlock()
	}
	metrics.RecordCacheRequest(symbol, false)

	v, err, _ := m.group.Do(symbol, func() (interface{}, error) {
		return m.fetchAndCache(ctx, symbol, cfg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AggregatedPrice), nil
}

// GetPrices fetches many symbols in parallel, best-effort: failed symbols are
// logged and omitted from the result.
func (m *Manager) GetPrices(ctx context.Context, symbols []string) map[string]*AggregatedPrice {
	var (
		mu  sync.Mutex
		out = make(map[string]*AggregatedPrice, len(symbols))
	)

	g := new(errgroup.Group)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			price, err := m.GetPrice(ctx, symbol, false)
			if err != nil {
				m.logger.Warn("Skipping symbol in batch fetch", "symbol", symbol, "error", err.Error())
				return nil
			}
			mu.Lock()
			out[symbol] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fetchAndCache runs one full fetch cycle for a symbol: primary with retries,
// fallback chain, weighted aggregation of partial successes. Exactly one cycle
// runs per symbol at a time (singleflight).
func (m *Manager) fetchAndCache(ctx context.Context, symbol string, cfg config.FeedConfig) (*AggregatedPrice, error) {
	start := m.now()
	m.fetches.Add(1)

	st := m.state(symbol)
	st.mu.Lock()
	st.state = StateFetching
	st.mu.Unlock()

	var (
		warnings []string
		round    *validate.Round
		partials = make(map[string]sources.PriceSample)
	)

	// Step 1: primary with retry/backoff.
	chosen, err := m.fetchWithRetry(ctx, cfg, cfg.PrimarySource, symbol)
	method := MethodPrimary

	// Step 2: cross-validate a primary success against the other sources.
	if err == nil {
		partials[chosen.Source] = chosen
		if cfg.EnableCrossValidation && len(cfg.FallbackSources) > 0 {
			secondaries := m.fetchSecondaries(ctx, cfg, symbol)
			for _, sec := range secondaries {
				partials[sec.Source] = sec
			}
			r := validate.Run(chosen, secondaries, cfg.DeviationThresholdPct)
			round = &r
			if r.AnyBreach {
				warnings = append(warnings, WarnCrossValidationDeviation)
				m.logger.Warn("Cross-validation deviation breach",
					"symbol", symbol, "max_deviation_pct", r.MaxDeviationPct,
					"threshold_pct", cfg.DeviationThresholdPct)
				if cfg.RejectOnDeviation {
					err = fmt.Errorf("%w: %s deviates %.2f%% (threshold %.2f%%)",
						ErrDeviationRejected, symbol, r.MaxDeviationPct, cfg.DeviationThresholdPct)
				}
			}
		}
	}

	// Step 3: fallback chain, in configured order. The retry budget was spent
	// on the primary; each fallback gets a single attempt. A deviation
	// rejection skips the chain: picking one side of a disagreement is not a
	// fallback, only consensus or failure is.
	if err != nil && !errors.Is(err, sources.ErrNotConfigured) && !errors.Is(err, ErrDeviationRejected) {
		for _, name := range cfg.FallbackSources {
			sample, ferr := m.fetchOnce(ctx, cfg, name, symbol)
			if ferr != nil {
				m.logger.Warn("Fallback source failed",
					"symbol", symbol, "source", name, "error", ferr.Error())
				continue
			}
			chosen = sample
			partials[sample.Source] = sample
			method = MethodFallback
			err = nil
			break
		}
	}

	// Step 4: weighted consensus over whatever partially succeeded.
	if err != nil && cfg.EnableAggregation && len(partials) > 0 {
		method = MethodWeighted
		err = nil
	}

	if err != nil || len(partials) == 0 {
		m.tracker.Outcomes(symbol).Record(false)
		st.mu.Lock()
		st.state = StateFailed
		st.mu.Unlock()
		metrics.RecordFeedState(symbol, stateMetric(StateFailed))
		if err == nil || errors.Is(err, sources.ErrProviderError) || errors.Is(err, sources.ErrProviderTimeout) {
			err = fmt.Errorf("%w: %s", ErrAllSourcesFailed, symbol)
		}
		return nil, err
	}

	agg := m.finalize(symbol, cfg, method, chosen, partials, round, warnings)

	state := StateHealthy
	if agg.Verdict.Score < 80 {
		state = StateDegraded
	}

	now := m.now()
	st.mu.Lock()
	st.state = state
	st.cached = agg
	st.cachedAt = now
	st.failures = 0
	st.mu.Unlock()

	m.latencyNs.Add(now.Sub(start).Nanoseconds())
	metrics.RecordFeedState(symbol, stateMetric(state))
	metrics.RecordAcceptedPrice(symbol, agg.Staleness, agg.Verdict.Score)

	m.recordHistory(symbol, method, agg, now)
	m.tracker.Outcomes(symbol).Record(true)
	m.notify(agg)

	m.logger.Debug("Accepted price",
		"symbol", symbol, "price", agg.Price.String(), "method", method,
		"score", agg.Verdict.Score, "state", string(state))

	return agg, nil
}

// finalize assembles the AggregatedPrice from the fetch cycle's results.
func (m *Manager) finalize(symbol string, cfg config.FeedConfig, method string, chosen sources.PriceSample, partials map[string]sources.PriceSample, round *validate.Round, warnings []string) *AggregatedPrice {
	now := m.now()

	var contributing []sources.PriceSample
	if method == MethodWeighted {
		for _, s := range partials {
			contributing = append(contributing, s)
		}
		sort.Slice(contributing, func(i, j int) bool {
			return contributing[i].Source < contributing[j].Source
		})
	} else {
		contributing = []sources.PriceSample{chosen}
	}

	weighted := make([]WeightedSample, 0, len(contributing))
	minStaleness := time.Duration(1<<62 - 1)
	latest := contributing[0].Timestamp
	for _, s := range contributing {
		v := confidence.Analyze(s, cfg, now)
		st := s.Staleness(now)
		weighted = append(weighted, WeightedSample{
			Sample: s,
			Weight: weightFor(v.Score, st),
			Score:  v.Score,
		})
		if st < minStaleness {
			minStaleness = st
		}
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}

	agg := &AggregatedPrice{
		Symbol:    symbol,
		Samples:   weighted,
		Method:    method,
		Staleness: minStaleness,
		FetchedAt: now,
	}

	if method == MethodWeighted {
		agg.Price, agg.ConfWidth = weightedMean(weighted)
		// The verdict scores the consensus as a synthetic sample captured at
		// the newest contributor's timestamp.
		agg.Verdict = confidence.Analyze(sources.PriceSample{
			Symbol:    symbol,
			Price:     agg.Price,
			ConfWidth: agg.ConfWidth,
			Timestamp: latest,
			Source:    MethodWeighted,
			Status:    sources.TradingStatusUnknown,
		}, cfg, now)
	} else {
		agg.Price = chosen.Price
		agg.ConfWidth = chosen.ConfWidth
		agg.Verdict = confidence.Analyze(chosen, cfg, now)
	}

	if round != nil {
		agg.CrossValidated = true
		agg.MaxDeviationPct = round.MaxDeviationPct
	}

	if agg.Verdict.HasFlag(confidence.FlagStaleData) {
		warnings = append(warnings, WarnStaleData)
	}
	if agg.Verdict.HasFlag(confidence.FlagNonTradingStatus) {
		warnings = append(warnings, WarnNonTradingStatus)
	}
	agg.Warnings = warnings

	return agg
}

// recordHistory appends the accepted value to the symbol's series.
func (m *Manager) recordHistory(symbol, method string, agg *AggregatedPrice, now time.Time) {
	source := method
	if method != MethodWeighted && len(agg.Samples) > 0 {
		source = agg.Samples[0].Sample.Source
	}

	err := m.tracker.Append(symbol, history.Point{
		Timestamp:  now,
		Price:      agg.Price,
		Confidence: agg.ConfWidth,
		Source:     source,
		Staleness:  agg.Staleness,
		Score:      agg.Verdict.Score,
	})
	if err != nil {
		// Two accepted prices inside the same clock tick; drop the duplicate.
		m.logger.Debug("History append skipped", "symbol", symbol, "error", err.Error())
	}
}

// fetchWithRetry attempts a single source up to cfg.RetryAttempts times with
// linear-multiplied backoff (delay * attempt). NotConfigured is fatal and
// never retried.
func (m *Manager) fetchWithRetry(ctx context.Context, cfg config.FeedConfig, sourceName, symbol string) (sources.PriceSample, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.RetryAttempts; attempt++ {
		sample, err := m.fetchOnce(ctx, cfg, sourceName, symbol)
		if err == nil {
			return sample, nil
		}
		if errors.Is(err, sources.ErrNotConfigured) {
			return sources.PriceSample{}, err
		}
		lastErr = err

		if attempt < cfg.RetryAttempts {
			delay := cfg.RetryBackoff * time.Duration(attempt)
			m.logger.Debug("Retrying source",
				"symbol", symbol, "source", sourceName, "attempt", attempt, "delay", delay.String())
			if serr := m.sleep(ctx, delay); serr != nil {
				return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrProviderTimeout, serr)
			}
		}
	}
	return sources.PriceSample{}, lastErr
}

// fetchOnce performs exactly one adapter call under the global concurrency
// bound and the per-call timeout.
func (m *Manager) fetchOnce(ctx context.Context, cfg config.FeedConfig, sourceName, symbol string) (sources.PriceSample, error) {
	m.srcMu.RLock()
	src, ok := m.srcs[sourceName]
	m.srcMu.RUnlock()
	if !ok {
		return sources.PriceSample{}, fmt.Errorf("%w: source %s", sources.ErrNotConfigured, sourceName)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return sources.PriceSample{}, fmt.Errorf("%w: %v", sources.ErrProviderTimeout, err)
	}
	defer m.sem.Release(1)

	cctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	sample, err := src.Fetch(cctx, symbol)
	dur := time.Since(start)

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s %s", sources.ErrProviderTimeout, sourceName, symbol)
			status = "timeout"
		}
		metrics.RecordFetch(sourceName, symbol, status, dur)
		return sources.PriceSample{}, err
	}

	metrics.RecordFetch(sourceName, symbol, "ok", dur)
	return sample, nil
}

// fetchSecondaries fetches the fallback sources concurrently, best-effort,
// one attempt each. Used for cross-validation and as aggregation input.
func (m *Manager) fetchSecondaries(ctx context.Context, cfg config.FeedConfig, symbol string) []sources.PriceSample {
	var (
		mu  sync.Mutex
		out []sources.PriceSample
	)

	g := new(errgroup.Group)
	for _, name := range cfg.FallbackSources {
		name := name
		g.Go(func() error {
			sample, err := m.fetchOnce(ctx, cfg, name, symbol)
			if err != nil {
				m.logger.Debug("Secondary fetch failed",
					"symbol", symbol, "source", name, "error", err.Error())
				return nil
			}
			mu.Lock()
			out = append(out, sample)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Subscribe registers a channel receiving every accepted price. Slow
// subscribers miss updates rather than blocking the fetch path.
func (m *Manager) Subscribe(ch chan<- *AggregatedPrice) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, ch)
}

func (m *Manager) notify(agg *AggregatedPrice) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- agg:
		default:
			m.logger.Warn("Subscriber channel full, skipping update", "symbol", agg.Symbol)
		}
	}
}
