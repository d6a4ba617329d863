// Package quality combines confidence, staleness, consistency and reliability
// signals into one 0-100 score with an actionable recommendation. Reports are
// advisory output only: regenerated on demand, cached briefly, never
// persisted.
package quality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/logging"
	"github.com/rz1989s/saros-price-oracle/pkg/server/confidence"
	"github.com/rz1989s/saros-price-oracle/pkg/server/feed"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// Category weights. Must sum to 1.
const (
	weightConfidence  = 0.40
	weightStaleness   = 0.25
	weightConsistency = 0.20
	weightReliability = 0.15
)

// StabilityBucket classifies short-window volatility.
type StabilityBucket string

const (
	StabilityStable   StabilityBucket = "stable"
	StabilityModerate StabilityBucket = "moderate"
	StabilityVolatile StabilityBucket = "volatile"
	StabilityExtreme  StabilityBucket = "extreme"
)

// SubReport is one scored category.
type SubReport struct {
	Score  float64 `json:"score"`
	Detail string  `json:"detail"`
}

// Report is the full quality verdict for a symbol.
type Report struct {
	Symbol         string                    `json:"symbol"`
	Overall        float64                   `json:"overall"`
	Confidence     SubReport                 `json:"confidence"`
	Staleness      SubReport                 `json:"staleness"`
	Consistency    SubReport                 `json:"consistency"`
	Reliability    SubReport                 `json:"reliability"`
	Stability      StabilityBucket           `json:"stability"`
	Recommendation confidence.Recommendation `json:"recommendation"`
	Warnings       []string                  `json:"warnings,omitempty"`
	Actions        []string                  `json:"actions,omitempty"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// Generator produces quality reports from the feed manager and history
// tracker. Reports are cached with a short TTL.
type Generator struct {
	manager *feed.Manager
	tracker *history.Tracker
	logger  *logging.Logger
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedReport
}

type cachedReport struct {
	report Report
	at     time.Time
}

// NewGenerator creates a report generator with the given cache TTL.
func NewGenerator(manager *feed.Manager, tracker *history.Tracker, ttl time.Duration, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Generator{
		manager: manager,
		tracker: tracker,
		logger:  logger,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]cachedReport),
	}
}

// Generate returns the quality report for a symbol, serving from the
// short-TTL cache when possible.
func (g *Generator) Generate(ctx context.Context, symbol string) (Report, error) {
	g.mu.Lock()
	if c, ok := g.cache[symbol]; ok && g.now().Sub(c.at) < g.ttl {
		g.mu.Unlock()
		return c.report, nil
	}
	g.mu.Unlock()

	agg, err := g.manager.GetPrice(ctx, symbol, false)
	if err != nil {
		return Report{}, err
	}
	cfg, ok := g.manager.FeedConfig(symbol)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", sources.ErrNotConfigured, symbol)
	}

	report := g.build(symbol, agg, cfg)

	g.mu.Lock()
	g.cache[symbol] = cachedReport{report: report, at: g.now()}
	g.mu.Unlock()

	return report, nil
}

func (g *Generator) build(symbol string, agg *feed.AggregatedPrice, cfg config.FeedConfig) Report {
	now := g.now()
	verdict := agg.Verdict

	confSub := SubReport{
		Score:  verdict.Score,
		Detail: fmt.Sprintf("level %s, width %.3f%%", verdict.Level, verdict.ConfidencePercent),
	}

	staleSub := SubReport{
		Score:  stalenessScore(verdict.Bucket),
		Detail: fmt.Sprintf("%s (%s old)", verdict.Bucket, verdict.Staleness.Round(time.Second)),
	}

	consSub, stability := g.consistency(symbol, agg, cfg.DeviationThresholdPct)

	successRate := g.tracker.Outcomes(symbol).SuccessRate()
	relSub := SubReport{
		Score:  successRate * 100,
		Detail: fmt.Sprintf("%.0f%% of recent fetches succeeded", successRate*100),
	}

	overall := confSub.Score*weightConfidence +
		staleSub.Score*weightStaleness +
		consSub.Score*weightConsistency +
		relSub.Score*weightReliability

	report := Report{
		Symbol:         symbol,
		Overall:        overall,
		Confidence:     confSub,
		Staleness:      staleSub,
		Consistency:    consSub,
		Reliability:    relSub,
		Stability:      stability,
		Recommendation: recommend(overall, verdict.Bucket, cfg.MinQualityScore),
		Warnings:       append([]string(nil), agg.Warnings...),
		GeneratedAt:    now,
	}
	report.Actions = actions(report, verdict)
	return report
}

// consistency scores deviation from the tracked EMA reference plus
// short-window volatility.
func (g *Generator) consistency(symbol string, agg *feed.AggregatedPrice, deviationThresholdPct float64) (SubReport, StabilityBucket) {
	series := g.tracker.Series(symbol)
	values := make([]float64, 0, series.Len())
	for _, p := range series.All() {
		v, _ := p.Price.Float64()
		values = append(values, v)
	}

	// Too little history to judge: neutral score, assumed stable.
	if len(values) < 5 {
		return SubReport{Score: 75, Detail: "insufficient history"}, StabilityStable
	}

	ref, err := history.EMA(values, min(len(values), 20))
	if err != nil {
		return SubReport{Score: 75, Detail: "insufficient history"}, StabilityStable
	}

	price, _ := agg.Price.Float64()
	devPct := 0.0
	if ref != 0 {
		devPct = abs(price-ref) / ref * 100
	}

	vol, err := history.Volatility(values, 10)
	if err != nil {
		vol = 0
	}

	stability := StabilityStable
	switch {
	case vol > 0.05:
		stability = StabilityExtreme
	case vol > 0.02:
		stability = StabilityVolatile
	case vol > 0.005:
		stability = StabilityModerate
	}

	// Full marks at zero deviation, zero at twice the feed's threshold.
	score := 100 * (1 - devPct/(2*deviationThresholdPct))
	if score < 0 {
		score = 0
	}
	switch stability {
	case StabilityModerate:
		score *= 0.9
	case StabilityVolatile:
		score *= 0.7
	case StabilityExtreme:
		score *= 0.5
	}

	detail := fmt.Sprintf("%.2f%% from EMA reference, %s", devPct, stability)
	return SubReport{Score: score, Detail: detail}, stability
}

func stalenessScore(bucket confidence.StalenessBucket) float64 {
	switch bucket {
	case confidence.BucketFresh:
		return 100
	case confidence.BucketAcceptable:
		return 80
	case confidence.BucketStale:
		return 50
	default:
		return 10
	}
}

// recommend maps the blended score and staleness bucket to the four-way
// recommendation. The feed's quality floor rejects anything beneath it, same
// as the per-sample recommendation.
func recommend(overall float64, bucket confidence.StalenessBucket, minScore float64) confidence.Recommendation {
	if bucket == confidence.BucketExpired || overall < minScore {
		return confidence.RecommendReject
	}
	switch {
	case overall >= 80 && bucket != confidence.BucketStale:
		return confidence.RecommendUse
	case overall >= 60:
		return confidence.RecommendWithCaution
	case overall >= 40:
		return confidence.RecommendFallback
	default:
		return confidence.RecommendReject
	}
}

func actions(r Report, verdict confidence.Verdict) []string {
	var out []string
	if verdict.HasFlag(confidence.FlagStaleData) {
		out = append(out, "check provider update cadence; sample exceeds the staleness budget")
	}
	if verdict.HasFlag(confidence.FlagHighUncertainty) {
		out = append(out, "confidence interval is wide; consider cross-validating against another source")
	}
	if verdict.HasFlag(confidence.FlagNonTradingStatus) {
		out = append(out, "provider reports non-trading status; treat the price as indicative only")
	}
	if r.Reliability.Score < 80 {
		out = append(out, "recent fetch failures; verify provider availability and fallback ordering")
	}
	if r.Stability == StabilityVolatile || r.Stability == StabilityExtreme {
		out = append(out, "short-window volatility is elevated; widen the deviation threshold or aggregate more sources")
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
