package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/server/confidence"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// State is the per-symbol feed state.
type State string

const (
	StateUnknown  State = "unknown"
	StateFetching State = "fetching"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

// stateMetric maps a state to its gauge value.
func stateMetric(s State) float64 {
	switch s {
	case StateHealthy:
		return 1
	case StateDegraded:
		return 2
	case StateFailed:
		return 3
	default:
		return 0
	}
}

// Aggregation method tags.
const (
	MethodPrimary  = "primary"
	MethodFallback = "fallback"
	MethodWeighted = "weighted_aggregate"
)

// Warning strings attached to an AggregatedPrice. Non-fatal by definition;
// fatal conditions surface as errors instead.
const (
	WarnStaleData                = "stale_data"
	WarnCrossValidationDeviation = "cross_validation_deviation"
	WarnNonTradingStatus         = "non_trading_status"
)

// WeightedSample is a contributing sample with its computed weight.
type WeightedSample struct {
	Sample sources.PriceSample `json:"sample"`
	Weight float64             `json:"weight"`
	Score  float64             `json:"score"`
}

// AggregatedPrice is the engine's answer for one symbol: a single price with
// explicit trust metadata. Immutable once cached; cache hits hand out the same
// value.
type AggregatedPrice struct {
	Symbol          string             `json:"symbol"`
	Price           decimal.Decimal    `json:"price"`
	ConfWidth       decimal.Decimal    `json:"conf_width"`
	Samples         []WeightedSample   `json:"samples"`
	Method          string             `json:"method"`
	Staleness       time.Duration      `json:"staleness"` // min across contributing samples at fetch time
	CrossValidated  bool               `json:"cross_validated"`
	MaxDeviationPct float64            `json:"max_deviation_pct"`
	Warnings        []string           `json:"warnings,omitempty"`
	Verdict         confidence.Verdict `json:"verdict"`
	FetchedAt       time.Time          `json:"fetched_at"`
}

// Stats are the aggregate request counters exposed for monitoring.
type Stats struct {
	Requests       int64         `json:"requests"`
	CacheHits      int64         `json:"cache_hits"`
	CacheHitRate   float64       `json:"cache_hit_rate"`
	FetchCycles    int64         `json:"fetch_cycles"`
	AverageLatency time.Duration `json:"average_latency"`
}

// SystemHealth summarizes the state of every configured feed.
type SystemHealth struct {
	Overall        string   `json:"overall"` // healthy | degraded | critical
	PercentHealthy float64  `json:"percent_healthy"`
	Issues         []string `json:"issues,omitempty"`
}
