// Package confidence scores a single price sample for trustworthiness,
// independent of any other source.
package confidence

import (
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// Level is the coarse trust level assigned to a sample.
type Level string

const (
	LevelVeryHigh Level = "very_high"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelVeryLow  Level = "very_low"
)

// Flag marks a quality concern on a sample.
type Flag string

const (
	FlagStaleData        Flag = "STALE_DATA"
	FlagHighUncertainty  Flag = "HIGH_UNCERTAINTY"
	FlagNonTradingStatus Flag = "NON_TRADING_STATUS"
)

// Recommendation is the per-sample usage advice.
type Recommendation string

const (
	RecommendUse         Recommendation = "use"
	RecommendWithCaution Recommendation = "use_with_caution"
	RecommendFallback    Recommendation = "fallback"
	RecommendReject      Recommendation = "reject"
)

// StalenessBucket classifies sample age against the feed's staleness budget.
type StalenessBucket string

const (
	BucketFresh      StalenessBucket = "fresh"      // < 10s
	BucketAcceptable StalenessBucket = "acceptable" // < max staleness
	BucketStale      StalenessBucket = "stale"      // < 2x max staleness
	BucketExpired    StalenessBucket = "expired"    // >= 2x max staleness
)

// Verdict is the scored result for one sample. Pure function of
// (PriceSample, FeedConfig, now); holds no references to shared state.
type Verdict struct {
	Level             Level           `json:"level"`
	Score             float64         `json:"score"` // 0-100
	ConfidencePercent float64         `json:"confidence_percent"`
	Staleness         time.Duration   `json:"staleness"`
	Bucket            StalenessBucket `json:"staleness_bucket"`
	Flags             []Flag          `json:"flags,omitempty"`
	Recommendation    Recommendation  `json:"recommendation"`
}

// HasFlag reports whether the verdict carries the given flag.
func (v Verdict) HasFlag(f Flag) bool {
	for _, have := range v.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Base scores per level.
const (
	scoreVeryHigh = 95
	scoreHigh     = 85
	scoreMedium   = 70
	scoreLow      = 50
	scoreVeryLow  = 25
)

const freshWindow = 10 * time.Second

// Analyze scores a single sample against its feed configuration.
func Analyze(sample sources.PriceSample, cfg config.FeedConfig, now time.Time) Verdict {
	confPct := sample.ConfidencePercent()
	staleness := sample.Staleness(now)
	bucket := classifyStaleness(staleness, cfg.MaxStaleness)

	level := assignLevel(confPct, staleness, bucket)
	score := baseScore(level)

	// Staleness decays the score multiplicatively; a tight interval does not
	// rescue a price nobody has updated in two minutes.
	switch {
	case staleness > 120*time.Second:
		score *= 0.6
	case staleness > 60*time.Second:
		score *= 0.8
	case staleness > 30*time.Second:
		score *= 0.9
	}

	if cfg.IsHighTrust(sample.Source) {
		score *= 1.1
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	var flags []Flag
	if staleness >= cfg.MaxStaleness {
		flags = append(flags, FlagStaleData)
	}
	if confPct >= 1.0 {
		flags = append(flags, FlagHighUncertainty)
	}
	if sample.Status != sources.TradingStatusActive && sample.Status != sources.TradingStatusUnknown {
		flags = append(flags, FlagNonTradingStatus)
	}

	return Verdict{
		Level:             level,
		Score:             score,
		ConfidencePercent: confPct,
		Staleness:         staleness,
		Bucket:            bucket,
		Flags:             flags,
		Recommendation:    recommend(score, bucket, cfg.MinQualityScore),
	}
}

func classifyStaleness(staleness, maxStaleness time.Duration) StalenessBucket {
	switch {
	case staleness < freshWindow:
		return BucketFresh
	case staleness < maxStaleness:
		return BucketAcceptable
	case staleness < 2*maxStaleness:
		return BucketStale
	default:
		return BucketExpired
	}
}

// assignLevel maps joint (confidence width, staleness) thresholds to a level.
func assignLevel(confPct float64, staleness time.Duration, bucket StalenessBucket) Level {
	switch {
	case confPct < 0.1 && staleness < freshWindow:
		return LevelVeryHigh
	case confPct < 0.5 && (bucket == BucketFresh || bucket == BucketAcceptable):
		return LevelHigh
	case confPct < 1.0 && bucket != BucketExpired:
		return LevelMedium
	case confPct < 2.0:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

func baseScore(level Level) float64 {
	switch level {
	case LevelVeryHigh:
		return scoreVeryHigh
	case LevelHigh:
		return scoreHigh
	case LevelMedium:
		return scoreMedium
	case LevelLow:
		return scoreLow
	default:
		return scoreVeryLow
	}
}

// recommend derives usage advice from the score and the staleness bucket.
// An expired sample is rejected outright, as is any score under the feed's
// configured quality floor.
func recommend(score float64, bucket StalenessBucket, minScore float64) Recommendation {
	if bucket == BucketExpired || score < minScore {
		return RecommendReject
	}
	switch {
	case score >= 80 && bucket != BucketStale:
		return RecommendUse
	case score >= 60:
		return RecommendWithCaution
	case score >= 40:
		return RecommendFallback
	default:
		return RecommendReject
	}
}
