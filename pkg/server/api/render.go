package api

import (
	"time"

	"github.com/rz1989s/saros-price-oracle/pkg/config"
	"github.com/rz1989s/saros-price-oracle/pkg/server/feed"
	"github.com/rz1989s/saros-price-oracle/pkg/server/history"
)

// Response shapes. Prices render as decimal strings so dashboard clients never
// see binary-float artifacts; durations render as seconds.

type samplePayload struct {
	Source    string  `json:"source"`
	Price     string  `json:"price"`
	ConfWidth string  `json:"conf_width"`
	Weight    float64 `json:"weight"`
	Score     float64 `json:"score"`
	AgeSec    float64 `json:"age_sec"`
}

type verdictPayload struct {
	Level             string   `json:"level"`
	Score             float64  `json:"score"`
	ConfidencePercent float64  `json:"confidence_percent"`
	StalenessSec      float64  `json:"staleness_sec"`
	Bucket            string   `json:"bucket"`
	Flags             []string `json:"flags,omitempty"`
	Recommendation    string   `json:"recommendation"`
}

type pricePayload struct {
	Symbol          string          `json:"symbol"`
	Price           string          `json:"price"`
	ConfWidth       string          `json:"conf_width"`
	Method          string          `json:"method"`
	StalenessSec    float64         `json:"staleness_sec"`
	CrossValidated  bool            `json:"cross_validated"`
	MaxDeviationPct float64         `json:"max_deviation_pct,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	Verdict         verdictPayload  `json:"verdict"`
	Samples         []samplePayload `json:"samples,omitempty"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

func priceResponse(agg *feed.AggregatedPrice) pricePayload {
	samples := make([]samplePayload, 0, len(agg.Samples))
	for _, ws := range agg.Samples {
		samples = append(samples, samplePayload{
			Source:    ws.Sample.Source,
			Price:     ws.Sample.Price.String(),
			ConfWidth: ws.Sample.ConfWidth.String(),
			Weight:    ws.Weight,
			Score:     ws.Score,
			AgeSec:    agg.FetchedAt.Sub(ws.Sample.Timestamp).Seconds(),
		})
	}

	flags := make([]string, 0, len(agg.Verdict.Flags))
	for _, f := range agg.Verdict.Flags {
		flags = append(flags, string(f))
	}

	return pricePayload{
		Symbol:          agg.Symbol,
		Price:           agg.Price.String(),
		ConfWidth:       agg.ConfWidth.String(),
		Method:          agg.Method,
		StalenessSec:    agg.Staleness.Seconds(),
		CrossValidated:  agg.CrossValidated,
		MaxDeviationPct: agg.MaxDeviationPct,
		Warnings:        agg.Warnings,
		Verdict: verdictPayload{
			Level:             string(agg.Verdict.Level),
			Score:             agg.Verdict.Score,
			ConfidencePercent: agg.Verdict.ConfidencePercent,
			StalenessSec:      agg.Verdict.Staleness.Seconds(),
			Bucket:            string(agg.Verdict.Bucket),
			Flags:             flags,
			Recommendation:    string(agg.Verdict.Recommendation),
		},
		Samples:   samples,
		FetchedAt: agg.FetchedAt,
	}
}

type historyPointPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Price     string    `json:"price"`
	ConfWidth string    `json:"conf_width"`
	Source    string    `json:"source"`
	Score     float64   `json:"score"`
}

type historyPayload struct {
	Symbol string                `json:"symbol"`
	Count  int                   `json:"count"`
	Points []historyPointPayload `json:"points"`
}

func historyResponse(symbol string, points []history.Point) historyPayload {
	out := make([]historyPointPayload, 0, len(points))
	for _, p := range points {
		out = append(out, historyPointPayload{
			Timestamp: p.Timestamp,
			Price:     p.Price.String(),
			ConfWidth: p.Confidence.String(),
			Source:    p.Source,
			Score:     p.Score,
		})
	}
	return historyPayload{Symbol: symbol, Count: len(out), Points: out}
}

type feedConfigPayload struct {
	Symbol                string   `json:"symbol"`
	PrimarySource         string   `json:"primary_source"`
	FallbackSources       []string `json:"fallback_sources,omitempty"`
	HighTrustSources      []string `json:"high_trust_sources,omitempty"`
	RefreshInterval       string   `json:"refresh_interval"`
	MaxStaleness          string   `json:"max_staleness"`
	MinQualityScore       float64  `json:"min_quality_score"`
	DeviationThresholdPct float64  `json:"deviation_threshold_pct"`
	RetryAttempts         int      `json:"retry_attempts"`
	RetryBackoff          string   `json:"retry_backoff"`
	FetchTimeout          string   `json:"fetch_timeout"`
	EnableCrossValidation bool     `json:"enable_cross_validation"`
	EnableAggregation     bool     `json:"enable_aggregation"`
	RejectOnDeviation     bool     `json:"reject_on_deviation"`
}

func feedConfigResponse(cfg config.FeedConfig) feedConfigPayload {
	return feedConfigPayload{
		Symbol:                cfg.Symbol,
		PrimarySource:         cfg.PrimarySource,
		FallbackSources:       cfg.FallbackSources,
		HighTrustSources:      cfg.HighTrustSources,
		RefreshInterval:       cfg.RefreshInterval.String(),
		MaxStaleness:          cfg.MaxStaleness.String(),
		MinQualityScore:       cfg.MinQualityScore,
		DeviationThresholdPct: cfg.DeviationThresholdPct,
		RetryAttempts:         cfg.RetryAttempts,
		RetryBackoff:          cfg.RetryBackoff.String(),
		FetchTimeout:          cfg.FetchTimeout.String(),
		EnableCrossValidation: cfg.EnableCrossValidation,
		EnableAggregation:     cfg.EnableAggregation,
		RejectOnDeviation:     cfg.RejectOnDeviation,
	}
}
