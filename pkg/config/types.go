package config

import "time"

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Sources []SourceConfig `yaml:"sources"`
	Feeds   FeedsConfig    `yaml:"feeds"`
	History HistoryConfig  `yaml:"history"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the API server component
type ServerConfig struct {
	HTTP                 HTTPConfig `yaml:"http"`
	WebSocket            WSConfig   `yaml:"websocket"`
	MaxConcurrentFetches int64      `yaml:"max_concurrent_fetches"`
}

// HTTPConfig configures the HTTP server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// WSConfig configures the WebSocket streaming server
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SourceConfig configures a price source adapter
type SourceConfig struct {
	Type    string                 `yaml:"type"`
	Name    string                 `yaml:"name"`
	Enabled bool                   `yaml:"enabled"`
	Config  map[string]interface{} `yaml:"config"`
}

// FeedsConfig holds per-symbol feed configuration: shared defaults plus
// explicit per-symbol overrides.
type FeedsConfig struct {
	Defaults FeedDefaults            `yaml:"defaults"`
	Symbols  map[string]FeedOverride `yaml:"symbols"`
}

// FeedDefaults are the default feed parameters applied to every symbol.
type FeedDefaults struct {
	RefreshInterval       Duration `yaml:"refresh_interval"`
	MaxStaleness          Duration `yaml:"max_staleness"`
	MinQualityScore       float64  `yaml:"min_quality_score"`
	DeviationThresholdPct float64  `yaml:"deviation_threshold_pct"`
	RetryAttempts         int      `yaml:"retry_attempts"`
	RetryBackoff          Duration `yaml:"retry_backoff"`
	FetchTimeout          Duration `yaml:"fetch_timeout"`
	EnableCrossValidation bool     `yaml:"enable_cross_validation"`
	EnableAggregation     bool     `yaml:"enable_aggregation"`
	RejectOnDeviation     bool     `yaml:"reject_on_deviation"`
}

// FeedOverride carries per-symbol overrides. Pointer fields distinguish
// "not set" from zero values so merging stays explicit.
type FeedOverride struct {
	PrimarySource         string    `yaml:"primary_source"`
	FallbackSources       []string  `yaml:"fallback_sources"`
	HighTrustSources      []string  `yaml:"high_trust_sources"`
	RefreshInterval       *Duration `yaml:"refresh_interval"`
	MaxStaleness          *Duration `yaml:"max_staleness"`
	MinQualityScore       *float64  `yaml:"min_quality_score"`
	DeviationThresholdPct *float64  `yaml:"deviation_threshold_pct"`
	RetryAttempts         *int      `yaml:"retry_attempts"`
	RetryBackoff          *Duration `yaml:"retry_backoff"`
	FetchTimeout          *Duration `yaml:"fetch_timeout"`
	EnableCrossValidation *bool     `yaml:"enable_cross_validation"`
	EnableAggregation     *bool     `yaml:"enable_aggregation"`
	RejectOnDeviation     *bool     `yaml:"reject_on_deviation"`
}

// FeedConfig is the fully merged per-symbol configuration the engine works
// with. Immutable after the merge; admin updates replace the whole value.
type FeedConfig struct {
	Symbol                string
	PrimarySource         string
	FallbackSources       []string
	HighTrustSources      []string
	RefreshInterval       time.Duration
	MaxStaleness          time.Duration
	MinQualityScore       float64
	DeviationThresholdPct float64
	RetryAttempts         int
	RetryBackoff          time.Duration
	FetchTimeout          time.Duration
	EnableCrossValidation bool
	EnableAggregation     bool
	RejectOnDeviation     bool
}

// IsHighTrust reports whether the given source is flagged high-trust for this feed.
func (c FeedConfig) IsHighTrust(source string) bool {
	for _, s := range c.HighTrustSources {
		if s == source {
			return true
		}
	}
	return false
}

// AllSources returns primary followed by fallbacks, in fetch order.
func (c FeedConfig) AllSources() []string {
	out := make([]string, 0, len(c.FallbackSources)+1)
	out = append(out, c.PrimarySource)
	out = append(out, c.FallbackSources...)
	return out
}

// HistoryConfig bounds the in-memory price history per symbol.
type HistoryConfig struct {
	Retention            Duration `yaml:"retention"`
	MaxDataPoints        int      `yaml:"max_data_points"`
	CompressionThreshold int      `yaml:"compression_threshold"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Duration is a wrapper around time.Duration for YAML parsing
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	td, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(td)
	return nil
}

// ToDuration converts Duration to time.Duration
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}
