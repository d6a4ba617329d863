// Package config provides configuration loading and validation for the
// price-oracle engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	// Read config file
	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in YAML
	expanded := os.ExpandEnv(string(data))

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.MaxConcurrentFetches == 0 {
		cfg.Server.MaxConcurrentFetches = 8
	}

	// Feed defaults
	d := &cfg.Feeds.Defaults
	if d.RefreshInterval.ToDuration() == 0 {
		d.RefreshInterval = Duration(30 * time.Second)
	}
	if d.MaxStaleness.ToDuration() == 0 {
		d.MaxStaleness = Duration(60 * time.Second)
	}
	if d.MinQualityScore == 0 {
		d.MinQualityScore = 50
	}
	if d.DeviationThresholdPct == 0 {
		d.DeviationThresholdPct = 2.0
	}
	if d.RetryAttempts == 0 {
		d.RetryAttempts = 3
	}
	if d.RetryBackoff.ToDuration() == 0 {
		d.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if d.FetchTimeout.ToDuration() == 0 {
		d.FetchTimeout = Duration(5 * time.Second)
	}

	// History defaults
	if cfg.History.Retention.ToDuration() == 0 {
		cfg.History.Retention = Duration(24 * time.Hour)
	}
	if cfg.History.MaxDataPoints == 0 {
		cfg.History.MaxDataPoints = 1000
	}
	if cfg.History.CompressionThreshold == 0 {
		cfg.History.CompressionThreshold = 500
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// GetString retrieves a string value from the source configuration.
func (sc *SourceConfig) GetString(key, defaultValue string) string {
	if val, ok := sc.Config[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a string slice from source config.
func (sc *SourceConfig) GetStringSlice(key string) []string {
	if val, ok := sc.Config[key]; ok {
		if slice, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(slice))
			for _, item := range slice {
				if str, ok := item.(string); ok {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return nil
}

// GetInt retrieves an integer from source config.
func (sc *SourceConfig) GetInt(key string, defaultValue int) int {
	if val, ok := sc.Config[key]; ok {
		switch i := val.(type) {
		case int:
			return i
		case float64:
			return int(i)
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration string from source config.
func (sc *SourceConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if val, ok := sc.Config[key]; ok {
		if s, ok := val.(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				return d
			}
		}
	}
	return defaultValue
}
