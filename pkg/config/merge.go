package config

// Feed configuration merging. Overrides are applied field by field so that a
// partially specified symbol entry never silently clears a default.

// BuildFeedConfigs merges defaults with per-symbol overrides into the final
// immutable FeedConfig map the engine consumes.
func BuildFeedConfigs(cfg *Config) (map[string]FeedConfig, error) {
	feeds := make(map[string]FeedConfig, len(cfg.Feeds.Symbols))
	for symbol, override := range cfg.Feeds.Symbols {
		fc := MergeFeed(symbol, cfg.Feeds.Defaults, override)
		if err := ValidateFeed(fc); err != nil {
			return nil, err
		}
		feeds[symbol] = fc
	}
	return feeds, nil
}

// MergeFeed applies a symbol override on top of the shared defaults.
func MergeFeed(symbol string, d FeedDefaults, o FeedOverride) FeedConfig {
	fc := FeedConfig{
		Symbol:                symbol,
		PrimarySource:         o.PrimarySource,
		FallbackSources:       append([]string(nil), o.FallbackSources...),
		HighTrustSources:      append([]string(nil), o.HighTrustSources...),
		RefreshInterval:       d.RefreshInterval.ToDuration(),
		MaxStaleness:          d.MaxStaleness.ToDuration(),
		MinQualityScore:       d.MinQualityScore,
		DeviationThresholdPct: d.DeviationThresholdPct,
		RetryAttempts:         d.RetryAttempts,
		RetryBackoff:          d.RetryBackoff.ToDuration(),
		FetchTimeout:          d.FetchTimeout.ToDuration(),
		EnableCrossValidation: d.EnableCrossValidation,
		EnableAggregation:     d.EnableAggregation,
		RejectOnDeviation:     d.RejectOnDeviation,
	}

	if o.RefreshInterval != nil {
		fc.RefreshInterval = o.RefreshInterval.ToDuration()
	}
	if o.MaxStaleness != nil {
		fc.MaxStaleness = o.MaxStaleness.ToDuration()
	}
	if o.MinQualityScore != nil {
		fc.MinQualityScore = *o.MinQualityScore
	}
	if o.DeviationThresholdPct != nil {
		fc.DeviationThresholdPct = *o.DeviationThresholdPct
	}
	if o.RetryAttempts != nil {
		fc.RetryAttempts = *o.RetryAttempts
	}
	if o.RetryBackoff != nil {
		fc.RetryBackoff = o.RetryBackoff.ToDuration()
	}
	if o.FetchTimeout != nil {
		fc.FetchTimeout = o.FetchTimeout.ToDuration()
	}
	if o.EnableCrossValidation != nil {
		fc.EnableCrossValidation = *o.EnableCrossValidation
	}
	if o.EnableAggregation != nil {
		fc.EnableAggregation = *o.EnableAggregation
	}
	if o.RejectOnDeviation != nil {
		fc.RejectOnDeviation = *o.RejectOnDeviation
	}

	return fc
}
