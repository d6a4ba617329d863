package config

import (
	"fmt"
	"strings"
)

// Validate checks the full configuration for consistency.
func Validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return ErrNoSourcesConfigured
	}
	if len(cfg.Feeds.Symbols) == 0 {
		return ErrNoFeedsConfigured
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if seen[sc.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, sc.Name)
		}
		seen[sc.Name] = true
	}

	for symbol, override := range cfg.Feeds.Symbols {
		fc := MergeFeed(symbol, cfg.Feeds.Defaults, override)
		if err := ValidateFeed(fc); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFeed checks a single merged feed configuration.
func ValidateFeed(fc FeedConfig) error {
	if err := ValidateSymbolFormat(fc.Symbol); err != nil {
		return err
	}
	if fc.PrimarySource == "" {
		return fmt.Errorf("%w: %s", ErrNoPrimarySource, fc.Symbol)
	}
	// A feed that refreshes slower than it tolerates staleness can never be fresh.
	if fc.RefreshInterval > fc.MaxStaleness {
		return fmt.Errorf("%w: %s (%s > %s)", ErrRefreshExceedsStaleness,
			fc.Symbol, fc.RefreshInterval, fc.MaxStaleness)
	}
	if fc.RetryAttempts < 1 {
		return fmt.Errorf("%w: %s", ErrInvalidRetryAttempts, fc.Symbol)
	}
	if fc.DeviationThresholdPct <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDeviationThreshold, fc.Symbol)
	}
	return nil
}

// ValidateSymbolFormat checks that a symbol is in BASE/QUOTE form.
func ValidateSymbolFormat(symbol string) error {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return fmt.Errorf("%w: %s", ErrInvalidSymbolFormat, symbol)
	}
	if parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %s", ErrInvalidSymbolFormat, symbol)
	}
	return nil
}
