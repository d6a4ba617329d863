package config

import "errors"

var (
	// ErrNoSourcesConfigured indicates that no price sources are configured.
	ErrNoSourcesConfigured = errors.New("no sources configured")
	// ErrNoFeedsConfigured indicates that no symbol feeds are configured.
	ErrNoFeedsConfigured = errors.New("no feeds configured")
	// ErrNoPrimarySource indicates a feed without a primary source.
	ErrNoPrimarySource = errors.New("feed has no primary source")
	// ErrRefreshExceedsStaleness indicates refresh interval > max staleness.
	ErrRefreshExceedsStaleness = errors.New("refresh interval exceeds max staleness")
	// ErrInvalidRetryAttempts indicates a non-positive retry attempt count.
	ErrInvalidRetryAttempts = errors.New("retry attempts must be at least 1")
	// ErrInvalidDeviationThreshold indicates a non-positive deviation threshold.
	ErrInvalidDeviationThreshold = errors.New("deviation threshold must be positive")
	// ErrInvalidSymbolFormat indicates that the symbol format is invalid.
	ErrInvalidSymbolFormat = errors.New("symbol must be in BASE/QUOTE format")
	// ErrDuplicateSource indicates two sources share the same name.
	ErrDuplicateSource = errors.New("duplicate source name")
)
