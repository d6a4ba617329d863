// Package sources provides price source interfaces and implementations.
package sources

import "errors"

var (
	// ErrNotConfigured indicates that the symbol is unknown to the source or
	// feed. Fatal for the request, never retried.
	ErrNotConfigured = errors.New("symbol not configured")
	// ErrProviderError indicates a transient provider failure. Retried with backoff.
	ErrProviderError = errors.New("provider error")
	// ErrProviderTimeout indicates a timed-out provider call. Treated like a
	// provider error for retry and fallback purposes.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrNoPairsConfigured indicates that no valid pairs are configured.
	ErrNoPairsConfigured = errors.New("no valid pairs configured")
	// ErrInvalidSymbolFormat indicates that the symbol format is invalid.
	ErrInvalidSymbolFormat = errors.New("symbol must be in BASE/QUOTE format")
	// ErrUnknownSource indicates a source name with no registered factory.
	ErrUnknownSource = errors.New("unknown source")
	// ErrNonPositivePrice indicates the provider returned a zero or negative price.
	ErrNonPositivePrice = errors.New("non-positive price")
)
