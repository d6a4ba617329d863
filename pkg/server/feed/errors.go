// Package feed orchestrates source adapters into a single trustworthy price
// per symbol: retries, fallback chains, weighted aggregation, caching and
// per-symbol health state.
package feed

import "errors"

var (
	// ErrAllSourcesFailed indicates every primary, fallback and aggregation
	// attempt was exhausted. Surfaced to the caller as a hard failure.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrNoCachedPrice indicates no previously accepted value exists.
	ErrNoCachedPrice = errors.New("no cached price")
	// ErrDeviationRejected indicates cross-validation breach with the
	// reject-on-deviation policy enabled for the feed.
	ErrDeviationRejected = errors.New("price rejected by cross-validation policy")
)
