package sources

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SourceType represents the type of price source
type SourceType string

const (
	SourceTypeOracle SourceType = "oracle"
	SourceTypeEVM    SourceType = "evm"
	SourceTypeCEX    SourceType = "cex"
	SourceTypeSim    SourceType = "sim"
)

// TradingStatus is the provider-reported trading state for a symbol.
// Providers that do not expose one report TradingStatusUnknown.
type TradingStatus string

const (
	TradingStatusActive  TradingStatus = "active"
	TradingStatusHalted  TradingStatus = "halted"
	TradingStatusAuction TradingStatus = "auction"
	TradingStatusUnknown TradingStatus = "unknown"
)

// PriceSample is one normalized price observation from a single source.
// Immutable once created.
type PriceSample struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	ConfWidth decimal.Decimal `json:"conf_width"` // absolute uncertainty band, same unit as price
	Timestamp time.Time       `json:"timestamp"`  // capture time at the provider
	Source    string          `json:"source"`
	Status    TradingStatus   `json:"status"`
}

// Staleness returns the elapsed time since the sample was captured.
func (p PriceSample) Staleness(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}

// ConfidencePercent returns the confidence width relative to the price, in percent.
// Returns 100 for a zero price so a degenerate sample scores as untrustworthy.
func (p PriceSample) ConfidencePercent() float64 {
	if p.Price.IsZero() {
		return 100
	}
	pct, _ := p.ConfWidth.Div(p.Price).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Source defines the interface that all price source adapters must implement.
// Adapters normalize provider-specific formats into a PriceSample and never
// retry internally; retry and fallback policy live in the feed manager.
type Source interface {
	// Name returns the unique name of this source
	Name() string

	// Type returns the type of this source
	Type() SourceType

	// Symbols returns the list of symbols this source provides
	Symbols() []string

	// Fetch returns a normalized sample for the symbol, or an error.
	// The context carries the per-call timeout.
	Fetch(ctx context.Context, symbol string) (PriceSample, error)
}

// SourceFactory is a function that creates a new Source instance
type SourceFactory func(config map[string]interface{}) (Source, error)
