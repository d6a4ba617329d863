package sources

import (
	"strings"

	"github.com/rz1989s/saros-price-oracle/pkg/logging"
)

// BaseSource provides common functionality for all price source adapters:
// identity, pair mapping between unified symbols and provider-specific ids,
// and logging. Fetch itself is per-adapter.
type BaseSource struct {
	name       string
	sourcetype SourceType
	symbols    []string
	pairs      map[string]string // unified symbol -> source-specific id
	logger     *logging.Logger
}

// NewBaseSource creates a new base source with pair mappings.
// pairs: map of unified symbol (e.g., "SOL/USD") -> source-specific id
// (e.g., a Pyth feed id or a Binance ticker symbol).
func NewBaseSource(name string, sourcetype SourceType, pairs map[string]string, logger *logging.Logger) *BaseSource {
	symbols := make([]string, 0, len(pairs))
	for unifiedSymbol := range pairs {
		symbols = append(symbols, unifiedSymbol)
	}

	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	return &BaseSource{
		name:       name,
		sourcetype: sourcetype,
		symbols:    symbols,
		pairs:      pairs,
		logger:     logger,
	}
}

// Name returns the source name
func (b *BaseSource) Name() string {
	return b.name
}

// Type returns the source type
func (b *BaseSource) Type() SourceType {
	return b.sourcetype
}

// Symbols returns the symbols this source provides
func (b *BaseSource) Symbols() []string {
	return b.symbols
}

// Logger returns the logger
func (b *BaseSource) Logger() *logging.Logger {
	return b.logger
}

// SourceSymbol converts a unified symbol to the source-specific id.
// The second return is false when the symbol is not configured for this source.
func (b *BaseSource) SourceSymbol(unifiedSymbol string) (string, bool) {
	id, ok := b.pairs[unifiedSymbol]
	return id, ok
}

// UnifiedSymbol finds the unified symbol for a source-specific id.
// Returns empty string if not found.
func (b *BaseSource) UnifiedSymbol(sourceSymbol string) string {
	for unified, source := range b.pairs {
		if source == sourceSymbol {
			return unified
		}
	}
	return ""
}

// AllPairs returns a copy of the pair mappings
func (b *BaseSource) AllPairs() map[string]string {
	pairs := make(map[string]string, len(b.pairs))
	for k, v := range b.pairs {
		pairs[k] = v
	}
	return pairs
}

// ValidateSymbolFormat checks that a symbol is in BASE/QUOTE form.
func ValidateSymbolFormat(symbol string) error {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ErrInvalidSymbolFormat
	}
	return nil
}
