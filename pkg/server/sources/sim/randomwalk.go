// Package sim provides a simulated price source for development and tests.
// It is never a production default; real deployments configure oracle, evm or
// cex adapters instead.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// RandomWalkSource produces a random walk around a configured anchor price per
// symbol. The walk is bounded so a long-running dev session stays near the
// anchor instead of drifting off.
type RandomWalkSource struct {
	*sources.BaseSource

	mu      sync.Mutex
	current map[string]decimal.Decimal
	anchors map[string]decimal.Decimal
	stepPct float64
	confPct float64
	status  sources.TradingStatus
	rng     *rand.Rand
	now     func() time.Time
}

// NewRandomWalkSource creates a simulated source.
// config["pairs"] maps unified symbols to anchor prices (decimal strings).
// config["step_pct"] bounds a single step (default 0.2%);
// config["conf_pct"] sets the reported confidence width (default 0.1%);
// config["status"] optionally forces a trading status for all symbols.
func NewRandomWalkSource(config map[string]interface{}) (sources.Source, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	anchors := make(map[string]decimal.Decimal, len(pairs))
	current := make(map[string]decimal.Decimal, len(pairs))
	for symbol, anchorStr := range pairs {
		anchor, err := decimal.NewFromString(anchorStr)
		if err != nil || !anchor.IsPositive() {
			return nil, fmt.Errorf("%w: anchor %q for %s", sources.ErrInvalidConfig, anchorStr, symbol)
		}
		anchors[symbol] = anchor
		current[symbol] = anchor
	}

	stepPct := 0.2
	if v, ok := config["step_pct"].(float64); ok && v > 0 {
		stepPct = v
	}
	confPct := 0.1
	if v, ok := config["conf_pct"].(float64); ok && v > 0 {
		confPct = v
	}

	status := sources.TradingStatusActive
	if v, ok := config["status"].(string); ok && v != "" {
		status = sources.TradingStatus(v)
	}

	logger := sources.GetLoggerFromConfig(config)
	base := sources.NewBaseSource("sim", sources.SourceTypeSim, pairs, logger)

	return &RandomWalkSource{
		BaseSource: base,
		current:    current,
		anchors:    anchors,
		stepPct:    stepPct,
		confPct:    confPct,
		status:     status,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
	}, nil
}

// Fetch advances the walk one step and returns the new sample.
func (s *RandomWalkSource) Fetch(_ context.Context, symbol string) (sources.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.current[symbol]
	if !ok {
		return sources.PriceSample{}, fmt.Errorf("%w: %s on sim", sources.ErrNotConfigured, symbol)
	}

	// Step in (-stepPct, +stepPct), pulled back toward the anchor when the walk
	// has drifted more than 5% away.
	step := (s.rng.Float64()*2 - 1) * s.stepPct / 100
	anchor := s.anchors[symbol]
	drift, _ := price.Sub(anchor).Div(anchor).Float64()
	if drift > 0.05 {
		step = -s.stepPct / 100
	} else if drift < -0.05 {
		step = s.stepPct / 100
	}

	next := price.Mul(decimal.NewFromFloat(1 + step))
	s.current[symbol] = next

	return sources.PriceSample{
		Symbol:    symbol,
		Price:     next,
		ConfWidth: next.Mul(decimal.NewFromFloat(s.confPct / 100)),
		Timestamp: s.now(),
		Source:    s.Name(),
		Status:    s.status,
	}, nil
}
