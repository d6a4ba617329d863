// Package validate compares samples from independent sources for the same
// symbol and flags threshold breaches. It never rejects a price itself; that
// policy decision belongs to the feed manager.
package validate

import (
	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/metrics"
	"github.com/rz1989s/saros-price-oracle/pkg/server/sources"
)

// Result is the comparison of one secondary sample against the primary.
type Result struct {
	Symbol          string          `json:"symbol"`
	PrimarySource   string          `json:"primary_source"`
	SecondarySource string          `json:"secondary_source"`
	PrimaryPrice    decimal.Decimal `json:"primary_price"`
	SecondaryPrice  decimal.Decimal `json:"secondary_price"`
	DeviationPct    float64         `json:"deviation_pct"`
	WithinThreshold bool            `json:"within_threshold"`
}

// Round is the full validation result for one fetch cycle.
type Round struct {
	Results         []Result `json:"results"`
	MaxDeviationPct float64  `json:"max_deviation_pct"`
	AnyBreach       bool     `json:"any_breach"`
}

// Deviation returns |a-b| / a * 100, the percentage deviation of b from a.
// Returns 100 when a is zero so degenerate input reads as a full breach.
func Deviation(a, b decimal.Decimal) float64 {
	if a.IsZero() {
		return 100
	}
	pct, _ := a.Sub(b).Abs().Div(a).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Run compares each secondary sample against the primary.
// Tie-break: a deviation exactly equal to the threshold counts as within
// threshold (<= is within).
func Run(primary sources.PriceSample, secondaries []sources.PriceSample, thresholdPct float64) Round {
	round := Round{
		Results: make([]Result, 0, len(secondaries)),
	}

	for _, sec := range secondaries {
		dev := Deviation(primary.Price, sec.Price)
		within := dev <= thresholdPct

		round.Results = append(round.Results, Result{
			Symbol:          primary.Symbol,
			PrimarySource:   primary.Source,
			SecondarySource: sec.Source,
			PrimaryPrice:    primary.Price,
			SecondaryPrice:  sec.Price,
			DeviationPct:    dev,
			WithinThreshold: within,
		})

		if dev > round.MaxDeviationPct {
			round.MaxDeviationPct = dev
		}
		if !within {
			round.AnyBreach = true
		}

		metrics.RecordDeviation(primary.Symbol, dev, !within)
	}

	return round
}
