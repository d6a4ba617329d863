package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rz1989s/saros-price-oracle/pkg/metrics"
)

// Trust weighting for multi-source aggregation.
//
// weight(source) = max(0.1, confidenceScore/100 * stalenessPenalty)
//
// The floor keeps every partially succeeded source contributing a little, so
// the consensus degrades toward equal weighting when all sources are equally
// stale or uncertain, and the weighted mean stays bounded by the contributing
// min/max prices.

const minWeight = 0.1

// stalenessPenalty discounts a sample by its age.
func stalenessPenalty(staleness time.Duration) float64 {
	switch {
	case staleness < 60*time.Second:
		return 1.0
	case staleness < 120*time.Second:
		return 0.8
	case staleness < 300*time.Second:
		return 0.6
	default:
		return 0.3
	}
}

// weightFor computes the aggregation weight for one sample.
func weightFor(score float64, staleness time.Duration) float64 {
	w := score / 100 * stalenessPenalty(staleness)
	if w < minWeight {
		w = minWeight
	}
	return w
}

// weightedMean combines samples into a weighted price and confidence width.
// Caller guarantees at least one sample.
func weightedMean(samples []WeightedSample) (price, confWidth decimal.Decimal) {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(MethodWeighted, time.Since(start))
	}()

	priceSum := decimal.Zero
	confSum := decimal.Zero
	weightSum := decimal.Zero

	for _, ws := range samples {
		w := decimal.NewFromFloat(ws.Weight)
		priceSum = priceSum.Add(ws.Sample.Price.Mul(w))
		confSum = confSum.Add(ws.Sample.ConfWidth.Mul(w))
		weightSum = weightSum.Add(w)
	}

	return priceSum.Div(weightSum), confSum.Div(weightSum)
}
