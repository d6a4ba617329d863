package history

import (
	"errors"
	"math"
)

// Derived analytics over a series. Everything here is computed on demand from
// the in-memory points and never stored.

// ErrNotEnoughData indicates a series too short for the requested statistic.
var ErrNotEnoughData = errors.New("not enough data points")

// TrendDirection labels the regression slope.
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// TrendStrength buckets the magnitude of the normalized slope.
type TrendStrength string

const (
	StrengthWeak       TrendStrength = "weak"
	StrengthModerate   TrendStrength = "moderate"
	StrengthStrong     TrendStrength = "strong"
	StrengthVeryStrong TrendStrength = "very_strong"
)

// Regression is the closed-form least-squares fit of price against index.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R2        float64 `json:"r2"`
}

// TrendAnalysis combines the regression with direction, strength and a
// one-step-ahead prediction.
type TrendAnalysis struct {
	Regression Regression     `json:"regression"`
	SlopePct   float64        `json:"slope_pct"` // slope normalized by the first price, in percent
	Direction  TrendDirection `json:"direction"`
	Strength   TrendStrength  `json:"strength"`
	Prediction float64        `json:"prediction"` // intercept + slope*n
	Confidence float64        `json:"confidence"` // R2 clamped to [0.1, 0.9]
}

// Indicators bundles the standard oscillators for a series window.
type Indicators struct {
	SMA        float64 `json:"sma"`
	EMA        float64 `json:"ema"`
	RSI        float64 `json:"rsi"`
	Momentum   float64 `json:"momentum"`
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
}

const (
	defaultMAWindow  = 20
	defaultRSIPeriod = 14
	srWindow         = 20
)

// LinearRegression fits price against point index.
func LinearRegression(values []float64) (Regression, error) {
	n := len(values)
	if n < 2 {
		return Regression{}, ErrNotEnoughData
	}

	fn := float64(n)
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := fn*sumX2 - sumX*sumX
	if denom == 0 {
		return Regression{}, ErrNotEnoughData
	}

	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	// R^2 from residuals against the mean.
	mean := sumY / fn
	var ssTot, ssRes float64
	for i, y := range values {
		fit := intercept + slope*float64(i)
		ssRes += (y - fit) * (y - fit)
		ssTot += (y - mean) * (y - mean)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	if r2 < 0 {
		r2 = 0
	}

	return Regression{Slope: slope, Intercept: intercept, R2: r2}, nil
}

// Trend computes the trend analysis for the series.
func (s *Series) Trend() (TrendAnalysis, error) {
	points := s.All()
	values := prices(points)

	reg, err := LinearRegression(values)
	if err != nil {
		return TrendAnalysis{}, err
	}

	slopePct := 0.0
	if values[0] != 0 {
		slopePct = reg.Slope / values[0] * 100
	}

	direction := TrendStable
	if slopePct > 0.1 {
		direction = TrendUp
	} else if slopePct < -0.1 {
		direction = TrendDown
	}

	abs := math.Abs(slopePct)
	strength := StrengthWeak
	switch {
	case abs > 2:
		strength = StrengthVeryStrong
	case abs > 1:
		strength = StrengthStrong
	case abs > 0.3:
		strength = StrengthModerate
	}

	confidence := reg.R2
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 0.9 {
		confidence = 0.9
	}

	return TrendAnalysis{
		Regression: reg,
		SlopePct:   slopePct,
		Direction:  direction,
		Strength:   strength,
		Prediction: reg.Intercept + reg.Slope*float64(len(values)),
		Confidence: confidence,
	}, nil
}

// SMA returns the simple moving average of the last `period` values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, ErrNotEnoughData
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMA returns the exponential moving average over the series, seeded with the
// SMA of the first window and iterated with multiplier 2/(period+1).
func EMA(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period {
		return 0, ErrNotEnoughData
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	mult := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = (v-ema)*mult + ema
	}
	return ema, nil
}

// RSI returns the relative strength index over the last `period` deltas.
// Output is always in [0, 100]: 100 for an all-gains series, 0 for all-losses.
func RSI(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period+1 {
		return 0, ErrNotEnoughData
	}

	deltas := values[len(values)-period-1:]
	var gains, losses float64
	for i := 1; i < len(deltas); i++ {
		d := deltas[i] - deltas[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100, nil
	}
	return 100 - 100/(1+avgGain/avgLoss), nil
}

// Momentum returns (current - value N periods ago) / that value.
func Momentum(values []float64, period int) (float64, error) {
	if period <= 0 || len(values) < period+1 {
		return 0, ErrNotEnoughData
	}
	past := values[len(values)-period-1]
	if past == 0 {
		return 0, ErrNotEnoughData
	}
	return (values[len(values)-1] - past) / past, nil
}

// SupportResistance returns the min and max over the trailing window.
func SupportResistance(values []float64, window int) (support, resistance float64, err error) {
	if len(values) == 0 {
		return 0, 0, ErrNotEnoughData
	}
	if window <= 0 || window > len(values) {
		window = len(values)
	}

	tail := values[len(values)-window:]
	support, resistance = tail[0], tail[0]
	for _, v := range tail[1:] {
		if v < support {
			support = v
		}
		if v > resistance {
			resistance = v
		}
	}
	return support, resistance, nil
}

// Indicators computes the standard oscillator set for the series.
func (s *Series) Indicators() (Indicators, error) {
	values := prices(s.All())

	sma, err := SMA(values, defaultMAWindow)
	if err != nil {
		return Indicators{}, err
	}
	ema, err := EMA(values, defaultMAWindow)
	if err != nil {
		return Indicators{}, err
	}
	rsi, err := RSI(values, defaultRSIPeriod)
	if err != nil {
		return Indicators{}, err
	}
	momentum, err := Momentum(values, defaultRSIPeriod)
	if err != nil {
		return Indicators{}, err
	}
	support, resistance, err := SupportResistance(values, srWindow)
	if err != nil {
		return Indicators{}, err
	}

	return Indicators{
		SMA:        sma,
		EMA:        ema,
		RSI:        rsi,
		Momentum:   momentum,
		Support:    support,
		Resistance: resistance,
	}, nil
}

// Volatility returns the coefficient of variation (population std / mean) of
// the last `window` values. Used by the quality report's consistency check.
func Volatility(values []float64, window int) (float64, error) {
	if len(values) < 2 {
		return 0, ErrNotEnoughData
	}
	if window > 0 && len(values) > window {
		values = values[len(values)-window:]
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0, ErrNotEnoughData
	}

	varSum := 0.0
	for _, v := range values {
		varSum += (v - mean) * (v - mean)
	}
	return math.Sqrt(varSum/float64(len(values))) / math.Abs(mean), nil
}
