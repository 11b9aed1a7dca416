// Package trend computes direction, rate of change and volatility of a metric
// over a trailing window. Everything here is pure and deterministic for a
// given input slice.
package trend

import "math"

// MinSamples is the smallest window that supports a meaningful fit.
const MinSamples = 3

// stableSlopeEpsilon separates a flat series from a drifting one.
const stableSlopeEpsilon = 0.01

// Direction classifies the sign of the fitted slope.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
	// DirectionInsufficient marks a window with fewer than MinSamples points.
	// It is a valid outcome, not an error.
	DirectionInsufficient Direction = "insufficient_data"
)

// Analysis summarizes one metric window.
type Analysis struct {
	Direction   Direction `json:"direction"`
	Slope       float64   `json:"slope"`
	Volatility  float64   `json:"volatility"`
	Current     float64   `json:"current"`
	Average     float64   `json:"average"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	SampleCount int       `json:"sample_count"`
}

// Analyze fits the window and classifies it. Windows shorter than MinSamples
// report DirectionInsufficient with zeroed statistics.
func Analyze(values []float64) Analysis {
	if len(values) < MinSamples {
		return Analysis{Direction: DirectionInsufficient, SampleCount: len(values)}
	}

	slope := Slope(values)
	direction := DirectionStable
	switch {
	case slope >= stableSlopeEpsilon:
		direction = DirectionIncreasing
	case slope <= -stableSlopeEpsilon:
		direction = DirectionDecreasing
	}

	mean := average(values)
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	return Analysis{
		Direction:   direction,
		Slope:       slope,
		Volatility:  Volatility(values),
		Current:     values[len(values)-1],
		Average:     mean,
		Min:         min,
		Max:         max,
		SampleCount: len(values),
	}
}

// Slope returns the least-squares linear slope of values against their index
// positions (0, 1, 2, ...).
func Slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// Volatility returns the coefficient of variation, stddev/mean, or 0 when the
// mean is 0.
func Volatility(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := average(values)
	if mean == 0 {
		return 0
	}

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(len(values)))
	return stddev / mean
}

// PredictNext extrapolates one step ahead as last value + fitted slope.
// This is deliberately a naive two-term predictor with no seasonality; callers
// compare it against relative-increase thresholds.
func PredictNext(values []float64) (float64, bool) {
	if len(values) < MinSamples {
		return 0, false
	}
	return values[len(values)-1] + Slope(values), true
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
