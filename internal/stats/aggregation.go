package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean, 0 for no values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// RollingMean returns the trailing mean over window values.
// Positions without a full window, or whose window holds a NaN, are NaN.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if window < 1 || i+1 < window {
			out[i] = math.NaN()
			continue
		}
		w := values[i+1-window : i+1]
		if hasNaN(w) {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.Mean(w, nil)
	}
	return out
}

// FillNaN forward-fills then backward-fills NaN entries.
// Returns false when every value is NaN.
func FillNaN(values []float64) bool {
	last := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = last
		} else {
			last = v
		}
	}

	next := math.NaN()
	for i := len(values) - 1; i >= 0; i-- {
		if math.IsNaN(values[i]) {
			values[i] = next
		} else {
			next = values[i]
		}
	}
	return len(values) > 0 && !math.IsNaN(values[0])
}

// MeanOfAvailable returns the mean of the non-NaN arguments, NaN when none is available
func MeanOfAvailable(values ...float64) float64 {
	available := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			available = append(available, v)
		}
	}
	if len(available) == 0 {
		return math.NaN()
	}
	return Mean(available)
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
