package stats

import (
	"math"
	"sort"
)

// Percentiles calculates multiple percentiles (0-100) at once.
// Uses linear interpolation between closest ranks.
func Percentiles(values []float64, ps []float64) []float64 {
	if len(values) == 0 {
		return make([]float64, len(ps))
	}

	// Sort once for efficiency
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	results := make([]float64, len(ps))
	for i, p := range ps {
		results[i] = sortedQuantile(sorted, math.Min(math.Max(p, 0), 100)/100.0)
	}
	return results
}

// Quantile returns the q-th quantile (0-1) with linear interpolation
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sortedQuantile(sorted, q)
}

func sortedQuantile(sorted []float64, q float64) float64 {
	n := float64(len(sorted))
	index := q * (n - 1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Median returns the 50th percentile
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// IQR returns the interquartile range
func IQR(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	qs := Percentiles(values, []float64{25, 75})
	return qs[1] - qs[0]
}
