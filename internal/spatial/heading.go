package spatial

import "math"

// HeadingDelta returns the smallest angle between two headings in degrees (0-180)
func HeadingDelta(h1, h2 float64) float64 {
	return math.Abs(AngularDifferenceDegrees(h1, h2))
}

// AngularDifferenceDegrees calculates the signed smallest difference between two angles (degrees)
// Result is in range [-180, 180]
func AngularDifferenceDegrees(angle1, angle2 float64) float64 {
	diff := math.Mod(angle2-angle1, 360)
	if diff > 180 {
		diff -= 360
	}
	if diff < -180 {
		diff += 360
	}
	return diff
}

// FillHeadings forward-fills then backward-fills missing headings.
// The result has no nil entries unless every input is nil, in which case it is all zero.
func FillHeadings(headings []*float64) []float64 {
	out := make([]float64, len(headings))
	known := make([]bool, len(headings))

	var last *float64
	for i, h := range headings {
		if h != nil {
			last = h
		}
		if last != nil {
			out[i] = *last
			known[i] = true
		}
	}

	// backward fill the leading gap
	for i := len(out) - 1; i >= 0; i-- {
		if known[i] {
			continue
		}
		if i+1 < len(out) && known[i+1] {
			out[i] = out[i+1]
			known[i] = true
		}
	}
	return out
}
