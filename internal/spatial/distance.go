package spatial

import (
	"github.com/golang/geo/s2"
)

// AngularDistance returns the great-circle distance between two points in radians
func AngularDistance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians()
}

// KmToRadians converts a ground distance to the central angle used by the clustering radius
func KmToRadians(km float64) float64 {
	return km / EarthRadiusKm
}

// Constants
const (
	EarthRadiusKm = 6371.0 // Earth's mean radius in kilometers
)
