package models

import "time"

// DepartureCluster is one Level-1 cluster of delay samples within a single departure
type DepartureCluster struct {
	RouteID      string    `json:"routeId" db:"route_id"`
	DirectionID  int       `json:"directionId" db:"direction_id"`
	Oday         string    `json:"oday" db:"oday"`
	Start        string    `json:"start" db:"start"`
	TimeGroup    string    `json:"timeGroup" db:"time_group"`
	SegmentClass string    `json:"segmentClass" db:"segment_class"`
	Cluster      int       `json:"cluster" db:"cluster"` // 0-based within (departure, segment class)
	Latitude     float64   `json:"lat" db:"lat_median"`
	Longitude    float64   `json:"long" db:"long_median"`
	Heading      float64   `json:"hdg" db:"hdg_median"`
	Timestamp    time.Time `json:"tst" db:"tst_median"`
	Weight       int       `json:"weight" db:"weight"` // sample count

	// Set from the store row on load, not part of the per-day table
	TransportMode string `json:"transportMode,omitempty" db:"-"`
}

// Supercluster families
const (
	FamilyRoutes = "routes"
	FamilyModes  = "modes"
)

// Supercluster is a Level-2 cluster of DepartureClusters over a date range
type Supercluster struct {
	Family        string `json:"family"`
	RouteID       string `json:"routeId,omitempty"`       // route family
	DirectionID   int    `json:"directionId,omitempty"`   // route family
	TransportMode string `json:"transportMode,omitempty"` // mode family
	TimeGroup     string `json:"timeGroup"`
	SegmentClass  string `json:"segmentClass"`
	Cluster       int    `json:"cluster"`

	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Heading   float64 `json:"hdg"`
	TimeOfDay string  `json:"tstMedian"` // HH:MM:SS in the configured timezone

	Departures int `json:"departures"`

	// Quantiles of the constituent cluster weights
	Q10 float64 `json:"q10"`
	Q25 float64 `json:"q25"`
	Q50 float64 `json:"q50"`
	Q75 float64 `json:"q75"`
	Q90 float64 `json:"q90"`

	// Route family only
	TotalDepartures   int     `json:"totalDepartures,omitempty"`
	ShareOfDepartures float64 `json:"shareOfDepartures,omitempty"` // 0-100
	ShareBucket       string  `json:"shareBucket,omitempty"`       // e.g. "20-30%"

	HeadingDeviation float64 `json:"hdgDeviation"`
	HeadingOutlier   bool    `json:"hdgOutlier"`
}

// GroupKey returns the grouping key of the supercluster (route or mode)
func (s *Supercluster) GroupKey() string {
	if s.Family == FamilyModes {
		return s.TransportMode
	}
	return s.RouteID
}
