package models

import "strings"

// Speed classes assigned by the event classifier
const (
	SpeedDelay    = "DELAY"
	SpeedSlow     = "SLOW"
	SpeedFast     = "FAST"
	SpeedStop     = "STOP"
	SpeedError    = "SPD_ERR"
	SpeedDoorsErr = "DRS_ERR"
)

// Segment classes assigned by the event classifier
const (
	SegmentOnRoute = "on_route"
	SegmentPass    = "pass"
	SegmentArrive  = "arr"
	SegmentDepart  = "dep"
	SegmentStop    = "stop" // dropped before clustering
)

// Time groups
const (
	TimeGroupMorningPeak = "AHT"
	TimeGroupDaytime     = "PT"
	TimeGroupEveningPeak = "IHT"
	TimeGroupOther       = "other"
	TimeGroupWeekend     = "weekend"
	TimeGroupWeekday     = "weekday" // synthetic aggregate of all weekday groups
)

// IsWeekdayGroup reports whether a time group belongs to a weekday
func IsWeekdayGroup(tg string) bool {
	switch tg {
	case TimeGroupMorningPeak, TimeGroupDaytime, TimeGroupEveningPeak, TimeGroupOther:
		return true
	}
	return false
}

// ClassifiedSample is a telemetry sample with derived features and labels
type ClassifiedSample struct {
	TelemetrySample

	ElapsedSeconds int     `json:"elapsedSeconds"` // seconds since local midnight
	DeltaSeconds   int     `json:"deltaSeconds"`   // since previous sample, midnight corrected
	HeadingDelta   float64 `json:"headingDelta"`   // degrees, 0-180
	OdometerSpeed  float64 `json:"odometerSpeed"`  // smoothed, m/s
	MeanSpeed      float64 `json:"meanSpeed"`      // m/s
	SpeedClass     string  `json:"speedClass"`
	SegmentClass   string  `json:"segmentClass"`
	TimeGroup      string  `json:"timeGroup"`
}

// QualityFlags marks the reasons a departure is excluded from clustering
type QualityFlags struct {
	DoorsAlwaysOpen    bool `json:"doorsAlwaysOpen"`
	DoorsAlwaysClosed  bool `json:"doorsAlwaysClosed"`
	DoorsAlwaysMissing bool `json:"doorsAlwaysMissing"`
	TooFewSamples      bool `json:"tooFewSamples"`
	NoStops            bool `json:"noStops"`
	OdometerMissing    bool `json:"odometerMissing"`
	PositionMissing    bool `json:"positionMissing"`
	TimeGap            bool `json:"timeGap"`
	HeadingReversal    bool `json:"headingReversal"`
}

// Any reports whether any flag is set
func (f QualityFlags) Any() bool {
	return f.DoorsAlwaysOpen || f.DoorsAlwaysClosed || f.DoorsAlwaysMissing ||
		f.TooFewSamples || f.NoStops || f.OdometerMissing || f.PositionMissing ||
		f.TimeGap || f.HeadingReversal
}

// String lists the set flags, comma separated
func (f QualityFlags) String() string {
	var names []string
	add := func(set bool, name string) {
		if set {
			names = append(names, name)
		}
	}
	add(f.DoorsAlwaysOpen, "doors_always_open")
	add(f.DoorsAlwaysClosed, "doors_always_closed")
	add(f.DoorsAlwaysMissing, "doors_always_missing")
	add(f.TooFewSamples, "too_few_samples")
	add(f.NoStops, "no_stops")
	add(f.OdometerMissing, "odometer_missing")
	add(f.PositionMissing, "position_missing")
	add(f.TimeGap, "time_gap")
	add(f.HeadingReversal, "heading_reversal")
	return strings.Join(names, ",")
}

// DepartureSummary is the per-departure metadata row stored next to the clusters
type DepartureSummary struct {
	RouteID       string `json:"routeId" db:"route_id"`
	DirectionID   int    `json:"directionId" db:"direction_id"`
	Oday          string `json:"oday" db:"oday"`
	Start         string `json:"start" db:"start"`
	OperatorID    int    `json:"operatorId" db:"operator_id"`
	VehicleNumber int    `json:"vehicleNumber" db:"vehicle_number"`
	TransportMode string `json:"transportMode" db:"transport_mode"`
	TimeGroup     string `json:"timeGroup" db:"time_group"`
}

// Key returns the departure key of the summary
func (d *DepartureSummary) Key() DepartureKey {
	return DepartureKey{
		RouteID:       d.RouteID,
		DirectionID:   d.DirectionID,
		Oday:          d.Oday,
		Start:         d.Start,
		OperatorID:    d.OperatorID,
		VehicleNumber: d.VehicleNumber,
	}
}
