package models

import "time"

// DoorState is the tri-state door status of a vehicle position sample
type DoorState int

const (
	DoorUnknown DoorState = iota
	DoorClosed
	DoorOpen
)

// String returns the door state label used in logs and exports
func (d DoorState) String() string {
	switch d {
	case DoorClosed:
		return "closed"
	case DoorOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Location quality values reported by the vehicle
const (
	LocGPS = "GPS"
	LocDR  = "DR" // dead reckoning
	LocODO = "ODO"
	LocMAN = "MAN"
	LocNA  = "N/A"
)

// OdayLayout is the ISO date layout used for operating days
const OdayLayout = "2006-01-02"

// TelemetrySample represents one vehicle position observation (HFP event)
type TelemetrySample struct {
	VehicleNumber int       `json:"vehicleNumber" db:"vehicle_number"`
	OperatorID    int       `json:"operatorId" db:"operator_id"`
	RouteID       string    `json:"routeId" db:"route_id"`
	DirectionID   int       `json:"directionId" db:"direction_id"`
	Oday          string    `json:"oday" db:"oday"`   // YYYY-MM-DD
	Start         string    `json:"start" db:"start"` // HH:MM:SS, scheduled start
	TransportMode string    `json:"transportMode" db:"transport_mode"`
	EventType     string    `json:"eventType" db:"event_type"`
	Timestamp     time.Time `json:"tst" db:"tst"`
	Loc           string    `json:"loc" db:"loc"` // GPS, DR, ODO, MAN, N/A

	// Nullable measurements
	Latitude  *float64 `json:"lat,omitempty" db:"lat"`
	Longitude *float64 `json:"long,omitempty" db:"long"`
	Heading   *float64 `json:"hdg,omitempty" db:"hdg"`
	Odometer  *float64 `json:"odo,omitempty" db:"odo"` // meters
	Speed     *float64 `json:"spd,omitempty" db:"spd"` // m/s

	Door DoorState `json:"drst" db:"drst"`
	Stop *string   `json:"stop,omitempty" db:"stop"`
}

// HasPosition reports whether the sample carries a non-zero coordinate pair
func (s *TelemetrySample) HasPosition() bool {
	if s.Latitude == nil || s.Longitude == nil {
		return false
	}
	return *s.Latitude != 0 || *s.Longitude != 0
}

// HasStop reports whether the sample is associated with a stop
func (s *TelemetrySample) HasStop() bool {
	return s.Stop != nil && *s.Stop != ""
}

// DepartureKey identifies one vehicle's run of one scheduled trip
type DepartureKey struct {
	RouteID       string `json:"routeId"`
	DirectionID   int    `json:"directionId"`
	Oday          string `json:"oday"`
	Start         string `json:"start"`
	OperatorID    int    `json:"operatorId"`
	VehicleNumber int    `json:"vehicleNumber"`
}

// KeyOf returns the departure key of a sample
func KeyOf(s *TelemetrySample) DepartureKey {
	return DepartureKey{
		RouteID:       s.RouteID,
		DirectionID:   s.DirectionID,
		Oday:          s.Oday,
		Start:         s.Start,
		OperatorID:    s.OperatorID,
		VehicleNumber: s.VehicleNumber,
	}
}

// Less orders departure keys by route, direction, oday, start, operator, vehicle
func (k DepartureKey) Less(o DepartureKey) bool {
	if k.RouteID != o.RouteID {
		return k.RouteID < o.RouteID
	}
	if k.DirectionID != o.DirectionID {
		return k.DirectionID < o.DirectionID
	}
	if k.Oday != o.Oday {
		return k.Oday < o.Oday
	}
	if k.Start != o.Start {
		return k.Start < o.Start
	}
	if k.OperatorID != o.OperatorID {
		return k.OperatorID < o.OperatorID
	}
	return k.VehicleNumber < o.VehicleNumber
}
