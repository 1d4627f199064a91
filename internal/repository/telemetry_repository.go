package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/database"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// vehiclePositionEvent is the event type of plain position samples
const vehiclePositionEvent = "VP"

// TelemetryRepository reads vehicle positions from the service database
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository creates a new telemetry repository
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// ListRoutes returns the routes with positions on the oday
func (r *TelemetryRepository) ListRoutes(ctx context.Context, oday string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT route_id
		FROM vehicle_positions
		WHERE oday = ? AND event_type = ?
		ORDER BY route_id
	`, oday, vehiclePositionEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	var routes []string
	for rows.Next() {
		var route string
		if err := rows.Scan(&route); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

// LoadRouteDay returns all position samples of the route on the oday
func (r *TelemetryRepository) LoadRouteDay(ctx context.Context, routeID, oday string) ([]models.TelemetrySample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vehicle_number, operator_id, route_id, direction_id, oday, start,
		       transport_mode, event_type, tst, loc, lat, long, hdg, odo, spd, drst, stop
		FROM vehicle_positions
		WHERE route_id = ? AND oday = ? AND event_type = ?
		ORDER BY direction_id, start, vehicle_number, tst
	`, routeID, oday, vehiclePositionEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle positions: %w", err)
	}
	defer rows.Close()

	var samples []models.TelemetrySample
	for rows.Next() {
		var (
			s    models.TelemetrySample
			tst  string
			drst sql.NullInt64
			stop sql.NullString
		)
		err := rows.Scan(
			&s.VehicleNumber, &s.OperatorID, &s.RouteID, &s.DirectionID, &s.Oday, &s.Start,
			&s.TransportMode, &s.EventType, &tst, &s.Loc,
			&s.Latitude, &s.Longitude, &s.Heading, &s.Odometer, &s.Speed, &drst, &stop,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle position: %w", err)
		}

		if s.Timestamp, err = time.Parse(time.RFC3339Nano, tst); err != nil {
			return nil, fmt.Errorf("invalid tst %q: %w", tst, err)
		}
		s.Door = doorState(drst.Valid, drst.Int64 != 0)
		if stop.Valid && stop.String != "" {
			v := stop.String
			s.Stop = &v
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Insert writes samples into the position table in one transaction
func (r *TelemetryRepository) Insert(ctx context.Context, samples []models.TelemetrySample) error {
	return database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		return insertSamples(ctx, tx, samples)
	})
}

func insertSamples(ctx context.Context, tx *sql.Tx, samples []models.TelemetrySample) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_positions (
			vehicle_number, operator_id, route_id, direction_id, oday, start,
			transport_mode, event_type, tst, loc, lat, long, hdg, odo, spd, drst, stop
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		eventType := s.EventType
		if eventType == "" {
			eventType = vehiclePositionEvent
		}
		var drst interface{}
		switch s.Door {
		case models.DoorOpen:
			drst = 1
		case models.DoorClosed:
			drst = 0
		}
		var stop interface{}
		if s.Stop != nil {
			stop = *s.Stop
		}

		_, err := stmt.ExecContext(ctx,
			s.VehicleNumber, s.OperatorID, s.RouteID, s.DirectionID, s.Oday, s.Start,
			s.TransportMode, eventType, s.Timestamp.UTC().Format(time.RFC3339Nano), s.Loc,
			s.Latitude, s.Longitude, s.Heading, s.Odometer, s.Speed, drst, stop,
		)
		if err != nil {
			return fmt.Errorf("failed to insert vehicle position: %w", err)
		}
	}
	return nil
}

func doorState(valid, open bool) models.DoorState {
	switch {
	case !valid:
		return models.DoorUnknown
	case open:
		return models.DoorOpen
	default:
		return models.DoorClosed
	}
}
