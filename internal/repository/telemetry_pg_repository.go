package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// PgTelemetryRepository reads vehicle positions from a PostgreSQL HFP database
type PgTelemetryRepository struct {
	pool *pgxpool.Pool
}

// NewPgTelemetryRepository connects to the telemetry database
func NewPgTelemetryRepository(ctx context.Context, databaseURL string) (*PgTelemetryRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping telemetry database: %w", err)
	}

	return &PgTelemetryRepository{pool: pool}, nil
}

// Close closes the pool
func (r *PgTelemetryRepository) Close() {
	r.pool.Close()
}

// ListRoutes returns the routes with positions on the oday
func (r *PgTelemetryRepository) ListRoutes(ctx context.Context, oday string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT route_id
		FROM hfp.vehicle_positions
		WHERE oday = $1::date AND event_type = $2
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
func (r *PgTelemetryRepository) LoadRouteDay(ctx context.Context, routeID, oday string) ([]models.TelemetrySample, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT vehicle_number, operator_id, route_id, direction_id,
		       to_char(oday, 'YYYY-MM-DD'), start::text,
		       transport_mode, event_type, tst, loc,
		       lat, long, hdg, odo, spd, drst, stop::text
		FROM hfp.vehicle_positions
		WHERE route_id = $1 AND oday = $2::date AND event_type = $3
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
			drst *bool
			stop *string
		)
		err := rows.Scan(
			&s.VehicleNumber, &s.OperatorID, &s.RouteID, &s.DirectionID, &s.Oday, &s.Start,
			&s.TransportMode, &s.EventType, &s.Timestamp, &s.Loc,
			&s.Latitude, &s.Longitude, &s.Heading, &s.Odometer, &s.Speed, &drst, &stop,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle position: %w", err)
		}
		s.Door = doorState(drst != nil, drst != nil && *drst)
		if stop != nil && *stop != "" {
			s.Stop = stop
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
