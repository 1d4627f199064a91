package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// ClusterStore persists per-day Level-1 cluster and departure tables keyed by
// (route_id, oday) and mirrors them to a blob store for backfill
type ClusterStore struct {
	db     *sql.DB
	blobs  BlobStore // optional
	logger *log.Logger
}

// NewClusterStore creates a new cluster store; blobs may be nil
func NewClusterStore(db *sql.DB, blobs BlobStore, logger *log.Logger) *ClusterStore {
	if logger == nil {
		logger = log.Default()
	}
	return &ClusterStore{db: db, blobs: blobs, logger: logger}
}

// BlobKeys returns the mirror keys of the cluster and departure tables
func BlobKeys(routeID, oday string) (clustersKey, departuresKey string) {
	base := fmt.Sprintf("delay-clusters/%s/%s", oday, routeID)
	return base + ".clusters.csv.zst", base + ".departures.csv.zst"
}

// Store writes both tables for (routeID, oday), replacing any earlier version
func (s *ClusterStore) Store(ctx context.Context, routeID, mode, oday string, clusters []models.DepartureCluster, departures []models.DepartureSummary) error {
	clusterData, err := EncodeClusters(clusters)
	if err != nil {
		return err
	}
	departureData, err := EncodeDepartures(departures)
	if err != nil {
		return err
	}

	if err := s.upsert(ctx, routeID, mode, oday, clusterData, departureData); err != nil {
		return err
	}

	if s.blobs != nil {
		ck, dk := BlobKeys(routeID, oday)
		if err := s.blobs.Put(ctx, ck, clusterData); err != nil {
			return fmt.Errorf("failed to mirror clusters: %w", err)
		}
		if err := s.blobs.Put(ctx, dk, departureData); err != nil {
			return fmt.Errorf("failed to mirror departures: %w", err)
		}
	}

	s.logger.Printf("[ClusterStore] stored route %s oday %s: %d clusters, %d departures (%d+%d bytes)",
		routeID, oday, len(clusters), len(departures), len(clusterData), len(departureData))
	return nil
}

func (s *ClusterStore) upsert(ctx context.Context, routeID, mode, oday string, clusterData, departureData []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delay_clusters (route_id, oday, transport_mode, clusters, departures, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (route_id, oday) DO UPDATE SET
			transport_mode = excluded.transport_mode,
			clusters = excluded.clusters,
			departures = excluded.departures,
			updated_at = excluded.updated_at
	`, routeID, oday, mode, clusterData, departureData, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store clusters for %s/%s: %w", routeID, oday, err)
	}
	return nil
}

// Exists reports whether tables are stored for (routeID, oday)
func (s *ClusterStore) Exists(ctx context.Context, routeID, oday string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delay_clusters WHERE route_id = ? AND oday = ?`,
		routeID, oday,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check clusters for %s/%s: %w", routeID, oday, err)
	}
	return n > 0, nil
}

// LoadRange concatenates the tables of every stored day in [fromOday, toOday].
// A nil routeIDs loads all routes. Missing days are simply absent.
func (s *ClusterStore) LoadRange(ctx context.Context, routeIDs []string, fromOday, toOday string) ([]models.DepartureCluster, []models.DepartureSummary, error) {
	query := `
		SELECT route_id, oday, transport_mode, clusters, departures
		FROM delay_clusters
		WHERE oday >= ? AND oday <= ?
	`
	args := []interface{}{fromOday, toOday}
	if len(routeIDs) > 0 {
		query += " AND route_id IN (?" + strings.Repeat(", ?", len(routeIDs)-1) + ")"
		for _, id := range routeIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY oday, route_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query cluster range: %w", err)
	}
	defer rows.Close()

	var (
		clusters   []models.DepartureCluster
		departures []models.DepartureSummary
	)
	for rows.Next() {
		var (
			routeID, oday, mode        string
			clusterData, departureData []byte
		)
		if err := rows.Scan(&routeID, &oday, &mode, &clusterData, &departureData); err != nil {
			return nil, nil, fmt.Errorf("failed to scan cluster row: %w", err)
		}

		cs, err := DecodeClusters(clusterData)
		if err != nil {
			return nil, nil, fmt.Errorf("clusters of %s/%s: %w", routeID, oday, err)
		}
		ds, err := DecodeDepartures(departureData)
		if err != nil {
			return nil, nil, fmt.Errorf("departures of %s/%s: %w", routeID, oday, err)
		}
		for i := range cs {
			cs[i].TransportMode = mode
		}
		clusters = append(clusters, cs...)
		departures = append(departures, ds...)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read cluster range: %w", err)
	}
	return clusters, departures, nil
}

// Restore refills the table row of (routeID, oday) from the blob mirror
func (s *ClusterStore) Restore(ctx context.Context, routeID, oday string) error {
	if s.blobs == nil {
		return fmt.Errorf("no blob mirror configured")
	}
	ck, dk := BlobKeys(routeID, oday)
	clusterData, err := s.blobs.Get(ctx, ck)
	if err != nil {
		return err
	}
	departureData, err := s.blobs.Get(ctx, dk)
	if err != nil {
		return err
	}

	departures, err := DecodeDepartures(departureData)
	if err != nil {
		return fmt.Errorf("mirrored departures of %s/%s: %w", routeID, oday, err)
	}
	if _, err := DecodeClusters(clusterData); err != nil {
		return fmt.Errorf("mirrored clusters of %s/%s: %w", routeID, oday, err)
	}
	mode := ""
	if len(departures) > 0 {
		mode = departures[0].TransportMode
	}

	if err := s.upsert(ctx, routeID, mode, oday, clusterData, departureData); err != nil {
		return err
	}
	s.logger.Printf("[ClusterStore] restored route %s oday %s from mirror", routeID, oday)
	return nil
}
