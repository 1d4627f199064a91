package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/database"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/export"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// ReclusterRepository handles status records and results of recluster jobs
type ReclusterRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewReclusterRepository creates a new recluster repository
func NewReclusterRepository(db *sql.DB) *ReclusterRepository {
	return &ReclusterRepository{db: db, now: time.Now}
}

const keyWhere = `table_name = ? AND route_ids = ? AND from_oday = ? AND to_oday = ? AND excluded_dates = ?`

func keyArgs(k models.JobKey) []interface{} {
	return []interface{}{k.Table, k.RouteIDs, k.FromOday, k.ToOday, k.ExcludedDates}
}

// Enqueue creates a QUEUED record for the key, or requeues a FAILED one, in a
// single conditional upsert. It reports whether this call enqueued the job;
// false means a record in another state already exists.
func (r *ReclusterRepository) Enqueue(ctx context.Context, key models.JobKey, runID string) (bool, error) {
	now := r.now().Unix()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recluster_status (
			table_name, route_ids, from_oday, to_oday, excluded_dates,
			status, progress, run_id, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, '', ?, '', ?, ?)
		ON CONFLICT (table_name, route_ids, from_oday, to_oday, excluded_dates) DO UPDATE SET
			status = excluded.status,
			progress = '',
			run_id = excluded.run_id,
			error_message = '',
			updated_at = excluded.updated_at
		WHERE recluster_status.status = ?
	`, key.Table, key.RouteIDs, key.FromOday, key.ToOday, key.ExcludedDates,
		models.JobStatusQueued, runID, now, now, models.JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue recluster job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

// Get retrieves the status record of the key
func (r *ReclusterRepository) Get(ctx context.Context, key models.JobKey) (*models.ReclusterJob, error) {
	job := &models.ReclusterJob{}
	var created, updated int64
	err := r.db.QueryRowContext(ctx, `
		SELECT table_name, route_ids, from_oday, to_oday, excluded_dates,
		       status, progress, run_id, error_message, created_at, updated_at
		FROM recluster_status
		WHERE `+keyWhere, keyArgs(key)...,
	).Scan(
		&job.Table, &job.RouteIDs, &job.FromOday, &job.ToOday, &job.ExcludedDates,
		&job.Status, &job.Progress, &job.RunID, &job.ErrorMessage, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recluster job %s/%s: %w", key.Table, key.RouteIDs, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recluster job: %w", err)
	}

	job.CreatedAt = time.Unix(created, 0)
	job.UpdatedAt = time.Unix(updated, 0)
	return job, nil
}

// MarkRunning moves a QUEUED job of the given run to RUNNING.
// It reports false when the record is no longer that queued run.
func (r *ReclusterRepository) MarkRunning(ctx context.Context, key models.JobKey, runID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recluster_status
		SET status = ?, updated_at = ?
		WHERE `+keyWhere+` AND status = ? AND run_id = ?
	`, append(append([]interface{}{models.JobStatusRunning, r.now().Unix()}, keyArgs(key)...),
		models.JobStatusQueued, runID)...)
	if err != nil {
		return false, fmt.Errorf("failed to mark recluster job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

// UpdateProgress stores the progress text of a running job
func (r *ReclusterRepository) UpdateProgress(ctx context.Context, key models.JobKey, runID, progress string) error {
	return r.finish(ctx, key, runID, models.JobStatusRunning, progress, "")
}

// MarkDone records a successful run; progress is ProgressNoData when nothing was found
func (r *ReclusterRepository) MarkDone(ctx context.Context, key models.JobKey, runID, progress string) error {
	return r.finish(ctx, key, runID, models.JobStatusDone, progress, "")
}

// MarkFailed records a failed run with its error message
func (r *ReclusterRepository) MarkFailed(ctx context.Context, key models.JobKey, runID, errorMsg string) error {
	return r.finish(ctx, key, runID, models.JobStatusFailed, "", errorMsg)
}

func (r *ReclusterRepository) finish(ctx context.Context, key models.JobKey, runID, status, progress, errorMsg string) error {
	args := append([]interface{}{status, progress, errorMsg, r.now().Unix()}, keyArgs(key)...)
	args = append(args, runID)
	_, err := r.db.ExecContext(ctx, `
		UPDATE recluster_status
		SET status = ?, progress = ?, error_message = ?, updated_at = ?
		WHERE `+keyWhere+` AND run_id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to set recluster job %s: %w", status, err)
	}
	return nil
}

// Reset removes the status record and result of the key, so the next request starts over
func (r *ReclusterRepository) Reset(ctx context.Context, key models.JobKey) (bool, error) {
	var existed bool
	err := database.Transaction(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM recluster_status WHERE `+keyWhere, keyArgs(key)...)
		if err != nil {
			return fmt.Errorf("failed to delete recluster status: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM recluster_results WHERE `+keyWhere, keyArgs(key)...); err != nil {
			return fmt.Errorf("failed to delete recluster result: %w", err)
		}
		n, _ := res.RowsAffected()
		existed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// SaveResult upserts the exported bundle of the key in a single statement
func (r *ReclusterRepository) SaveResult(ctx context.Context, key models.JobKey, bundle *export.Bundle) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recluster_results (
			table_name, route_ids, from_oday, to_oday, excluded_dates,
			geojson, csv, features, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, route_ids, from_oday, to_oday, excluded_dates) DO UPDATE SET
			geojson = excluded.geojson,
			csv = excluded.csv,
			features = excluded.features,
			created_at = excluded.created_at
	`, key.Table, key.RouteIDs, key.FromOday, key.ToOday, key.ExcludedDates,
		bundle.GeoJSON, bundle.CSV, bundle.Features, r.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save recluster result: %w", err)
	}
	return nil
}

// GetResult retrieves the exported bundle of the key
func (r *ReclusterRepository) GetResult(ctx context.Context, key models.JobKey) (*export.Bundle, error) {
	b := &export.Bundle{Name: export.BundleName(key)}
	err := r.db.QueryRowContext(ctx, `
		SELECT geojson, csv, features
		FROM recluster_results
		WHERE `+keyWhere, keyArgs(key)...,
	).Scan(&b.GeoJSON, &b.CSV, &b.Features)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recluster result %s/%s: %w", key.Table, key.RouteIDs, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recluster result: %w", err)
	}
	return b, nil
}
