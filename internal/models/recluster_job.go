package models

import "time"

// ReclusterJob is the persisted status record of one Level-2 recluster run.
// One row exists per unique parameter tuple.
type ReclusterJob struct {
	Table         string `json:"table" db:"table_name"` // recluster_routes, recluster_modes
	RouteIDs      string `json:"routeIds" db:"route_ids"`
	FromOday      string `json:"fromOday" db:"from_oday"`
	ToOday        string `json:"toOday" db:"to_oday"`
	ExcludedDates string `json:"excludedDates" db:"excluded_dates"`

	Status       string `json:"status" db:"status"` // QUEUED, RUNNING, DONE, FAILED
	Progress     string `json:"progress,omitempty" db:"progress"`
	RunID        string `json:"runId,omitempty" db:"run_id"`
	ErrorMessage string `json:"errorMessage,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// JobStatus constants
const (
	JobStatusQueued  = "QUEUED"
	JobStatusRunning = "RUNNING"
	JobStatusDone    = "DONE"
	JobStatusFailed  = "FAILED"
)

// Recluster tables, one status and result namespace per family
const (
	TableReclusterRoutes = "recluster_routes"
	TableReclusterModes  = "recluster_modes"
)

// ProgressNoData marks a DONE job whose range contained nothing to cluster
const ProgressNoData = "no data"

// IsPending reports whether the job is waiting for or executing a worker
func (j *ReclusterJob) IsPending() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusRunning
}

// HasNoData reports whether a finished job produced no output
func (j *ReclusterJob) HasNoData() bool {
	return j.Status == JobStatusDone && j.Progress == ProgressNoData
}

// Key returns the parameter tuple identifying the job
func (j *ReclusterJob) Key() JobKey {
	return JobKey{
		Table:         j.Table,
		RouteIDs:      j.RouteIDs,
		FromOday:      j.FromOday,
		ToOday:        j.ToOday,
		ExcludedDates: j.ExcludedDates,
	}
}

// JobKey is the full parameter tuple of a recluster job.
// RouteIDs is "ALL" or the sorted comma-joined ids; ExcludedDates is the sorted comma-joined odays.
type JobKey struct {
	Table         string `json:"table"`
	RouteIDs      string `json:"routeIds"`
	FromOday      string `json:"fromOday"`
	ToOday        string `json:"toOday"`
	ExcludedDates string `json:"excludedDates"`
}

// FamilyOf maps a recluster table to its supercluster family
func FamilyOf(table string) string {
	if table == TableReclusterModes {
		return FamilyModes
	}
	return FamilyRoutes
}
