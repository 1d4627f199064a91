package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis/recluster"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/export"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/repository"
)

// JobStore persists recluster status records and results
type JobStore interface {
	Enqueue(ctx context.Context, key models.JobKey, runID string) (bool, error)
	Get(ctx context.Context, key models.JobKey) (*models.ReclusterJob, error)
	MarkRunning(ctx context.Context, key models.JobKey, runID string) (bool, error)
	UpdateProgress(ctx context.Context, key models.JobKey, runID, progress string) error
	MarkDone(ctx context.Context, key models.JobKey, runID, progress string) error
	MarkFailed(ctx context.Context, key models.JobKey, runID, errorMsg string) error
	Reset(ctx context.Context, key models.JobKey) (bool, error)
	GetResult(ctx context.Context, key models.JobKey) (*export.Bundle, error)
}

// Runner executes one Level-2 recluster run
type Runner interface {
	Run(ctx context.Context, table string, p *models.ReclusterParams, rep analysis.Reporter) error
}

// RequestResult is the outcome of a recluster request
type RequestResult struct {
	Status   string                  `json:"status"`
	Progress string                  `json:"progress"`
	Params   *models.ReclusterParams `json:"params"`
	Enqueued bool                    `json:"-"` // this request started the worker
	NoData   bool                    `json:"-"`
	Bundle   *export.Bundle          `json:"-"` // set when DONE with data
}

// Pending reports whether the job is still queued or running
func (r *RequestResult) Pending() bool {
	return r.Status == models.JobStatusQueued || r.Status == models.JobStatusRunning
}

// ReclusterService deduplicates recluster requests on the persisted status
// record and runs each queued job in exactly one background worker
type ReclusterService struct {
	jobs     JobStore
	runner   Runner
	logger   *log.Logger
	newRunID func() string

	wg sync.WaitGroup
}

// NewReclusterService creates a new recluster service
func NewReclusterService(jobs JobStore, runner Runner, logger *log.Logger) *ReclusterService {
	if logger == nil {
		logger = log.Default()
	}
	return &ReclusterService{
		jobs:     jobs,
		runner:   runner,
		logger:   logger,
		newRunID: uuid.NewString,
	}
}

// Request returns the result of the job for the parameters, enqueuing it when
// absent or FAILED. Concurrent requests for one key start a single worker.
func (s *ReclusterService) Request(ctx context.Context, table string, p *models.ReclusterParams) (*RequestResult, error) {
	key := p.JobKey(table)

	// A record reset between Enqueue and Get is requeued once.
	for attempt := 0; attempt < 2; attempt++ {
		runID := s.newRunID()
		enqueued, err := s.jobs.Enqueue(ctx, key, runID)
		if err != nil {
			return nil, err
		}
		if enqueued {
			s.logger.Printf("[Recluster] queued %s %s %s..%s (run %s)", table, key.RouteIDs, key.FromOday, key.ToOday, runID)
			s.startWorker(key, runID, p)
			return &RequestResult{Status: models.JobStatusQueued, Params: p, Enqueued: true}, nil
		}

		job, err := s.jobs.Get(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.resultOf(ctx, job, p)
	}
	return nil, fmt.Errorf("recluster job %s/%s changed concurrently", table, key.RouteIDs)
}

func (s *ReclusterService) resultOf(ctx context.Context, job *models.ReclusterJob, p *models.ReclusterParams) (*RequestResult, error) {
	res := &RequestResult{Status: job.Status, Progress: job.Progress, Params: p}
	switch {
	case job.IsPending():
		return res, nil
	case job.HasNoData():
		res.NoData = true
		return res, nil
	case job.Status == models.JobStatusDone:
		bundle, err := s.jobs.GetResult(ctx, job.Key())
		if err != nil {
			return nil, err
		}
		res.Bundle = bundle
		return res, nil
	default:
		// FAILED rows are requeued by Enqueue; reaching here means it failed again in between
		res.Progress = job.ErrorMessage
		return res, nil
	}
}

// Status returns the status record for the parameters
func (s *ReclusterService) Status(ctx context.Context, table string, p *models.ReclusterParams) (*models.ReclusterJob, error) {
	return s.jobs.Get(ctx, p.JobKey(table))
}

// Reset removes the status record and result so the next request starts over.
// It reports whether a record existed.
func (s *ReclusterService) Reset(ctx context.Context, table string, p *models.ReclusterParams) (bool, error) {
	key := p.JobKey(table)
	ok, err := s.jobs.Reset(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Printf("[Recluster] reset %s %s %s..%s", table, key.RouteIDs, key.FromOday, key.ToOday)
	}
	return ok, nil
}

// Wait blocks until all started workers have returned
func (s *ReclusterService) Wait() {
	s.wg.Wait()
}

func (s *ReclusterService) startWorker(key models.JobKey, runID string, p *models.ReclusterParams) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(context.Background(), key, runID, p)
	}()
}

// runJob executes a queued run and records its final status
func (s *ReclusterService) runJob(ctx context.Context, key models.JobKey, runID string, p *models.ReclusterParams) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, key, runID, fmt.Errorf("panic: %v", r))
		}
	}()

	started, err := s.jobs.MarkRunning(ctx, key, runID)
	if err != nil {
		s.logger.Printf("[Recluster] failed to start run %s: %v", runID, err)
		return
	}
	if !started {
		s.logger.Printf("[Recluster] run %s superseded, not starting", runID)
		return
	}

	logRep := analysis.LogReporter{Logger: s.logger, Component: "Recluster " + runID}
	rep := analysis.ReporterFunc(func(pr analysis.Progress) {
		logRep.Report(pr)
		if err := s.jobs.UpdateProgress(ctx, key, runID, pr.String()); err != nil {
			s.logger.Printf("[Recluster] failed to update progress of run %s: %v", runID, err)
		}
	})

	err = s.runner.Run(ctx, key.Table, p, rep)
	switch {
	case errors.Is(err, recluster.ErrNoData):
		s.logger.Printf("[Recluster] run %s: no data", runID)
		if err := s.jobs.MarkDone(ctx, key, runID, models.ProgressNoData); err != nil {
			s.logger.Printf("[Recluster] failed to finish run %s: %v", runID, err)
		}
	case err != nil:
		s.fail(ctx, key, runID, err)
	default:
		s.logger.Printf("[Recluster] run %s done", runID)
		if err := s.jobs.MarkDone(ctx, key, runID, ""); err != nil {
			s.logger.Printf("[Recluster] failed to finish run %s: %v", runID, err)
		}
	}
}

func (s *ReclusterService) fail(ctx context.Context, key models.JobKey, runID string, err error) {
	s.logger.Printf("[Recluster] run %s failed: %v", runID, err)
	if markErr := s.jobs.MarkFailed(ctx, key, runID, fmt.Sprintf("Recluster failed: %v", err)); markErr != nil {
		s.logger.Printf("[Recluster] failed to mark run %s as failed: %v", runID, markErr)
	}
}
