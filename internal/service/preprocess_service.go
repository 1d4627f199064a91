package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis/classifier"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis/clustering"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// TelemetrySource provides the raw positions of a route day
type TelemetrySource interface {
	ListRoutes(ctx context.Context, oday string) ([]string, error)
	LoadRouteDay(ctx context.Context, routeID, oday string) ([]models.TelemetrySample, error)
}

// ClusterWriter persists Level-1 output
type ClusterWriter interface {
	Exists(ctx context.Context, routeID, oday string) (bool, error)
	Store(ctx context.Context, routeID, mode, oday string, clusters []models.DepartureCluster, departures []models.DepartureSummary) error
}

// RouteReport counts the outcome of preprocessing one route day
type RouteReport struct {
	RouteID           string `json:"routeId"`
	Skipped           bool   `json:"skipped"` // already stored, busy or empty
	Departures        int    `json:"departures"`
	SkippedDepartures int    `json:"skippedDepartures"`
	QualityFailed     int    `json:"qualityFailed"`
	Clustered         int    `json:"clustered"`
	Clusters          int    `json:"clusters"`
}

// PreprocessReport summarises a preprocess run
type PreprocessReport struct {
	Oday   string        `json:"oday"`
	Routes []RouteReport `json:"routes"`
}

// Totals sums the route reports
func (r *PreprocessReport) Totals() RouteReport {
	var t RouteReport
	for _, rr := range r.Routes {
		t.Departures += rr.Departures
		t.SkippedDepartures += rr.SkippedDepartures
		t.QualityFailed += rr.QualityFailed
		t.Clustered += rr.Clustered
		t.Clusters += rr.Clusters
	}
	return t
}

// PreprocessService classifies and clusters route days and stores the result
type PreprocessService struct {
	source TelemetrySource
	store  ClusterWriter
	cfg    *config.Analysis
	logger *log.Logger

	mu     sync.Mutex
	active map[string]bool // route|oday currently being processed
}

// NewPreprocessService creates a new preprocess service
func NewPreprocessService(source TelemetrySource, store ClusterWriter, cfg *config.Analysis, logger *log.Logger) *PreprocessService {
	if logger == nil {
		logger = log.Default()
	}
	return &PreprocessService{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logger,
		active: make(map[string]bool),
	}
}

// DefaultOday returns the oday preprocessed when none is given: now minus the
// configured lag, in the analysis timezone
func DefaultOday(now time.Time, cfg *config.Analysis) string {
	return now.In(cfg.Location()).AddDate(0, 0, -cfg.PreprocessLagDays).Format(models.OdayLayout)
}

// Run preprocesses the routes of the oday; all routes with positions when routeIDs is empty.
// Route days already stored are skipped unless force is set.
func (s *PreprocessService) Run(ctx context.Context, oday string, routeIDs []string, force bool) (*PreprocessReport, error) {
	if oday == "" {
		oday = DefaultOday(time.Now(), s.cfg)
	}
	if len(routeIDs) == 0 {
		routes, err := s.source.ListRoutes(ctx, oday)
		if err != nil {
			return nil, fmt.Errorf("failed to list routes for %s: %w", oday, err)
		}
		routeIDs = routes
	}

	report := &PreprocessReport{Oday: oday}
	for _, routeID := range routeIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rr, err := s.ProcessRoute(ctx, routeID, oday, force)
		if err != nil {
			return report, err
		}
		report.Routes = append(report.Routes, rr)
	}

	t := report.Totals()
	s.logger.Printf("[Preprocess] oday %s: %d routes, %d departures (%d skipped, %d failed quality, %d clustered), %d clusters",
		oday, len(report.Routes), t.Departures, t.SkippedDepartures, t.QualityFailed, t.Clustered, t.Clusters)
	return report, nil
}

// ProcessRoute preprocesses one route day
func (s *PreprocessService) ProcessRoute(ctx context.Context, routeID, oday string, force bool) (RouteReport, error) {
	rr := RouteReport{RouteID: routeID}

	unlock, ok := s.tryLock(routeID, oday)
	if !ok {
		s.logger.Printf("[Preprocess] route %s oday %s already in progress, skipping", routeID, oday)
		rr.Skipped = true
		return rr, nil
	}
	defer unlock()

	if !force {
		exists, err := s.store.Exists(ctx, routeID, oday)
		if err != nil {
			return rr, err
		}
		if exists {
			rr.Skipped = true
			return rr, nil
		}
	}

	samples, err := s.source.LoadRouteDay(ctx, routeID, oday)
	if err != nil {
		return rr, fmt.Errorf("failed to load route %s oday %s: %w", routeID, oday, err)
	}
	if len(samples) == 0 {
		s.logger.Printf("[Preprocess] route %s oday %s: no positions", routeID, oday)
		rr.Skipped = true
		return rr, nil
	}

	departures := classifier.GroupDepartures(samples)
	results := make([]classifier.Result, len(departures))
	clusters := make([][]models.DepartureCluster, len(departures))
	params := clustering.ParamsFrom(s.cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range departures {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = classifier.ClassifyDeparture(departures[i].Samples, s.cfg)
			if results[i].Usable() {
				clusters[i] = clustering.Detect(results[i].Samples, results[i].Summary, params)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rr, err
	}

	var (
		allClusters []models.DepartureCluster
		summaries   []models.DepartureSummary
	)
	mode := samples[0].TransportMode
	rr.Departures = len(departures)
	for i, res := range results {
		switch {
		case res.Skipped:
			rr.SkippedDepartures++
		case res.Flags.Any():
			rr.QualityFailed++
		default:
			rr.Clustered++
			summaries = append(summaries, *res.Summary)
			allClusters = append(allClusters, clusters[i]...)
		}
	}
	rr.Clusters = len(allClusters)

	if err := s.store.Store(ctx, routeID, mode, oday, allClusters, summaries); err != nil {
		return rr, err
	}

	s.logger.Printf("[Preprocess] route %s oday %s: %d departures (%d skipped, %d failed quality), %d clusters",
		routeID, oday, rr.Departures, rr.SkippedDepartures, rr.QualityFailed, rr.Clusters)
	return rr, nil
}

func (s *PreprocessService) tryLock(routeID, oday string) (func(), bool) {
	key := routeID + "|" + oday
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[key] {
		return nil, false
	}
	s.active[key] = true
	return func() {
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
	}, true
}
