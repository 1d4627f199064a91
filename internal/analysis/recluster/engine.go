package recluster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/export"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/spatial"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/stats"
)

// ErrNoData is returned when the requested range holds no clusters or no departures
var ErrNoData = errors.New("no data in range")

// weightQuantiles are the percentiles reported for constituent cluster weights
var weightQuantiles = []float64{10, 25, 50, 75, 90}

// Source loads the Level-1 output of a date range
type Source interface {
	LoadRange(ctx context.Context, routeIDs []string, fromOday, toOday string) ([]models.DepartureCluster, []models.DepartureSummary, error)
}

// Params configures Level-2 clustering
type Params struct {
	EpsKm           float64
	MinWeight       float64
	Significance    float64
	HeadingOutlierZ float64
	Location        *time.Location
}

// ParamsFrom returns the Level-2 parameters of the analysis config
func ParamsFrom(cfg *config.Analysis) Params {
	return Params{
		EpsKm:           cfg.Epsilon2Km,
		MinWeight:       cfg.MinWeight2,
		Significance:    cfg.SignificanceWeight,
		HeadingOutlierZ: cfg.HeadingOutlierZ,
		Location:        cfg.Location(),
	}
}

// Sink persists the exported result of one recluster key
type Sink interface {
	SaveResult(ctx context.Context, key models.JobKey, bundle *export.Bundle) error
}

// Engine reclusters per-day clusters into route and mode superclusters
type Engine struct {
	source Source
	sink   Sink
	params Params
	logger *log.Logger
}

// NewEngine creates a new recluster engine
func NewEngine(source Source, sink Sink, params Params, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	if params.Location == nil {
		params.Location = time.UTC
	}
	return &Engine{source: source, sink: sink, params: params, logger: logger}
}

// Run computes the superclusters of the table's family and persists them as
// one GeoJSON + CSV bundle. Nothing is written when Compute fails, including
// on ErrNoData.
func (e *Engine) Run(ctx context.Context, table string, p *models.ReclusterParams, rep analysis.Reporter) error {
	if rep == nil {
		rep = analysis.Discard
	}
	family := models.FamilyOf(table)

	supers, err := e.Compute(ctx, family, p, rep)
	if err != nil {
		return err
	}

	key := p.JobKey(table)
	bundle, err := export.Build(export.BundleName(key), supers)
	if err != nil {
		return fmt.Errorf("failed to export superclusters: %w", err)
	}

	rep.Report(analysis.Progress{Stage: "persist", Message: fmt.Sprintf("%d features", len(supers))})
	if err := e.sink.SaveResult(ctx, key, bundle); err != nil {
		return fmt.Errorf("failed to save recluster result: %w", err)
	}
	return nil
}

// Compute runs Level-2 clustering for one family over the requested range.
// It returns ErrNoData when the range is empty after exclusions.
func (e *Engine) Compute(ctx context.Context, family string, p *models.ReclusterParams, rep analysis.Reporter) ([]models.Supercluster, error) {
	if rep == nil {
		rep = analysis.Discard
	}

	rep.Report(analysis.Progress{Stage: "load", Message: p.RouteKey()})
	clusters, departures, err := e.source.LoadRange(ctx, p.RouteIDs, p.FromOday, p.ToOday)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster range: %w", err)
	}

	clusters = excludeClusters(clusters, p)
	departures = excludeDepartures(departures, p)
	if len(clusters) == 0 || len(departures) == 0 {
		e.logger.Printf("[Recluster] %s %s..%s: no data (%d clusters, %d departures)",
			family, p.FromOday, p.ToOday, len(clusters), len(departures))
		return nil, ErrNoData
	}

	if family == models.FamilyRoutes {
		clusters = withWeekdayClusters(clusters)
		departures = withWeekdayDepartures(departures)
	}

	groups := groupClusters(family, clusters)
	totals := departureTotals(departures)

	var out []models.Supercluster
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		supers := e.clusterGroup(family, g)
		if family == models.FamilyRoutes {
			for j := range supers {
				applyShare(&supers[j], totals)
			}
		}
		applyHeadingDeviation(supers, e.params.HeadingOutlierZ)
		out = append(out, supers...)
		rep.Report(analysis.Progress{Stage: "cluster", Processed: i + 1, Total: len(groups)})
	}

	e.logger.Printf("[Recluster] %s %s..%s: %d clusters in %d groups -> %d superclusters",
		family, p.FromOday, p.ToOday, len(clusters), len(groups), len(out))
	return out, nil
}

type group struct {
	key      groupKey
	clusters []models.DepartureCluster
}

type groupKey struct {
	routeID      string
	directionID  int
	mode         string
	timeGroup    string
	segmentClass string
}

func (k groupKey) less(o groupKey) bool {
	if k.routeID != o.routeID {
		return k.routeID < o.routeID
	}
	if k.directionID != o.directionID {
		return k.directionID < o.directionID
	}
	if k.mode != o.mode {
		return k.mode < o.mode
	}
	if k.timeGroup != o.timeGroup {
		return k.timeGroup < o.timeGroup
	}
	return k.segmentClass < o.segmentClass
}

func groupClusters(family string, clusters []models.DepartureCluster) []group {
	index := map[groupKey]int{}
	var groups []group
	for _, c := range clusters {
		k := groupKey{timeGroup: c.TimeGroup, segmentClass: c.SegmentClass}
		if family == models.FamilyModes {
			k.mode = c.TransportMode
		} else {
			k.routeID = c.RouteID
			k.directionID = c.DirectionID
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{key: k})
		}
		groups[i].clusters = append(groups[i].clusters, c)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].key.less(groups[j].key) })
	return groups
}

func (e *Engine) clusterGroup(family string, g group) []models.Supercluster {
	members := g.clusters
	sort.SliceStable(members, func(i, j int) bool { return clusterLess(&members[i], &members[j]) })

	points := make([]spatial.Point, len(members))
	for i, c := range members {
		points[i] = spatial.Point{Lat: c.Latitude, Lon: c.Longitude, Weight: float64(c.Weight)}
	}
	labels := spatial.DBSCAN(points, spatial.DBSCANParams{
		Eps:       spatial.KmToRadians(e.params.EpsKm),
		MinWeight: e.params.MinWeight,
	})

	byLabel := map[int][]models.DepartureCluster{}
	maxLabel := -1
	for i, l := range labels {
		if l == spatial.Noise {
			continue
		}
		byLabel[l] = append(byLabel[l], members[i])
		if l > maxLabel {
			maxLabel = l
		}
	}

	var out []models.Supercluster
	for l := 0; l <= maxLabel; l++ {
		cs := byLabel[l]
		if len(cs) == 0 {
			continue
		}
		s := e.summarize(family, g.key, cs)
		if !Significant(s.Q50, e.params.Significance) {
			continue
		}
		s.Cluster = len(out)
		out = append(out, s)
	}
	return out
}

// Significant reports whether a median weight passes the significance gate (inclusive)
func Significant(medianWeight, threshold float64) bool {
	return medianWeight >= threshold
}

func (e *Engine) summarize(family string, k groupKey, cs []models.DepartureCluster) models.Supercluster {
	lats := make([]float64, len(cs))
	lons := make([]float64, len(cs))
	hdgs := make([]float64, len(cs))
	tods := make([]float64, len(cs))
	weights := make([]float64, len(cs))
	deps := map[departureID]struct{}{}
	for i, c := range cs {
		lats[i] = c.Latitude
		lons[i] = c.Longitude
		hdgs[i] = c.Heading
		lt := c.Timestamp.In(e.params.Location)
		tods[i] = float64(lt.Hour()*3600 + lt.Minute()*60 + lt.Second())
		weights[i] = float64(c.Weight)
		deps[departureID{c.RouteID, c.DirectionID, c.Oday, c.Start}] = struct{}{}
	}
	q := stats.Percentiles(weights, weightQuantiles)

	s := models.Supercluster{
		Family:       family,
		TimeGroup:    k.timeGroup,
		SegmentClass: k.segmentClass,
		Latitude:     stats.Median(lats),
		Longitude:    stats.Median(lons),
		Heading:      stats.Median(hdgs),
		TimeOfDay:    formatTimeOfDay(stats.Median(tods)),
		Departures:   len(deps),
		Q10:          q[0],
		Q25:          q[1],
		Q50:          q[2],
		Q75:          q[3],
		Q90:          q[4],
	}
	if family == models.FamilyModes {
		s.TransportMode = k.mode
	} else {
		s.RouteID = k.routeID
		s.DirectionID = k.directionID
	}
	return s
}

func formatTimeOfDay(seconds float64) string {
	sec := int(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec%3600/60, sec%60)
}

func clusterLess(a, b *models.DepartureCluster) bool {
	if a.Oday != b.Oday {
		return a.Oday < b.Oday
	}
	if a.RouteID != b.RouteID {
		return a.RouteID < b.RouteID
	}
	if a.DirectionID != b.DirectionID {
		return a.DirectionID < b.DirectionID
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Cluster != b.Cluster {
		return a.Cluster < b.Cluster
	}
	if a.Latitude != b.Latitude {
		return a.Latitude < b.Latitude
	}
	return a.Longitude < b.Longitude
}

// departureID identifies a departure as far as clusters carry it
type departureID struct {
	routeID     string
	directionID int
	oday        string
	start       string
}

type totalKey struct {
	routeID     string
	directionID int
	timeGroup   string
}

func departureTotals(departures []models.DepartureSummary) map[totalKey]int {
	seen := map[models.DepartureKey]map[string]bool{}
	totals := map[totalKey]int{}
	for _, d := range departures {
		k := d.Key()
		if seen[k] == nil {
			seen[k] = map[string]bool{}
		}
		if seen[k][d.TimeGroup] {
			continue
		}
		seen[k][d.TimeGroup] = true
		totals[totalKey{d.RouteID, d.DirectionID, d.TimeGroup}]++
	}
	return totals
}

func applyShare(s *models.Supercluster, totals map[totalKey]int) {
	total := totals[totalKey{s.RouteID, s.DirectionID, s.TimeGroup}]
	s.TotalDepartures = total
	if total == 0 {
		return
	}
	s.ShareOfDepartures = float64(s.Departures) / float64(total) * 100
	s.ShareBucket = ShareBucket(s.ShareOfDepartures)
}

// ShareBucket returns the ten-point category of a share, e.g. "20-30%"
func ShareBucket(share float64) string {
	b := int(math.Floor(share / 10))
	if b > 9 {
		b = 9
	}
	if b < 0 {
		b = 0
	}
	return fmt.Sprintf("%d-%d%%", b*10, b*10+10)
}

// applyHeadingDeviation normalises headings by the group median and IQR
func applyHeadingDeviation(supers []models.Supercluster, z float64) {
	if len(supers) == 0 {
		return
	}
	hdgs := make([]float64, len(supers))
	for i := range supers {
		hdgs[i] = supers[i].Heading
	}
	median := stats.Median(hdgs)
	iqr := stats.IQR(hdgs)
	for i := range supers {
		if iqr == 0 {
			supers[i].HeadingDeviation = 0
		} else {
			supers[i].HeadingDeviation = (supers[i].Heading - median) / iqr
		}
		supers[i].HeadingOutlier = math.Abs(supers[i].HeadingDeviation) > z
	}
}

func excludeClusters(in []models.DepartureCluster, p *models.ReclusterParams) []models.DepartureCluster {
	if len(p.ExcludeDates) == 0 {
		return in
	}
	out := in[:0:0]
	for _, c := range in {
		if !p.Excludes(c.Oday) {
			out = append(out, c)
		}
	}
	return out
}

func excludeDepartures(in []models.DepartureSummary, p *models.ReclusterParams) []models.DepartureSummary {
	if len(p.ExcludeDates) == 0 {
		return in
	}
	out := in[:0:0]
	for _, d := range in {
		if !p.Excludes(d.Oday) {
			out = append(out, d)
		}
	}
	return out
}

// withWeekdayClusters appends a copy of every weekday cluster under the weekday aggregate group
func withWeekdayClusters(in []models.DepartureCluster) []models.DepartureCluster {
	out := append([]models.DepartureCluster(nil), in...)
	for _, c := range in {
		if models.IsWeekdayGroup(c.TimeGroup) {
			c.TimeGroup = models.TimeGroupWeekday
			out = append(out, c)
		}
	}
	return out
}

func withWeekdayDepartures(in []models.DepartureSummary) []models.DepartureSummary {
	out := append([]models.DepartureSummary(nil), in...)
	for _, d := range in {
		if models.IsWeekdayGroup(d.TimeGroup) {
			d.TimeGroup = models.TimeGroupWeekday
			out = append(out, d)
		}
	}
	return out
}
