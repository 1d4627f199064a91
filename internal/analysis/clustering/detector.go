package clustering

import (
	"math"
	"sort"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/spatial"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/stats"
)

// Params configures Level-1 clustering
type Params struct {
	EpsKm      float64 // neighbourhood radius
	MinSamples int     // samples (point itself included) required for a core point
}

// ParamsFrom returns the Level-1 parameters of the analysis config
func ParamsFrom(cfg *config.Analysis) Params {
	return Params{EpsKm: cfg.Epsilon1Km, MinSamples: cfg.MinSamples1}
}

// Detect finds the delay clusters of one classified departure. Only DELAY and
// SLOW samples with a position take part, each segment class is clustered on
// its own and noise is discarded. The result does not depend on input order.
func Detect(samples []models.ClassifiedSample, summary *models.DepartureSummary, params Params) []models.DepartureCluster {
	partitions := make(map[string][]*models.ClassifiedSample)
	for i := range samples {
		s := &samples[i]
		if s.SpeedClass != models.SpeedDelay && s.SpeedClass != models.SpeedSlow {
			continue
		}
		if s.SegmentClass == models.SegmentStop || !s.HasPosition() {
			continue
		}
		partitions[s.SegmentClass] = append(partitions[s.SegmentClass], s)
	}
	if len(partitions) == 0 {
		return nil
	}

	classes := make([]string, 0, len(partitions))
	for c := range partitions {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	var out []models.DepartureCluster
	for _, class := range classes {
		out = append(out, detectPartition(partitions[class], summary, class, params)...)
	}
	return out
}

func detectPartition(members []*models.ClassifiedSample, summary *models.DepartureSummary, class string, params Params) []models.DepartureCluster {
	canonicalize(members)

	points := make([]spatial.Point, len(members))
	for i, s := range members {
		points[i] = spatial.Point{Lat: *s.Latitude, Lon: *s.Longitude, Weight: 1}
	}
	labels := spatial.DBSCAN(points, spatial.DBSCANParams{
		Eps:       spatial.KmToRadians(params.EpsKm),
		MinWeight: float64(params.MinSamples),
	})

	groups := map[int][]*models.ClassifiedSample{}
	maxLabel := -1
	for i, l := range labels {
		if l == spatial.Noise {
			continue
		}
		groups[l] = append(groups[l], members[i])
		if l > maxLabel {
			maxLabel = l
		}
	}

	out := make([]models.DepartureCluster, 0, len(groups))
	for l := 0; l <= maxLabel; l++ {
		g := groups[l]
		if len(g) == 0 {
			continue
		}
		out = append(out, summarize(g, summary, class, len(out)))
	}
	return out
}

// canonicalize orders members by timestamp, then position
func canonicalize(members []*models.ClassifiedSample) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if *a.Latitude != *b.Latitude {
			return *a.Latitude < *b.Latitude
		}
		return *a.Longitude < *b.Longitude
	})
}

func summarize(g []*models.ClassifiedSample, summary *models.DepartureSummary, class string, index int) models.DepartureCluster {
	lats := make([]float64, len(g))
	lons := make([]float64, len(g))
	hdgs := make([]float64, 0, len(g))
	tsts := make([]float64, len(g))
	for i, s := range g {
		lats[i] = *s.Latitude
		lons[i] = *s.Longitude
		if s.Heading != nil {
			hdgs = append(hdgs, *s.Heading)
		}
		tsts[i] = float64(s.Timestamp.UnixMilli())
	}

	head := g[0]
	c := models.DepartureCluster{
		RouteID:      head.RouteID,
		DirectionID:  head.DirectionID,
		Oday:         head.Oday,
		Start:        head.Start,
		TimeGroup:    head.TimeGroup,
		SegmentClass: class,
		Cluster:      index,
		Latitude:     stats.Median(lats),
		Longitude:    stats.Median(lons),
		Heading:      stats.Median(hdgs),
		Timestamp:    time.UnixMilli(int64(math.Round(stats.Median(tsts)))).UTC(),
		Weight:       len(g),
	}
	if summary != nil {
		c.RouteID = summary.RouteID
		c.DirectionID = summary.DirectionID
		c.Oday = summary.Oday
		c.Start = summary.Start
		c.TimeGroup = summary.TimeGroup
		c.TransportMode = summary.TransportMode
	}
	return c
}
