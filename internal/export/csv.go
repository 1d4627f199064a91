package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

var routeColumns = []string{
	"route_id", "direction_id", "time_group", "segment_class", "cluster",
	"lat_median", "long_median", "hdg_median", "tst_median", "departures",
	"q_10", "q_25", "q_50", "q_75", "q_90",
	"total_departures", "share_of_departures", "share_bucket",
	"hdg_deviation", "hdg_outlier",
}

var modeColumns = []string{
	"transport_mode", "time_group", "segment_class", "cluster",
	"lat_median", "long_median", "hdg_median", "tst_median", "departures",
	"q_10", "q_25", "q_50", "q_75", "q_90",
	"hdg_deviation", "hdg_outlier",
}

// CSV encodes superclusters as a table with a header row
func CSV(supers []models.Supercluster) ([]byte, error) {
	family := models.FamilyRoutes
	if len(supers) > 0 {
		family = supers[0].Family
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := routeColumns
	if family == models.FamilyModes {
		header = modeColumns
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for i := range supers {
		if err := w.Write(record(&supers[i])); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func record(s *models.Supercluster) []string {
	common := []string{
		s.TimeGroup, s.SegmentClass, strconv.Itoa(s.Cluster),
		ff(s.Latitude), ff(s.Longitude), ff(s.Heading), s.TimeOfDay, strconv.Itoa(s.Departures),
		ff(s.Q10), ff(s.Q25), ff(s.Q50), ff(s.Q75), ff(s.Q90),
	}
	tail := []string{ff(s.HeadingDeviation), strconv.FormatBool(s.HeadingOutlier)}

	if s.Family == models.FamilyModes {
		row := append([]string{s.TransportMode}, common...)
		return append(row, tail...)
	}
	row := append([]string{s.RouteID, strconv.Itoa(s.DirectionID)}, common...)
	row = append(row, strconv.Itoa(s.TotalDepartures), ff(s.ShareOfDepartures), s.ShareBucket)
	return append(row, tail...)
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
