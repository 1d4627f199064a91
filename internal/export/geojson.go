package export

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// GeoJSON encodes superclusters as a feature collection of median points
func GeoJSON(supers []models.Supercluster) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for i := range supers {
		s := &supers[i]
		f := geojson.NewFeature(orb.Point{s.Longitude, s.Latitude})
		f.Properties = properties(s)
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geojson: %w", err)
	}
	return data, nil
}

func properties(s *models.Supercluster) geojson.Properties {
	p := geojson.Properties{
		"time_group":    s.TimeGroup,
		"segment_class": s.SegmentClass,
		"cluster":       s.Cluster,
		"hdg_median":    s.Heading,
		"tst_median":    s.TimeOfDay,
		"departures":    s.Departures,
		"q_10":          s.Q10,
		"q_25":          s.Q25,
		"q_50":          s.Q50,
		"q_75":          s.Q75,
		"q_90":          s.Q90,
		"hdg_deviation": s.HeadingDeviation,
		"hdg_outlier":   s.HeadingOutlier,
	}
	if s.Family == models.FamilyModes {
		p["transport_mode"] = s.TransportMode
		return p
	}
	p["route_id"] = s.RouteID
	p["direction_id"] = s.DirectionID
	p["total_departures"] = s.TotalDepartures
	p["share_of_departures"] = s.ShareOfDepartures
	p["share_bucket"] = s.ShareBucket
	return p
}
