package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"io"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

func routeSuper() models.Supercluster {
	return models.Supercluster{
		Family:            models.FamilyRoutes,
		RouteID:           "1003",
		DirectionID:       1,
		TimeGroup:         models.TimeGroupMorningPeak,
		SegmentClass:      models.SegmentOnRoute,
		Latitude:          60.17,
		Longitude:         24.94,
		Heading:           90,
		TimeOfDay:         "07:00:10",
		Departures:        3,
		Q10:               14.2,
		Q25:               14.5,
		Q50:               15,
		Q75:               15.5,
		Q90:               15.8,
		TotalDepartures:   4,
		ShareOfDepartures: 75,
		ShareBucket:       "70-80%",
	}
}

func TestBundleName(t *testing.T) {
	key := models.JobKey{
		Table:    models.TableReclusterRoutes,
		RouteIDs: "1003,1004",
		FromOday: "2024-05-01",
		ToOday:   "2024-05-07",
	}
	assert.Equal(t, "routecluster_1003-1004_2024-05-01_2024-05-07", BundleName(key))

	key.Table = models.TableReclusterModes
	key.RouteIDs = models.AllRoutes
	assert.Equal(t, "modecluster_ALL_2024-05-01_2024-05-07", BundleName(key))

	key.ExcludedDates = "2024-05-02,2024-05-04"
	assert.Equal(t, "modecluster_ALL_2024-05-01_2024-05-07_excl858f1676", BundleName(key))

	other := key
	other.ExcludedDates = "2024-05-03"
	assert.NotEqual(t, BundleName(key), BundleName(other))
}

func TestGeoJSON(t *testing.T) {
	data, err := GeoJSON([]models.Supercluster{routeSuper()})
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, orb.Point{24.94, 60.17}, f.Geometry)
	assert.Equal(t, "1003", f.Properties.MustString("route_id"))
	assert.Equal(t, "70-80%", f.Properties.MustString("share_bucket"))
	assert.Equal(t, 15.0, f.Properties.MustFloat64("q_50"))
	assert.Equal(t, "07:00:10", f.Properties.MustString("tst_median"))
}

func TestGeoJSONModeProperties(t *testing.T) {
	s := models.Supercluster{Family: models.FamilyModes, TransportMode: "tram", TimeGroup: models.TimeGroupWeekend}
	data, err := GeoJSON([]models.Supercluster{s})
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	props := fc.Features[0].Properties
	assert.Equal(t, "tram", props.MustString("transport_mode"))
	_, hasRoute := props["route_id"]
	assert.False(t, hasRoute)
}

func TestCSV(t *testing.T) {
	data, err := CSV([]models.Supercluster{routeSuper()})
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, routeColumns, rows[0])
	assert.Equal(t, []string{
		"1003", "1", "AHT", "on_route", "0",
		"60.17", "24.94", "90", "07:00:10", "3",
		"14.2", "14.5", "15", "15.5", "15.8",
		"4", "75", "70-80%",
		"0", "false",
	}, rows[1])
}

func TestCSVEmptyHasHeader(t *testing.T) {
	data, err := CSV(nil)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{routeColumns}, rows)
}

func TestBundleZip(t *testing.T) {
	b, err := Build("routecluster_1003_2024-05-01_2024-05-07", []models.Supercluster{routeSuper()})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Features)

	data, err := b.Zip()
	require.NoError(t, err)

	again, err := b.Zip()
	require.NoError(t, err)
	assert.Equal(t, data, again, "archives are reproducible")

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "routecluster_1003_2024-05-01_2024-05-07.geojson", zr.File[0].Name)
	assert.Equal(t, "routecluster_1003_2024-05-01_2024-05-07.csv", zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, b.CSV, content)
}
