package export

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// Bundle is the exported result of one recluster key
type Bundle struct {
	Name     string // file name stem
	GeoJSON  []byte
	CSV      []byte
	Features int
}

// BundleName returns the file name stem for a job key, e.g.
// "routecluster_1003_2024-05-01_2024-05-07". Keys with excluded dates get an
// "_excl<hash>" suffix so they never share a name with the unfiltered key.
func BundleName(key models.JobKey) string {
	prefix := "routecluster"
	if key.Table == models.TableReclusterModes {
		prefix = "modecluster"
	}
	routes := strings.ReplaceAll(key.RouteIDs, ",", "-")
	name := fmt.Sprintf("%s_%s_%s_%s", prefix, routes, key.FromOday, key.ToOday)
	if key.ExcludedDates != "" {
		sum := sha256.Sum256([]byte(key.ExcludedDates))
		name += "_excl" + hex.EncodeToString(sum[:4])
	}
	return name
}

// Build encodes the superclusters as GeoJSON and CSV
func Build(name string, supers []models.Supercluster) (*Bundle, error) {
	gj, err := GeoJSON(supers)
	if err != nil {
		return nil, err
	}
	csvData, err := CSV(supers)
	if err != nil {
		return nil, err
	}
	return &Bundle{Name: name, GeoJSON: gj, CSV: csvData, Features: len(supers)}, nil
}

// zipModified is the fixed modification time of archive entries, keeping archives reproducible
var zipModified = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Zip packs the bundle as <name>.geojson and <name>.csv
func (b *Bundle) Zip() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct {
		name string
		data []byte
	}{
		{b.Name + ".geojson", b.GeoJSON},
		{b.Name + ".csv", b.CSV},
	}
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.name,
			Method:   zip.Deflate,
			Modified: zipModified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip: %w", err)
	}
	return buf.Bytes(), nil
}
