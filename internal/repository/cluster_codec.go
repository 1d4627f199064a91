package repository

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

// tstLayout is the timestamp layout of the persisted cluster table
const tstLayout = "2006-01-02T15:04:05.000Z07:00"

var clusterColumns = []string{
	"route_id", "direction_id", "oday", "start", "time_group", "segment_class",
	"cluster", "lat_median", "long_median", "hdg_median", "tst_median", "weight",
}

var departureColumns = []string{
	"route_id", "direction_id", "oday", "start", "operator_id", "vehicle_number",
	"transport_mode", "time_group",
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// codecs returns shared zstd coders. EncodeAll/DecodeAll are safe for concurrent use;
// a single encoder goroutine keeps the output byte-stable.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

func compress(table []byte) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return enc.EncodeAll(table, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress table: %w", err)
	}
	return out, nil
}

func writeTable(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readTable(data []byte, header []string) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = len(header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table has no header")
	}
	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("unexpected column %q at %d, want %q", records[0][i], i, col)
		}
	}
	return records[1:], nil
}

// EncodeClusters renders the cluster table as compressed semicolon CSV
func EncodeClusters(clusters []models.DepartureCluster) ([]byte, error) {
	rows := make([][]string, len(clusters))
	for i, c := range clusters {
		rows[i] = []string{
			c.RouteID, strconv.Itoa(c.DirectionID), c.Oday, c.Start, c.TimeGroup, c.SegmentClass,
			strconv.Itoa(c.Cluster), ff(c.Latitude), ff(c.Longitude), ff(c.Heading),
			c.Timestamp.UTC().Format(tstLayout), strconv.Itoa(c.Weight),
		}
	}
	table, err := writeTable(clusterColumns, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to write cluster table: %w", err)
	}
	return compress(table)
}

// DecodeClusters parses a table written by EncodeClusters
func DecodeClusters(data []byte) ([]models.DepartureCluster, error) {
	table, err := decompress(data)
	if err != nil {
		return nil, err
	}
	rows, err := readTable(table, clusterColumns)
	if err != nil {
		return nil, err
	}

	out := make([]models.DepartureCluster, len(rows))
	for i, row := range rows {
		p := fieldParser{row: row}
		out[i] = models.DepartureCluster{
			RouteID:      row[0],
			DirectionID:  p.atoi(1),
			Oday:         row[2],
			Start:        row[3],
			TimeGroup:    row[4],
			SegmentClass: row[5],
			Cluster:      p.atoi(6),
			Latitude:     p.atof(7),
			Longitude:    p.atof(8),
			Heading:      p.atof(9),
			Timestamp:    p.tst(10),
			Weight:       p.atoi(11),
		}
		if p.err != nil {
			return nil, fmt.Errorf("cluster row %d: %w", i+1, p.err)
		}
	}
	return out, nil
}

// EncodeDepartures renders the departure table as compressed semicolon CSV
func EncodeDepartures(departures []models.DepartureSummary) ([]byte, error) {
	rows := make([][]string, len(departures))
	for i, d := range departures {
		rows[i] = []string{
			d.RouteID, strconv.Itoa(d.DirectionID), d.Oday, d.Start,
			strconv.Itoa(d.OperatorID), strconv.Itoa(d.VehicleNumber), d.TransportMode, d.TimeGroup,
		}
	}
	table, err := writeTable(departureColumns, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to write departure table: %w", err)
	}
	return compress(table)
}

// DecodeDepartures parses a table written by EncodeDepartures
func DecodeDepartures(data []byte) ([]models.DepartureSummary, error) {
	table, err := decompress(data)
	if err != nil {
		return nil, err
	}
	rows, err := readTable(table, departureColumns)
	if err != nil {
		return nil, err
	}

	out := make([]models.DepartureSummary, len(rows))
	for i, row := range rows {
		p := fieldParser{row: row}
		out[i] = models.DepartureSummary{
			RouteID:       row[0],
			DirectionID:   p.atoi(1),
			Oday:          row[2],
			Start:         row[3],
			OperatorID:    p.atoi(4),
			VehicleNumber: p.atoi(5),
			TransportMode: row[6],
			TimeGroup:     row[7],
		}
		if p.err != nil {
			return nil, fmt.Errorf("departure row %d: %w", i+1, p.err)
		}
	}
	return out, nil
}

// fieldParser keeps the first conversion error of a row
type fieldParser struct {
	row []string
	err error
}

func (p *fieldParser) atoi(i int) int {
	v, err := strconv.Atoi(p.row[i])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", p.row[i], err)
	}
	return v
}

func (p *fieldParser) atof(i int) float64 {
	v, err := strconv.ParseFloat(p.row[i], 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", p.row[i], err)
	}
	return v
}

func (p *fieldParser) tst(i int) time.Time {
	v, err := time.Parse(tstLayout, p.row[i])
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("column %s: %w", p.row[i], err)
	}
	return v
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
