package service

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/database"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/repository"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }

type fakeTelemetry struct {
	samples map[string][]models.TelemetrySample // by route
	loads   []string
	err     error
}

func (f *fakeTelemetry) ListRoutes(_ context.Context, _ string) ([]string, error) {
	var routes []string
	for r := range f.samples {
		routes = append(routes, r)
	}
	return routes, nil
}

func (f *fakeTelemetry) LoadRouteDay(_ context.Context, routeID, _ string) ([]models.TelemetrySample, error) {
	f.loads = append(f.loads, routeID)
	if f.err != nil {
		return nil, f.err
	}
	return f.samples[routeID], nil
}

type storedDay struct {
	mode       string
	clusters   []models.DepartureCluster
	departures []models.DepartureSummary
}

type fakeWriter struct {
	mu     sync.Mutex
	stored map[string]storedDay // route|oday
}

func (f *fakeWriter) Exists(_ context.Context, routeID, oday string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stored[routeID+"|"+oday]
	return ok, nil
}

func (f *fakeWriter) Store(_ context.Context, routeID, mode, oday string, clusters []models.DepartureCluster, departures []models.DepartureSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = map[string]storedDay{}
	}
	f.stored[routeID+"|"+oday] = storedDay{mode, clusters, departures}
	return nil
}

// crawlingDeparture leaves stop A, crawls six samples within ten metres and
// serves stop B. Only the crawl forms a delay cluster.
func crawlingDeparture(vehicle int) []models.TelemetrySample {
	type row struct {
		spd   float64
		door  models.DoorState
		stop  string
		north float64
	}
	rows := []row{
		{3, models.DoorClosed, "A", 0},
		{0, models.DoorOpen, "A", 0},
		{0, models.DoorOpen, "A", 0},
		{2, models.DoorClosed, "A", 5},
		{0.5, models.DoorClosed, "", 10},
		{0.5, models.DoorClosed, "", 12},
		{0.5, models.DoorClosed, "", 14},
		{0.5, models.DoorClosed, "", 16},
		{0.5, models.DoorClosed, "", 18},
		{0.5, models.DoorClosed, "", 20},
		{8, models.DoorClosed, "", 100},
		{1, models.DoorClosed, "B", 110},
		{0, models.DoorOpen, "B", 110},
		{2, models.DoorClosed, "B", 115},
	}
	base := time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC) // 07:00 in Helsinki
	out := make([]models.TelemetrySample, len(rows))
	for i, r := range rows {
		out[i] = models.TelemetrySample{
			VehicleNumber: vehicle,
			OperatorID:    22,
			RouteID:       "1003",
			DirectionID:   1,
			Oday:          "2024-05-01",
			Start:         "07:00:00",
			TransportMode: "bus",
			EventType:     "VP",
			Timestamp:     base.Add(time.Duration(i*10) * time.Second),
			Loc:           models.LocGPS,
			Latitude:      fp(60.17 + r.north/111320.0),
			Longitude:     fp(24.94),
			Heading:       fp(0),
			Odometer:      fp(r.north),
			Speed:         fp(r.spd),
			Door:          r.door,
		}
		if r.stop != "" {
			out[i].Stop = sp(r.stop)
		}
	}
	return out
}

func routeDay() []models.TelemetrySample {
	good := crawlingDeparture(12)

	closed := crawlingDeparture(13)
	for i := range closed {
		closed[i].Door = models.DoorClosed
	}

	noGPS := crawlingDeparture(14)
	for i := range noGPS {
		noGPS[i].Loc = models.LocNA
	}

	out := append(good, closed...)
	return append(out, noGPS...)
}

func newTestPreprocess(source TelemetrySource, writer ClusterWriter) *PreprocessService {
	cfg := config.DefaultAnalysis()
	cfg.Workers = 2
	return NewPreprocessService(source, writer, &cfg, quietLogger())
}

func TestPreprocessRoute(t *testing.T) {
	source := &fakeTelemetry{samples: map[string][]models.TelemetrySample{"1003": routeDay()}}
	writer := &fakeWriter{}
	svc := newTestPreprocess(source, writer)

	report, err := svc.Run(context.Background(), "2024-05-01", []string{"1003"}, false)
	require.NoError(t, err)
	require.Len(t, report.Routes, 1)

	rr := report.Routes[0]
	assert.False(t, rr.Skipped)
	assert.Equal(t, 3, rr.Departures)
	assert.Equal(t, 1, rr.Clustered)
	assert.Equal(t, 1, rr.QualityFailed)
	assert.Equal(t, 1, rr.SkippedDepartures)
	assert.Equal(t, 1, rr.Clusters)

	day, ok := writer.stored["1003|2024-05-01"]
	require.True(t, ok)
	assert.Equal(t, "bus", day.mode)
	require.Len(t, day.departures, 1)
	assert.Equal(t, 12, day.departures[0].VehicleNumber)
	assert.Equal(t, models.TimeGroupMorningPeak, day.departures[0].TimeGroup)

	require.Len(t, day.clusters, 1)
	c := day.clusters[0]
	assert.Equal(t, 6, c.Weight)
	assert.Equal(t, models.SegmentOnRoute, c.SegmentClass)
	assert.Equal(t, "07:00:00", c.Start)
	assert.InDelta(t, 60.17+15/111320.0, c.Latitude, 1e-9)
}

func TestPreprocessSkipsStoredDays(t *testing.T) {
	source := &fakeTelemetry{samples: map[string][]models.TelemetrySample{"1003": routeDay()}}
	writer := &fakeWriter{}
	svc := newTestPreprocess(source, writer)
	ctx := context.Background()

	_, err := svc.Run(ctx, "2024-05-01", []string{"1003"}, false)
	require.NoError(t, err)

	report, err := svc.Run(ctx, "2024-05-01", []string{"1003"}, false)
	require.NoError(t, err)
	assert.True(t, report.Routes[0].Skipped)
	assert.Len(t, source.loads, 1, "stored day is not loaded again")

	report, err = svc.Run(ctx, "2024-05-01", []string{"1003"}, true)
	require.NoError(t, err)
	assert.False(t, report.Routes[0].Skipped)
	assert.Len(t, source.loads, 2, "force reprocesses")
}

func TestPreprocessAllRoutesAndEmptyDays(t *testing.T) {
	source := &fakeTelemetry{samples: map[string][]models.TelemetrySample{
		"1003": routeDay(),
		"550":  nil,
	}}
	writer := &fakeWriter{}
	svc := newTestPreprocess(source, writer)

	report, err := svc.Run(context.Background(), "2024-05-01", nil, false)
	require.NoError(t, err)
	require.Len(t, report.Routes, 2)
	assert.Equal(t, 1, report.Totals().Clusters)

	_, stored := writer.stored["550|2024-05-01"]
	assert.False(t, stored, "a route day without positions is not stored")
}

func TestPreprocessQualityFailuresStillStored(t *testing.T) {
	closed := crawlingDeparture(13)
	for i := range closed {
		closed[i].Door = models.DoorClosed
	}
	source := &fakeTelemetry{samples: map[string][]models.TelemetrySample{"1003": closed}}
	writer := &fakeWriter{}
	svc := newTestPreprocess(source, writer)

	report, err := svc.Run(context.Background(), "2024-05-01", []string{"1003"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Routes[0].QualityFailed)

	day, ok := writer.stored["1003|2024-05-01"]
	require.True(t, ok, "empty tables mark the day as processed")
	assert.Empty(t, day.clusters)
	assert.Empty(t, day.departures)
}

func TestPreprocessSourceError(t *testing.T) {
	boom := errors.New("connection refused")
	source := &fakeTelemetry{err: boom}
	writer := &fakeWriter{}
	svc := newTestPreprocess(source, writer)

	_, err := svc.Run(context.Background(), "2024-05-01", []string{"1003"}, false)
	assert.ErrorIs(t, err, boom)

	// the route lock is released on failure
	unlock, ok := svc.tryLock("1003", "2024-05-01")
	require.True(t, ok)
	unlock()
}

func TestPreprocessRouteLock(t *testing.T) {
	svc := newTestPreprocess(&fakeTelemetry{}, &fakeWriter{})

	unlock, ok := svc.tryLock("1003", "2024-05-01")
	require.True(t, ok)

	_, again := svc.tryLock("1003", "2024-05-01")
	assert.False(t, again)

	rr, err := svc.ProcessRoute(context.Background(), "1003", "2024-05-01", true)
	require.NoError(t, err)
	assert.True(t, rr.Skipped, "a busy route day is skipped")

	other, ok := svc.tryLock("1003", "2024-05-02")
	require.True(t, ok, "other days are independent")
	other()

	unlock()
	unlock2, ok := svc.tryLock("1003", "2024-05-01")
	require.True(t, ok)
	unlock2()
}

func TestDefaultOday(t *testing.T) {
	cfg := config.DefaultAnalysis()

	// 00:30 on May 2nd in Helsinki is still May 1st in UTC
	now := time.Date(2024, 5, 1, 21, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-01", DefaultOday(now, &cfg))

	cfg.PreprocessLagDays = 0
	assert.Equal(t, "2024-05-02", DefaultOday(now, &cfg))
}

func TestDailyWorkerRunOnce(t *testing.T) {
	source := &fakeTelemetry{samples: map[string][]models.TelemetrySample{"1003": routeDay()}}
	writer := &fakeWriter{}
	w := NewDailyWorker(newTestPreprocess(source, writer), time.Hour, quietLogger())
	w.Now = func() time.Time { return time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC) }

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", report.Oday)
	_, ok := writer.stored["1003|2024-05-01"]
	assert.True(t, ok)

	w.Start()
	w.Stop()
}

// blockingTelemetry lists routes only once the run context is cancelled
type blockingTelemetry struct {
	listing chan struct{}
	once    sync.Once
	err     error
}

func (b *blockingTelemetry) ListRoutes(ctx context.Context, _ string) ([]string, error) {
	b.once.Do(func() { close(b.listing) })
	<-ctx.Done()
	b.err = ctx.Err()
	return nil, b.err
}

func (b *blockingTelemetry) LoadRouteDay(context.Context, string, string) ([]models.TelemetrySample, error) {
	return nil, nil
}

func TestDailyWorkerStopCancelsRun(t *testing.T) {
	source := &blockingTelemetry{listing: make(chan struct{})}
	w := NewDailyWorker(newTestPreprocess(source, &fakeWriter{}), time.Millisecond, quietLogger())
	w.Start()

	select {
	case <-source.listing:
	case <-time.After(5 * time.Second):
		t.Fatal("daily run did not start")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.ErrorIs(t, source.err, context.Canceled, "Stop returns only after the run saw the cancellation")
}

func TestPreprocessRerunStoresIdenticalBytes(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigrateUp(db))

	blobs, err := repository.NewFileBlobStore(t.TempDir())
	require.NoError(t, err)
	store := repository.NewClusterStore(db, blobs, quietLogger())
	source := &fakeTelemetry{samples: map[string][]models.TelemetrySample{"1003": routeDay()}}
	svc := newTestPreprocess(source, store)

	read := func() (clusters, departures, clusterBlob []byte) {
		require.NoError(t, db.QueryRow(
			`SELECT clusters, departures FROM delay_clusters WHERE route_id = ? AND oday = ?`,
			"1003", "2024-05-01").Scan(&clusters, &departures))
		ck, _ := repository.BlobKeys("1003", "2024-05-01")
		clusterBlob, err := blobs.Get(ctx, ck)
		require.NoError(t, err)
		return clusters, departures, clusterBlob
	}

	rr, err := svc.ProcessRoute(ctx, "1003", "2024-05-01", true)
	require.NoError(t, err)
	require.Equal(t, 1, rr.Clusters)
	c1, d1, b1 := read()

	// samples arrive in a different order on the second run
	day := routeDay()
	for i, j := 0, len(day)-1; i < j; i, j = i+1, j-1 {
		day[i], day[j] = day[j], day[i]
	}
	source.samples["1003"] = day

	_, err = svc.ProcessRoute(ctx, "1003", "2024-05-01", true)
	require.NoError(t, err)
	c2, d2, b2 := read()

	assert.Equal(t, c1, c2)
	assert.Equal(t, d1, d2)
	assert.Equal(t, b1, b2)
	assert.Equal(t, c1, b1, "blob mirror holds the stored table")
}
