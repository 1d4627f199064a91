package clustering

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/analysis/classifier"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
)

func fp(v float64) *float64 { return &v }
func sp(v string) *string   { return &v }

var base = time.Date(2024, 5, 1, 4, 0, 0, 0, time.UTC) // 07:00 in Helsinki, a Wednesday

// scenarioDeparture is six samples of one departure with speeds
// 0.1, 0.1, 0.9, 0.9, 0.1, 0.1 m/s, doors closed throughout and a stop on
// samples 2-4. Samples 1 and 6 lie a few metres apart, sample 5 far away.
func scenarioDeparture() []models.TelemetrySample {
	speeds := []float64{0.1, 0.1, 0.9, 0.9, 0.1, 0.1}
	northM := []float64{0, 300, 310, 320, 900, 4}
	out := make([]models.TelemetrySample, len(speeds))
	for i := range speeds {
		out[i] = models.TelemetrySample{
			VehicleNumber: 12,
			OperatorID:    22,
			RouteID:       "1003",
			DirectionID:   1,
			Oday:          "2024-05-01",
			Start:         "06:55:00",
			TransportMode: "bus",
			EventType:     "VP",
			Timestamp:     base.Add(time.Duration(i*10) * time.Second),
			Loc:           models.LocGPS,
			Latitude:      fp(60.17 + northM[i]/111320.0),
			Longitude:     fp(24.94),
			Heading:       fp(0),
			Speed:         fp(speeds[i]),
			Door:          models.DoorClosed,
		}
		if i >= 1 && i <= 3 {
			out[i].Stop = sp("1130446")
		}
	}
	return out
}

func scenarioConfig() *config.Analysis {
	cfg := config.DefaultAnalysis()
	cfg.DelaySpeed = 0.5
	cfg.FastSpeed = 0.8
	return &cfg
}

func TestScenarioLabels(t *testing.T) {
	labelled := classifier.Label(scenarioDeparture(), scenarioConfig())
	require.Len(t, labelled, 6)

	type label struct{ speed, segment string }
	var got []label
	for _, s := range labelled {
		got = append(got, label{s.SpeedClass, s.SegmentClass})
	}
	want := []label{
		{models.SpeedDelay, models.SegmentOnRoute},
		{models.SpeedDelay, models.SegmentPass},
		{models.SpeedFast, models.SegmentPass},
		{models.SpeedFast, models.SegmentPass},
		{models.SpeedDelay, models.SegmentOnRoute},
		{models.SpeedDelay, models.SegmentOnRoute},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(label{})); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioClusters(t *testing.T) {
	labelled := classifier.Label(scenarioDeparture(), scenarioConfig())

	clusters := Detect(labelled, nil, Params{EpsKm: 0.02, MinSamples: 2})
	require.Len(t, clusters, 1)
	c := clusters[0]
	assert.Equal(t, 2, c.Weight)
	assert.Equal(t, models.SegmentOnRoute, c.SegmentClass)
	assert.Equal(t, 0, c.Cluster)
	assert.InDelta(t, 60.17+2/111320.0, c.Latitude, 1e-9)
	assert.True(t, c.Timestamp.Equal(base.Add(25*time.Second)), c.Timestamp)
	assert.Equal(t, models.TimeGroupMorningPeak, c.TimeGroup)

	assert.Empty(t, Detect(labelled, nil, Params{EpsKm: 0.02, MinSamples: 5}))
}

func TestScenarioFailsQualityGate(t *testing.T) {
	res := classifier.ClassifyDeparture(scenarioDeparture(), scenarioConfig())
	assert.False(t, res.Usable())
	assert.True(t, res.Flags.DoorsAlwaysClosed)
	assert.True(t, res.Flags.TooFewSamples)
}

func TestDetectSkipsStopSegmentsAndFastSamples(t *testing.T) {
	var samples []models.ClassifiedSample
	for i := 0; i < 5; i++ {
		s := models.ClassifiedSample{
			TelemetrySample: models.TelemetrySample{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				Latitude:  fp(60.17),
				Longitude: fp(24.94),
				Heading:   fp(0),
			},
			SpeedClass:   models.SpeedDelay,
			SegmentClass: models.SegmentStop,
		}
		samples = append(samples, s)
	}
	assert.Empty(t, Detect(samples, nil, Params{EpsKm: 0.02, MinSamples: 2}))

	for i := range samples {
		samples[i].SegmentClass = models.SegmentArrive
		samples[i].SpeedClass = models.SpeedFast
	}
	assert.Empty(t, Detect(samples, nil, Params{EpsKm: 0.02, MinSamples: 2}))

	for i := range samples {
		samples[i].SpeedClass = models.SpeedSlow
	}
	clusters := Detect(samples, nil, Params{EpsKm: 0.02, MinSamples: 2})
	require.Len(t, clusters, 1)
	assert.Equal(t, 5, clusters[0].Weight)
	assert.Equal(t, models.SegmentArrive, clusters[0].SegmentClass)
}

func TestDetectTagsSummary(t *testing.T) {
	labelled := classifier.Label(scenarioDeparture(), scenarioConfig())
	summary := &models.DepartureSummary{
		RouteID:       "1003",
		DirectionID:   1,
		Oday:          "2024-05-01",
		Start:         "06:55:00",
		TransportMode: "bus",
		TimeGroup:     models.TimeGroupDaytime,
	}

	clusters := Detect(labelled, summary, Params{EpsKm: 0.02, MinSamples: 2})
	require.Len(t, clusters, 1)
	assert.Equal(t, models.TimeGroupDaytime, clusters[0].TimeGroup)
	assert.Equal(t, "bus", clusters[0].TransportMode)
}

func TestDetectOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var samples []models.ClassifiedSample
	for i := 0; i < 80; i++ {
		class := models.SegmentOnRoute
		if i%3 == 0 {
			class = models.SegmentDepart
		}
		center := float64(i%4) * 200
		samples = append(samples, models.ClassifiedSample{
			TelemetrySample: models.TelemetrySample{
				Timestamp: base.Add(time.Duration(i) * time.Second),
				Latitude:  fp(60.17 + (center+rng.NormFloat64()*8)/111320.0),
				Longitude: fp(24.94 + rng.NormFloat64()*8/55400.0),
				Heading:   fp(float64(rng.Intn(360))),
			},
			SpeedClass:   models.SpeedDelay,
			SegmentClass: class,
		})
	}
	params := Params{EpsKm: 0.02, MinSamples: 4}
	want := Detect(samples, nil, params)
	require.NotEmpty(t, want)

	for round := 0; round < 5; round++ {
		shuffled := append([]models.ClassifiedSample(nil), samples...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if diff := cmp.Diff(want, Detect(shuffled, nil, params)); diff != "" {
			t.Fatalf("round %d: result depends on input order (-want +got):\n%s", round, diff)
		}
	}
}
