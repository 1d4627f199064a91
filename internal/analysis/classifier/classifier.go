package classifier

import (
	"math"
	"sort"
	"time"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/models"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/spatial"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/stats"
)

// secondsPerDay and halfDay bound the midnight wraparound correction
const (
	secondsPerDay = 86400
	halfDay       = secondsPerDay / 2
)

// Result is the outcome of classifying one departure
type Result struct {
	Key     models.DepartureKey
	Samples []models.ClassifiedSample // trimmed and labelled, empty unless Usable
	Summary *models.DepartureSummary  // nil when skipped
	Flags   models.QualityFlags
	Skipped bool // no usable samples at all
}

// Usable reports whether the departure may be clustered
func (r *Result) Usable() bool {
	return !r.Skipped && !r.Flags.Any()
}

// Departure is the set of samples sharing one departure key
type Departure struct {
	Key     models.DepartureKey
	Samples []models.TelemetrySample
}

// GroupDepartures splits samples into departures, ordered by key
func GroupDepartures(samples []models.TelemetrySample) []Departure {
	index := make(map[models.DepartureKey]int)
	var out []Departure
	for _, s := range samples {
		k := models.KeyOf(&s)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Departure{Key: k})
		}
		out[i].Samples = append(out[i].Samples, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// ClassifyDeparture derives features, applies the quality gate and labels
// the samples of one departure. It never fails: malformed data surfaces as
// flags or a skip.
func ClassifyDeparture(samples []models.TelemetrySample, cfg *config.Analysis) Result {
	var res Result
	if len(samples) > 0 {
		res.Key = models.KeyOf(&samples[0])
	}

	prepared := prepare(samples)
	if len(prepared) == 0 {
		res.Skipped = true
		return res
	}

	derived := derive(prepared, cfg.Location())
	res.Flags = qualityFlags(derived, cfg)
	if res.Flags.Any() {
		return res
	}

	first, last := -1, -1
	for i := range derived {
		if derived[i].HasStop() {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		res.Skipped = true
		return res
	}
	trimmed := derived[first : last+1]
	if len(trimmed) < 2 {
		res.Flags.TooFewSamples = true
		return res
	}

	res.Samples = labelDerived(trimmed, cfg)

	head := res.Samples[0]
	res.Summary = &models.DepartureSummary{
		RouteID:       head.RouteID,
		DirectionID:   head.DirectionID,
		Oday:          head.Oday,
		Start:         head.Start,
		OperatorID:    head.OperatorID,
		VehicleNumber: head.VehicleNumber,
		TransportMode: head.TransportMode,
		TimeGroup:     head.TimeGroup,
	}
	return res
}

// Label derives features and labels for the samples without the quality
// gate or stop trimming
func Label(samples []models.TelemetrySample, cfg *config.Analysis) []models.ClassifiedSample {
	prepared := prepare(samples)
	if len(prepared) == 0 {
		return nil
	}
	return labelDerived(derive(prepared, cfg.Location()), cfg)
}

// prepare drops samples of unusable location quality, orders by timestamp and
// removes duplicate timestamps. The input is not modified.
func prepare(samples []models.TelemetrySample) []models.TelemetrySample {
	out := make([]models.TelemetrySample, 0, len(samples))
	for _, s := range samples {
		if s.Loc == models.LocGPS || s.Loc == models.LocDR {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	deduped := out[:0]
	for i, s := range out {
		if i > 0 && s.Timestamp.Equal(out[i-1].Timestamp) {
			continue
		}
		deduped = append(deduped, s)
	}
	return deduped
}

// derive computes elapsed seconds, midnight-corrected deltas and heading deltas
func derive(samples []models.TelemetrySample, loc *time.Location) []models.ClassifiedSample {
	out := make([]models.ClassifiedSample, len(samples))
	raw := make([]*float64, len(samples))
	for i := range samples {
		out[i].TelemetrySample = samples[i]
		out[i].ElapsedSeconds = ElapsedSeconds(samples[i].Timestamp, loc)
		raw[i] = samples[i].Heading
		if i > 0 {
			out[i].DeltaSeconds = CorrectedDelta(out[i-1].ElapsedSeconds, out[i].ElapsedSeconds)
		}
	}

	headings := spatial.FillHeadings(raw)
	for i := range out {
		h := headings[i]
		out[i].Heading = &h
		if i > 0 {
			out[i].HeadingDelta = spatial.HeadingDelta(headings[i-1], headings[i])
		}
	}
	return out
}

// ElapsedSeconds returns the seconds since local midnight of t
func ElapsedSeconds(t time.Time, loc *time.Location) int {
	lt := t.In(loc)
	return lt.Hour()*3600 + lt.Minute()*60 + lt.Second()
}

// CorrectedDelta returns cur-prev, adding a day when the clock wrapped past midnight
func CorrectedDelta(prev, cur int) int {
	d := cur - prev
	if d < -halfDay {
		d += secondsPerDay
	}
	return d
}

func qualityFlags(samples []models.ClassifiedSample, cfg *config.Analysis) models.QualityFlags {
	var f models.QualityFlags

	doors := map[models.DoorState]int{}
	var withStop, withOdo, withPos int
	for i := range samples {
		s := &samples[i]
		doors[s.Door]++
		if s.HasStop() {
			withStop++
		}
		if s.Odometer != nil {
			withOdo++
		}
		if s.HasPosition() {
			withPos++
		}
		if s.DeltaSeconds > cfg.MaxGapSeconds {
			f.TimeGap = true
		}
		if i > 0 && s.HeadingDelta >= cfg.ReversalDegree && s.Speed != nil && *s.Speed >= cfg.ReversalSpeed {
			f.HeadingReversal = true
		}
	}

	n := len(samples)
	f.DoorsAlwaysOpen = doors[models.DoorOpen] == n
	f.DoorsAlwaysClosed = doors[models.DoorClosed] == n
	f.DoorsAlwaysMissing = doors[models.DoorUnknown] == n
	f.TooFewSamples = n < cfg.MinSamples
	f.NoStops = withStop == 0
	f.OdometerMissing = withOdo == 0
	f.PositionMissing = withPos == 0
	return f
}

// labelDerived computes speeds and assigns speed, segment and time group labels
func labelDerived(derived []models.ClassifiedSample, cfg *config.Analysis) []models.ClassifiedSample {
	out := make([]models.ClassifiedSample, len(derived))
	copy(out, derived)

	odoSpeed := odometerSpeed(out, cfg.RollingWindow)
	tg := newTimeGrouper(cfg)
	for i := range out {
		s := &out[i]
		spd := math.NaN()
		if s.Speed != nil {
			spd = *s.Speed
		}
		s.OdometerSpeed = odoSpeed[i]
		s.MeanSpeed = stats.MeanOfAvailable(odoSpeed[i], spd)
		s.SpeedClass = speedClass(s.Door, s.MeanSpeed, cfg)
		s.TimeGroup = tg.group(s)
	}
	assignSegments(out)
	return out
}

// odometerSpeed is the rolling mean of the per-step odometer speed, edge filled.
// All NaN when no step speed can be computed.
func odometerSpeed(samples []models.ClassifiedSample, window int) []float64 {
	steps := make([]float64, len(samples))
	for i := range samples {
		steps[i] = math.NaN()
		if i == 0 {
			continue
		}
		prev, cur := samples[i-1].Odometer, samples[i].Odometer
		if prev != nil && cur != nil && samples[i].DeltaSeconds > 0 {
			steps[i] = (*cur - *prev) / float64(samples[i].DeltaSeconds)
		}
	}
	smoothed := stats.RollingMean(steps, window)
	stats.FillNaN(smoothed)
	return smoothed
}

func speedClass(door models.DoorState, meanSpeed float64, cfg *config.Analysis) string {
	if math.IsNaN(meanSpeed) {
		return models.SpeedError
	}
	switch door {
	case models.DoorClosed:
		switch {
		case meanSpeed < cfg.DelaySpeed:
			return models.SpeedDelay
		case meanSpeed >= cfg.FastSpeed:
			return models.SpeedFast
		default:
			return models.SpeedSlow
		}
	case models.DoorOpen:
		if meanSpeed < cfg.StopSpeed {
			return models.SpeedStop
		}
		return models.SpeedError
	default:
		return models.SpeedDoorsErr
	}
}

// assignSegments labels each run of consecutive samples sharing a stop
func assignSegments(samples []models.ClassifiedSample) {
	for start := 0; start < len(samples); {
		end := start + 1
		for end < len(samples) && sameStop(&samples[start], &samples[end]) {
			end++
		}
		labelStopRun(samples[start:end])
		start = end
	}
}

func sameStop(a, b *models.ClassifiedSample) bool {
	if !a.HasStop() || !b.HasStop() {
		return !a.HasStop() && !b.HasStop()
	}
	return *a.Stop == *b.Stop
}

func labelStopRun(run []models.ClassifiedSample) {
	if !run[0].HasStop() {
		for i := range run {
			run[i].SegmentClass = models.SegmentOnRoute
		}
		return
	}

	firstOpen, lastOpen := -1, -1
	for i := range run {
		if run[i].Door == models.DoorOpen {
			if firstOpen < 0 {
				firstOpen = i
			}
			lastOpen = i
		}
	}
	closedAfter := false
	if lastOpen >= 0 {
		for i := lastOpen + 1; i < len(run); i++ {
			if run[i].Door == models.DoorClosed {
				closedAfter = true
				break
			}
		}
	}

	for i := range run {
		switch {
		case !closedAfter:
			run[i].SegmentClass = models.SegmentPass
		case i < firstOpen:
			run[i].SegmentClass = models.SegmentArrive
		case i <= lastOpen:
			run[i].SegmentClass = models.SegmentStop
		default:
			run[i].SegmentClass = models.SegmentDepart
		}
	}
}

type timeGrouper struct {
	loc     *time.Location
	periods []period
}

type period struct {
	start, end int
	label      string
}

func newTimeGrouper(cfg *config.Analysis) *timeGrouper {
	tg := &timeGrouper{loc: cfg.Location()}
	for _, p := range []struct {
		p     config.Period
		label string
	}{
		{cfg.MorningPeak, models.TimeGroupMorningPeak},
		{cfg.Daytime, models.TimeGroupDaytime},
		{cfg.EveningPeak, models.TimeGroupEveningPeak},
	} {
		start, end := p.p.Seconds()
		tg.periods = append(tg.periods, period{start: start, end: end, label: p.label})
	}
	return tg
}

// group returns the time group from the oday weekday and the local wall clock
func (tg *timeGrouper) group(s *models.ClassifiedSample) string {
	day, err := time.Parse(models.OdayLayout, s.Oday)
	if err != nil {
		day = s.Timestamp.In(tg.loc)
	}
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return models.TimeGroupWeekend
	}
	for _, p := range tg.periods {
		if s.ElapsedSeconds >= p.start && s.ElapsedSeconds < p.end {
			return p.label
		}
	}
	return models.TimeGroupOther
}
