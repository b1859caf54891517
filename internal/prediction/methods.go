package prediction

import (
	"math"
	"sort"
	"time"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
)

const (
	minIntervalWidth   = 30 * time.Minute
	minCycleWidth      = 45 * time.Minute
	minTimeOfDayHalf   = 15 * time.Minute
	minWindow          = 30 * time.Minute
	timeOfDayNeighbors = 120.0 // минут
	cycleIntervalCap   = 36 * time.Hour
	minIntervalSamples = 2
	minTimeOfDayStarts = 3
)

// span отрезок времени одной записи
type span struct {
	start time.Time
	end   time.Time
}

func (s span) duration() time.Duration {
	return s.end.Sub(s.start)
}

// estimate оценка окна начала следующего события одним методом
type estimate struct {
	earliest   time.Time
	latest     time.Time
	duration   time.Duration
	variance   time.Duration
	confidence float64
}

func sortSpans(spans []span) []span {
	sorted := make([]span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].start.Before(sorted[j].start)
	})
	return sorted
}

func durationStats(spans []span) (mean, sd time.Duration) {
	minutes := make([]float64, len(spans))
	for i, s := range spans {
		minutes[i] = s.duration().Minutes()
	}
	return minutesDuration(analytics.Mean(minutes)), minutesDuration(analytics.StdDev(minutes))
}

func minutesDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// centered строит окно ширины width вокруг center
func centered(center time.Time, width time.Duration) (time.Time, time.Time) {
	return center.Add(-width / 2), center.Add(width / 2)
}

// byInterval прогноз по промежуткам "конец - следующее начало".
// Промежутки длиннее gapCap (пропуски в записях) не учитываются.
func byInterval(spans []span, now time.Time, gapCap time.Duration) *estimate {
	if len(spans) < minIntervalSamples+1 {
		return nil
	}
	var gaps []float64
	for i := 1; i < len(spans); i++ {
		gap := spans[i].start.Sub(spans[i-1].end)
		if gap <= 0 || gap > gapCap {
			continue
		}
		gaps = append(gaps, gap.Minutes())
	}
	if len(gaps) < minIntervalSamples {
		return nil
	}

	mean := analytics.Mean(gaps)
	sd := analytics.StdDev(gaps)
	if mean <= 0 {
		return nil
	}

	predicted := spans[len(spans)-1].end.Add(minutesDuration(mean))
	if predicted.Before(now) {
		predicted = now
	}
	width := minutesDuration(sd)
	if width < minIntervalWidth {
		width = minIntervalWidth
	}

	est := &estimate{confidence: analytics.Clamp(1-sd/mean, 0.3, 0.8)}
	est.earliest, est.latest = centered(predicted, width)
	est.duration, est.variance = durationStats(spans)
	return est
}

// byTimeOfDay прогноз по времени суток: ближайшее наблюдавшееся время начала
// строго после текущего, иначе самое раннее завтра
func byTimeOfDay(spans []span, now time.Time) *estimate {
	if len(spans) < minTimeOfDayStarts {
		return nil
	}
	minutes := make([]float64, len(spans))
	for i, s := range spans {
		minutes[i] = analytics.MinutesOfDay(s.start)
	}

	current := analytics.MinutesOfDay(now)
	target, found := math.Inf(1), false
	earliest := math.Inf(1)
	for _, m := range minutes {
		if m > current && m < target {
			target, found = m, true
		}
		earliest = math.Min(earliest, m)
	}
	dayOffset := 0
	if !found {
		target, dayOffset = earliest, 1
	}

	var offsets []float64
	var neighbors []span
	for i, m := range minutes {
		off := analytics.FoldMinutes(m - target)
		if math.Abs(off) <= timeOfDayNeighbors {
			offsets = append(offsets, off)
			neighbors = append(neighbors, spans[i])
		}
	}
	sd := analytics.StdDev(offsets)

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	predicted := midnight.AddDate(0, 0, dayOffset).Add(minutesDuration(target))
	half := minutesDuration(sd)
	if half < minTimeOfDayHalf {
		half = minTimeOfDayHalf
	}

	est := &estimate{
		earliest:   predicted.Add(-half),
		latest:     predicted.Add(half),
		confidence: analytics.Clamp(1-sd/timeOfDayNeighbors, 0.4, 0.9),
	}
	est.duration, est.variance = durationStats(neighbors)
	return est
}

// byCycle прогноз по промежуткам "начало - начало" от последней записи
func byCycle(spans []span, now time.Time) *estimate {
	if len(spans) < minIntervalSamples+1 {
		return nil
	}
	var intervals []float64
	for i := 1; i < len(spans); i++ {
		iv := spans[i].start.Sub(spans[i-1].start)
		if iv <= 0 || iv > cycleIntervalCap {
			continue
		}
		intervals = append(intervals, iv.Minutes())
	}
	if len(intervals) < minIntervalSamples {
		return nil
	}

	mean := analytics.Mean(intervals)
	sd := analytics.StdDev(intervals)
	if mean <= 0 {
		return nil
	}

	predicted := spans[len(spans)-1].start.Add(minutesDuration(mean))
	if predicted.Before(now) {
		predicted = now
	}
	width := minutesDuration(sd)
	if width < minCycleWidth {
		width = minCycleWidth
	}

	est := &estimate{confidence: analytics.Clamp(1-sd/mean, 0.3, 0.8)}
	est.earliest, est.latest = centered(predicted, width)
	est.duration, est.variance = durationStats(spans)
	return est
}

// method номер метода в таблице весов
type method int

const (
	methodInterval method = iota
	methodTimeOfDay
	methodCycle
	methodCount
)

type weights [methodCount]float64

var (
	baseWeights      = weights{0.3, 0.4, 0.3}
	regularWeights   = weights{0.2, 0.5, 0.3}
	irregularWeights = weights{0.4, 0.2, 0.4}
	shiftingWeights  = weights{0.35, 0.3, 0.35}
)

func weightsFor(pattern models.PatternType, regularity float64) weights {
	w := baseWeights
	switch pattern {
	case models.PatternHighlyRegular:
		w = regularWeights
	case models.PatternIrregular:
		w = irregularWeights
	case models.PatternEvolving, models.PatternTransitioning:
		w = shiftingWeights
	}
	w[methodTimeOfDay] *= analytics.Clamp(regularity, 0, 100) / 100
	return w
}

// fuse объединяет оценки методов. Время и длительности усредняются с весами
// weight*confidence, уверенность усредняется только по весам (их сумма равна 1).
func fuse(estimates [methodCount]*estimate, w weights, now time.Time) *estimate {
	var present []method
	for m, est := range estimates {
		if est != nil {
			present = append(present, method(m))
		}
	}
	switch len(present) {
	case 0:
		return nil
	case 1:
		only := *estimates[present[0]]
		return &only
	}

	var total float64
	for _, m := range present {
		total += w[m]
	}
	if total <= 0 {
		best := estimates[present[0]]
		for _, m := range present[1:] {
			if estimates[m].confidence > best.confidence {
				best = estimates[m]
			}
		}
		only := *best
		return &only
	}

	var weightedConf, earliest, latest, duration, variance float64
	for _, m := range present {
		est := estimates[m]
		wn := w[m] / total
		wc := wn * est.confidence
		weightedConf += wc
		earliest += wc * est.earliest.Sub(now).Seconds()
		latest += wc * est.latest.Sub(now).Seconds()
		duration += wc * est.duration.Seconds()
		variance += wc * est.variance.Seconds()
	}
	if weightedConf <= 0 {
		return nil
	}

	seconds := func(v float64) time.Duration { return time.Duration(v / weightedConf * float64(time.Second)) }
	return &estimate{
		earliest:   now.Add(seconds(earliest)),
		latest:     now.Add(seconds(latest)),
		duration:   seconds(duration),
		variance:   seconds(variance),
		confidence: weightedConf,
	}
}

// clampWindow сдвигает окно в будущее и гарантирует минимальную ширину
func clampWindow(est *estimate, now time.Time) {
	if est.earliest.Before(now) {
		est.earliest = now
	}
	if est.latest.Sub(est.earliest) < minWindow {
		est.latest = est.earliest.Add(minWindow)
	}
}
