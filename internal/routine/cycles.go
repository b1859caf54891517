package routine

import (
	"math"
	"sort"
	"time"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
)

const (
	maxCycles           = 5
	minCycleOccurrences = 2
	maxIntervalGap      = 24 * time.Hour
)

// segment подряд идущие записи одного типа
type segment struct {
	activity models.ActivityType
	start    time.Time
	end      time.Time
}

type cycleSamples struct {
	activities []models.ActivityType
	durations  []float64
}

// segmentsOf склеивает подряд идущие записи одного типа
func segmentsOf(records []models.ActivityRecord) []segment {
	var segments []segment
	for _, r := range records {
		if n := len(segments); n > 0 && segments[n-1].activity == r.Type {
			if r.EndTime.After(segments[n-1].end) {
				segments[n-1].end = r.EndTime
			}
			continue
		}
		segments = append(segments, segment{activity: r.Type, start: r.StartTime, end: r.EndTime})
	}
	return segments
}

// cyclesOfDay находит циклы внутри дня: последовательность от опорного сегмента
// до возврата к его типу. Поиск продолжается с сегмента возврата.
func cyclesOfDay(segments []segment) ([][]models.ActivityType, []time.Duration) {
	var sequences [][]models.ActivityType
	var durations []time.Duration
	for i := 0; i < len(segments); {
		j := i + 1
		for j < len(segments) && segments[j].activity != segments[i].activity {
			j++
		}
		if j >= len(segments) {
			i++
			continue
		}
		seq := make([]models.ActivityType, 0, j-i)
		for k := i; k < j; k++ {
			seq = append(seq, segments[k].activity)
		}
		sequences = append(sequences, seq)
		durations = append(durations, segments[j].start.Sub(segments[i].start))
		i = j
	}
	return sequences, durations
}

// typicalCycles агрегирует циклы по дням: частота = вхождения / наблюдаемые дни,
// регулярность = 70% стабильность длительности + 30% близость частоты к целому
func typicalCycles(records []models.ActivityRecord, days int) []models.RoutineCycle {
	byDay := make(map[string][]models.ActivityRecord)
	for _, r := range records {
		key := models.DayKey(r.StartTime)
		byDay[key] = append(byDay[key], r)
	}
	dayKeys := make([]string, 0, len(byDay))
	for k := range byDay {
		dayKeys = append(dayKeys, k)
	}
	sort.Strings(dayKeys)

	samples := make(map[string]*cycleSamples)
	for _, day := range dayKeys {
		sequences, durations := cyclesOfDay(segmentsOf(byDay[day]))
		for i, seq := range sequences {
			key := models.CycleKey(seq)
			s, ok := samples[key]
			if !ok {
				s = &cycleSamples{activities: seq}
				samples[key] = s
			}
			s.durations = append(s.durations, durations[i].Minutes())
		}
	}

	cycles := make([]models.RoutineCycle, 0, len(samples))
	if days == 0 {
		return cycles
	}
	for _, s := range samples {
		if len(s.durations) < minCycleOccurrences {
			continue
		}
		frequency := float64(len(s.durations)) / float64(days)
		cv := math.Min(analytics.CoefficientOfVariation(s.durations), 1)
		closeness := 1 - 2*math.Abs(frequency-math.Round(frequency))
		cycles = append(cycles, models.RoutineCycle{
			Activities:      s.activities,
			Occurrences:     len(s.durations),
			Frequency:       frequency,
			AverageDuration: analytics.Mean(s.durations),
			RegularityScore: 70*(1-cv) + 30*closeness,
		})
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i].Frequency != cycles[j].Frequency {
			return cycles[i].Frequency > cycles[j].Frequency
		}
		return cycles[i].Key() < cycles[j].Key()
	})
	if len(cycles) > maxCycles {
		cycles = cycles[:maxCycles]
	}
	return cycles
}

// distribution считает долю времени, среднюю длительность и средний интервал по категориям
func distribution(records []models.ActivityRecord) models.ActivityDistribution {
	totals := make(map[models.ActivityCategory]*analytics.Moments)
	starts := make(map[models.ActivityCategory][]time.Time)
	var overall float64

	for _, r := range records {
		category := r.Type.Category()
		if totals[category] == nil {
			totals[category] = &analytics.Moments{}
		}
		minutes := r.Duration().Minutes()
		totals[category].Add(minutes)
		starts[category] = append(starts[category], r.StartTime)
		overall += minutes
	}

	result := models.ActivityDistribution{Categories: make(map[models.ActivityCategory]models.CategoryStats, len(totals))}
	for category, m := range totals {
		stats := models.CategoryStats{AverageDuration: m.Mean()}
		if overall > 0 {
			stats.Percentage = m.Sum() / overall * 100
		}
		if category == models.CategorySleep || category == models.CategoryFeeding {
			stats.AverageInterval = averageInterval(starts[category])
		}
		result.Categories[category] = stats
	}
	return result
}

// averageInterval средний интервал между началами; промежутки больше суток отбрасываются
func averageInterval(starts []time.Time) *float64 {
	var gaps analytics.Moments
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		if gap <= 0 || gap > maxIntervalGap {
			continue
		}
		gaps.Add(gap.Minutes())
	}
	if gaps.Count() == 0 {
		return nil
	}
	mean := gaps.Mean()
	return &mean
}
