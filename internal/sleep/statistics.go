package sleep

import (
	"sort"
	"time"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
)

// nightWaking ночные пробуждения за одну ночь
type nightWaking struct {
	count    int
	duration time.Duration
}

func (a *Analyzer) statistics(records []models.SleepRecord) models.SleepStatistics {
	var stats models.SleepStatistics

	dayTotals := make(map[string]float64)
	var dayHours, nightHours float64
	var durations, efficiency analytics.Moments

	for _, r := range records {
		hours := r.Duration().Hours()
		dayTotals[models.DayKey(r.StartTime)] += hours
		if a.IsNight(r.StartTime) {
			nightHours += hours
		} else {
			dayHours += hours
		}
		durations.Add(hours)
		efficiency.Add(a.efficiency(r))
	}

	days := float64(len(dayTotals))
	var total float64
	for _, key := range sortedKeys(dayTotals) {
		total += dayTotals[key]
	}
	stats.TotalSleepHours = total / days
	stats.DaytimeSleepHours = dayHours / days
	stats.NighttimeSleepHours = nightHours / days
	stats.AverageSleepDuration = durations.Mean()
	stats.SleepEfficiency = analytics.Clamp(efficiency.Mean(), 0, 1)

	subset := a.timingSubset(records)
	var fallAsleep, wakeUp analytics.Moments
	for _, r := range subset {
		fallAsleep.Add(analytics.MinutesOfDay(r.StartTime))
		wakeUp.Add(analytics.MinutesOfDay(r.EndTime))
	}
	// арифметическое среднее минут, не круговое
	stats.AverageFallAsleepTime = models.ClockTime(fallAsleep.Mean())
	stats.AverageWakeUpTime = models.ClockTime(wakeUp.Mean())

	wakings := a.nightWakings(records)
	if len(wakings) > 0 {
		var count, minutes float64
		for _, key := range sortedNightKeys(wakings) {
			count += float64(wakings[key].count)
			minutes += wakings[key].duration.Minutes()
		}
		stats.NightWakingCount = count / float64(len(wakings))
		stats.NightWakingDuration = minutes / float64(len(wakings))
	}

	if len(records) >= MinRecordsForCycleLength {
		stats.SleepCycleLength = a.cycleLength(records)
	}

	return stats
}

// efficiency возвращает (длительность - пробуждения) / длительность в [0,1]
func (a *Analyzer) efficiency(r models.SleepRecord) float64 {
	if len(r.Interruptions) == 0 {
		return 1
	}
	duration := r.Duration()
	if duration <= 0 {
		return 0
	}
	asleep := duration - r.InterruptionTime()
	return analytics.Clamp(float64(asleep)/float64(duration), 0, 1)
}

// timingSubset возвращает ночные эпизоды, если их хотя бы два, иначе все записи
func (a *Analyzer) timingSubset(records []models.SleepRecord) []models.SleepRecord {
	night := make([]models.SleepRecord, 0, len(records))
	for _, r := range records {
		if a.IsNight(r.StartTime) {
			night = append(night, r)
		}
	}
	if len(night) < 2 {
		return records
	}
	return night
}

// nightKey относит эпизоды после полуночи к ночи предыдущего вечера
func (a *Analyzer) nightKey(t time.Time) string {
	if t.Hour() < a.cfg.DayStartHour {
		return models.DayKey(t.AddDate(0, 0, -1))
	}
	return models.DayKey(t)
}

// nightWakings группирует ночные эпизоды по ночам: пробуждений = эпизодов - 1,
// длительность = сумма промежутков между соседними эпизодами
func (a *Analyzer) nightWakings(records []models.SleepRecord) map[string]nightWaking {
	nights := make(map[string][]models.SleepRecord)
	for _, r := range records {
		if a.IsNight(r.StartTime) {
			key := a.nightKey(r.StartTime)
			nights[key] = append(nights[key], r)
		}
	}

	result := make(map[string]nightWaking, len(nights))
	for key, night := range nights {
		sorted := sortByStart(night)
		w := nightWaking{}
		if len(sorted) >= 2 {
			w.count = len(sorted) - 1
			for i := 1; i < len(sorted); i++ {
				if gap := sorted[i].StartTime.Sub(sorted[i-1].EndTime); gap > 0 {
					w.duration += gap
				}
			}
		}
		result[key] = w
	}
	return result
}

// cycleLength оценивает длину цикла сна как медиану промежутков между пробуждениями
func (a *Analyzer) cycleLength(records []models.SleepRecord) *float64 {
	var intervals []float64
	for _, r := range records {
		if !a.IsNight(r.StartTime) || len(r.Interruptions) < 2 {
			continue
		}
		interruptions := make([]models.Interruption, len(r.Interruptions))
		copy(interruptions, r.Interruptions)
		sort.Slice(interruptions, func(i, j int) bool {
			return interruptions[i].StartTime.Before(interruptions[j].StartTime)
		})
		for i := 1; i < len(interruptions); i++ {
			if gap := interruptions[i].StartTime.Sub(interruptions[i-1].EndTime); gap > 0 {
				intervals = append(intervals, gap.Minutes())
			}
		}
	}
	if len(intervals) < minCycleIntervals {
		return nil
	}
	median := analytics.Median(intervals)
	return &median
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNightKeys(m map[string]nightWaking) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
