// Package routine реализует анализ режима дня по смешанным записям активностей
package routine

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
)

const (
	// MinRecords минимум записей для анализа
	MinRecords = 10
	// MinDays минимум наблюдаемых дней для анализа
	MinDays = 3
	// MinRecordsForTrend минимум записей для тренда
	MinRecordsForTrend = 20
	// MinDaysForTrend минимум дней для тренда
	MinDaysForTrend = 7
	// ScheduleRegularityThreshold минимальная регулярность для предложения расписания
	ScheduleRegularityThreshold = 50.0

	highlyRegularScore     = 80.0
	moderatelyRegularScore = 60.0
	recordCountCap         = 50
	dayCountCap            = 14
)

// Analyzer анализирует режим дня. Не хранит состояния между вызовами.
type Analyzer struct {
	now    func() time.Time
	logger *zap.Logger
}

// Option настраивает анализатор
type Option func(*Analyzer)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// NewAnalyzer создает анализатор режима
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze анализирует записи активностей за интервал
func (a *Analyzer) Analyze(activities []models.ActivityRecord, rng models.DateRange) models.RoutinePatternResult {
	sorted := sortByStart(activities)
	days := observedDays(sorted)
	meta := models.AnalysisMetadata{
		DateRange:       rng,
		RecordsAnalyzed: len(activities),
		AnalyzedAt:      a.now(),
		Source:          models.SourceLocal,
	}

	if len(sorted) < MinRecords || days < MinDays {
		a.logger.Debug("Not enough activity records for routine analysis",
			zap.Int("records", len(sorted)),
			zap.Int("days", days),
		)
		return Insufficient(meta)
	}

	regularity := regularityScore(sorted)
	cycles := typicalCycles(sorted, days)
	trend := trendOf(sorted, days)

	meta.ConfidenceScore = 0.6*analytics.RatioScore(float64(len(sorted)), recordCountCap) +
		0.4*analytics.RatioScore(float64(days), dayCountCap)

	result := models.RoutinePatternResult{
		RegularityScore: regularity,
		PatternType:     classify(regularity, trend.Direction, len(sorted)),
		Cycles:          cycles,
		Distribution:    distribution(sorted),
		Trend:           trend,
		Metadata:        meta,
	}
	if regularity >= ScheduleRegularityThreshold && len(cycles) > 0 {
		result.SuggestedSchedule = suggestedSchedule(sorted)
	}
	result.Recommendations = recommendations(result)
	return result
}

// Insufficient возвращает результат "недостаточно данных"
func Insufficient(meta models.AnalysisMetadata) models.RoutinePatternResult {
	meta.ConfidenceScore = 0
	return models.RoutinePatternResult{
		PatternType:  models.PatternInsufficient,
		Cycles:       []models.RoutineCycle{},
		Distribution: models.ActivityDistribution{Categories: map[models.ActivityCategory]models.CategoryStats{}},
		Trend:        models.RoutineTrend{Direction: models.TrendInsufficient},
		Metadata:     meta,
	}
}

func classify(regularity float64, trend models.TrendDirection, records int) models.PatternType {
	switch {
	case regularity >= highlyRegularScore:
		return models.PatternHighlyRegular
	case regularity >= moderatelyRegularScore:
		return models.PatternModeratelyRegular
	case trend.IsDirectional():
		return models.PatternTransitioning
	case records < MinRecordsForTrend:
		return models.PatternEvolving
	default:
		return models.PatternIrregular
	}
}

// regularityScore: для каждого типа, наблюдаемого не менее MinDays дней,
// разброс средних дневных времен начала переводится в оценку 0-100; оценки усредняются
func regularityScore(records []models.ActivityRecord) float64 {
	byType := make(map[models.ActivityType]map[string]*analytics.Moments)
	for _, r := range records {
		days, ok := byType[r.Type]
		if !ok {
			days = make(map[string]*analytics.Moments)
			byType[r.Type] = days
		}
		day := models.DayKey(r.StartTime)
		if days[day] == nil {
			days[day] = &analytics.Moments{}
		}
		days[day].Add(analytics.MinutesOfDay(r.StartTime))
	}

	var scores analytics.Moments
	for _, t := range sortedTypes(byType) {
		days := byType[t]
		if len(days) < MinDays {
			continue
		}
		keys := make([]string, 0, len(days))
		for k := range days {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		means := make([]float64, len(keys))
		for i, k := range keys {
			means[i] = days[k].Mean()
		}
		sd := analytics.CircularStdDev(means)
		scores.Add(analytics.Clamp(100-sd/1.2, 0, 100))
	}
	return scores.Mean()
}

// trendOf сравнивает половины периода: регулярность 60%, стабильность циклов 40%
func trendOf(records []models.ActivityRecord, days int) models.RoutineTrend {
	if len(records) < MinRecordsForTrend || days < MinDaysForTrend {
		return models.RoutineTrend{Direction: models.TrendInsufficient}
	}
	mid := analytics.SplitHalves(len(records))
	first, second := records[:mid], records[mid:]

	regularityChange := (regularityScore(second) - regularityScore(first)) / 100
	stabilityChange := (cycleStability(second) - cycleStability(first)) / 100
	composite := 0.6*regularityChange + 0.4*stabilityChange

	return models.RoutineTrend{
		Direction:        analytics.ClassifyTrend(composite, regularityChange),
		RegularityChange: regularityChange,
		StabilityChange:  stabilityChange,
		Score:            composite,
	}
}

func cycleStability(records []models.ActivityRecord) float64 {
	cycles := typicalCycles(records, observedDays(records))
	var m analytics.Moments
	for _, c := range cycles {
		m.Add(c.RegularityScore)
	}
	return m.Mean()
}

// suggestedSchedule предлагает время начала и длительность для сна, кормления и игр
func suggestedSchedule(records []models.ActivityRecord) []models.ScheduleItem {
	items := make([]models.ScheduleItem, 0, 3)
	for _, category := range []models.ActivityCategory{models.CategorySleep, models.CategoryFeeding, models.CategoryPlay} {
		var starts []float64
		var durations analytics.Moments
		for _, r := range records {
			if r.Type.Category() != category {
				continue
			}
			starts = append(starts, analytics.MinutesOfDay(r.StartTime))
			durations.Add(r.Duration().Minutes())
		}
		if len(starts) == 0 {
			continue
		}
		sd := analytics.CircularStdDev(starts)
		items = append(items, models.ScheduleItem{
			Activity:   category,
			StartTime:  models.ClockTime(analytics.Mean(starts)),
			Duration:   durations.Mean(),
			Confidence: analytics.Clamp(1-sd/180, 0.1, 0.9),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].StartTime < items[j].StartTime
	})
	return items
}

func recommendations(r models.RoutinePatternResult) []string {
	var out []string
	if r.RegularityScore < ScheduleRegularityThreshold {
		out = append(out, "Daily timing varies a lot; anchoring feeds and naps to similar times can help.")
	}
	if len(r.Cycles) == 0 {
		out = append(out, "No repeating feed-play-sleep cycle was found yet; keep logging to reveal the routine.")
	}
	if r.Trend.Direction == models.TrendDeclining {
		out = append(out, "The routine has become less regular over the analyzed period.")
	}
	return out
}

func sortByStart(records []models.ActivityRecord) []models.ActivityRecord {
	sorted := make([]models.ActivityRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})
	return sorted
}

func observedDays(records []models.ActivityRecord) int {
	days := make(map[string]struct{})
	for _, r := range records {
		days[models.DayKey(r.StartTime)] = struct{}{}
	}
	return len(days)
}

func sortedTypes[V any](m map[models.ActivityType]V) []models.ActivityType {
	types := make([]models.ActivityType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
