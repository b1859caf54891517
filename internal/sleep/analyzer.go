// Package sleep реализует анализ паттернов сна
// Анализатор считает дневные и ночные суммы сна, средние времена засыпания и пробуждения,
// ночные пробуждения, эффективность сна, регулярность, тренд и влияние факторов среды.
package sleep

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
)

const (
	// MinRecordsForStatistics минимум записей для любой статистики
	MinRecordsForStatistics = 5
	// MinRecordsForCycleLength минимум записей для оценки длины цикла сна
	MinRecordsForCycleLength = 10
	// MinRecordsForTrend минимум записей для анализа тренда
	MinRecordsForTrend = 14
	// MinRecordsForEnvironment минимум записей с показаниями фактора среды
	MinRecordsForEnvironment = 8

	recordCountCap    = 30
	dayCountCap       = 30
	minCycleIntervals = 3
)

// Config параметры анализатора сна
type Config struct {
	// DayStartHour и DayEndHour задают дневное окно [start, end)
	DayStartHour int
	DayEndHour   int
}

// DefaultConfig возвращает дневное окно 06:00-20:00
func DefaultConfig() Config {
	return Config{DayStartHour: 6, DayEndHour: 20}
}

// Analyzer выполняет анализ паттернов сна. Безопасен для конкурентного использования.
type Analyzer struct {
	cfg    Config
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

// NewAnalyzer создает анализатор сна
func NewAnalyzer(cfg Config, opts ...Option) *Analyzer {
	if cfg.DayEndHour <= cfg.DayStartHour {
		cfg = DefaultConfig()
	}
	a := &Analyzer{
		cfg:    cfg,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config возвращает конфигурацию анализатора
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze анализирует эпизоды сна за интервал. Никогда не возвращает ошибку:
// при недостатке данных возвращается результат с PatternType = insufficient.
func (a *Analyzer) Analyze(records []models.SleepRecord, rng models.DateRange) models.SleepPatternResult {
	sorted := sortByStart(records)
	meta := models.AnalysisMetadata{
		DateRange:       rng,
		RecordsAnalyzed: len(records),
		AnalyzedAt:      a.now(),
		Source:          models.SourceLocal,
	}

	if len(sorted) < MinRecordsForStatistics {
		a.logger.Debug("Not enough sleep records for analysis",
			zap.Int("records", len(sorted)),
			zap.Int("required", MinRecordsForStatistics),
		)
		return Insufficient(meta)
	}

	stats := a.statistics(sorted)
	timing := a.timingOf(sorted)
	trend := a.trend(sorted)

	meta.ConfidenceScore = confidence(sorted, rng)

	result := models.SleepPatternResult{
		Statistics:           stats,
		PatternType:          classify(timing, trend.Direction, len(sorted)),
		RegularityScore:      timing.score(),
		EnvironmentalFactors: environmentalImpacts(sorted, a.efficiency),
		Trend:                trend,
		Metadata:             meta,
	}
	result.Recommendations = recommendations(result)
	return result
}

// Insufficient возвращает детерминированный результат "недостаточно данных"
func Insufficient(meta models.AnalysisMetadata) models.SleepPatternResult {
	meta.ConfidenceScore = 0
	return models.SleepPatternResult{
		PatternType:          models.PatternInsufficient,
		EnvironmentalFactors: []models.EnvironmentalFactorImpact{},
		Trend:                models.SleepTrend{Direction: models.TrendInsufficient},
		Metadata:             meta,
	}
}

// IsNight сообщает, относится ли начало эпизода к ночи
func (a *Analyzer) IsNight(t time.Time) bool {
	h := t.Hour()
	return h < a.cfg.DayStartHour || h >= a.cfg.DayEndHour
}

// AverageDuration возвращает среднюю длительность эпизодов
func AverageDuration(records []models.SleepRecord) time.Duration {
	if len(records) == 0 {
		return 0
	}
	var m analytics.Moments
	for _, r := range records {
		m.Add(r.Duration().Seconds())
	}
	return time.Duration(m.Mean() * float64(time.Second))
}

func sortByStart(records []models.SleepRecord) []models.SleepRecord {
	sorted := make([]models.SleepRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})
	return sorted
}

// confidence: 70% доля записей (до 30) + 30% длина периода (до 30 дней)
func confidence(records []models.SleepRecord, rng models.DateRange) float64 {
	days := rng.Days()
	if days == 0 && len(records) > 0 {
		days = records[len(records)-1].EndTime.Sub(records[0].StartTime).Hours() / 24
	}
	return 0.7*analytics.RatioScore(float64(len(records)), recordCountCap) +
		0.3*analytics.RatioScore(days, dayCountCap)
}
