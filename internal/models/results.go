package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// PatternType классификация регулярности
type PatternType string

const (
	PatternHighlyRegular     PatternType = "highlyRegular"
	PatternModeratelyRegular PatternType = "moderatelyRegular"
	PatternIrregular         PatternType = "irregular"
	PatternEvolving          PatternType = "evolving"
	PatternTransitioning     PatternType = "transitioning"
	PatternInsufficient      PatternType = "insufficient"
)

// ParsePatternType разбирает строковое значение классификации
func ParsePatternType(s string) (PatternType, error) {
	switch p := PatternType(s); p {
	case PatternHighlyRegular, PatternModeratelyRegular, PatternIrregular,
		PatternEvolving, PatternTransitioning, PatternInsufficient:
		return p, nil
	}
	return "", fmt.Errorf("unknown pattern type %q", s)
}

// TrendDirection направление тренда
type TrendDirection string

const (
	TrendImproving    TrendDirection = "improving"
	TrendDeclining    TrendDirection = "declining"
	TrendStable       TrendDirection = "stable"
	TrendFluctuating  TrendDirection = "fluctuating"
	TrendInsufficient TrendDirection = "insufficient"
)

// ParseTrendDirection разбирает строковое значение тренда
func ParseTrendDirection(s string) (TrendDirection, error) {
	switch d := TrendDirection(s); d {
	case TrendImproving, TrendDeclining, TrendStable, TrendFluctuating, TrendInsufficient:
		return d, nil
	case "":
		return TrendInsufficient, nil
	}
	return "", fmt.Errorf("unknown trend direction %q", s)
}

// IsDirectional сообщает, есть ли у тренда выраженное направление
func (d TrendDirection) IsDirectional() bool {
	return d == TrendImproving || d == TrendDeclining
}

// Source источник результата анализа
type Source string

const (
	SourceLocal Source = "local"
	SourceCloud Source = "cloud"
	SourceCache Source = "cache"
)

// ClockTime время суток в минутах от полуночи
type ClockTime float64

// ClockTimeOf возвращает время суток отметки в ее часовом поясе
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60)
}

// Minutes возвращает значение в минутах
func (c ClockTime) Minutes() float64 {
	return float64(c)
}

// String форматирует время как HH:MM
func (c ClockTime) String() string {
	m := int(math.Round(float64(c))) % (24 * 60)
	if m < 0 {
		m += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// MarshalJSON сериализует время как "HH:MM"
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON принимает "HH:MM" или число минут
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("clock time: %w", err)
		}
		*c = ClockTime(f)
		return nil
	}
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("clock time %q: %w", s, err)
	}
	*c = ClockTime(h*60 + m)
	return nil
}

// AnalysisMetadata сведения о происхождении результата
type AnalysisMetadata struct {
	DateRange       DateRange `json:"date_range"`
	RecordsAnalyzed int       `json:"records_analyzed"`
	ConfidenceScore float64   `json:"confidence_score"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
	Source          Source    `json:"source"`
}

// SleepStatistics агрегированная статистика сна
type SleepStatistics struct {
	TotalSleepHours       float64   `json:"total_sleep_hours"`
	DaytimeSleepHours     float64   `json:"daytime_sleep_hours"`
	NighttimeSleepHours   float64   `json:"nighttime_sleep_hours"`
	AverageSleepDuration  float64   `json:"average_sleep_duration"`
	AverageFallAsleepTime ClockTime `json:"average_fall_asleep_time"`
	AverageWakeUpTime     ClockTime `json:"average_wake_up_time"`
	NightWakingCount      float64   `json:"night_waking_count"`
	NightWakingDuration   float64   `json:"night_waking_duration"`
	SleepEfficiency       float64   `json:"sleep_efficiency"`
	SleepCycleLength      *float64  `json:"sleep_cycle_length,omitempty"`
}

// EnvironmentalFactorImpact влияние фактора среды на качество сна
type EnvironmentalFactorImpact struct {
	Factor     EnvironmentalFactor `json:"factor"`
	Impact     float64             `json:"impact"`
	Confidence float64             `json:"confidence"`
	SampleSize int                 `json:"sample_size"`
}

// SleepTrend изменение характеристик сна между половинами периода
type SleepTrend struct {
	Direction        TrendDirection `json:"direction"`
	DurationChange   float64        `json:"duration_change"`
	EfficiencyChange float64        `json:"efficiency_change"`
	RegularityChange float64        `json:"regularity_change"`
	Score            float64        `json:"score"`
}

// SleepPatternResult результат анализа сна
type SleepPatternResult struct {
	Statistics           SleepStatistics             `json:"statistics"`
	PatternType          PatternType                 `json:"pattern_type"`
	RegularityScore      float64                     `json:"regularity_score"`
	EnvironmentalFactors []EnvironmentalFactorImpact `json:"environmental_factors"`
	Trend                SleepTrend                  `json:"trend"`
	Recommendations      []string                    `json:"recommendations,omitempty"`
	Metadata             AnalysisMetadata            `json:"metadata"`
}

// RoutineCycle повторяющаяся последовательность активностей
type RoutineCycle struct {
	Activities      []ActivityType `json:"activities"`
	Occurrences     int            `json:"occurrences"`
	Frequency       float64        `json:"frequency"`
	AverageDuration float64        `json:"average_duration"`
	RegularityScore float64        `json:"regularity_score"`
}

// Key возвращает ключ цикла по упорядоченной последовательности типов
func (c RoutineCycle) Key() string {
	return CycleKey(c.Activities)
}

// CycleKey строит ключ последовательности активностей
func CycleKey(types []ActivityType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ">")
}

// CategoryStats статистика одной категории активности
type CategoryStats struct {
	Percentage      float64  `json:"percentage"`
	AverageDuration float64  `json:"average_duration"`
	AverageInterval *float64 `json:"average_interval,omitempty"`
}

// ActivityDistribution распределение времени по категориям
type ActivityDistribution struct {
	Categories map[ActivityCategory]CategoryStats `json:"categories"`
}

// RoutineTrend изменение режима между половинами периода
type RoutineTrend struct {
	Direction        TrendDirection `json:"direction"`
	RegularityChange float64        `json:"regularity_change"`
	StabilityChange  float64        `json:"stability_change"`
	Score            float64        `json:"score"`
}

// ScheduleItem элемент предлагаемого расписания
type ScheduleItem struct {
	Activity   ActivityCategory `json:"activity"`
	StartTime  ClockTime        `json:"start_time"`
	Duration   float64          `json:"duration"`
	Confidence float64          `json:"confidence"`
}

// RoutinePatternResult результат анализа режима дня
type RoutinePatternResult struct {
	RegularityScore   float64              `json:"regularity_score"`
	PatternType       PatternType          `json:"pattern_type"`
	Cycles            []RoutineCycle       `json:"cycles"`
	Distribution      ActivityDistribution `json:"distribution"`
	Trend             RoutineTrend         `json:"trend"`
	SuggestedSchedule []ScheduleItem       `json:"suggested_schedule,omitempty"`
	Recommendations   []string             `json:"recommendations,omitempty"`
	Metadata          AnalysisMetadata     `json:"metadata"`
}
