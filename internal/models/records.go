// Package models содержит структуры данных для записей ухода за ребенком и результатов аналитики
package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ActivityType тип зарегистрированной активности
type ActivityType string

const (
	ActivitySleep     ActivityType = "sleep"
	ActivityFeeding   ActivityType = "feeding"
	ActivityPlay      ActivityType = "play"
	ActivityTummyTime ActivityType = "tummyTime"
	ActivityOutdoors  ActivityType = "outdoors"
	ActivityBath      ActivityType = "bath"
	ActivityDiaper    ActivityType = "diaper"
	ActivityOther     ActivityType = "other"
)

// ActivityCategory укрупненная категория для распределения времени
type ActivityCategory string

const (
	CategorySleep   ActivityCategory = "sleep"
	CategoryFeeding ActivityCategory = "feeding"
	CategoryPlay    ActivityCategory = "play"
	CategoryOther   ActivityCategory = "other"
)

// Category возвращает категорию распределения для типа активности
func (t ActivityType) Category() ActivityCategory {
	switch t {
	case ActivitySleep:
		return CategorySleep
	case ActivityFeeding:
		return CategoryFeeding
	case ActivityPlay, ActivityTummyTime, ActivityOutdoors:
		return CategoryPlay
	default:
		return CategoryOther
	}
}

// ErrInvalidInterval возвращается, если конец интервала раньше начала
var ErrInvalidInterval = errors.New("end time before start time")

// ActivityRecord представляет одну запись активности (сон, кормление, игра и т.д.)
type ActivityRecord struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Notes     string       `json:"notes,omitempty"`
}

// Duration возвращает длительность активности
func (a ActivityRecord) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// Validate проверяет инвариант end >= start
func (a ActivityRecord) Validate() error {
	if a.EndTime.Before(a.StartTime) {
		return fmt.Errorf("activity %s: %w", a.ID, ErrInvalidInterval)
	}
	return nil
}

// Interruption пробуждение внутри эпизода сна
type Interruption struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Duration возвращает длительность пробуждения
func (i Interruption) Duration() time.Duration {
	return i.EndTime.Sub(i.StartTime)
}

// EnvironmentalFactor название фактора окружающей среды
type EnvironmentalFactor string

const (
	FactorLight       EnvironmentalFactor = "light"
	FactorNoise       EnvironmentalFactor = "noise"
	FactorTemperature EnvironmentalFactor = "temperature"
	FactorHumidity    EnvironmentalFactor = "humidity"
)

// AllEnvironmentalFactors перечисляет факторы в фиксированном порядке
var AllEnvironmentalFactors = []EnvironmentalFactor{
	FactorLight, FactorNoise, FactorTemperature, FactorHumidity,
}

// EnvironmentalFactors показания датчиков во время сна
type EnvironmentalFactors struct {
	Light       *float64 `json:"light,omitempty"`
	Noise       *float64 `json:"noise,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// Value возвращает показание фактора, если оно есть
func (e *EnvironmentalFactors) Value(f EnvironmentalFactor) (float64, bool) {
	if e == nil {
		return 0, false
	}
	var v *float64
	switch f {
	case FactorLight:
		v = e.Light
	case FactorNoise:
		v = e.Noise
	case FactorTemperature:
		v = e.Temperature
	case FactorHumidity:
		v = e.Humidity
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// SleepRecord эпизод сна с пробуждениями и показаниями среды
type SleepRecord struct {
	ID            string                `json:"id"`
	StartTime     time.Time             `json:"start_time"`
	EndTime       time.Time             `json:"end_time"`
	Interruptions []Interruption        `json:"interruptions,omitempty"`
	Environment   *EnvironmentalFactors `json:"environment,omitempty"`
	Notes         string                `json:"notes,omitempty"`
}

// Duration возвращает полную длительность эпизода сна
func (s SleepRecord) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// InterruptionTime возвращает суммарную длительность пробуждений
func (s SleepRecord) InterruptionTime() time.Duration {
	var total time.Duration
	for _, i := range s.Interruptions {
		total += i.Duration()
	}
	return total
}

// Validate проверяет, что пробуждения не пересекаются и лежат внутри эпизода
func (s SleepRecord) Validate() error {
	if s.EndTime.Before(s.StartTime) {
		return fmt.Errorf("sleep %s: %w", s.ID, ErrInvalidInterval)
	}
	sorted := make([]Interruption, len(s.Interruptions))
	copy(sorted, s.Interruptions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})
	for i, in := range sorted {
		if in.EndTime.Before(in.StartTime) {
			return fmt.Errorf("sleep %s interruption %d: %w", s.ID, i, ErrInvalidInterval)
		}
		if in.StartTime.Before(s.StartTime) || in.EndTime.After(s.EndTime) {
			return fmt.Errorf("sleep %s interruption %d outside sleep interval", s.ID, i)
		}
		if i > 0 && in.StartTime.Before(sorted[i-1].EndTime) {
			return fmt.Errorf("sleep %s interruptions %d and %d overlap", s.ID, i-1, i)
		}
	}
	return nil
}

// ToActivity приводит эпизод сна к общей записи активности
func (s SleepRecord) ToActivity() ActivityRecord {
	return ActivityRecord{
		ID:        s.ID,
		Type:      ActivitySleep,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Notes:     s.Notes,
	}
}

// FeedingRecord запись кормления
type FeedingRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind,omitempty"` // breast, bottle, solid
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	AmountML  float64   `json:"amount_ml,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Duration возвращает длительность кормления
func (f FeedingRecord) Duration() time.Duration {
	return f.EndTime.Sub(f.StartTime)
}

// Validate проверяет инвариант end >= start
func (f FeedingRecord) Validate() error {
	if f.EndTime.Before(f.StartTime) {
		return fmt.Errorf("feeding %s: %w", f.ID, ErrInvalidInterval)
	}
	return nil
}

// ToActivity приводит кормление к общей записи активности
func (f FeedingRecord) ToActivity() ActivityRecord {
	return ActivityRecord{
		ID:        f.ID,
		Type:      ActivityFeeding,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
		Notes:     f.Notes,
	}
}

// DateRange интервал дат для анализа
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastDays возвращает интервал длиной days суток, заканчивающийся в now
func LastDays(now time.Time, days int) DateRange {
	return DateRange{Start: now.Add(-time.Duration(days) * 24 * time.Hour), End: now}
}

// TrailingDays возвращает интервал за последние days суток с концом,
// округленным вверх до часа. В течение часа интервал не меняется, поэтому
// повторные запросы попадают в один ключ кэша.
func TrailingDays(now time.Time, days int) DateRange {
	return LastDays(now.Truncate(time.Hour).Add(time.Hour), days)
}

// Days возвращает длину интервала в сутках
func (r DateRange) Days() float64 {
	if r.End.Before(r.Start) {
		return 0
	}
	return r.End.Sub(r.Start).Hours() / 24
}

// Contains проверяет, попадает ли момент в интервал (границы включительно)
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Validate проверяет корректность интервала
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range bounds must be set")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range: %w", ErrInvalidInterval)
	}
	return nil
}

// DayKey возвращает ключ календарного дня в часовом поясе самой отметки
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
