// Package analytics содержит статистические примитивы, общие для анализаторов сна, режима и прогнозов
// Включает накопление моментов (среднее, стандартное отклонение), медиану,
// коэффициент вариации, корреляцию Пирсона и работу со временем суток.
package analytics

import (
	"math"
	"sort"
	"time"
)

const (
	// MinutesPerDay число минут в сутках
	MinutesPerDay = 24 * 60
	// HalfDayMinutes порог свертки разницы времени суток (12 часов)
	HalfDayMinutes = MinutesPerDay / 2
)

// Moments накапливает сумму и сумму квадратов для потокового расчета среднего и дисперсии
type Moments struct {
	count int
	sum   float64
	sumSq float64
}

// MomentsOf строит моменты по срезу значений
func MomentsOf(values []float64) Moments {
	var m Moments
	for _, v := range values {
		m.Add(v)
	}
	return m
}

// Add добавляет значение
func (m *Moments) Add(value float64) {
	m.count++
	m.sum += value
	m.sumSq += value * value
}

// Count возвращает количество значений
func (m *Moments) Count() int {
	return m.count
}

// Sum возвращает сумму значений
func (m *Moments) Sum() float64 {
	return m.sum
}

// Mean возвращает среднее значение
func (m *Moments) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// StdDev возвращает выборочное стандартное отклонение
func (m *Moments) StdDev() float64 {
	if m.count < 2 {
		return 0
	}
	n := float64(m.count)
	variance := (m.sumSq - (m.sum*m.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// CV возвращает коэффициент вариации (stddev / mean)
func (m *Moments) CV() float64 {
	mean := m.Mean()
	if mean == 0 {
		return 0
	}
	return m.StdDev() / math.Abs(mean)
}

// Mean возвращает среднее значение среза
func Mean(values []float64) float64 {
	m := MomentsOf(values)
	return m.Mean()
}

// StdDev возвращает выборочное стандартное отклонение (двухпроходный расчет)
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// CoefficientOfVariation возвращает stddev / mean, 0 для пустого среза или нулевого среднего
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return StdDev(values) / math.Abs(mean)
}

// Median возвращает медиану, не изменяя входной срез
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Pearson возвращает коэффициент корреляции; ok=false, если одна из выборок постоянна
func Pearson(xs, ys []float64) (r float64, ok bool) {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0, false
	}
	mx, my := Mean(xs), Mean(ys)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return Clamp(cov/math.Sqrt(vx*vy), -1, 1), true
}

// Clamp ограничивает значение интервалом [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MinutesOfDay переводит отметку времени в минуты от полуночи в ее часовом поясе
func MinutesOfDay(t time.Time) float64 {
	return float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60
}

// FoldMinutes сворачивает разницу времени суток в интервал (-720, 720]
func FoldMinutes(diff float64) float64 {
	for diff > HalfDayMinutes {
		diff -= MinutesPerDay
	}
	for diff <= -HalfDayMinutes {
		diff += MinutesPerDay
	}
	return diff
}

// CircularStdDev возвращает стандартное отклонение времени суток с учетом перехода через полночь.
// Смещения считаются от первого значения и сворачиваются по ±24ч, если превышают 12ч.
func CircularStdDev(minutes []float64) float64 {
	if len(minutes) < 2 {
		return 0
	}
	offsets := make([]float64, len(minutes))
	anchor := minutes[0]
	for i, m := range minutes {
		offsets[i] = FoldMinutes(m - anchor)
	}
	return StdDev(offsets)
}

// NormalizeMinutes приводит значение минут к [0, 1440)
func NormalizeMinutes(m float64) float64 {
	m = math.Mod(m, MinutesPerDay)
	if m < 0 {
		m += MinutesPerDay
	}
	return m
}

// RatioScore возвращает min(value/limit, 1) для неотрицательного value
func RatioScore(value, limit float64) float64 {
	if limit <= 0 || value <= 0 {
		return 0
	}
	return math.Min(value/limit, 1)
}
