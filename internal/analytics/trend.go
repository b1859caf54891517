package analytics

import (
	"math"

	"babycare-insights/internal/models"
)

const (
	// TrendThreshold порог композитной оценки для improving/declining
	TrendThreshold = 0.1
	// FluctuationThreshold порог изменения регулярности для fluctuating
	FluctuationThreshold = 0.2
)

// ClassifyTrend классифицирует композитное изменение между половинами периода.
// Резкое изменение регулярности (|Δ| > 0.2) при нейтральной или противоположной по знаку
// композитной оценке дает fluctuating.
func ClassifyTrend(composite, regularityChange float64) models.TrendDirection {
	if math.Abs(regularityChange) > FluctuationThreshold {
		neutral := math.Abs(composite) <= TrendThreshold
		opposite := regularityChange*composite < 0
		if neutral || opposite {
			return models.TrendFluctuating
		}
	}
	switch {
	case composite > TrendThreshold:
		return models.TrendImproving
	case composite < -TrendThreshold:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

// SplitHalves возвращает границу деления хронологически упорядоченной выборки пополам
func SplitHalves(n int) int {
	return n / 2
}
