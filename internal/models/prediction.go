package models

import "time"

// PredictionValidity срок годности прогноза
const PredictionValidity = 12 * time.Hour

// NextSleepPrediction прогноз следующего сна (или пробуждения, если ребенок спит)
type NextSleepPrediction struct {
	EarliestStartTime time.Time     `json:"earliest_start_time"`
	LatestStartTime   time.Time     `json:"latest_start_time"`
	ExpectedDuration  time.Duration `json:"expected_duration"`
	DurationVariance  time.Duration `json:"duration_variance"`
	Confidence        float64       `json:"confidence"`
	IsWakeUp          bool          `json:"is_wake_up"`
}

// NextFeedingPrediction прогноз следующего кормления
type NextFeedingPrediction struct {
	EarliestStartTime time.Time     `json:"earliest_start_time"`
	LatestStartTime   time.Time     `json:"latest_start_time"`
	ExpectedDuration  time.Duration `json:"expected_duration"`
	Confidence        float64       `json:"confidence"`
}

// NextActivityPrediction прогноз следующей активности
type NextActivityPrediction struct {
	Activity          ActivityType  `json:"activity"`
	EarliestStartTime time.Time     `json:"earliest_start_time"`
	LatestStartTime   time.Time     `json:"latest_start_time"`
	ExpectedDuration  time.Duration `json:"expected_duration"`
	Confidence        float64       `json:"confidence"`
}

// PredictionResult итоговый прогноз
type PredictionResult struct {
	PredictionTimestamp time.Time               `json:"prediction_timestamp"`
	ConfidenceScore     float64                 `json:"confidence_score"`
	NextSleep           *NextSleepPrediction    `json:"next_sleep,omitempty"`
	NextFeeding         *NextFeedingPrediction  `json:"next_feeding,omitempty"`
	NextActivity        *NextActivityPrediction `json:"next_activity,omitempty"`
	BasedOnRecordsCount int                     `json:"based_on_records_count"`
	BasedOnDaysCount    int                     `json:"based_on_days_count"`
	PatternType         PatternType             `json:"pattern_type"`
	ValidUntil          time.Time               `json:"valid_until"`
	Source              Source                  `json:"source"`
}

// IsStale сообщает, истек ли срок годности прогноза
func (p PredictionResult) IsStale(now time.Time) bool {
	return !now.Before(p.ValidUntil)
}
