// Package prediction прогнозирует ближайшие сон, кормление и активность.
// Для сна объединяются три метода (интервальный, по времени суток, по циклу),
// для кормления и активностей используется интервальный метод.
package prediction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
	"babycare-insights/internal/sleep"
	"babycare-insights/internal/store"
)

const (
	// LookbackDays глубина истории для прогноза
	LookbackDays = 14
	// MinRecords минимум записей для прогноза
	MinRecords = 7
	// MinDays минимум различных дней с записями
	MinDays = 3

	feedingGapCap  = 12 * time.Hour
	activityGapCap = 24 * time.Hour

	overdueWakeWindow    = 15 * time.Minute
	overdueWakeConf      = 0.7
	maxWakeConfidence    = 0.9
	wakeEarlyFactor      = 0.8
	wakeLateFactor       = 1.2
	sleepComponentWeight = 0.5
	feedComponentWeight  = 0.3
	actComponentWeight   = 0.1
	patternWeight        = 0.1
)

// Engine строит прогнозы по записям из хранилища
type Engine struct {
	records  store.RecordStore
	analyzer *sleep.Analyzer
	now      func() time.Time
	logger   *zap.Logger
}

// Option настраивает Engine
type Option func(*Engine)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine создает движок прогнозов
func NewEngine(records store.RecordStore, analyzer *sleep.Analyzer, opts ...Option) *Engine {
	e := &Engine{
		records:  records,
		analyzer: analyzer,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Lookback возвращает интервал истории, используемый для прогноза
func (e *Engine) Lookback() models.DateRange {
	return models.LastDays(e.now(), LookbackDays)
}

// PredictNextSleep строит полный прогноз: сон, кормление, активность.
// Ошибки хранилища возвращаются без изменений.
func (e *Engine) PredictNextSleep(ctx context.Context, subjectID string) (models.PredictionResult, error) {
	rng := e.Lookback()
	sleepRecords, err := e.records.SleepRecords(ctx, subjectID, rng)
	if err != nil {
		return models.PredictionResult{}, err
	}
	feedings, err := e.records.FeedingRecords(ctx, subjectID, rng)
	if err != nil {
		return models.PredictionResult{}, err
	}
	activities, err := e.records.Activities(ctx, subjectID, rng)
	if err != nil {
		return models.PredictionResult{}, err
	}

	result := e.PredictFromRecords(sleepRecords, feedings, activities)
	e.logger.Debug("Sleep prediction computed",
		zap.String("subject_id", subjectID),
		zap.String("pattern", string(result.PatternType)),
		zap.Float64("confidence", result.ConfidenceScore),
	)
	return result, nil
}

// PredictNextFeeding строит прогноз только следующего кормления
func (e *Engine) PredictNextFeeding(ctx context.Context, subjectID string) (models.PredictionResult, error) {
	feedings, err := e.records.FeedingRecords(ctx, subjectID, e.Lookback())
	if err != nil {
		return models.PredictionResult{}, err
	}

	now := e.now()
	spans := feedingSpans(feedings)
	result := newResult(now)
	result.BasedOnRecordsCount = len(spans)
	result.BasedOnDaysCount = distinctDays(spans)

	next, pattern := predictFeeding(spans, now)
	if next != nil {
		result.NextFeeding = next
		result.PatternType = pattern
		result.ConfidenceScore = next.Confidence
	}
	return result, nil
}

// PredictNextActivity строит прогноз только следующей активности
func (e *Engine) PredictNextActivity(ctx context.Context, subjectID string) (models.PredictionResult, error) {
	activities, err := e.records.Activities(ctx, subjectID, e.Lookback())
	if err != nil {
		return models.PredictionResult{}, err
	}

	now := e.now()
	result := newResult(now)
	result.BasedOnRecordsCount = len(activities)

	next, pattern, days := predictActivity(activities, now)
	result.BasedOnDaysCount = days
	if next != nil {
		result.NextActivity = next
		result.PatternType = pattern
		result.ConfidenceScore = next.Confidence
	}
	return result, nil
}

// PredictFromRecords строит прогноз по уже загруженным записям без обращения к хранилищу
func (e *Engine) PredictFromRecords(sleepRecords []models.SleepRecord, feedings []models.FeedingRecord, activities []models.ActivityRecord) models.PredictionResult {
	now := e.now()
	result := newResult(now)
	result.BasedOnRecordsCount = len(sleepRecords) + len(feedings) + len(activities)

	spans := sortSpans(sleepSpans(sleepRecords))
	result.BasedOnDaysCount = distinctDays(spans)

	if len(spans) < MinRecords || result.BasedOnDaysCount < MinDays {
		e.logger.Debug("Not enough sleep records for prediction",
			zap.Int("records", len(spans)),
			zap.Int("days", result.BasedOnDaysCount),
		)
		return result
	}

	// незавершенный эпизод (ребенок спит) не участвует в статистике
	completed := make([]models.SleepRecord, 0, len(sleepRecords))
	var ongoing *span
	for _, r := range sleepRecords {
		if r.EndTime.After(now) {
			if ongoing == nil || r.StartTime.After(ongoing.start) {
				ongoing = &span{start: r.StartTime, end: r.EndTime}
			}
			continue
		}
		completed = append(completed, r)
	}

	analysis := e.analyzer.Analyze(completed, models.LastDays(now, LookbackDays))
	result.PatternType = analysis.PatternType
	patternConfidence := analysis.Metadata.ConfidenceScore

	if ongoing != nil {
		result.NextSleep = wakePrediction(*ongoing, sleep.AverageDuration(completed), patternConfidence, now)
	} else {
		result.NextSleep = predictSleep(sortSpans(sleepSpans(completed)), analysis, now)
	}

	result.NextFeeding, _ = predictFeeding(feedingSpans(feedings), now)
	result.NextActivity, _, _ = predictActivity(activities, now)
	result.ConfidenceScore = overallConfidence(result, patternConfidence)
	return result
}

func newResult(now time.Time) models.PredictionResult {
	return models.PredictionResult{
		PredictionTimestamp: now,
		PatternType:         models.PatternInsufficient,
		ValidUntil:          now.Add(models.PredictionValidity),
		Source:              models.SourceLocal,
	}
}

// wakePrediction прогноз пробуждения для текущего эпизода сна
func wakePrediction(current span, average time.Duration, patternConfidence float64, now time.Time) *models.NextSleepPrediction {
	elapsed := now.Sub(current.start)
	if average <= 0 || elapsed >= average {
		return &models.NextSleepPrediction{
			EarliestStartTime: now,
			LatestStartTime:   now.Add(overdueWakeWindow),
			Confidence:        overdueWakeConf,
			IsWakeUp:          true,
		}
	}
	remaining := average - elapsed
	return &models.NextSleepPrediction{
		EarliestStartTime: now.Add(time.Duration(float64(remaining) * wakeEarlyFactor)),
		LatestStartTime:   now.Add(time.Duration(float64(remaining) * wakeLateFactor)),
		ExpectedDuration:  average,
		Confidence:        min(maxWakeConfidence, patternConfidence),
		IsWakeUp:          true,
	}
}

func predictSleep(spans []span, analysis models.SleepPatternResult, now time.Time) *models.NextSleepPrediction {
	var estimates [methodCount]*estimate
	estimates[methodInterval] = byInterval(spans, now, cycleIntervalCap)
	estimates[methodTimeOfDay] = byTimeOfDay(spans, now)
	estimates[methodCycle] = byCycle(spans, now)

	est := fuse(estimates, weightsFor(analysis.PatternType, analysis.RegularityScore), now)
	if est == nil {
		return nil
	}
	clampWindow(est, now)
	return &models.NextSleepPrediction{
		EarliestStartTime: est.earliest,
		LatestStartTime:   est.latest,
		ExpectedDuration:  est.duration,
		DurationVariance:  est.variance,
		Confidence:        est.confidence,
	}
}

func predictFeeding(spans []span, now time.Time) (*models.NextFeedingPrediction, models.PatternType) {
	spans = sortSpans(spans)
	if len(spans) < MinRecords || distinctDays(spans) < MinDays {
		return nil, models.PatternInsufficient
	}
	est := byInterval(spans, now, feedingGapCap)
	if est == nil {
		return nil, models.PatternInsufficient
	}
	clampWindow(est, now)
	return &models.NextFeedingPrediction{
		EarliestStartTime: est.earliest,
		LatestStartTime:   est.latest,
		ExpectedDuration:  est.duration,
		Confidence:        est.confidence,
	}, intervalPattern(spans, feedingGapCap)
}

// predictActivity выбирает самую частую активность, кроме сна и кормления
func predictActivity(activities []models.ActivityRecord, now time.Time) (*models.NextActivityPrediction, models.PatternType, int) {
	byType := make(map[models.ActivityType][]span)
	for _, a := range activities {
		if a.Type == models.ActivitySleep || a.Type == models.ActivityFeeding {
			continue
		}
		byType[a.Type] = append(byType[a.Type], span{start: a.StartTime, end: a.EndTime})
	}

	var chosen models.ActivityType
	for t, spans := range byType {
		best := len(byType[chosen])
		if len(spans) > best || (len(spans) == best && t < chosen) {
			chosen = t
		}
	}
	spans := sortSpans(byType[chosen])
	days := distinctDays(spans)
	if len(spans)*2 < MinRecords {
		return nil, models.PatternInsufficient, days
	}

	est := byInterval(spans, now, activityGapCap)
	if est == nil {
		return nil, models.PatternInsufficient, days
	}
	clampWindow(est, now)
	return &models.NextActivityPrediction{
		Activity:          chosen,
		EarliestStartTime: est.earliest,
		LatestStartTime:   est.latest,
		ExpectedDuration:  est.duration,
		Confidence:        est.confidence,
	}, intervalPattern(spans, activityGapCap), days
}

// intervalPattern классифицирует ряд по вариации промежутков между событиями
func intervalPattern(spans []span, gapCap time.Duration) models.PatternType {
	var gaps []float64
	for i := 1; i < len(spans); i++ {
		gap := spans[i].start.Sub(spans[i-1].end)
		if gap > 0 && gap <= gapCap {
			gaps = append(gaps, gap.Minutes())
		}
	}
	cv := analytics.CoefficientOfVariation(gaps)
	switch {
	case cv < 0.15:
		return models.PatternHighlyRegular
	case cv < 0.3:
		return models.PatternModeratelyRegular
	default:
		return models.PatternIrregular
	}
}

// overallConfidence взвешенное среднее уверенностей компонентов; нулевые не учитываются
func overallConfidence(result models.PredictionResult, patternConfidence float64) float64 {
	type component struct{ weight, value float64 }
	var components []component
	if result.NextSleep != nil {
		components = append(components, component{sleepComponentWeight, result.NextSleep.Confidence})
	}
	if result.NextFeeding != nil {
		components = append(components, component{feedComponentWeight, result.NextFeeding.Confidence})
	}
	if result.NextActivity != nil {
		components = append(components, component{actComponentWeight, result.NextActivity.Confidence})
	}
	components = append(components, component{patternWeight, patternConfidence})

	var sum, weights float64
	for _, c := range components {
		if c.value <= 0 {
			continue
		}
		sum += c.weight * c.value
		weights += c.weight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func sleepSpans(records []models.SleepRecord) []span {
	spans := make([]span, len(records))
	for i, r := range records {
		spans[i] = span{start: r.StartTime, end: r.EndTime}
	}
	return spans
}

func feedingSpans(records []models.FeedingRecord) []span {
	spans := make([]span, len(records))
	for i, r := range records {
		spans[i] = span{start: r.StartTime, end: r.EndTime}
	}
	return spans
}

func distinctDays(spans []span) int {
	days := make(map[string]struct{})
	for _, s := range spans {
		days[models.DayKey(s.start)] = struct{}{}
	}
	return len(days)
}
