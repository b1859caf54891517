package cloud

import (
	"context"
	"time"

	"go.uber.org/zap"

	"babycare-insights/internal/models"
)

// Gateway обезличивает записи, вызывает облако и приводит ответ к моделям
type Gateway struct {
	client *Client
	anon   *Anonymizer
	now    func() time.Time
	logger *zap.Logger
}

// GatewayOption настраивает Gateway
type GatewayOption func(*Gateway)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway создает шлюз
func NewGateway(client *Client, anon *Anonymizer, opts ...GatewayOption) *Gateway {
	g := &Gateway{client: client, anon: anon, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AnalyzeSleep выполняет анализ сна в облаке
func (g *Gateway) AnalyzeSleep(ctx context.Context, credential, subjectID string, records []models.SleepRecord, rng models.DateRange) (models.SleepPatternResult, error) {
	req := SleepAnalysisRequest{
		Subject: g.anon.Hash(subjectID),
		Range:   g.anon.Range(rng),
		Records: g.anon.Sleep(records),
	}

	var result models.SleepPatternResult
	if err := g.client.Post(ctx, credential, PathSleepAnalysis, req, &result); err != nil {
		return models.SleepPatternResult{}, err
	}

	pattern, err := models.ParsePatternType(string(result.PatternType))
	if err != nil {
		return models.SleepPatternResult{}, &Error{Kind: ErrUnknown, Op: PathSleepAnalysis, Err: err}
	}
	direction, err := models.ParseTrendDirection(string(result.Trend.Direction))
	if err != nil {
		return models.SleepPatternResult{}, &Error{Kind: ErrUnknown, Op: PathSleepAnalysis, Err: err}
	}
	result.PatternType = pattern
	result.Trend.Direction = direction
	if result.EnvironmentalFactors == nil {
		result.EnvironmentalFactors = []models.EnvironmentalFactorImpact{}
	}
	result.Metadata = g.metadata(result.Metadata, rng, len(records))
	return result, nil
}

// AnalyzeRoutine выполняет анализ режима дня в облаке
func (g *Gateway) AnalyzeRoutine(ctx context.Context, credential, subjectID string, activities []models.ActivityRecord, rng models.DateRange) (models.RoutinePatternResult, error) {
	req := RoutineAnalysisRequest{
		Subject:    g.anon.Hash(subjectID),
		Range:      g.anon.Range(rng),
		Activities: g.anon.Activities(activities),
	}

	var result models.RoutinePatternResult
	if err := g.client.Post(ctx, credential, PathRoutineAnalysis, req, &result); err != nil {
		return models.RoutinePatternResult{}, err
	}

	pattern, err := models.ParsePatternType(string(result.PatternType))
	if err != nil {
		return models.RoutinePatternResult{}, &Error{Kind: ErrUnknown, Op: PathRoutineAnalysis, Err: err}
	}
	direction, err := models.ParseTrendDirection(string(result.Trend.Direction))
	if err != nil {
		return models.RoutinePatternResult{}, &Error{Kind: ErrUnknown, Op: PathRoutineAnalysis, Err: err}
	}
	result.PatternType = pattern
	result.Trend.Direction = direction
	if result.Cycles == nil {
		result.Cycles = []models.RoutineCycle{}
	}
	result.Metadata = g.metadata(result.Metadata, rng, len(activities))
	return result, nil
}

// PredictNextSleep запрашивает прогноз в облаке
func (g *Gateway) PredictNextSleep(ctx context.Context, credential, subjectID string, sleep []models.SleepRecord, feeding []models.FeedingRecord, activities []models.ActivityRecord) (models.PredictionResult, error) {
	now := g.now()
	req := PredictionRequest{
		Subject:    g.anon.Hash(subjectID),
		Now:        now.UTC(),
		Sleep:      g.anon.Sleep(sleep),
		Feeding:    g.anon.Feedings(feeding),
		Activities: g.anon.Activities(activities),
	}

	var result models.PredictionResult
	if err := g.client.Post(ctx, credential, PathSleepPrediction, req, &result); err != nil {
		return models.PredictionResult{}, err
	}

	pattern, err := models.ParsePatternType(string(result.PatternType))
	if err != nil {
		return models.PredictionResult{}, &Error{Kind: ErrUnknown, Op: PathSleepPrediction, Err: err}
	}
	result.PatternType = pattern
	result.Source = models.SourceCloud
	if result.PredictionTimestamp.IsZero() {
		result.PredictionTimestamp = now
	}
	if result.ValidUntil.IsZero() {
		result.ValidUntil = result.PredictionTimestamp.Add(models.PredictionValidity)
	}
	if result.BasedOnRecordsCount == 0 {
		result.BasedOnRecordsCount = len(sleep) + len(feeding) + len(activities)
	}
	return result, nil
}

func (g *Gateway) metadata(meta models.AnalysisMetadata, rng models.DateRange, records int) models.AnalysisMetadata {
	meta.DateRange = rng
	meta.Source = models.SourceCloud
	if meta.RecordsAnalyzed == 0 {
		meta.RecordsAnalyzed = records
	}
	if meta.AnalyzedAt.IsZero() {
		meta.AnalyzedAt = g.now()
	}
	return meta
}
