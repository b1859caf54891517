// Package engine выбирает, где выполнять анализ: в облаке (с кэшем и ограничителем)
// или локально, и переходит на локальный анализ при любой ошибке облака.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"babycare-insights/internal/cache"
	"babycare-insights/internal/cloud"
	"babycare-insights/internal/metrics"
	"babycare-insights/internal/models"
	"babycare-insights/internal/prediction"
	"babycare-insights/internal/routine"
	"babycare-insights/internal/sleep"
	"babycare-insights/internal/store"
)

// Settings пользовательские настройки облачного анализа
type Settings struct {
	CloudAnalysisEnabled bool   `json:"cloud_analysis_enabled" mapstructure:"enabled"`
	WiFiOnly             bool   `json:"wifi_only" mapstructure:"wifi_only"`
	APIKey               string `json:"-" mapstructure:"api_key"`
}

// NetworkStatus состояние сети
type NetworkStatus struct {
	Reachable bool
	WiFi      bool
}

// NetworkMonitor сообщает текущее состояние сети
type NetworkMonitor interface {
	Status() NetworkStatus
}

// StaticNetwork неизменное состояние сети (сервер, тесты)
type StaticNetwork NetworkStatus

// Status реализует NetworkMonitor
func (s StaticNetwork) Status() NetworkStatus {
	return NetworkStatus(s)
}

// CloudGateway облачный анализ; реализован cloud.Gateway
type CloudGateway interface {
	AnalyzeSleep(ctx context.Context, credential, subjectID string, records []models.SleepRecord, rng models.DateRange) (models.SleepPatternResult, error)
	AnalyzeRoutine(ctx context.Context, credential, subjectID string, activities []models.ActivityRecord, rng models.DateRange) (models.RoutinePatternResult, error)
	PredictNextSleep(ctx context.Context, credential, subjectID string, sleep []models.SleepRecord, feeding []models.FeedingRecord, activities []models.ActivityRecord) (models.PredictionResult, error)
}

// Limiter ограничитель облачных вызовов; реализован ratelimit.UsageLimiter
type Limiter interface {
	Allow(credential string) error
	RecordRateLimited(credential string)
	RecordSuccess(credential string)
}

// Orchestrator точка входа для анализа и прогнозов
type Orchestrator struct {
	records   store.RecordStore
	sleep     *sleep.Analyzer
	routine   *routine.Analyzer
	predictor *prediction.Engine

	results *cache.Results
	limiter Limiter
	gateway CloudGateway
	network NetworkMonitor
	group   singleflight.Group

	mu       sync.RWMutex
	settings Settings

	now    func() time.Time
	logger *zap.Logger
}

type options struct {
	sleepConfig sleep.Config
	results     *cache.Results
	limiter     Limiter
	gateway     CloudGateway
	network     NetworkMonitor
	settings    Settings
	now         func() time.Time
	logger      *zap.Logger
}

// Option настраивает Orchestrator
type Option func(*options)

// WithCache включает кэш результатов облачного анализа
func WithCache(results *cache.Results) Option {
	return func(o *options) { o.results = results }
}

// WithLimiter задает ограничитель облачных вызовов
func WithLimiter(l Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithGateway задает облачный шлюз; без него анализ всегда локальный
func WithGateway(g CloudGateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithNetwork задает монитор сети
func WithNetwork(n NetworkMonitor) Option {
	return func(o *options) { o.network = n }
}

// WithSettings задает начальные настройки
func WithSettings(s Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithSleepConfig задает дневное окно анализатора сна
func WithSleepConfig(cfg sleep.Config) Option {
	return func(o *options) { o.sleepConfig = cfg }
}

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New создает оркестратор
func New(records store.RecordStore, opts ...Option) *Orchestrator {
	o := options{
		sleepConfig: sleep.DefaultConfig(),
		network:     StaticNetwork{Reachable: true, WiFi: true},
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	sleepAnalyzer := sleep.NewAnalyzer(o.sleepConfig,
		sleep.WithClock(o.now),
		sleep.WithLogger(o.logger.Named("sleep")),
	)
	return &Orchestrator{
		records: records,
		sleep:   sleepAnalyzer,
		routine: routine.NewAnalyzer(
			routine.WithClock(o.now),
			routine.WithLogger(o.logger.Named("routine")),
		),
		predictor: prediction.NewEngine(records, sleepAnalyzer,
			prediction.WithClock(o.now),
			prediction.WithLogger(o.logger.Named("prediction")),
		),
		results:  o.results,
		limiter:  o.limiter,
		gateway:  o.gateway,
		network:  o.network,
		settings: o.settings,
		now:      o.now,
		logger:   o.logger,
	}
}

// Settings возвращает текущие настройки
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// UpdateSettings применяет новые настройки к последующим запросам
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
	o.logger.Info("Cloud settings updated",
		zap.Bool("cloud_enabled", s.CloudAnalysisEnabled),
		zap.Bool("wifi_only", s.WiFiOnly),
		zap.Bool("has_credential", s.APIKey != ""),
	)
}

// Watch применяет настройки из канала до отмены ctx или закрытия канала
func (o *Orchestrator) Watch(ctx context.Context, updates <-chan Settings) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			o.UpdateSettings(s)
		}
	}
}

// cloudSettings возвращает настройки, если облачный анализ сейчас разрешен
func (o *Orchestrator) cloudSettings() (Settings, bool) {
	s := o.Settings()
	if o.gateway == nil || !s.CloudAnalysisEnabled || s.APIKey == "" {
		return s, false
	}
	status := o.network.Status()
	if !status.Reachable || (s.WiFiOnly && !status.WiFi) {
		return s, false
	}
	return s, true
}

// AnalyzeSleep анализирует сон за интервал
func (o *Orchestrator) AnalyzeSleep(ctx context.Context, subjectID string, rng models.DateRange) (models.SleepPatternResult, error) {
	start := time.Now()
	records, err := o.records.SleepRecords(ctx, subjectID, rng)
	if err != nil {
		return models.SleepPatternResult{}, err
	}

	key := cache.Key(subjectID, rng, cache.KindSleep)
	result, source, err := resolve(ctx, o, cache.KindSleep, key, nil,
		func(ctx context.Context, credential string) (models.SleepPatternResult, error) {
			return o.gateway.AnalyzeSleep(ctx, credential, subjectID, records, rng)
		})
	if err != nil {
		return models.SleepPatternResult{}, err
	}
	if source == models.SourceLocal {
		result = o.sleep.Analyze(records, rng)
	}
	result.Metadata.Source = source

	metrics.ObserveAnalysis(string(cache.KindSleep), string(source), time.Since(start))
	return result, nil
}

// AnalyzeRoutine анализирует режим дня за интервал
func (o *Orchestrator) AnalyzeRoutine(ctx context.Context, subjectID string, rng models.DateRange) (models.RoutinePatternResult, error) {
	start := time.Now()
	activities, err := o.activities(ctx, subjectID, rng)
	if err != nil {
		return models.RoutinePatternResult{}, err
	}

	key := cache.Key(subjectID, rng, cache.KindRoutine)
	result, source, err := resolve(ctx, o, cache.KindRoutine, key, nil,
		func(ctx context.Context, credential string) (models.RoutinePatternResult, error) {
			return o.gateway.AnalyzeRoutine(ctx, credential, subjectID, activities, rng)
		})
	if err != nil {
		return models.RoutinePatternResult{}, err
	}
	if source == models.SourceLocal {
		result = o.routine.Analyze(activities, rng)
	}
	result.Metadata.Source = source

	metrics.ObserveAnalysis(string(cache.KindRoutine), string(source), time.Since(start))
	return result, nil
}

// PredictNextSleep строит прогноз сна, кормления и активности
func (o *Orchestrator) PredictNextSleep(ctx context.Context, subjectID string) (models.PredictionResult, error) {
	start := time.Now()
	rng := o.predictor.Lookback()
	sleepRecords, err := o.records.SleepRecords(ctx, subjectID, rng)
	if err != nil {
		return models.PredictionResult{}, err
	}
	feedings, err := o.records.FeedingRecords(ctx, subjectID, rng)
	if err != nil {
		return models.PredictionResult{}, err
	}
	activities, err := o.records.Activities(ctx, subjectID, rng)
	if err != nil {
		return models.PredictionResult{}, err
	}

	fresh := func(p models.PredictionResult) bool { return !p.IsStale(o.now()) }
	key := cache.PredictionKey(subjectID, prediction.LookbackDays)
	result, source, err := resolve(ctx, o, cache.KindPrediction, key, fresh,
		func(ctx context.Context, credential string) (models.PredictionResult, error) {
			return o.gateway.PredictNextSleep(ctx, credential, subjectID, sleepRecords, feedings, activities)
		})
	if err != nil {
		return models.PredictionResult{}, err
	}
	if source == models.SourceLocal {
		result = o.predictor.PredictFromRecords(sleepRecords, feedings, activities)
	}
	result.Source = source

	metrics.ObserveAnalysis(string(cache.KindPrediction), string(source), time.Since(start))
	return result, nil
}

// PredictNextFeeding прогноз кормления; выполняется только локально
func (o *Orchestrator) PredictNextFeeding(ctx context.Context, subjectID string) (models.PredictionResult, error) {
	return o.predictor.PredictNextFeeding(ctx, subjectID)
}

// PredictNextActivity прогноз активности; выполняется только локально
func (o *Orchestrator) PredictNextActivity(ctx context.Context, subjectID string) (models.PredictionResult, error) {
	return o.predictor.PredictNextActivity(ctx, subjectID)
}

// activities объединяет явные активности с эпизодами сна и кормлениями
func (o *Orchestrator) activities(ctx context.Context, subjectID string, rng models.DateRange) ([]models.ActivityRecord, error) {
	activities, err := o.records.Activities(ctx, subjectID, rng)
	if err != nil {
		return nil, err
	}
	sleepRecords, err := o.records.SleepRecords(ctx, subjectID, rng)
	if err != nil {
		return nil, err
	}
	feedings, err := o.records.FeedingRecords(ctx, subjectID, rng)
	if err != nil {
		return nil, err
	}
	return MergeActivities(activities, sleepRecords, feedings), nil
}

// MergeActivities добавляет к активностям сон и кормления, если они не записаны как активности
func MergeActivities(activities []models.ActivityRecord, sleepRecords []models.SleepRecord, feedings []models.FeedingRecord) []models.ActivityRecord {
	merged := make([]models.ActivityRecord, 0, len(activities)+len(sleepRecords)+len(feedings))
	seen := make(map[string]struct{}, len(activities))
	for _, a := range activities {
		merged = append(merged, a)
		if a.ID != "" {
			seen[a.ID] = struct{}{}
		}
	}
	for _, s := range sleepRecords {
		if _, dup := seen[s.ID]; !dup {
			merged = append(merged, s.ToActivity())
		}
	}
	for _, f := range feedings {
		if _, dup := seen[f.ID]; !dup {
			merged = append(merged, f.ToActivity())
		}
	}
	return merged
}

// resolve пытается получить результат из кэша или облака. Источник SourceLocal
// означает, что вызывающий должен посчитать результат локально. Ошибка
// возвращается только при отмене контекста вызывающего.
func resolve[T any](
	ctx context.Context,
	o *Orchestrator,
	kind cache.Kind,
	key string,
	fresh func(T) bool,
	call func(ctx context.Context, credential string) (T, error),
) (T, models.Source, error) {
	var zero T
	settings, permitted := o.cloudSettings()
	if !permitted {
		return zero, models.SourceLocal, nil
	}
	log := o.logger.With(zap.String("kind", string(kind)), zap.String("key", key))

	if o.results != nil {
		var cached T
		hit, err := o.results.Load(ctx, key, &cached)
		switch {
		case err != nil:
			log.Warn("Cache read failed", zap.Error(err))
		case hit && (fresh == nil || fresh(cached)):
			return cached, models.SourceCache, nil
		case hit:
			log.Debug("Dropping stale cached result")
			if err := o.results.Invalidate(ctx, key); err != nil {
				log.Warn("Failed to invalidate stale result", zap.Error(err))
			}
		}
	}

	if o.limiter != nil {
		if err := o.limiter.Allow(settings.APIKey); err != nil {
			metrics.LimiterRejections.Inc()
			metrics.CloudFallbacks.WithLabelValues(string(kind), "limited").Inc()
			log.Info("Cloud call limited, using local analysis", zap.Error(err))
			return zero, models.SourceLocal, nil
		}
	}

	// Учет ответа сервиса и запись в кэш выполняются один раз на общий вызов
	ch := o.group.DoChan(string(kind)+"|"+key, func() (any, error) {
		result, err := call(ctx, settings.APIKey)
		if err != nil {
			if errors.Is(err, cloud.ErrRateLimited) && o.limiter != nil {
				o.limiter.RecordRateLimited(settings.APIKey)
			}
			return nil, err
		}
		if o.limiter != nil {
			o.limiter.RecordSuccess(settings.APIKey)
		}
		if o.results != nil {
			if err := o.results.Save(context.WithoutCancel(ctx), key, result, kind.TTL()); err != nil {
				log.Warn("Failed to cache cloud result", zap.Error(err))
			}
		}
		return result, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, "", ctx.Err()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, "", ctxErr
	}
	if err := res.Err; err != nil {
		if errors.Is(err, cloud.ErrCloudDisabled) {
			log.Info("Cloud analysis disabled for account, using local analysis")
			return zero, models.SourceLocal, nil
		}
		reason := cloud.Reason(err)
		metrics.CloudFallbacks.WithLabelValues(string(kind), reason).Inc()
		log.Warn("Cloud analysis failed, falling back to local",
			zap.String("reason", reason),
			zap.Error(err),
		)
		return zero, models.SourceLocal, nil
	}

	return res.Val.(T), models.SourceCloud, nil
}
