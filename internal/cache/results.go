package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"babycare-insights/internal/metrics"
	"babycare-insights/internal/models"
)

const (
	// AnalysisTTL срок жизни результатов анализа сна и режима
	AnalysisTTL = time.Hour
	// PredictionTTL срок жизни прогнозов
	PredictionTTL = 30 * time.Minute
)

// Kind тип кэшируемого результата
type Kind string

const (
	KindSleep      Kind = "sleep"
	KindRoutine    Kind = "routine"
	KindPrediction Kind = "prediction"
)

// TTL возвращает срок жизни результата данного типа
func (k Kind) TTL() time.Duration {
	if k == KindPrediction {
		return PredictionTTL
	}
	return AnalysisTTL
}

// Key строит ключ результата анализа: subject|start|end|kind
func Key(subjectID string, rng models.DateRange, kind Kind) string {
	return strings.Join([]string{
		subjectID,
		rng.Start.UTC().Format(time.RFC3339),
		rng.End.UTC().Format(time.RFC3339),
		string(kind),
	}, "|")
}

// PredictionKey строит ключ прогноза. Интервал прогноза сдвигается вместе с часами,
// поэтому в ключ входит только глубина истории.
func PredictionKey(subjectID string, lookbackDays int) string {
	return fmt.Sprintf("%s|last%dd|%s", subjectID, lookbackDays, KindPrediction)
}

// envelope хранит результат вместе с моментом истечения
type envelope struct {
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Results типизированный кэш результатов поверх Store
type Results struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// ResultsOption настраивает Results
type ResultsOption func(*Results)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) ResultsOption {
	return func(r *Results) { r.now = now }
}

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) ResultsOption {
	return func(r *Results) { r.logger = logger }
}

// NewResults создает кэш результатов
func NewResults(store Store, opts ...ResultsOption) *Results {
	r := &Results{store: store, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load читает результат в dest. Возвращает false при промахе, истекшем сроке
// или поврежденной записи; ошибка возвращается только при сбое хранилища.
func (r *Results) Load(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		metrics.CacheMisses.Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheMisses.Inc()
		return false, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Payload) == 0 {
		r.logger.Warn("Dropping malformed cache entry", zap.String("key", key), zap.Error(err))
		r.drop(ctx, key)
		metrics.CacheMisses.Inc()
		return false, nil
	}
	if !env.ExpiresAt.IsZero() && !r.now().Before(env.ExpiresAt) {
		r.drop(ctx, key)
		metrics.CacheMisses.Inc()
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		r.logger.Warn("Dropping undecodable cache payload", zap.String("key", key), zap.Error(err))
		r.drop(ctx, key)
		metrics.CacheMisses.Inc()
		return false, nil
	}

	metrics.CacheHits.Inc()
	return true, nil
}

// Save сохраняет результат на ttl
func (r *Results) Save(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached result: %w", err)
	}
	now := r.now()
	data, err := json.Marshal(envelope{CachedAt: now, ExpiresAt: now.Add(ttl), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}
	return r.store.Set(ctx, key, data, ttl)
}

// Invalidate удаляет результат
func (r *Results) Invalidate(ctx context.Context, key string) error {
	return r.store.Delete(ctx, key)
}

func (r *Results) drop(ctx context.Context, key string) {
	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.Warn("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
	}
}
