// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"babycare-insights/internal/engine"
	"babycare-insights/internal/metrics"
	"babycare-insights/internal/models"
	"babycare-insights/internal/store"
)

// DefaultRangeDays длина интервала анализа, если from/to не заданы
const DefaultRangeDays = 14

// MaxRangeDays предельная длина запрошенного интервала
const MaxRangeDays = 366

// Шаблоны маршрутов; они же метки метрик
const (
	RouteSleepAnalysis      = "/subjects/{id}/sleep/analysis"
	RouteRoutineAnalysis    = "/subjects/{id}/routine/analysis"
	RouteSleepPrediction    = "/subjects/{id}/predictions/sleep"
	RouteFeedingPrediction  = "/subjects/{id}/predictions/feeding"
	RouteActivityPrediction = "/subjects/{id}/predictions/activity"
	RouteSettings           = "/settings"
	RouteHealth             = "/health"
)

// Analyzer операции анализа; реализован engine.Orchestrator
type Analyzer interface {
	AnalyzeSleep(ctx context.Context, subjectID string, rng models.DateRange) (models.SleepPatternResult, error)
	AnalyzeRoutine(ctx context.Context, subjectID string, rng models.DateRange) (models.RoutinePatternResult, error)
	PredictNextSleep(ctx context.Context, subjectID string) (models.PredictionResult, error)
	PredictNextFeeding(ctx context.Context, subjectID string) (models.PredictionResult, error)
	PredictNextActivity(ctx context.Context, subjectID string) (models.PredictionResult, error)
	Settings() engine.Settings
	UpdateSettings(s engine.Settings)
}

// Pinger проверяемая зависимость (Redis, Postgres)
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus ответ /health
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
}

// SettingsRequest тело PUT /settings. Отсутствующий api_key сохраняет текущий.
type SettingsRequest struct {
	CloudAnalysisEnabled bool    `json:"cloud_analysis_enabled"`
	WiFiOnly             bool    `json:"wifi_only"`
	APIKey               *string `json:"api_key,omitempty"`
}

// SettingsResponse настройки без ключа
type SettingsResponse struct {
	CloudAnalysisEnabled bool `json:"cloud_analysis_enabled"`
	WiFiOnly             bool `json:"wifi_only"`
	HasAPIKey            bool `json:"has_api_key"`
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	analyzer  Analyzer
	checks    map[string]Pinger
	now       func() time.Time
	startTime time.Time
	logger    *zap.Logger
}

// Option настраивает Handler
type Option func(*Handler)

// WithHealthCheck добавляет зависимость в /health
func WithHealthCheck(name string, p Pinger) Option {
	return func(h *Handler) { h.checks[name] = p }
}

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler создает новый обработчик
func NewHandler(analyzer Analyzer, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		analyzer: analyzer,
		checks:   make(map[string]Pinger),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.now()
	return h
}

// Register добавляет маршруты API в роутер
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc(RouteSleepAnalysis, h.SleepAnalysisHandler).Methods(http.MethodGet)
	router.HandleFunc(RouteRoutineAnalysis, h.RoutineAnalysisHandler).Methods(http.MethodGet)
	router.HandleFunc(RouteSleepPrediction, h.SleepPredictionHandler).Methods(http.MethodGet)
	router.HandleFunc(RouteFeedingPrediction, h.FeedingPredictionHandler).Methods(http.MethodGet)
	router.HandleFunc(RouteActivityPrediction, h.ActivityPredictionHandler).Methods(http.MethodGet)
	router.HandleFunc(RouteSettings, h.GetSettingsHandler).Methods(http.MethodGet)
	router.HandleFunc(RouteSettings, h.PutSettingsHandler).Methods(http.MethodPut)
	router.HandleFunc(RouteHealth, h.HealthHandler).Methods(http.MethodGet)
}

// SleepAnalysisHandler обрабатывает GET /subjects/{id}/sleep/analysis
func (h *Handler) SleepAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(RouteSleepAnalysis, r.Method))
	defer timer.ObserveDuration()

	rng, err := h.dateRange(r)
	if err != nil {
		h.respondError(w, r, RouteSleepAnalysis, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.analyzer.AnalyzeSleep(r.Context(), mux.Vars(r)["id"], rng)
	if err != nil {
		h.respondFailure(w, r, RouteSleepAnalysis, err)
		return
	}
	h.respondJSON(w, r, RouteSleepAnalysis, result, http.StatusOK)
}

// RoutineAnalysisHandler обрабатывает GET /subjects/{id}/routine/analysis
func (h *Handler) RoutineAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(RouteRoutineAnalysis, r.Method))
	defer timer.ObserveDuration()

	rng, err := h.dateRange(r)
	if err != nil {
		h.respondError(w, r, RouteRoutineAnalysis, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.analyzer.AnalyzeRoutine(r.Context(), mux.Vars(r)["id"], rng)
	if err != nil {
		h.respondFailure(w, r, RouteRoutineAnalysis, err)
		return
	}
	h.respondJSON(w, r, RouteRoutineAnalysis, result, http.StatusOK)
}

// SleepPredictionHandler обрабатывает GET /subjects/{id}/predictions/sleep
func (h *Handler) SleepPredictionHandler(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, RouteSleepPrediction, h.analyzer.PredictNextSleep)
}

// FeedingPredictionHandler обрабатывает GET /subjects/{id}/predictions/feeding
func (h *Handler) FeedingPredictionHandler(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, RouteFeedingPrediction, h.analyzer.PredictNextFeeding)
}

// ActivityPredictionHandler обрабатывает GET /subjects/{id}/predictions/activity
func (h *Handler) ActivityPredictionHandler(w http.ResponseWriter, r *http.Request) {
	h.predict(w, r, RouteActivityPrediction, h.analyzer.PredictNextActivity)
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request, route string,
	fn func(context.Context, string) (models.PredictionResult, error)) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(route, r.Method))
	defer timer.ObserveDuration()

	result, err := fn(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondFailure(w, r, route, err)
		return
	}
	h.respondJSON(w, r, route, result, http.StatusOK)
}

// GetSettingsHandler обрабатывает GET /settings
func (h *Handler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, r, RouteSettings, settingsResponse(h.analyzer.Settings()), http.StatusOK)
}

// PutSettingsHandler обрабатывает PUT /settings
func (h *Handler) PutSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, RouteSettings, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	settings := h.analyzer.Settings()
	settings.CloudAnalysisEnabled = req.CloudAnalysisEnabled
	settings.WiFiOnly = req.WiFiOnly
	if req.APIKey != nil {
		settings.APIKey = *req.APIKey
	}
	h.analyzer.UpdateSettings(settings)

	h.respondJSON(w, r, RouteSettings, settingsResponse(settings), http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: h.now(),
		Uptime:    h.now().Sub(h.startTime).String(),
	}
	code := http.StatusOK

	if len(h.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status.Components = make(map[string]string, len(h.checks))
		for name, check := range h.checks {
			if err := check.Ping(ctx); err != nil {
				h.logger.Warn("Health check failed", zap.String("component", name), zap.Error(err))
				status.Components[name] = "disconnected"
				status.Status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			status.Components[name] = "connected"
		}
	}

	h.respondJSON(w, r, RouteHealth, status, code)
}

// dateRange разбирает from/to (RFC3339). По умолчанию последние 14 дней.
func (h *Handler) dateRange(r *http.Request) (models.DateRange, error) {
	q := r.URL.Query()
	span := time.Duration(DefaultRangeDays) * 24 * time.Hour

	rng := models.TrailingDays(h.now(), DefaultRangeDays)
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("invalid 'to': %w", err)
		}
		rng.End = t
	}
	rng.Start = rng.End.Add(-span)
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return models.DateRange{}, fmt.Errorf("invalid 'from': %w", err)
		}
		rng.Start = t
	}

	if err := rng.Validate(); err != nil {
		return models.DateRange{}, err
	}
	if rng.Days() > MaxRangeDays {
		return models.DateRange{}, fmt.Errorf("date range longer than %d days", MaxRangeDays)
	}
	return rng, nil
}

// respondFailure переводит ошибку анализа в HTTP статус
func (h *Handler) respondFailure(w http.ResponseWriter, r *http.Request, route string, err error) {
	// Ошибка хранилища может содержать ошибку контекста, она проверяется первой
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.respondError(w, r, route, "request timed out", http.StatusGatewayTimeout)
	case errors.Is(err, context.Canceled):
		h.respondError(w, r, route, "request canceled", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Error("Record store unavailable", zap.String("route", route), zap.Error(err))
		h.respondError(w, r, route, "record store unavailable", http.StatusBadGateway)
	default:
		h.logger.Error("Analysis failed", zap.String("route", route), zap.Error(err))
		h.respondError(w, r, route, "internal error", http.StatusInternalServerError)
	}
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, r *http.Request, route string, data any, status int) {
	metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", zap.String("route", route), zap.Error(err))
	}
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, route, message string, status int) {
	h.respondJSON(w, r, route, map[string]string{"error": message}, status)
}

func settingsResponse(s engine.Settings) SettingsResponse {
	return SettingsResponse{
		CloudAnalysisEnabled: s.CloudAnalysisEnabled,
		WiFiOnly:             s.WiFiOnly,
		HasAPIKey:            s.APIKey != "",
	}
}
