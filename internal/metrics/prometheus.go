// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество HTTP запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babycare_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность HTTP запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "babycare_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"endpoint", "method"},
	)

	// AnalysesTotal выполненные анализы по типу и источнику результата
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babycare_analyses_total",
			Help: "Total number of analyses served, by kind and source",
		},
		[]string{"kind", "source"},
	)

	// CloudFallbacks переходы на локальный анализ после ошибки облака
	CloudFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "babycare_cloud_fallbacks_total",
			Help: "Total number of cloud failures answered by local analysis",
		},
		[]string{"kind", "reason"},
	)

	// LimiterRejections запросы, отклоненные ограничителем облачных вызовов
	LimiterRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babycare_cloud_limiter_rejections_total",
			Help: "Total number of cloud calls rejected by the usage limiter",
		},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babycare_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "babycare_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "babycare_active_goroutines",
			Help: "Number of active goroutines",
		},
	)

	// AnalysisLatency время выполнения анализа
	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "babycare_analysis_latency_seconds",
			Help:    "Analysis latency in seconds, including cloud round trips",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"kind"},
	)
)

// ObserveAnalysis учитывает выполненный анализ
func ObserveAnalysis(kind, source string, elapsed time.Duration) {
	AnalysesTotal.WithLabelValues(kind, source).Inc()
	AnalysisLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}
