package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"babycare-insights/internal/engine"
	"babycare-insights/internal/models"
	"babycare-insights/internal/store"
)

var testNow = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

type fakeAnalyzer struct {
	err        error
	gotSubject string
	gotRange   models.DateRange
	settings   engine.Settings
}

func (f *fakeAnalyzer) AnalyzeSleep(_ context.Context, subjectID string, rng models.DateRange) (models.SleepPatternResult, error) {
	f.gotSubject, f.gotRange = subjectID, rng
	if f.err != nil {
		return models.SleepPatternResult{}, f.err
	}
	return models.SleepPatternResult{
		PatternType: models.PatternHighlyRegular,
		Metadata:    models.AnalysisMetadata{DateRange: rng, Source: models.SourceLocal},
	}, nil
}

func (f *fakeAnalyzer) AnalyzeRoutine(_ context.Context, subjectID string, rng models.DateRange) (models.RoutinePatternResult, error) {
	f.gotSubject, f.gotRange = subjectID, rng
	if f.err != nil {
		return models.RoutinePatternResult{}, f.err
	}
	return models.RoutinePatternResult{PatternType: models.PatternIrregular}, nil
}

func (f *fakeAnalyzer) PredictNextSleep(_ context.Context, subjectID string) (models.PredictionResult, error) {
	return f.prediction(subjectID)
}

func (f *fakeAnalyzer) PredictNextFeeding(_ context.Context, subjectID string) (models.PredictionResult, error) {
	return f.prediction(subjectID)
}

func (f *fakeAnalyzer) PredictNextActivity(_ context.Context, subjectID string) (models.PredictionResult, error) {
	return f.prediction(subjectID)
}

func (f *fakeAnalyzer) prediction(subjectID string) (models.PredictionResult, error) {
	f.gotSubject = subjectID
	if f.err != nil {
		return models.PredictionResult{}, f.err
	}
	return models.PredictionResult{PatternType: models.PatternInsufficient, Source: models.SourceLocal}, nil
}

func (f *fakeAnalyzer) Settings() engine.Settings { return f.settings }

func (f *fakeAnalyzer) UpdateSettings(s engine.Settings) { f.settings = s }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newRouter(a *fakeAnalyzer, opts ...Option) *mux.Router {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	router := mux.NewRouter()
	router.Use(RequestIDMiddleware)
	router.Use(LoggingMiddleware(zap.NewNop()))
	NewHandler(a, zap.NewNop(), opts...).Register(router)
	return router
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSleepAnalysis_DefaultRange(t *testing.T) {
	a := &fakeAnalyzer{}
	rec := do(t, newRouter(a), http.MethodGet, "/subjects/baby-1/sleep/analysis", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "baby-1", a.gotSubject)
	assert.Equal(t, models.TrailingDays(testNow, DefaultRangeDays), a.gotRange)

	var result models.SleepPatternResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, models.PatternHighlyRegular, result.PatternType)
}

func TestSleepAnalysis_DefaultRangeStableWithinHour(t *testing.T) {
	var ranges []models.DateRange
	for _, offset := range []time.Duration{5 * time.Minute, 25 * time.Minute, 55 * time.Minute} {
		a := &fakeAnalyzer{}
		at := testNow.Add(offset)
		rec := do(t, newRouter(a, WithClock(func() time.Time { return at })), http.MethodGet, "/subjects/baby-1/sleep/analysis", "")
		require.Equal(t, http.StatusOK, rec.Code)
		ranges = append(ranges, a.gotRange)
	}
	assert.Equal(t, ranges[0], ranges[1])
	assert.Equal(t, ranges[0], ranges[2])
	assert.Equal(t, testNow.Add(time.Hour), ranges[0].End)
}

func TestRoutineAnalysis_ExplicitRange(t *testing.T) {
	a := &fakeAnalyzer{}
	from := "2026-04-01T00:00:00Z"
	to := "2026-04-08T00:00:00Z"
	rec := do(t, newRouter(a), http.MethodGet, fmt.Sprintf("/subjects/baby-1/routine/analysis?from=%s&to=%s", from, to), "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), a.gotRange.Start)
	assert.Equal(t, time.Date(2026, 4, 8, 0, 0, 0, 0, time.UTC), a.gotRange.End)
}

func TestAnalysis_BadQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"bad_from", "from=yesterday"},
		{"bad_to", "to=2026-13-01"},
		{"inverted", "from=2026-04-08T00:00:00Z&to=2026-04-01T00:00:00Z"},
		{"too_long", "from=2024-01-01T00:00:00Z&to=2026-04-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{}
			rec := do(t, newRouter(a), http.MethodGet, "/subjects/baby-1/sleep/analysis?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, a.gotSubject, "analyzer must not be called")
		})
	}
}

func TestAnalysis_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"store", fmt.Errorf("%w: query sleep records: boom", store.ErrUnavailable), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"store_deadline", fmt.Errorf("%w: query sleep records: %w", store.ErrUnavailable, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"canceled", context.Canceled, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAnalyzer{err: tt.err}
			rec := do(t, newRouter(a), http.MethodGet, "/subjects/baby-1/predictions/sleep", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPredictions(t *testing.T) {
	for _, kind := range []string{"sleep", "feeding", "activity"} {
		t.Run(kind, func(t *testing.T) {
			a := &fakeAnalyzer{}
			rec := do(t, newRouter(a), http.MethodGet, "/subjects/baby-2/predictions/"+kind, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "baby-2", a.gotSubject)

			var result models.PredictionResult
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
			assert.Equal(t, models.PatternInsufficient, result.PatternType)
		})
	}
}

func TestSettings(t *testing.T) {
	a := &fakeAnalyzer{settings: engine.Settings{APIKey: "old"}}
	router := newRouter(a)

	rec := do(t, router, http.MethodPut, "/settings", `{"cloud_analysis_enabled":true,"wifi_only":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.Settings{CloudAnalysisEnabled: true, WiFiOnly: true, APIKey: "old"}, a.settings)

	rec = do(t, router, http.MethodPut, "/settings", `{"cloud_analysis_enabled":true,"api_key":"new"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", a.settings.APIKey)
	assert.NotContains(t, rec.Body.String(), "new", "credential is never echoed")

	rec = do(t, router, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got SettingsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, SettingsResponse{CloudAnalysisEnabled: true, HasAPIKey: true}, got)

	rec = do(t, router, http.MethodPut, "/settings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	healthy := do(t, newRouter(&fakeAnalyzer{}, WithHealthCheck("redis", pinger{})), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, healthy.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(healthy.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "connected", status.Components["redis"])

	down := do(t, newRouter(&fakeAnalyzer{},
		WithHealthCheck("redis", pinger{}),
		WithHealthCheck("postgres", pinger{err: errors.New("refused")}),
	), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, down.Code)
	require.NoError(t, json.NewDecoder(down.Body).Decode(&status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "disconnected", status.Components["postgres"])
}

func TestRequestIDMiddleware_KeepsClientID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "client-id", seen)
	assert.Equal(t, "client-id", rec.Header().Get(RequestIDHeader))
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, newRouter(&fakeAnalyzer{}), http.MethodPost, "/subjects/baby-1/sleep/analysis", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
