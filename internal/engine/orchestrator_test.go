package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"babycare-insights/internal/cache"
	"babycare-insights/internal/cloud"
	"babycare-insights/internal/metrics"
	"babycare-insights/internal/models"
	"babycare-insights/internal/ratelimit"
	"babycare-insights/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	subject    = "subject-1"
	credential = "key-1"
)

var testNow = time.Date(2026, 4, 15, 15, 0, 0, 0, time.UTC)

type fakeGateway struct {
	sleepCalls      atomic.Int32
	routineCalls    atomic.Int32
	predictionCalls atomic.Int32

	sleepFn      func(ctx context.Context) (models.SleepPatternResult, error)
	routineFn    func(ctx context.Context, activities []models.ActivityRecord) (models.RoutinePatternResult, error)
	predictionFn func(ctx context.Context) (models.PredictionResult, error)
}

func (g *fakeGateway) AnalyzeSleep(ctx context.Context, _, _ string, _ []models.SleepRecord, _ models.DateRange) (models.SleepPatternResult, error) {
	g.sleepCalls.Add(1)
	if g.sleepFn != nil {
		return g.sleepFn(ctx)
	}
	return models.SleepPatternResult{
		PatternType: models.PatternHighlyRegular,
		Metadata:    models.AnalysisMetadata{Source: models.SourceCloud},
	}, nil
}

func (g *fakeGateway) AnalyzeRoutine(ctx context.Context, _, _ string, activities []models.ActivityRecord, _ models.DateRange) (models.RoutinePatternResult, error) {
	g.routineCalls.Add(1)
	if g.routineFn != nil {
		return g.routineFn(ctx, activities)
	}
	return models.RoutinePatternResult{
		PatternType: models.PatternModeratelyRegular,
		Metadata:    models.AnalysisMetadata{Source: models.SourceCloud},
	}, nil
}

func (g *fakeGateway) PredictNextSleep(ctx context.Context, _, _ string, _ []models.SleepRecord, _ []models.FeedingRecord, _ []models.ActivityRecord) (models.PredictionResult, error) {
	g.predictionCalls.Add(1)
	if g.predictionFn != nil {
		return g.predictionFn(ctx)
	}
	return models.PredictionResult{
		PredictionTimestamp: testNow,
		ConfidenceScore:     0.75,
		PatternType:         models.PatternHighlyRegular,
		ValidUntil:          testNow.Add(models.PredictionValidity),
		Source:              models.SourceCloud,
	}, nil
}

type fixture struct {
	records *store.MemoryStore
	gateway *fakeGateway
	results *cache.Results
	limiter *ratelimit.UsageLimiter
	orch    *Orchestrator
}

func clock() time.Time { return testNow }

func newFixture(t *testing.T, settings Settings, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		records: store.NewMemoryStore(),
		gateway: &fakeGateway{},
		results: cache.NewResults(cache.NewMemoryStoreWithClock(64, clock), cache.WithClock(clock)),
		limiter: ratelimit.New(ratelimit.DefaultPolicy(), ratelimit.WithClock(clock), ratelimit.WithCleanupInterval(0)),
	}
	base := []Option{
		WithGateway(f.gateway),
		WithCache(f.results),
		WithLimiter(f.limiter),
		WithSettings(settings),
		WithClock(clock),
	}
	f.orch = New(f.records, append(base, opts...)...)
	return f
}

func cloudOn() Settings {
	return Settings{CloudAnalysisEnabled: true, APIKey: credential}
}

func weekRange() models.DateRange {
	return models.LastDays(testNow, 7)
}

func TestAnalyzeSleep_CloudDisabledRunsLocally(t *testing.T) {
	f := newFixture(t, Settings{CloudAnalysisEnabled: false, APIKey: credential})

	result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Zero(t, f.gateway.sleepCalls.Load())
}

func TestAnalyzeSleep_MissingCredentialRunsLocally(t *testing.T) {
	f := newFixture(t, Settings{CloudAnalysisEnabled: true})

	result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Zero(t, f.gateway.sleepCalls.Load())
}

func TestAnalyzeSleep_WiFiOnly(t *testing.T) {
	settings := cloudOn()
	settings.WiFiOnly = true

	cellular := newFixture(t, settings, WithNetwork(StaticNetwork{Reachable: true, WiFi: false}))
	result, err := cellular.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Zero(t, cellular.gateway.sleepCalls.Load())

	wifi := newFixture(t, settings, WithNetwork(StaticNetwork{Reachable: true, WiFi: true}))
	result, err = wifi.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceCloud, result.Metadata.Source)
}

func TestAnalyzeSleep_OfflineRunsLocally(t *testing.T) {
	f := newFixture(t, cloudOn(), WithNetwork(StaticNetwork{}))

	result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Zero(t, f.gateway.sleepCalls.Load())
}

func TestAnalyzeSleep_CloudThenCache(t *testing.T) {
	f := newFixture(t, cloudOn())
	ctx := context.Background()

	first, err := f.orch.AnalyzeSleep(ctx, subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceCloud, first.Metadata.Source)
	assert.Equal(t, models.PatternHighlyRegular, first.PatternType)

	second, err := f.orch.AnalyzeSleep(ctx, subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, second.Metadata.Source)
	assert.Equal(t, models.PatternHighlyRegular, second.PatternType)

	assert.EqualValues(t, 1, f.gateway.sleepCalls.Load())
	hour, _ := f.limiter.Usage(credential)
	assert.Equal(t, 1, hour)
}

func TestAnalyzeSleep_TrailingRangeHitsCache(t *testing.T) {
	f := newFixture(t, cloudOn())

	var sources []models.Source
	for i := 0; i < 3; i++ {
		rng := models.TrailingDays(testNow.Add(time.Duration(i)*10*time.Minute), 14)
		result, err := f.orch.AnalyzeSleep(context.Background(), subject, rng)
		require.NoError(t, err)
		sources = append(sources, result.Metadata.Source)
	}
	assert.Equal(t, []models.Source{models.SourceCloud, models.SourceCache, models.SourceCache}, sources)
	assert.EqualValues(t, 1, f.gateway.sleepCalls.Load())
}

func TestAnalyzeSleep_RateLimitedFallsBack(t *testing.T) {
	f := newFixture(t, cloudOn())
	f.gateway.sleepFn = func(context.Context) (models.SleepPatternResult, error) {
		return models.SleepPatternResult{}, &cloud.Error{Kind: cloud.ErrRateLimited, Op: cloud.PathSleepAnalysis, StatusCode: 429}
	}
	fallbacks := metrics.CloudFallbacks.WithLabelValues(string(cache.KindSleep), "rate_limited")
	before := testutil.ToFloat64(fallbacks)

	result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Equal(t, before+1, testutil.ToFloat64(fallbacks))

	// backoff keeps the next request local without calling the cloud
	rejections := testutil.ToFloat64(metrics.LimiterRejections)
	result, err = f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.EqualValues(t, 1, f.gateway.sleepCalls.Load())
	assert.Equal(t, rejections+1, testutil.ToFloat64(metrics.LimiterRejections))
}

func TestAnalyzeSleep_AccountDisabledIsNotFallback(t *testing.T) {
	f := newFixture(t, cloudOn())
	f.gateway.sleepFn = func(context.Context) (models.SleepPatternResult, error) {
		return models.SleepPatternResult{}, &cloud.Error{Kind: cloud.ErrCloudDisabled, Op: cloud.PathSleepAnalysis, StatusCode: 403}
	}
	fallbacks := metrics.CloudFallbacks.WithLabelValues(string(cache.KindSleep), "disabled")
	before := testutil.ToFloat64(fallbacks)

	result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Metadata.Source)
	assert.Equal(t, before, testutil.ToFloat64(fallbacks))
}

func TestAnalyzeSleep_CancellationIsNotFallback(t *testing.T) {
	f := newFixture(t, cloudOn())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.sleepFn = func(ctx context.Context) (models.SleepPatternResult, error) {
		cancel()
		return models.SleepPatternResult{}, &cloud.Error{Kind: cloud.ErrNetwork, Err: ctx.Err()}
	}

	_, err := f.orch.AnalyzeSleep(ctx, subject, weekRange())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeSleep_CancelledFollowerStopsWaiting(t *testing.T) {
	f := newFixture(t, cloudOn())
	entered := make(chan struct{})
	release := make(chan struct{})
	f.gateway.sleepFn = func(ctx context.Context) (models.SleepPatternResult, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return models.SleepPatternResult{}, ctx.Err()
		}
		return models.SleepPatternResult{PatternType: models.PatternHighlyRegular}, nil
	}

	leader := make(chan models.Source, 1)
	go func() {
		result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
		assert.NoError(t, err)
		leader <- result.Metadata.Source
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	follower := make(chan error, 1)
	go func() {
		_, err := f.orch.AnalyzeSleep(ctx, subject, weekRange())
		follower <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-follower:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the shared cloud call")
	}

	close(release)
	assert.Equal(t, models.SourceCloud, <-leader)
	assert.EqualValues(t, 1, f.gateway.sleepCalls.Load())
}

func TestAnalyzeSleep_SharedRateLimitCountsOnce(t *testing.T) {
	var offset atomic.Int64
	now := func() time.Time { return testNow.Add(time.Duration(offset.Load())) }
	limiter := ratelimit.New(ratelimit.DefaultPolicy(), ratelimit.WithClock(now), ratelimit.WithCleanupInterval(0))
	f := newFixture(t, cloudOn(), WithLimiter(limiter))

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gateway.sleepFn = func(context.Context) (models.SleepPatternResult, error) {
		close(entered)
		<-release
		return models.SleepPatternResult{}, &cloud.Error{Kind: cloud.ErrRateLimited, Op: cloud.PathSleepAnalysis, StatusCode: 429}
	}

	done := make(chan struct{}, 2)
	call := func() {
		result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
		assert.NoError(t, err)
		assert.Equal(t, models.SourceLocal, result.Metadata.Source)
		done <- struct{}{}
	}
	go call()
	<-entered
	go call()
	time.Sleep(50 * time.Millisecond)
	close(release)
	<-done
	<-done
	require.EqualValues(t, 1, f.gateway.sleepCalls.Load())

	// one 429 means a single 5 minute backoff step
	offset.Store(int64(4 * time.Minute))
	assert.ErrorIs(t, limiter.Allow(credential), ratelimit.ErrLimited)
	offset.Store(int64(6 * time.Minute))
	assert.NoError(t, limiter.Allow(credential))
}

func TestAnalyzeSleep_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t, cloudOn())
	f.orch.records = failingStore{err: store.ErrUnavailable}

	_, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Zero(t, f.gateway.sleepCalls.Load())
}

func TestAnalyzeRoutine_MergesSleepAndFeeding(t *testing.T) {
	f := newFixture(t, cloudOn())
	start := testNow.Add(-24 * time.Hour)
	f.records.AddSleep(subject, models.SleepRecord{ID: "s1", StartTime: start, EndTime: start.Add(time.Hour)})
	f.records.AddFeeding(subject, models.FeedingRecord{ID: "f1", StartTime: start.Add(2 * time.Hour), EndTime: start.Add(150 * time.Minute)})
	f.records.AddActivities(subject,
		models.ActivityRecord{ID: "a1", Type: models.ActivityTummyTime, StartTime: start.Add(3 * time.Hour), EndTime: start.Add(200 * time.Minute)},
		models.ActivityRecord{ID: "s1", Type: models.ActivitySleep, StartTime: start, EndTime: start.Add(time.Hour)},
	)

	var seen []models.ActivityRecord
	f.gateway.routineFn = func(_ context.Context, activities []models.ActivityRecord) (models.RoutinePatternResult, error) {
		seen = activities
		return models.RoutinePatternResult{PatternType: models.PatternIrregular}, nil
	}

	result, err := f.orch.AnalyzeRoutine(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceCloud, result.Metadata.Source)

	types := make(map[models.ActivityType]int)
	for _, a := range seen {
		types[a.Type]++
	}
	assert.Equal(t, map[models.ActivityType]int{
		models.ActivitySleep:     1,
		models.ActivityFeeding:   1,
		models.ActivityTummyTime: 1,
	}, types)
}

func TestPredictNextSleep_StaleCacheIsRecomputed(t *testing.T) {
	f := newFixture(t, cloudOn())
	ctx := context.Background()

	stale := models.PredictionResult{
		PredictionTimestamp: testNow.Add(-13 * time.Hour),
		PatternType:         models.PatternIrregular,
		ValidUntil:          testNow.Add(-time.Minute),
		Source:              models.SourceCloud,
	}
	key := cache.PredictionKey(subject, 14)
	require.NoError(t, f.results.Save(ctx, key, stale, cache.PredictionTTL))

	result, err := f.orch.PredictNextSleep(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCloud, result.Source)
	assert.Equal(t, models.PatternHighlyRegular, result.PatternType)
	assert.EqualValues(t, 1, f.gateway.predictionCalls.Load())

	cached, err := f.orch.PredictNextSleep(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, cached.Source)
	assert.EqualValues(t, 1, f.gateway.predictionCalls.Load())
}

func TestPredictNextSleep_ServerErrorFallsBack(t *testing.T) {
	f := newFixture(t, cloudOn())
	f.gateway.predictionFn = func(context.Context) (models.PredictionResult, error) {
		return models.PredictionResult{}, &cloud.Error{Kind: cloud.ErrServer, StatusCode: 503}
	}

	result, err := f.orch.PredictNextSleep(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, result.Source)
	assert.Equal(t, models.PatternInsufficient, result.PatternType)
	assert.Equal(t, testNow.Add(models.PredictionValidity), result.ValidUntil)
}

func TestWatch_AppliesSettings(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan Settings)
	done := make(chan struct{})

	go func() {
		defer close(done)
		f.orch.Watch(ctx, updates)
	}()

	updates <- cloudOn()
	assert.Eventually(t, func() bool {
		return f.orch.Settings().CloudAnalysisEnabled
	}, time.Second, 5*time.Millisecond)

	result, err := f.orch.AnalyzeSleep(context.Background(), subject, weekRange())
	require.NoError(t, err)
	assert.Equal(t, models.SourceCloud, result.Metadata.Source)

	cancel()
	<-done
}

func TestWatch_StopsOnClosedChannel(t *testing.T) {
	f := newFixture(t, Settings{})
	updates := make(chan Settings)
	close(updates)
	f.orch.Watch(context.Background(), updates)
	assert.False(t, f.orch.Settings().CloudAnalysisEnabled)
}

func TestMergeActivities_KeepsExplicitRecords(t *testing.T) {
	start := testNow.Add(-time.Hour)
	merged := MergeActivities(
		[]models.ActivityRecord{{ID: "x", Type: models.ActivitySleep, StartTime: start, EndTime: testNow}},
		[]models.SleepRecord{{ID: "x", StartTime: start, EndTime: testNow}, {StartTime: start, EndTime: testNow}},
		nil,
	)
	assert.Len(t, merged, 2)
}

type failingStore struct{ err error }

func (f failingStore) SleepRecords(context.Context, string, models.DateRange) ([]models.SleepRecord, error) {
	return nil, f.err
}

func (f failingStore) FeedingRecords(context.Context, string, models.DateRange) ([]models.FeedingRecord, error) {
	return nil, f.err
}

func (f failingStore) Activities(context.Context, string, models.DateRange) ([]models.ActivityRecord, error) {
	return nil, f.err
}
