package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
}

func newLimiter(c *fakeClock) *UsageLimiter {
	return New(DefaultPolicy(), WithClock(c.Now), WithCleanupInterval(0))
}

func retryAfter(t *testing.T, err error) time.Duration {
	t.Helper()
	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr), "expected *LimitError, got %v", err)
	return limitErr.RetryAfter
}

func TestAllow_HourlyQuota(t *testing.T) {
	clock := newClock()
	l := newLimiter(clock)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Allow("key"), "call %d", i)
		clock.Advance(5*time.Minute + 30*time.Second)
	}

	err := l.Allow("key")
	require.ErrorIs(t, err, ErrLimited)
	assert.Equal(t, 5*time.Minute, retryAfter(t, err))

	hour, day := l.Usage("key")
	assert.Equal(t, 10, hour)
	assert.Equal(t, 10, day)
}

func TestAllow_DailyQuota(t *testing.T) {
	clock := newClock()
	l := newLimiter(clock)

	for i := 0; i < 30; i++ {
		require.NoError(t, l.Allow("key"), "call %d", i)
		clock.Advance(45 * time.Minute)
	}

	err := l.Allow("key")
	require.ErrorIs(t, err, ErrLimited)
	assert.Equal(t, 90*time.Minute, retryAfter(t, err))

	clock.Advance(91 * time.Minute)
	assert.NoError(t, l.Allow("key"))
}

func TestAllow_BurstCooldown(t *testing.T) {
	clock := newClock()
	l := newLimiter(clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("key"))
		clock.Advance(time.Minute)
	}

	err := l.Allow("key")
	require.ErrorIs(t, err, ErrLimited)
	assert.Equal(t, 5*time.Minute, retryAfter(t, err))

	clock.Advance(4 * time.Minute)
	assert.ErrorIs(t, l.Allow("key"), ErrLimited)

	clock.Advance(time.Minute)
	assert.NoError(t, l.Allow("key"))
}

func TestRecordRateLimited_ExponentialBackoff(t *testing.T) {
	clock := newClock()
	l := newLimiter(clock)

	for _, want := range []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute, 40 * time.Minute, time.Hour, time.Hour} {
		l.RecordRateLimited("key")
		assert.Equal(t, want, retryAfter(t, l.Allow("key")))
	}

	l.RecordSuccess("key")
	clock.Advance(time.Hour)
	require.NoError(t, l.Allow("key"))

	l.RecordRateLimited("key")
	assert.Equal(t, 5*time.Minute, retryAfter(t, l.Allow("key")))
}

func TestAllow_CredentialsAreIndependent(t *testing.T) {
	clock := newClock()
	l := newLimiter(clock)

	l.RecordRateLimited("a")
	assert.ErrorIs(t, l.Allow("a"), ErrLimited)
	assert.NoError(t, l.Allow("b"))
}

func TestAllow_DenialIsNotCounted(t *testing.T) {
	clock := newClock()
	l := newLimiter(clock)

	l.RecordRateLimited("key")
	for i := 0; i < 5; i++ {
		assert.Error(t, l.Allow("key"))
	}

	hour, day := l.Usage("key")
	assert.Zero(t, hour)
	assert.Zero(t, day)
}

func TestLimitError_Message(t *testing.T) {
	err := &LimitError{Reason: "burst detected", RetryAfter: 90 * time.Second}
	assert.Equal(t, "cloud usage limit reached: burst detected, retry after 1m30s", err.Error())
}
