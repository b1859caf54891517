// Package ratelimit ограничивает частоту облачных вызовов по каждому ключу доступа
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrLimited возвращается, если вызов облака сейчас запрещен
var ErrLimited = errors.New("cloud usage limit reached")

// LimitError описывает причину отказа и время до следующей попытки
type LimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrLimited, e.Reason, e.RetryAfter.Round(time.Second))
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrLimited)
func (e *LimitError) Unwrap() error {
	return ErrLimited
}

// Policy параметры ограничений
type Policy struct {
	PerHour       int
	PerDay        int
	BurstCount    int
	BurstWindow   time.Duration
	BurstCooldown time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	// IdleTTL через сколько забывается состояние неактивного ключа
	IdleTTL time.Duration
}

// DefaultPolicy 10 вызовов в час, 30 в сутки, не более 3 за 5 минут
func DefaultPolicy() Policy {
	return Policy{
		PerHour:       10,
		PerDay:        30,
		BurstCount:    3,
		BurstWindow:   5 * time.Minute,
		BurstCooldown: 5 * time.Minute,
		BackoffBase:   5 * time.Minute,
		BackoffMax:    time.Hour,
		IdleTTL:       24 * time.Hour,
	}
}

type usage struct {
	requests     []time.Time
	blockedUntil time.Time
	backoff      time.Duration
}

// UsageLimiter хранит историю вызовов по хэшу ключа доступа
type UsageLimiter struct {
	mu     sync.Mutex
	policy Policy
	states *gocache.Cache
	now    func() time.Time
}

// Option настраивает UsageLimiter
type Option func(*limiterOptions)

type limiterOptions struct {
	now     func() time.Time
	cleanup time.Duration
}

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(o *limiterOptions) { o.now = now }
}

// WithCleanupInterval задает период фоновой очистки неактивных ключей; 0 отключает очистку
func WithCleanupInterval(d time.Duration) Option {
	return func(o *limiterOptions) { o.cleanup = d }
}

// New создает ограничитель
func New(policy Policy, opts ...Option) *UsageLimiter {
	o := limiterOptions{now: time.Now, cleanup: time.Hour}
	for _, opt := range opts {
		opt(&o)
	}
	return &UsageLimiter{
		policy: policy,
		states: gocache.New(policy.IdleTTL, o.cleanup),
		now:    o.now,
	}
}

// Allow проверяет и учитывает вызов. Отказ не учитывается как вызов.
func (l *UsageLimiter) Allow(credential string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := credentialKey(credential)
	now := l.now()
	st := l.load(key)
	defer l.states.Set(key, st, gocache.DefaultExpiration)

	if now.Before(st.blockedUntil) {
		return &LimitError{Reason: "cooling down", RetryAfter: st.blockedUntil.Sub(now)}
	}

	st.requests = pruneBefore(st.requests, now.Add(-24*time.Hour))
	if l.policy.PerDay > 0 && len(st.requests) >= l.policy.PerDay {
		return &LimitError{Reason: "daily quota exhausted", RetryAfter: st.requests[0].Add(24 * time.Hour).Sub(now)}
	}
	if l.policy.PerHour > 0 {
		lastHour := since(st.requests, now.Add(-time.Hour))
		if len(lastHour) >= l.policy.PerHour {
			return &LimitError{Reason: "hourly quota exhausted", RetryAfter: lastHour[0].Add(time.Hour).Sub(now)}
		}
	}
	if l.policy.BurstCount > 0 && len(since(st.requests, now.Add(-l.policy.BurstWindow))) >= l.policy.BurstCount {
		st.blockedUntil = now.Add(l.policy.BurstCooldown)
		return &LimitError{Reason: "burst detected", RetryAfter: l.policy.BurstCooldown}
	}

	st.requests = append(st.requests, now)
	return nil
}

// RecordRateLimited учитывает ответ 429 от облака: пауза 5м, удваивается до 1ч
func (l *UsageLimiter) RecordRateLimited(credential string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := credentialKey(credential)
	st := l.load(key)
	if st.backoff == 0 {
		st.backoff = l.policy.BackoffBase
	} else {
		st.backoff *= 2
	}
	if st.backoff > l.policy.BackoffMax {
		st.backoff = l.policy.BackoffMax
	}
	if until := l.now().Add(st.backoff); until.After(st.blockedUntil) {
		st.blockedUntil = until
	}
	l.states.Set(key, st, gocache.DefaultExpiration)
}

// RecordSuccess сбрасывает экспоненциальную паузу
func (l *UsageLimiter) RecordSuccess(credential string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := credentialKey(credential)
	st := l.load(key)
	st.backoff = 0
	l.states.Set(key, st, gocache.DefaultExpiration)
}

// Usage возвращает число учтенных вызовов за последний час и сутки
func (l *UsageLimiter) Usage(credential string) (hour, day int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.states.Get(credentialKey(credential))
	if !ok {
		return 0, 0
	}
	st := v.(*usage)
	now := l.now()
	return len(since(st.requests, now.Add(-time.Hour))), len(since(st.requests, now.Add(-24*time.Hour)))
}

func (l *UsageLimiter) load(key string) *usage {
	if v, ok := l.states.Get(key); ok {
		return v.(*usage)
	}
	return &usage{}
}

// credentialKey ключ состояния: сам ключ доступа в памяти не хранится
func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:16])
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// since возвращает хвост отсортированного списка начиная с cutoff
func since(times []time.Time, cutoff time.Time) []time.Time {
	for i, t := range times {
		if !t.Before(cutoff) {
			return times[i:]
		}
	}
	return nil
}
