// Package cache реализует кэширование результатов анализа (Redis или память процесса)
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss означает, что ключа нет или срок его жизни истек
var ErrCacheMiss = errors.New("cache miss")

// Store абстрактное KV хранилище. Реализации: RedisStore, MemoryStore.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
