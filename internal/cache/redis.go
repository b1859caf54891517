package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// KeyPrefix префикс всех ключей сервиса в Redis
const KeyPrefix = "babycare:"

// RedisOptions параметры подключения к Redis
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisStore реализует Store поверх Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore создает новое подключение к Redis и проверяет его
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 20
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient оборачивает готовый клиент
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get получает значение по ключу
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set устанавливает значение с TTL
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, KeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, KeyPrefix+key).Err()
}

// Ping проверяет соединение с Redis
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisStore) Close() error {
	return r.client.Close()
}
