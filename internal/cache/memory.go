package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryEntries размер кэша в памяти по умолчанию
const DefaultMemoryEntries = 512

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore ограниченный LRU кэш в памяти процесса.
// Срок жизни проверяется при чтении, фоновой очистки нет.
type MemoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemoryStore создает кэш на size записей
func NewMemoryStore(size int) *MemoryStore {
	return NewMemoryStoreWithClock(size, time.Now)
}

// NewMemoryStoreWithClock создает кэш с заданным источником времени
func NewMemoryStoreWithClock(size int, now func() time.Time) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	// ttl = 0 отключает горутину очистки внутри LRU
	return &MemoryStore{
		lru: expirable.NewLRU[string, memoryEntry](size, nil, 0),
		now: now,
	}
}

// Get получает значение по ключу
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set сохраняет копию значения; ttl <= 0 означает бессрочное хранение
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(key, entry)
	return nil
}

// Delete удаляет ключ
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Len возвращает число записей, включая еще не вычищенные просроченные
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}
