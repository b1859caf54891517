package store

import (
	"context"
	"sync"

	"babycare-insights/internal/models"
)

// MemoryStore хранит записи в памяти процесса
type MemoryStore struct {
	mu       sync.RWMutex
	sleep    map[string][]models.SleepRecord
	feeding  map[string][]models.FeedingRecord
	activity map[string][]models.ActivityRecord
}

// NewMemoryStore создает пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sleep:    make(map[string][]models.SleepRecord),
		feeding:  make(map[string][]models.FeedingRecord),
		activity: make(map[string][]models.ActivityRecord),
	}
}

// AddSleep добавляет эпизоды сна
func (m *MemoryStore) AddSleep(subjectID string, records ...models.SleepRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleep[subjectID] = append(m.sleep[subjectID], records...)
}

// AddFeeding добавляет кормления
func (m *MemoryStore) AddFeeding(subjectID string, records ...models.FeedingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeding[subjectID] = append(m.feeding[subjectID], records...)
}

// AddActivities добавляет записи активностей
func (m *MemoryStore) AddActivities(subjectID string, records ...models.ActivityRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity[subjectID] = append(m.activity[subjectID], records...)
}

// SleepRecords возвращает копии эпизодов сна, начавшихся внутри интервала
func (m *MemoryStore) SleepRecords(ctx context.Context, subjectID string, rng models.DateRange) ([]models.SleepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.SleepRecord, 0, len(m.sleep[subjectID]))
	for _, r := range m.sleep[subjectID] {
		if rng.Contains(r.StartTime) {
			r.Interruptions = append([]models.Interruption(nil), r.Interruptions...)
			out = append(out, r)
		}
	}
	return out, nil
}

// FeedingRecords возвращает кормления, начавшиеся внутри интервала
func (m *MemoryStore) FeedingRecords(ctx context.Context, subjectID string, rng models.DateRange) ([]models.FeedingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FeedingRecord, 0, len(m.feeding[subjectID]))
	for _, r := range m.feeding[subjectID] {
		if rng.Contains(r.StartTime) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Activities возвращает активности, начавшиеся внутри интервала
func (m *MemoryStore) Activities(ctx context.Context, subjectID string, rng models.DateRange) ([]models.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ActivityRecord, 0, len(m.activity[subjectID]))
	for _, r := range m.activity[subjectID] {
		if rng.Contains(r.StartTime) {
			out = append(out, r)
		}
	}
	return out, nil
}
