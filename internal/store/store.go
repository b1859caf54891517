// Package store описывает источник записей ухода и его реализации (память, PostgreSQL)
package store

import (
	"context"
	"errors"

	"babycare-insights/internal/models"
)

// ErrUnavailable возвращается, если хранилище недоступно
var ErrUnavailable = errors.New("record store unavailable")

// RecordStore поставляет записи за интервал. Анализаторы используют только чтение.
type RecordStore interface {
	SleepRecords(ctx context.Context, subjectID string, rng models.DateRange) ([]models.SleepRecord, error)
	FeedingRecords(ctx context.Context, subjectID string, rng models.DateRange) ([]models.FeedingRecord, error)
	Activities(ctx context.Context, subjectID string, rng models.DateRange) ([]models.ActivityRecord, error)
}
