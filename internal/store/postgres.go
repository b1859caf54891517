package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"babycare-insights/internal/models"
)

// Schema таблицы записей, читаемых сервисом
const Schema = `
CREATE TABLE IF NOT EXISTS sleep_records (
	id            TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ NOT NULL CHECK (end_time >= start_time),
	interruptions JSONB NOT NULL DEFAULT '[]',
	light         DOUBLE PRECISION,
	noise         DOUBLE PRECISION,
	temperature   DOUBLE PRECISION,
	humidity      DOUBLE PRECISION,
	notes         TEXT
);
CREATE INDEX IF NOT EXISTS sleep_records_subject_start ON sleep_records (subject_id, start_time);

CREATE TABLE IF NOT EXISTS feeding_records (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL CHECK (end_time >= start_time),
	amount_ml  DOUBLE PRECISION NOT NULL DEFAULT 0,
	notes      TEXT
);
CREATE INDEX IF NOT EXISTS feeding_records_subject_start ON feeding_records (subject_id, start_time);

CREATE TABLE IF NOT EXISTS activity_records (
	id            TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	start_time    TIMESTAMPTZ NOT NULL,
	end_time      TIMESTAMPTZ NOT NULL CHECK (end_time >= start_time),
	notes         TEXT
);
CREATE INDEX IF NOT EXISTS activity_records_subject_start ON activity_records (subject_id, start_time);
`

// PostgresConfig параметры подключения к PostgreSQL
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres открывает пул соединений и проверяет подключение
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore читает записи из PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore создает хранилище поверх открытого пула
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// EnsureSchema создает таблицы, если их нет
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Ping проверяет соединение
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SleepRecords возвращает эпизоды сна, начавшиеся внутри интервала
func (s *PostgresStore) SleepRecords(ctx context.Context, subjectID string, rng models.DateRange) ([]models.SleepRecord, error) {
	query := `
		SELECT id, start_time, end_time, interruptions, light, noise, temperature, humidity, notes
		FROM sleep_records
		WHERE subject_id = $1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time`

	rows, err := s.db.QueryContext(ctx, query, subjectID, rng.Start, rng.End)
	if err != nil {
		s.logger.Error("Failed to query sleep records", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("%w: query sleep records: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []models.SleepRecord
	for rows.Next() {
		var (
			r                              models.SleepRecord
			interruptions                  []byte
			light, noise, temperature, hum sql.NullFloat64
			notes                          sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.StartTime, &r.EndTime, &interruptions,
			&light, &noise, &temperature, &hum, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan sleep record: %w", err)
		}
		if len(interruptions) > 0 {
			if err := json.Unmarshal(interruptions, &r.Interruptions); err != nil {
				return nil, fmt.Errorf("failed to decode interruptions of %s: %w", r.ID, err)
			}
		}
		if light.Valid || noise.Valid || temperature.Valid || hum.Valid {
			r.Environment = &models.EnvironmentalFactors{
				Light:       nullFloat(light),
				Noise:       nullFloat(noise),
				Temperature: nullFloat(temperature),
				Humidity:    nullFloat(hum),
			}
		}
		r.Notes = notes.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sleep records: %w", err)
	}

	s.logger.Debug("Loaded sleep records",
		zap.String("subject_id", subjectID),
		zap.Int("count", len(records)),
	)
	return records, nil
}

// FeedingRecords возвращает кормления, начавшиеся внутри интервала
func (s *PostgresStore) FeedingRecords(ctx context.Context, subjectID string, rng models.DateRange) ([]models.FeedingRecord, error) {
	query := `
		SELECT id, kind, start_time, end_time, amount_ml, notes
		FROM feeding_records
		WHERE subject_id = $1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time`

	rows, err := s.db.QueryContext(ctx, query, subjectID, rng.Start, rng.End)
	if err != nil {
		s.logger.Error("Failed to query feeding records", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("%w: query feeding records: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []models.FeedingRecord
	for rows.Next() {
		var r models.FeedingRecord
		var notes sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &r.StartTime, &r.EndTime, &r.AmountML, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan feeding record: %w", err)
		}
		r.Notes = notes.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feeding records: %w", err)
	}
	return records, nil
}

// Activities возвращает активности, начавшиеся внутри интервала
func (s *PostgresStore) Activities(ctx context.Context, subjectID string, rng models.DateRange) ([]models.ActivityRecord, error) {
	query := `
		SELECT id, activity_type, start_time, end_time, notes
		FROM activity_records
		WHERE subject_id = $1 AND start_time >= $2 AND start_time <= $3
		ORDER BY start_time`

	rows, err := s.db.QueryContext(ctx, query, subjectID, rng.Start, rng.End)
	if err != nil {
		s.logger.Error("Failed to query activity records", zap.String("subject_id", subjectID), zap.Error(err))
		return nil, fmt.Errorf("%w: query activity records: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []models.ActivityRecord
	for rows.Next() {
		var r models.ActivityRecord
		var activityType string
		var notes sql.NullString
		if err := rows.Scan(&r.ID, &activityType, &r.StartTime, &r.EndTime, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		r.Type = models.ActivityType(activityType)
		r.Notes = notes.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity records: %w", err)
	}
	return records, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
