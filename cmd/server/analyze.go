package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"babycare-insights/internal/cache"
	"babycare-insights/internal/engine"
	"babycare-insights/internal/models"
	"babycare-insights/internal/store"
)

// recordFile входной файл команды analyze
type recordFile struct {
	SubjectID  string                  `json:"subject_id"`
	Sleep      []models.SleepRecord    `json:"sleep"`
	Feeding    []models.FeedingRecord  `json:"feeding"`
	Activities []models.ActivityRecord `json:"activities"`
}

// analysisReport результат команды analyze
type analysisReport struct {
	SubjectID  string                      `json:"subject_id"`
	DateRange  models.DateRange            `json:"date_range"`
	Sleep      models.SleepPatternResult   `json:"sleep"`
	Routine    models.RoutinePatternResult `json:"routine"`
	Prediction models.PredictionResult     `json:"prediction"`
}

func analyzeCommand(a *app) *cobra.Command {
	var (
		path  string
		days  int
		nowAt string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a JSON file of care records and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if nowAt != "" {
				t, err := time.Parse(time.RFC3339, nowAt)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
				now = t
			}
			if days <= 0 {
				return errors.New("--days must be positive")
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := readRecords(f)
			if err != nil {
				return err
			}
			return a.analyze(cmd, records, models.LastDays(now, days), func() time.Time { return now })
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "JSON file with subject_id, sleep, feeding and activities")
	cmd.Flags().IntVar(&days, "days", 14, "length of the analysis range in days")
	cmd.Flags().StringVar(&nowAt, "now", "", "analysis time (RFC3339), defaults to the current time")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRecords декодирует и проверяет записи
func readRecords(r io.Reader) (recordFile, error) {
	var records recordFile
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return recordFile{}, fmt.Errorf("failed to decode records: %w", err)
	}
	if records.SubjectID == "" {
		return recordFile{}, errors.New("subject_id is required")
	}

	var errs []error
	for _, s := range records.Sleep {
		errs = append(errs, s.Validate())
	}
	for _, a := range records.Activities {
		errs = append(errs, a.Validate())
	}
	for _, f := range records.Feeding {
		errs = append(errs, f.Validate())
	}
	if err := errors.Join(errs...); err != nil {
		return recordFile{}, fmt.Errorf("invalid records: %w", err)
	}
	return records, nil
}

func (a *app) analyze(cmd *cobra.Command, records recordFile, rng models.DateRange, now func() time.Time) error {
	mem := store.NewMemoryStore()
	mem.AddSleep(records.SubjectID, records.Sleep...)
	mem.AddFeeding(records.SubjectID, records.Feeding...)
	mem.AddActivities(records.SubjectID, records.Activities...)

	results := cache.NewResults(cache.NewMemoryStoreWithClock(a.cfg.Cache.MemoryEntries, now),
		cache.WithClock(now), cache.WithLogger(a.logger.Named("cache")))
	orch := newOrchestrator(a.cfg, mem, results, a.logger, engine.WithClock(now))

	ctx := cmd.Context()
	report := analysisReport{SubjectID: records.SubjectID, DateRange: rng}
	var err error
	if report.Sleep, err = orch.AnalyzeSleep(ctx, records.SubjectID, rng); err != nil {
		return err
	}
	if report.Routine, err = orch.AnalyzeRoutine(ctx, records.SubjectID, rng); err != nil {
		return err
	}
	if report.Prediction, err = orch.PredictNextSleep(ctx, records.SubjectID); err != nil {
		return err
	}

	a.logger.Debug("Analysis finished",
		zap.String("subject_id", records.SubjectID),
		zap.String("sleep_source", string(report.Sleep.Metadata.Source)),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
