package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babycare-insights/internal/models"
)

func writeRecords(t *testing.T, file recordFile) string {
	t.Helper()
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestAnalyzeCommand(t *testing.T) {
	t.Setenv("BABYCARE_LOG_LEVEL", "error")

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	file := recordFile{SubjectID: "baby-1"}
	for d := 0; d < 10; d++ {
		day := base.AddDate(0, 0, d)
		file.Sleep = append(file.Sleep,
			models.SleepRecord{ID: fmt.Sprintf("nap-%d", d), StartTime: day.Add(13 * time.Hour), EndTime: day.Add(14*time.Hour + 30*time.Minute)},
			models.SleepRecord{ID: fmt.Sprintf("night-%d", d), StartTime: day.Add(20 * time.Hour), EndTime: day.Add(30 * time.Hour)},
		)
		file.Feeding = append(file.Feeding,
			models.FeedingRecord{ID: fmt.Sprintf("feed-%d", d), StartTime: day.Add(9 * time.Hour), EndTime: day.Add(9*time.Hour + 20*time.Minute)},
		)
	}
	path := writeRecords(t, file)

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"analyze", "--file", path, "--now", "2026-04-11T15:00:00Z"})
	require.NoError(t, root.Execute())

	var report analysisReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "baby-1", report.SubjectID)
	assert.Equal(t, models.SourceLocal, report.Sleep.Metadata.Source)
	assert.NotEqual(t, models.PatternInsufficient, report.Sleep.PatternType)
	assert.Equal(t, models.SourceLocal, report.Prediction.Source)
	require.NotNil(t, report.Prediction.NextSleep)
	assert.False(t, report.Prediction.NextSleep.EarliestStartTime.Before(time.Date(2026, 4, 11, 15, 0, 0, 0, time.UTC)))
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	t.Setenv("BABYCARE_LOG_LEVEL", "error")
	path := writeRecords(t, recordFile{SubjectID: "baby-1"})

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing_file", []string{"analyze"}, "file"},
		{"bad_now", []string{"analyze", "-f", path, "--now", "noon"}, "invalid --now"},
		{"bad_days", []string{"analyze", "-f", path, "--days", "0"}, "--days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCommand()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			err := root.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadRecords(t *testing.T) {
	_, err := readRecords(strings.NewReader(`{"sleep":[]}`))
	assert.ErrorContains(t, err, "subject_id")

	_, err = readRecords(strings.NewReader(`{"subject_id":"b","sleep":[{"id":"s","start_time":"2026-04-01T10:00:00Z","end_time":"2026-04-01T09:00:00Z"}]}`))
	assert.ErrorIs(t, err, models.ErrInvalidInterval)

	_, err = readRecords(strings.NewReader(`{"subject_id":"b","feeding":[{"id":"f","start_time":"2026-04-01T10:00:00Z","end_time":"2026-04-01T09:00:00Z"}]}`))
	assert.ErrorIs(t, err, models.ErrInvalidInterval)

	records, err := readRecords(strings.NewReader(`{"subject_id":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, "b", records.SubjectID)

	_, err = readRecords(strings.NewReader(`{`))
	assert.Error(t, err)
}
