package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"babycare-insights/internal/ratelimit"
	"babycare-insights/internal/sleep"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Postgres.DSN)
	assert.False(t, cfg.Cloud.Enabled)
	assert.Equal(t, ratelimit.DefaultPolicy(), cfg.Limiter.Policy())
	assert.Equal(t, sleep.DefaultConfig(), cfg.Sleep.Analyzer())
	assert.Equal(t, 512, cfg.Cache.MemoryEntries)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BABYCARE_SERVER_ADDR", ":9090")
	t.Setenv("BABYCARE_CLOUD_ENABLED", "true")
	t.Setenv("BABYCARE_CLOUD_API_KEY", "k-123")
	t.Setenv("BABYCARE_CLOUD_TIMEOUT", "5s")
	t.Setenv("BABYCARE_LIMITER_PER_HOUR", "4")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Cloud.Enabled)
	assert.Equal(t, "k-123", cfg.Cloud.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Cloud.Client().Timeout)
	assert.Equal(t, 4, cfg.Limiter.PerHour)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
redis:
  addr: localhost:6379
  db: 2
postgres:
  dsn: postgres://babycare@localhost/babycare?sslmode=disable
  max_open_conns: 4
sleep:
  day_start_hour: 7
  day_end_hour: 19
log:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// environment wins over the file
	t.Setenv("BABYCARE_REDIS_DB", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Options().Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 4, cfg.Postgres.Store().MaxOpenConns)
	assert.Equal(t, sleep.Config{DayStartHour: 7, DayEndHour: 19}, cfg.Sleep.Analyzer())
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty_addr", func(c *Config) { c.Server.Addr = "" }},
		{"hour_over_day", func(c *Config) { c.Limiter.PerHour = 50 }},
		{"zero_burst", func(c *Config) { c.Limiter.BurstCount = 0 }},
		{"inverted_day", func(c *Config) { c.Sleep.DayStartHour = 21 }},
		{"bad_format", func(c *Config) { c.Log.Format = "xml" }},
		{"cloud_without_url", func(c *Config) { c.Cloud.Enabled = true; c.Cloud.BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cloud:\n  enabled: false\n"), 0o600))

	changes := make(chan *Config, 16)
	require.NoError(t, Watch(path, func(cfg *Config, err error) {
		if err != nil {
			return
		}
		select {
		case changes <- cfg:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte("cloud:\n  enabled: true\n  api_key: k\n"), 0o600))

	// a truncating write may be observed before the new content lands
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Cloud.Settings().APIKey != "k" {
				continue
			}
			assert.True(t, cfg.Cloud.Settings().CloudAnalysisEnabled)
			return
		case <-timeout:
			t.Fatal("config change not observed")
		}
	}
}

func TestWatch_RequiresFile(t *testing.T) {
	assert.Error(t, Watch("", func(*Config, error) {}))
}
