// Package config загружает конфигурацию сервиса: значения по умолчанию,
// необязательный файл (yaml, toml, json) и переменные окружения BABYCARE_*.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"babycare-insights/internal/cache"
	"babycare-insights/internal/cloud"
	"babycare-insights/internal/engine"
	"babycare-insights/internal/ratelimit"
	"babycare-insights/internal/sleep"
	"babycare-insights/internal/store"
)

// EnvPrefix префикс переменных окружения: server.addr -> BABYCARE_SERVER_ADDR
const EnvPrefix = "BABYCARE"

// Config содержит конфигурацию сервиса
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Limiter  LimiterConfig  `mapstructure:"limiter"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Sleep    SleepConfig    `mapstructure:"sleep"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig параметры HTTP сервера
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig кэш результатов в Redis; пустой Addr включает кэш в памяти
type RedisConfig struct {
	Addr           string `mapstructure:"addr"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	PoolSize       int    `mapstructure:"pool_size"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

// PostgresConfig хранилище записей; пустой DSN включает хранилище в памяти
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// CloudConfig облачный анализ
type CloudConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WiFiOnly   bool          `mapstructure:"wifi_only"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	Salt       string        `mapstructure:"salt"`
}

// LimiterConfig ограничения облачных вызовов
type LimiterConfig struct {
	PerHour       int           `mapstructure:"per_hour"`
	PerDay        int           `mapstructure:"per_day"`
	BurstCount    int           `mapstructure:"burst_count"`
	BurstWindow   time.Duration `mapstructure:"burst_window"`
	BurstCooldown time.Duration `mapstructure:"burst_cooldown"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
}

// CacheConfig кэш в памяти
type CacheConfig struct {
	MemoryEntries int `mapstructure:"memory_entries"`
}

// SleepConfig дневное окно анализатора сна
type SleepConfig struct {
	DayStartHour int `mapstructure:"day_start_hour"`
	DayEndHour   int `mapstructure:"day_end_hour"`
}

// LogConfig параметры логгера
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Service string `mapstructure:"service"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.connect_retries", 5)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.ensure_schema", true)

	v.SetDefault("cloud.enabled", false)
	v.SetDefault("cloud.wifi_only", false)
	v.SetDefault("cloud.api_key", "")
	v.SetDefault("cloud.base_url", "https://api.babycare-insights.example")
	v.SetDefault("cloud.timeout", 30*time.Second)
	v.SetDefault("cloud.retry_count", 2)
	v.SetDefault("cloud.salt", "")

	policy := ratelimit.DefaultPolicy()
	v.SetDefault("limiter.per_hour", policy.PerHour)
	v.SetDefault("limiter.per_day", policy.PerDay)
	v.SetDefault("limiter.burst_count", policy.BurstCount)
	v.SetDefault("limiter.burst_window", policy.BurstWindow)
	v.SetDefault("limiter.burst_cooldown", policy.BurstCooldown)
	v.SetDefault("limiter.backoff_base", policy.BackoffBase)
	v.SetDefault("limiter.backoff_max", policy.BackoffMax)
	v.SetDefault("limiter.idle_ttl", policy.IdleTTL)

	v.SetDefault("cache.memory_entries", cache.DefaultMemoryEntries)

	day := sleep.DefaultConfig()
	v.SetDefault("sleep.day_start_hour", day.DayStartHour)
	v.SetDefault("sleep.day_end_hour", day.DayEndHour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service", "babycare-insights")
}

// Load читает конфигурацию. Пустой path означает только значения по умолчанию и окружение.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Limiter.PerHour <= 0 || c.Limiter.PerDay <= 0 || c.Limiter.BurstCount <= 0 {
		errs = append(errs, errors.New("limiter quotas must be positive"))
	}
	if c.Limiter.PerHour > c.Limiter.PerDay {
		errs = append(errs, fmt.Errorf("limiter.per_hour %d exceeds limiter.per_day %d", c.Limiter.PerHour, c.Limiter.PerDay))
	}
	if c.Cache.MemoryEntries <= 0 {
		errs = append(errs, errors.New("cache.memory_entries must be positive"))
	}
	if c.Sleep.DayStartHour < 0 || c.Sleep.DayEndHour > 24 || c.Sleep.DayStartHour >= c.Sleep.DayEndHour {
		errs = append(errs, fmt.Errorf("invalid day window %d-%d", c.Sleep.DayStartHour, c.Sleep.DayEndHour))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Cloud.Enabled && c.Cloud.BaseURL == "" {
		errs = append(errs, errors.New("cloud.base_url is required when cloud is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Policy параметры ограничителя
func (c LimiterConfig) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		PerHour:       c.PerHour,
		PerDay:        c.PerDay,
		BurstCount:    c.BurstCount,
		BurstWindow:   c.BurstWindow,
		BurstCooldown: c.BurstCooldown,
		BackoffBase:   c.BackoffBase,
		BackoffMax:    c.BackoffMax,
		IdleTTL:       c.IdleTTL,
	}
}

// Settings начальные пользовательские настройки облачного анализа
func (c CloudConfig) Settings() engine.Settings {
	return engine.Settings{CloudAnalysisEnabled: c.Enabled, WiFiOnly: c.WiFiOnly, APIKey: c.APIKey}
}

// Client параметры HTTP клиента облака
func (c CloudConfig) Client() cloud.ClientConfig {
	return cloud.ClientConfig{BaseURL: c.BaseURL, Timeout: c.Timeout, RetryCount: c.RetryCount}
}

// Store параметры пула Postgres
func (c PostgresConfig) Store() store.PostgresConfig {
	return store.PostgresConfig{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// Options параметры клиента Redis
func (c RedisConfig) Options() cache.RedisOptions {
	return cache.RedisOptions{Addr: c.Addr, Password: c.Password, DB: c.DB, PoolSize: c.PoolSize}
}

// Analyzer дневное окно анализатора сна
func (c SleepConfig) Analyzer() sleep.Config {
	return sleep.Config{DayStartHour: c.DayStartHour, DayEndHour: c.DayEndHour}
}

// Watch следит за файлом конфигурации и вызывает onChange с перечитанной
// конфигурацией. Ошибочная конфигурация передается как err, прежняя продолжает действовать.
func Watch(path string, onChange func(*Config, error)) error {
	if path == "" {
		return errors.New("config watch requires a file")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Load(path))
	})
	v.WatchConfig()
	return nil
}
