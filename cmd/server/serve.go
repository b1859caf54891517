package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"babycare-insights/internal/cache"
	"babycare-insights/internal/cloud"
	"babycare-insights/internal/config"
	"babycare-insights/internal/engine"
	"babycare-insights/internal/handlers"
	"babycare-insights/internal/ratelimit"
	"babycare-insights/internal/store"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// backends зависимости сервиса и функции их закрытия
type backends struct {
	records store.RecordStore
	results *cache.Results
	checks  []handlers.Option
	closers []func() error
}

func (b *backends) close(log *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("Failed to close backend", zap.Error(err))
		}
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.logger
	log.Info("Starting babycare-insights",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
	)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	orch := newOrchestrator(cfg, b.records, b.results, log)

	// Горячая перезагрузка пользовательских настроек облака из файла
	if a.configPath != "" {
		updates := make(chan engine.Settings, 1)
		err := config.Watch(a.configPath, func(next *config.Config, err error) {
			if err != nil {
				log.Warn("Ignoring invalid config change", zap.Error(err))
				return
			}
			select {
			case updates <- next.Cloud.Settings():
			case <-ctx.Done():
			}
		})
		if err != nil {
			log.Warn("Config watch disabled", zap.Error(err))
		} else {
			go orch.Watch(ctx, updates)
		}
	}

	router := mux.NewRouter()
	router.Use(handlers.RequestIDMiddleware)
	router.Use(handlers.LoggingMiddleware(log.Named("http")))
	handlers.NewHandler(orch, log.Named("handlers"), b.checks...).Register(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())
	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}

// openBackends подключает хранилище записей и кэш результатов.
// Без DSN используется хранилище в памяти, без адреса Redis кэш в памяти.
func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Postgres.DSN != "" {
		db, err := store.OpenPostgres(ctx, cfg.Postgres.Store())
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgresStore(db, log.Named("postgres"))
		if cfg.Postgres.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		log.Info("Connected to Postgres")
		b.records = pg
		b.checks = append(b.checks, handlers.WithHealthCheck("postgres", pg))
		b.closers = append(b.closers, db.Close)
	} else {
		log.Warn("No Postgres DSN configured, using in-memory record store")
		b.records = store.NewMemoryStore()
	}

	var kv cache.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := connectRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("Failed to connect to Redis, using in-memory cache", zap.Error(err))
		} else {
			kv = redisStore
			b.checks = append(b.checks, handlers.WithHealthCheck("redis", redisStore))
			b.closers = append(b.closers, redisStore.Close)
		}
	}
	if kv == nil {
		kv = cache.NewMemoryStore(cfg.Cache.MemoryEntries)
	}
	b.results = cache.NewResults(kv, cache.WithLogger(log.Named("cache")))
	return b, nil
}

// connectRedis подключается к Redis с повторами
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*cache.RedisStore, error) {
	attempts := max(cfg.ConnectRetries, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		redisStore, err := cache.NewRedisStore(ctx, cfg.Options())
		if err == nil {
			log.Info("Connected to Redis", zap.String("addr", cfg.Addr))
			return redisStore, nil
		}
		lastErr = err
		log.Warn("Redis connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < attempts-1 {
			select {
			case <-time.After(time.Duration(i+1) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// newOrchestrator собирает оркестратор с облачным шлюзом и ограничителем
func newOrchestrator(cfg *config.Config, records store.RecordStore, results *cache.Results, log *zap.Logger, extra ...engine.Option) *engine.Orchestrator {
	client := cloud.NewClient(cfg.Cloud.Client(), log.Named("cloud"))
	gateway := cloud.NewGateway(client, cloud.NewAnonymizer(cfg.Cloud.Salt), cloud.WithLogger(log.Named("cloud")))

	opts := []engine.Option{
		engine.WithSleepConfig(cfg.Sleep.Analyzer()),
		engine.WithSettings(cfg.Cloud.Settings()),
		engine.WithGateway(gateway),
		engine.WithCache(results),
		engine.WithLimiter(ratelimit.New(cfg.Limiter.Policy())),
		engine.WithLogger(log),
	}
	return engine.New(records, append(opts, extra...)...)
}
