// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ratingharvest/internal/clock/system"
	"github.com/JakeFAU/ratingharvest/internal/config"
	collyextractor "github.com/JakeFAU/ratingharvest/internal/extractor/colly"
	"github.com/JakeFAU/ratingharvest/internal/harvest"
	"github.com/JakeFAU/ratingharvest/internal/id/uuid"
	"github.com/JakeFAU/ratingharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/ratingharvest/internal/storage/csvfile"
	"github.com/JakeFAU/ratingharvest/internal/storage/gcs"
	"github.com/JakeFAU/ratingharvest/internal/storage/postgres"
	"github.com/JakeFAU/ratingharvest/internal/storage/redis"
)

// App holds the shared services a run needs. It is built once at startup
// and closed by a cobra hook after the command finishes.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Store     harvest.ResultStore
	Extractor harvest.Extractor
	Limiter   *ratelimit.Limiter
	Clock     harvest.Clock
	Sleeper   harvest.Sleeper
	IDs       harvest.IDGenerator

	closeOnce sync.Once
}

// NewApp builds every service from cfg and fails fast if the output backend
// cannot be reached.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(cfg.RateLimit())
	extractor := collyextractor.New(cfg.ExtractorOptions(), limiter, logger)

	logger.Info("application services initialized",
		zap.String("backend", cfg.Output.Backend),
		zap.Int("workers", cfg.Pipeline.Workers),
	)
	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Extractor: extractor,
		Limiter:   limiter,
		Clock:     system.New(),
		Sleeper:   system.NewSleeper(),
		IDs:       uuid.New(),
	}, nil
}

// NewStore builds the result store selected by output.backend.
func NewStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (harvest.ResultStore, error) {
	switch cfg.Output.Backend {
	case config.BackendCSV:
		store, err := csvfile.New(cfg.Output.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("init csv store: %w", err)
		}
		logger.Info("using csv output", zap.String("path", store.Path()))
		return store, nil
	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL", zap.String("table", cfg.Postgres.Table))
		store, err := postgres.NewResultStore(ctx, cfg.PostgresOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		logger.Info("connecting to Redis", zap.String("addr", cfg.Redis.Addr))
		store, err := redis.New(cfg.RedisOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		logger.Info("using gcs output", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
		store, err := gcs.New(ctx, cfg.GCSOptions(), logger)
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown output backend: %s", cfg.Output.Backend)
	}
}

// Close releases the store and flushes the logger. Later calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.Logger.Info("shutting down application services")
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				a.Logger.Warn("error closing result store", zap.Error(err))
			}
		}
		// Sync commonly fails on stdout/stderr; nothing useful can be done about it.
		_ = a.Logger.Sync()
	})
}
