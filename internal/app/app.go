// Package app builds the enrichment components from configuration. The
// server binary and the admin CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/analysis"
	"github.com/makeasinger/enrichment/internal/catalog"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/metrics"
	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/service"
	"github.com/makeasinger/enrichment/internal/store"
)

type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Redis     *redis.Client
	RedisUp   bool
	RedisOpt  asynq.RedisClientOpt
	Store     store.Store
	Features  catalog.FeatureStore
	Gateway   *catalog.MemoryGateway
	Backend   analysis.Backend
	Metrics   *metrics.Metrics
	Scheduler *scheduler.Scheduler
	Asynq     *asynq.Client
	Service   *service.EnrichmentService
	Syncer    *service.Syncer
}

// New connects to Redis and wires the pipeline. Redis is only required when
// the store driver or the queue needs it. notifier may be nil.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger, notifier scheduler.Notifier) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: log,
		RedisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Metrics: metrics.New(),
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		if cfg.Store.Driver == "redis" || cfg.Queue.Enabled {
			a.Redis.Close()
			return nil, fmt.Errorf("redis is required by the configured store or queue: %w", err)
		}
		log.WithError(err).Warn("Redis not available, rate limiting is disabled")
	} else {
		a.RedisUp = true
	}

	switch cfg.Store.Driver {
	case "redis":
		a.Store = store.NewRedisStore(a.Redis)
		a.Features = catalog.NewRedisFeatureStore(a.Redis)
	case "memory", "":
		a.Store = store.NewMemoryStore()
		a.Features = catalog.NewMemoryFeatureStore()
	default:
		a.Redis.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	a.Gateway = catalog.NewMemoryGateway(a.Features)
	if err := catalog.LoadFixtures(a.Gateway); err != nil {
		a.Redis.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	backend, err := analysis.Select(&cfg.Analysis, log)
	if err != nil {
		a.Redis.Close()
		return nil, fmt.Errorf("select analysis backend: %w", err)
	}
	a.Backend = backend

	opts := []scheduler.Option{
		scheduler.WithFeatureStore(a.Features),
		scheduler.WithMetrics(a.Metrics),
	}
	if notifier != nil {
		opts = append(opts, scheduler.WithNotifier(notifier))
	}
	a.Scheduler = scheduler.New(a.Store, backend, &cfg.Scheduler, log, opts...)

	if cfg.Queue.Enabled {
		a.Asynq = asynq.NewClient(a.RedisOpt)
	}

	a.Service = service.NewEnrichmentService(a.Store, a.Gateway, a.Scheduler, a.Asynq, a.Metrics, &cfg.Scheduler, log)
	a.Syncer, err = service.NewSyncer(a.Gateway, a.Service, &cfg.Catalog, a.Metrics, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("catalog sync configuration: %w", err)
	}

	return a, nil
}

func (a *App) Close() {
	if a.Asynq != nil {
		a.Asynq.Close()
	}
	a.Redis.Close()
}
