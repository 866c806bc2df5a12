package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/enrichment/internal/app"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/handler"
	"github.com/makeasinger/enrichment/internal/logging"
	"github.com/makeasinger/enrichment/internal/middleware"
	"github.com/makeasinger/enrichment/internal/scheduler"
	"github.com/makeasinger/enrichment/internal/server"
	"github.com/makeasinger/enrichment/internal/service"
	ws "github.com/makeasinger/enrichment/internal/websocket"
	"github.com/makeasinger/enrichment/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.Server.LogLevel, cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	a, err := app.New(ctx, cfg, log, hub)
	if err != nil {
		log.WithError(err).Fatal("Failed to build enrichment pipeline")
	}
	defer a.Close()

	// Background processing
	if cfg.Queue.Enabled {
		go startWorkerServer(ctx, cfg, a.RedisOpt, a.Scheduler, a.Syncer, log)
	} else {
		go func() {
			if err := a.Scheduler.Run(ctx); err != nil {
				log.WithError(err).Error("Scheduler stopped")
			}
		}()
		if cfg.Catalog.SyncInterval > 0 {
			go a.Syncer.Run(ctx, cfg.Catalog.SyncInterval)
		}
	}

	validate := validator.New()

	var rateLimiter *middleware.RateLimiter
	if a.RedisUp {
		rateLimiter = middleware.NewRateLimiter(a.Redis, log)
	}

	srv := server.New(server.Deps{
		Enrichment:        a.Service,
		EnrichmentHandler: handler.NewEnrichmentHandler(a.Service, validate),
		CatalogHandler:    handler.NewCatalogHandler(a.Gateway, a.Features, a.Syncer, validate),
		Auth:              middleware.NewAuthMiddleware(cfg.JWT.Secret),
		RateLimiter:       rateLimiter,
		Hub:               hub,
		Metrics:           a.Metrics,
		EnrichPerHour:     cfg.RateLimit.EnrichPerHour,
		RequestLog:        cfg.Server.Env == "development",
		QueueEnabled:      cfg.Queue.Enabled,
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		if err := srv.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.WithFields(logrus.Fields{
		"addr":     addr,
		"store":    cfg.Store.Driver,
		"analysis": a.Backend.Name(),
		"queue":    cfg.Queue.Enabled,
	}).Info("Server starting")
	if err := srv.Listen(addr); err != nil {
		log.WithError(err).Error("Server error")
		os.Exit(1)
	}
}

func startWorkerServer(ctx context.Context, cfg *config.Config, redisOpt asynq.RedisClientOpt, sched *scheduler.Scheduler, syncer *service.Syncer, log *logrus.Logger) {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues: map[string]int{
			service.QueueEnrichment: 1,
		},
		Logger:   log,
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	worker.NewEnrichmentWorker(sched, syncer, log).Register(mux)

	periodic := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: log, LogLevel: asynq.WarnLevel})
	if err := worker.RegisterPeriodic(periodic, cfg.Queue.BatchCron, cfg.Queue.SyncCron, cfg.Scheduler.BatchSize); err != nil {
		log.WithError(err).Fatal("Failed to register periodic tasks")
	}

	if err := srv.Start(mux); err != nil {
		log.WithError(err).Error("Asynq worker error")
		return
	}
	if err := periodic.Start(); err != nil {
		log.WithError(err).Error("Asynq scheduler error")
	}

	<-ctx.Done()
	periodic.Shutdown()
	srv.Shutdown()
}
