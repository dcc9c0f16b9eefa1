package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-results-api/internal/handler"
	"github.com/noah-isme/sma-results-api/internal/repository"
	"github.com/noah-isme/sma-results-api/internal/service"
	"github.com/noah-isme/sma-results-api/pkg/cache"
	"github.com/noah-isme/sma-results-api/pkg/config"
	"github.com/noah-isme/sma-results-api/pkg/database"
	"github.com/noah-isme/sma-results-api/pkg/events"
	"github.com/noah-isme/sma-results-api/pkg/jobs"
	"github.com/noah-isme/sma-results-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := newPublisher(cfg, logr)
	defer publisher.Close()

	metrics := service.NewMetricsService()
	validate := validator.New()

	var cacheRepo service.CacheRepository
	var jobStore service.JobStateStore
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		jobStore = repository.NewRedisJobStateRepository(redisClient, cfg.Results.JobTTL)
	} else {
		jobStore = repository.NewMemoryJobStateRepository(cfg.Results.JobTTL)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Results.CacheTTL, logr, redisClient != nil)

	scoreRepo := repository.NewScoreRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	schemeRepo := repository.NewGradingSchemeRepository(db)
	resultRepo := repository.NewResultRepository(db)

	schemeSvc := service.NewGradingSchemeService(schemeRepo, validate, logr)
	computeSvc := service.NewResultComputationService(scoreRepo, directoryRepo, schemeSvc, resultRepo, cacheSvc, cfg.Results.StudentConcurrency, logr)

	computeWorker := service.NewResultComputationWorker(jobStore, computeSvc, metrics, cfg.Results.MaxAttempts, logr)
	computeQueue := jobs.NewQueue("result-computation", computeWorker.Handle, jobs.QueueConfig{
		Workers:     cfg.Results.Workers,
		BufferSize:  cfg.Results.BufferSize,
		MaxAttempts: cfg.Results.MaxAttempts,
		BaseDelay:   cfg.Results.BackoffBase,
		MaxDelay:    cfg.Results.BackoffMax,
		Logger:      logr,
	})
	notifyWorker := service.NewNotificationWorker(publisher, metrics, logr)
	notifyQueue := jobs.NewQueue("result-notification", notifyWorker.Handle, jobs.QueueConfig{
		Workers:     cfg.Notify.Workers,
		MaxAttempts: cfg.Notify.MaxAttempts,
		BaseDelay:   cfg.Notify.BackoffBase,
		Logger:      logr,
	})
	computeQueue.Start(ctx)
	defer computeQueue.Stop()
	notifyQueue.Start(ctx)
	defer notifyQueue.Stop()

	jobSvc := service.NewResultJobService(jobStore, computeQueue, validate, logr)
	if n := jobSvc.RecoverPendingJobs(ctx); n > 0 {
		logr.Sugar().Infow("requeued unfinished computation jobs", "jobs", n)
	}
	publishSvc := service.NewResultPublishService(resultRepo, publisher, notifyQueue, cacheSvc, metrics, validate, logr)
	querySvc := service.NewResultQueryService(scoreRepo, directoryRepo, resultRepo, cacheSvc, logr)
	scoreSvc := service.NewScoreService(scoreRepo, directoryRepo, cacheSvc, validate, logr)

	checks := map[string]handler.HealthCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logr,
		Metrics:        metrics,
		Results:        handler.NewResultHandler(jobSvc, publishSvc, querySvc),
		Scores:         handler.NewScoreHandler(scoreSvc),
		GradingScheme:  handler.NewGradingSchemeHandler(schemeSvc),
		Observability:  handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logr.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("http shutdown incomplete", "error", err)
	}
}

// newPublisher connects to NATS when enabled and falls back to logging events otherwise.
func newPublisher(cfg *config.Config, logr *zap.Logger) events.Publisher {
	if !cfg.NATS.Enabled {
		return events.NewLogPublisher(logr)
	}
	p, err := events.NewNATSPublisher(cfg.NATS.URL, logr)
	if err != nil {
		logr.Sugar().Warnw("nats unavailable, logging events instead", "url", cfg.NATS.URL, "error", err)
		return events.NewLogPublisher(logr)
	}
	return p
}
