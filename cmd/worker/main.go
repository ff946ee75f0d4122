package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/aqarfund/aqar/internal/app"
	jobmetrics "github.com/aqarfund/aqar/internal/jobs"
	"github.com/aqarfund/aqar/internal/platform/cache"
	"github.com/aqarfund/aqar/internal/platform/db"
	"github.com/aqarfund/aqar/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	engine := app.NewEngine(cfg, logger, pool, redisClient, nil)
	metrics := jobmetrics.NewMetrics(nil)

	integrityJob := jobs.NewMenuIntegrityJob(jobs.NewIntegrityStore(pool), logger, metrics)
	warmupJob := jobs.NewCacheWarmupJob(jobs.NewUserSource(pool), engine.Resolver, logger, metrics)

	integrityTask, err := jobs.NewMenuIntegrityTask(jobs.MenuIntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskMenuIntegrityScan, Handler: integrityJob.Handle},
			{Type: jobs.TaskRBACCacheWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.MenuIntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := client.EnqueueCacheWarmup(ctx, jobs.CacheWarmupPayload{}); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		logger.Warn("enqueue boot warmup", slog.Any("error", err))
	}
	if err := client.Close(); err != nil {
		logger.Warn("job client close", slog.Any("error", err))
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
