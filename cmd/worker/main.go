package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/brightbooks/brightbooks/internal/app"
	"github.com/brightbooks/brightbooks/internal/billing"
	"github.com/brightbooks/brightbooks/internal/ledger"
	"github.com/brightbooks/brightbooks/internal/matching"
	"github.com/brightbooks/brightbooks/internal/observability"
	"github.com/brightbooks/brightbooks/internal/platform/cache"
	"github.com/brightbooks/brightbooks/internal/platform/db"
	"github.com/brightbooks/brightbooks/internal/settlement"
	"github.com/brightbooks/brightbooks/internal/shared"
	"github.com/brightbooks/brightbooks/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("connect redis", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	ledgerRepo := ledger.NewRepository(pool)
	billingRepo := billing.NewRepository(pool)
	matchingRepo := matching.NewRepository(pool)
	settlementRepo := settlement.NewRepository(pool)

	thresholds := matching.NewCachedThresholdProvider(matchingRepo, redisClient, cfg.ThresholdCacheTTL, logger)
	engine := settlement.NewEngine(logger, settlementRepo, auditLogger, metrics)
	resolver := matching.NewResolver(logger, nil, matching.RetryPolicy{
		MaxAttempts: cfg.DecisionMaxAttempts,
		BaseDelay:   cfg.DecisionBaseDelay,
	}, metrics)
	matchService := matching.NewService(logger, ledgerRepo, billingRepo, engine, resolver, thresholds, auditLogger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeMatchBatch, Handler: jobs.NewMatchBatchHandler(logger, matchService)},
			{Type: jobs.TaskTypeMatchAll, Handler: jobs.NewMatchAllHandler(logger, ledgerRepo, matchService)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.MatchCronSpec, Task: jobs.NewMatchAllTask(), Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("configure worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("cron", cfg.MatchCronSpec))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
