package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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

	"github.com/hibiken/asynq"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		// Matching still works without the cache; every threshold read
		// simply goes to Postgres.
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

	// The assisted decision-maker is an external collaborator; deployments
	// that run one register it here. Without it, ambiguous matches fall
	// back to manual review.
	resolver := matching.NewResolver(logger, nil, matching.RetryPolicy{
		MaxAttempts: cfg.DecisionMaxAttempts,
		BaseDelay:   cfg.DecisionBaseDelay,
	}, metrics)

	matchService := matching.NewService(logger, ledgerRepo, billingRepo, engine, resolver, thresholds, auditLogger, metrics)

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		MatchingHandler:   matching.NewHandler(logger, matchService, matchingRepo, thresholds),
		SettlementHandler: settlement.NewHandler(logger, engine, settlementRepo),
		LedgerHandler:     ledger.NewHandler(logger, ledgerRepo),
		BillingHandler:    billing.NewHandler(logger, billingRepo),
		JobsHandler:       jobs.NewHandler(logger, jobsClient),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
}
