package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tickettoken/settlement/internal/cron"
	"github.com/tickettoken/settlement/internal/reconciliation"
	"github.com/tickettoken/settlement/internal/settlement"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
	"github.com/tickettoken/settlement/pkg/migrate"
	"github.com/tickettoken/settlement/pkg/provider"
	"github.com/tickettoken/settlement/pkg/redis"
	"github.com/tickettoken/settlement/pkg/stripe"
)

const retentionEvery = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		FilePath:    cfg.App.LogFile,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, cfg.Locks.ProviderTimeout, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	core, err := settlement.New(settlement.Deps{
		Config:       cfg,
		Logger:       logg,
		DB:           dbClient,
		LockStore:    redisClient,
		CacheStore:   redisClient,
		Provider:     stripeClient,
		InboxMetrics: metrics.NewInboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to assemble settlement services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, core, stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, core *settlement.Core, client provider.Client) (*cron.Registry, error) {
	reconMetrics := metrics.NewReconciliationMetrics(prometheus.DefaultRegisterer)

	stuck, err := reconciliation.NewStuckPaymentJob(reconciliation.StuckPaymentJobParams{
		Transactions:    core.TransactionRepo,
		Payments:        core.Transactions,
		Provider:        client,
		Metrics:         reconMetrics,
		Logger:          logg,
		StaleAfter:      cfg.Reconciliation.StaleAfter,
		BatchLimit:      cfg.Reconciliation.BatchLimit,
		ProviderTimeout: cfg.Locks.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}

	backfill, err := reconciliation.NewWebhookBackfillJob(reconciliation.WebhookBackfillJobParams{
		Provider: client,
		Inbox:    core.Inbox,
		Metrics:  reconMetrics,
		Logger:   logg,
		Lookback: cfg.Reconciliation.BackfillLookback,
	})
	if err != nil {
		return nil, err
	}

	inboxCleanup, err := cron.NewInboxCleanupJob(cron.InboxCleanupJobParams{
		Logger:        logg,
		Inbox:         core.Inbox,
		RetentionDays: cfg.Webhooks.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: core.OutboxRepo,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	registry.Register(stuck, cfg.Reconciliation.Interval)
	registry.Register(backfill, cfg.Reconciliation.Interval)
	registry.Register(inboxCleanup, retentionEvery)
	registry.Register(outboxRetention, retentionEvery)
	return registry, nil
}
