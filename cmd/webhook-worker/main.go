package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tickettoken/settlement/internal/settlement"
	"github.com/tickettoken/settlement/pkg/config"
	"github.com/tickettoken/settlement/pkg/db"
	"github.com/tickettoken/settlement/pkg/logger"
	"github.com/tickettoken/settlement/pkg/metrics"
	"github.com/tickettoken/settlement/pkg/migrate"
	"github.com/tickettoken/settlement/pkg/redis"
	"github.com/tickettoken/settlement/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "webhook-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "webhook-worker"

	logg = logger.New(logger.Options{
		ServiceName: "webhook-worker",
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

	service, err := NewService(ServiceParams{
		Logger: logg,
		Inbox:  core.Inbox,
		Locker: core.Locker,
		Pingers: map[string]pinger{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
		},
		PollInterval: cfg.Webhooks.PollInterval,
		LockTimeout:  cfg.Locks.Timeout,
		BatchSize:    cfg.Webhooks.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"stripe_env":  stripeClient.Environment(),
	})
	logg.Info(ctx, "starting webhook worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "webhook worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "webhook worker shutting down gracefully")
}
