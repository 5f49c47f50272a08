package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/jobrouter/internal/audit"
	"github.com/angelmondragon/jobrouter/internal/capacity"
	"github.com/angelmondragon/jobrouter/internal/cron"
	"github.com/angelmondragon/jobrouter/pkg/clock"
	"github.com/angelmondragon/jobrouter/pkg/config"
	"github.com/angelmondragon/jobrouter/pkg/db"
	"github.com/angelmondragon/jobrouter/pkg/instance"
	"github.com/angelmondragon/jobrouter/pkg/logger"
	"github.com/angelmondragon/jobrouter/pkg/metrics"
	"github.com/angelmondragon/jobrouter/pkg/migrate"
	"github.com/angelmondragon/jobrouter/pkg/outbox"
	"github.com/angelmondragon/jobrouter/pkg/redis"
)

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
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
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

	lock, closeLock, err := buildLock(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	defer closeLock()

	loc, err := cfg.Engine.Location()
	if err != nil {
		logg.Error(context.Background(), "invalid engine timezone", err)
		os.Exit(1)
	}
	clk := clock.NewSystem(loc)

	ledger, err := capacity.NewLedger(dbClient.DB(), clk)
	if err != nil {
		logg.Error(context.Background(), "failed to create capacity ledger", err)
		os.Exit(1)
	}
	auditLog, err := audit.NewLogger(dbClient.DB(), clk)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit log", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, ledger, auditLog, clk)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Retention.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.ID(),
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Retention.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, ledger capacity.Ledger, auditLog *audit.Logger, clk clock.Clock) (*cron.Registry, error) {
	usageRetention, err := cron.NewCapacityRetentionJob(cron.CapacityRetentionJobParams{
		Logger:    logg,
		Ledger:    ledger,
		Clock:     clk,
		Retention: cfg.Retention.CapacityUsageDays,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Clock:       clk,
		Retention:   cfg.Retention.OutboxDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewUsageReconcileJob(cron.UsageReconcileJobParams{
		Logger: logg,
		Audit:  auditLog,
		Ledger: ledger,
		Clock:  clk,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(usageRetention, outboxRetention, reconcile)
}

// buildLock prefers a redis lock so only one replica runs a cycle. Without
// redis the worker assumes it is the only instance.
func buildLock(cfg *config.Config, logg *logger.Logger) (cron.Lock, func(), error) {
	if !cfg.Redis.Enabled() {
		logg.Warn(context.Background(), "redis not configured; cron lock is process-local")
		return &cron.LocalLock{}, func() {}, nil
	}
	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey("maintenance"), 0)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return lock, closeFn, nil
}
