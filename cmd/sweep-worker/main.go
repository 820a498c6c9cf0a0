package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/listings"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/offers"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/internal/sellers"
	"github.com/angelmondragon/marketloop-backend/internal/sweep"
	"github.com/angelmondragon/marketloop-backend/pkg/config"
	"github.com/angelmondragon/marketloop-backend/pkg/db"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/metrics"
	"github.com/angelmondragon/marketloop-backend/pkg/migrate"
	"github.com/angelmondragon/marketloop-backend/pkg/outbox"
	"github.com/angelmondragon/marketloop-backend/pkg/redis"
)

const lockKeyFormat = "ml:sweep-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweep-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweep-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweep-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
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

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	notifier, err := notifications.NewEmitter(outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification emitter", err)
		os.Exit(1)
	}

	auditRecorder := audit.NewRecorder()
	ordersRepo := orders.NewRepository(dbClient.DB())
	offersRepo := offers.NewRepository(dbClient.DB())
	listingsRepo := listings.NewRepository(dbClient.DB())
	sellersRepo := sellers.NewRepository(dbClient.DB())

	metricsCollector := metrics.NewSweepJobMetrics(prometheus.DefaultRegisterer)

	offerExpiryJob, err := sweep.NewOfferExpiryJob(sweep.OfferExpiryJobParams{
		Offers:     offersRepo,
		Listings:   listingsRepo,
		Orders:     ordersRepo,
		Audit:      auditRecorder,
		Tx:         dbClient,
		Notifier:   notifier,
		Logger:     logg,
		Metrics:    metricsCollector,
		PageSize:   cfg.Sweep.PageSize,
		TimeBudget: cfg.Sweep.TimeBudget,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create offer expiry job", err)
		os.Exit(1)
	}

	noncomplianceJob, err := sweep.NewNoncomplianceJob(sweep.NoncomplianceJobParams{
		Orders:     ordersRepo,
		Sellers:    sellersRepo,
		Audit:      auditRecorder,
		Tx:         dbClient,
		Notifier:   notifier,
		Logger:     logg,
		Metrics:    metricsCollector,
		PageSize:   cfg.Sweep.PageSize,
		TimeBudget: cfg.Sweep.TimeBudget,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create noncompliance job", err)
		os.Exit(1)
	}

	lock, err := sweep.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sweep.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	service, err := sweep.NewService(sweep.ServiceParams{
		Logger:   logg,
		Registry: sweep.NewRegistry(offerExpiryJob, noncomplianceJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweep worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweep worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweep worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
