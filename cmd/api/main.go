package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/marketloop-backend/api/routes"
	"github.com/angelmondragon/marketloop-backend/internal/audit"
	"github.com/angelmondragon/marketloop-backend/internal/listings"
	"github.com/angelmondragon/marketloop-backend/internal/notifications"
	"github.com/angelmondragon/marketloop-backend/internal/offers"
	"github.com/angelmondragon/marketloop-backend/internal/orders"
	"github.com/angelmondragon/marketloop-backend/internal/refunds"
	"github.com/angelmondragon/marketloop-backend/internal/sellers"
	squarewebhook "github.com/angelmondragon/marketloop-backend/internal/webhooks/square"
	"github.com/angelmondragon/marketloop-backend/pkg/config"
	"github.com/angelmondragon/marketloop-backend/pkg/db"
	"github.com/angelmondragon/marketloop-backend/pkg/logger"
	"github.com/angelmondragon/marketloop-backend/pkg/migrate"
	"github.com/angelmondragon/marketloop-backend/pkg/outbox"
	"github.com/angelmondragon/marketloop-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	notifier, err := notifications.NewEmitter(outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification emitter", err)
		os.Exit(1)
	}

	auditRecorder := audit.NewRecorder()
	ordersRepo := orders.NewRepository(dbClient.DB())
	listingsRepo := listings.NewRepository(dbClient.DB())
	offersRepo := offers.NewRepository(dbClient.DB())
	sellersRepo := sellers.NewRepository(dbClient.DB())

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		Tx:       dbClient,
		Notifier: notifier,
		Audit:    auditRecorder,
		SLA: orders.SLAConfig{
			StartSLA:    cfg.Fulfillment.StartSLA,
			CompleteSLA: cfg.Fulfillment.CompleteSLA,
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	refundLedger := orders.NewRefundLedger()
	refundsSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:          ordersRepo,
		Tx:            dbClient,
		Gateway:       squareClient,
		Notifier:      notifier,
		Audit:         auditRecorder,
		Ledger:        refundLedger,
		Logger:        logg,
		MarkerReclaim: cfg.Refunds.MarkerReclaimAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	offersSvc, err := offers.NewService(offers.ServiceParams{
		Repo:     offersRepo,
		Listings: listingsRepo,
		Orders:   ordersRepo,
		Tx:       dbClient,
		Notifier: notifier,
		Config: offers.Config{
			PaymentWindow:  cfg.Offers.PaymentWindow,
			DefaultTTL:     cfg.Offers.DefaultTTL,
			PlatformFeeBps: cfg.Offers.PlatformFeeBps,
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create offers service", err)
		os.Exit(1)
	}

	sellersSvc, err := sellers.NewService(sellersRepo, dbClient, notifier, time.Now)
	if err != nil {
		logg.Error(context.Background(), "failed to create sellers service", err)
		os.Exit(1)
	}

	webhookSvc, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Gate:              squarewebhook.NewGate(),
		Orders:            ordersSvc,
		OrdersRepo:        ordersRepo,
		Offers:            offersRepo,
		Listings:          listingsRepo,
		Audit:             auditRecorder,
		Ledger:            refundLedger,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			squareClient,
			webhookSvc,
			ordersSvc,
			refundsSvc,
			offersSvc,
			offersRepo,
			sellersSvc,
			auditRecorder,
			refundLedger,
			outbox.NewDLQRepository(dbClient.DB()),
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
