// Command reconcile cancels subscriptions whose cancel-at-period-end date has
// passed and purges expired webhook dedup records. It is meant for cron when
// the API's built-in reconciler is disabled (RECONCILE_INTERVAL=0).
package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"fitstudio/internal/config"
	"fitstudio/internal/database"
	"fitstudio/internal/logging"
	"fitstudio/internal/modules/entitlement"
	"fitstudio/internal/paymentprovider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, _, err := logging.New(logging.Options{Env: cfg.AppEnv, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := database.OpenStore(ctx, cfg.Store.DSN, cfg.Store.DBName, cfg.Store.Timeout, logger.Named("store"))
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer func() { _ = store.Close(context.Background()) }()

	svc := entitlement.NewService(
		store,
		paymentprovider.NewClient(cfg.Payment.APIURL, cfg.Payment.SecretKey, cfg.Payment.Timeout),
		entitlement.Catalog{Plans: cfg.Payment.Plans, Programs: cfg.Payment.Programs},
		logger.Named("reconcile"),
	)

	canceled, err := svc.ReconcileCancellations(ctx)
	if err != nil {
		logger.Fatal("reconcile cancellations", zap.Error(err))
	}
	purged, err := svc.PurgeProcessedEvents(ctx)
	if err != nil {
		logger.Fatal("purge processed events", zap.Error(err))
	}

	logger.Info("reconcile completed", zap.Int64("canceled", canceled), zap.Int64("purged_events", purged))
}
