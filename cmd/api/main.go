package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fitstudio/internal/config"
	"fitstudio/internal/database"
	"fitstudio/internal/logging"
	"fitstudio/internal/mailer"
	"fitstudio/internal/paymentprovider"
	"fitstudio/internal/ratelimit"
	"fitstudio/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, ring, err := logging.New(logging.Options{
		Env:        cfg.AppEnv,
		Level:      cfg.Log.Level,
		BufferSize: cfg.Log.BufferSize,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.OpenStore(ctx, cfg.Store.DSN, cfg.Store.DBName, cfg.Store.Timeout, logger.Named("store"))
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}

	limiter, err := ratelimit.Open(ctx, cfg.RateLimit)
	if err != nil {
		logger.Fatal("open rate limiter", zap.Error(err), zap.String("backend", cfg.RateLimit.Backend))
	}

	mail, err := mailer.New(cfg.Mail, logger.Named("mailer"))
	if err != nil {
		logger.Fatal("open mailer", zap.Error(err), zap.String("driver", cfg.Mail.Driver))
	}

	gateway := paymentprovider.NewClient(cfg.Payment.APIURL, cfg.Payment.SecretKey, cfg.Payment.Timeout)

	srv, err := server.New(server.Deps{
		Config:  cfg,
		Store:   store,
		Mailer:  mail,
		Limiter: limiter,
		Gateway: gateway,
		Ring:    ring,
		Log:     logger,
	})
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	if cfg.ReconcileInterval > 0 {
		go srv.Entitlements.RunReconciler(ctx, cfg.ReconcileInterval)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	srv.Hub.Close()
	if err := mail.Close(); err != nil {
		logger.Warn("close mailer", zap.Error(err))
	}
	if err := limiter.Close(); err != nil {
		logger.Warn("close rate limiter", zap.Error(err))
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
}
