package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianpay/recon/internal/config"
	"github.com/meridianpay/recon/internal/gateway"
	"github.com/meridianpay/recon/internal/handler"
	"github.com/meridianpay/recon/internal/logging"
	"github.com/meridianpay/recon/internal/middleware"
	"github.com/meridianpay/recon/internal/recon"
	"github.com/meridianpay/recon/internal/repository"
	"github.com/meridianpay/recon/internal/sweeper"
	"github.com/meridianpay/recon/internal/vault"
)

const dispatchInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("recon-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	notifications := repository.NewNotificationRepository(db)
	orders := repository.NewOrderRepository(db)
	history := repository.NewHistoryRepository(db)
	invoices := repository.NewInvoiceRepository(db)
	vaultTokens := repository.NewVaultTokenRepository(db)

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)
	tokenBuilder := vault.NewBuilder(vaultTokens, logger)

	// One registry for every flow that mutates order payment state, so a
	// notification and a redirect return for the same order serialize.
	orderLocks := recon.NewLockRegistry()

	dispatcher := recon.NewDispatcher(
		notifications, orders, history, invoices,
		db, orderLocks, logger, cfg.AutoCapture, dispatchInterval,
	)
	go dispatcher.Start(ctx)

	returnFlow := recon.NewReturnFlow(
		gatewayClient, orders, history, tokenBuilder,
		db, orderLocks, logger, cfg.SuccessRedirectPath, cfg.FailureRedirectPath,
	)

	modificationFlow := recon.NewModificationFlow(
		gatewayClient, orders, history, db, logger, cfg.MerchantAccount,
	)

	sweep := sweeper.New(notifications, logger, cfg.NotificationRetentionDays, cfg.SweepSchedule)
	if err := sweep.Start(ctx); err != nil {
		slog.Error("failed to start notification sweeper", "error", err)
		os.Exit(1)
	}
	defer sweep.Stop()

	webhookHandler := handler.NewWebhookHandler(notifications, cfg.WebhookHMACKey)
	redirectHandler := handler.NewRedirectHandler(returnFlow)
	modificationHandler := handler.NewModificationHandler(modificationFlow)
	healthHandler := handler.NewHealthHandler(db)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/notifications", webhookHandler.ReceiveNotification)
	mux.HandleFunc("GET /payments/return", redirectHandler.HandleReturn)
	mux.HandleFunc("POST /orders/{incrementID}/capture", modificationHandler.Capture)
	mux.HandleFunc("POST /orders/{incrementID}/refund", modificationHandler.Refund)
	mux.HandleFunc("POST /orders/{incrementID}/cancel", modificationHandler.Cancel)
	mux.HandleFunc("GET /health/live", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	chain := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
