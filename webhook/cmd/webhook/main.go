package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/httputil"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/app"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/config"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/handlers"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/normalizer"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/server"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/service"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/validator"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("webhook"))
	logging.SetDefault(logger)

	if err := run(cfg, logger.Logger); err != nil {
		slog.Error("webhook service stopped", logging.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	logger.Info("Starting VRE webhook service",
		slog.Int("port", cfg.Server.Port),
		slog.String("mint", cfg.Token.Mint),
		slog.String("treasury", cfg.Token.Treasury),
		slog.String("executor", cfg.Executor.Mode),
		slog.Bool("executor_fallback", cfg.Executor.Fallback),
		slog.String("sink", cfg.Sink.Backend),
		slog.String("dedup", cfg.Dedup.Backend),
		slog.String("lock", cfg.Lock.Backend),
	)

	execs, err := app.BuildExecutors(cfg, logger)
	if err != nil {
		return fmt.Errorf("executors: %w", err)
	}
	deliverer := app.BuildDeliverer(cfg, execs, logger)

	ledger, err := app.BuildLedger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dedup ledger: %w", err)
	}
	defer ledger.Close()

	locker, err := app.BuildLocker(cfg, logger)
	if err != nil {
		return fmt.Errorf("address lock: %w", err)
	}
	defer locker.Close()

	records, local, err := app.BuildSink(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("record sink: %w", err)
	}
	defer local.Close()

	dlqWriter, closeDLQ, err := app.BuildDLQ(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDLQ()
	if dlqWriter == nil {
		logger.Info("Dead Letter Queue disabled")
	}

	publisher, closeEvents, err := app.BuildEvents(ctx, cfg, logger)
	if err != nil {
		logger.Warn("delivery events disabled", logging.Error(err))
		publisher, closeEvents = nil, func() {}
	}
	defer closeEvents()

	rateLimiter := app.BuildRateLimiter(cfg, logger)
	defer rateLimiter.Close()

	svc, err := service.NewPaymentService(service.Dependencies{
		Normalizer: normalizer.New(cfg.Token.Treasury),
		Ledger:     ledger,
		Oracle:     app.BuildOracle(cfg, logger),
		Deliverer:  deliverer,
		Recorder:   records,
		Locker:     locker,
		DLQ:        dlqWriter,
		Events:     publisher,
		UnitPrice:  cfg.UnitPrice(),
		LockWait:   cfg.Lock.Wait,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("payment service: %w", err)
	}

	auth := handlers.NewAuth(cfg.Webhook.Secret, cfg.Webhook.Debug, cfg.Webhook.MaxBodyBytes, logger)
	if !auth.Enabled() {
		logger.Warn("webhook debug mode without webhook.secret, inbound webhooks are NOT authenticated")
	} else if cfg.Webhook.Debug {
		logger.Warn("webhook debug mode: authentication failures are logged but not rejected")
	}

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	handler := handlers.NewPaymentHandler(svc, records, validator.Default(cfg.Webhook.MaxFiatAmount), cfg.Webhook.MaxBodyBytes, logger)
	router := server.NewRouter(handler, server.Options{
		Auth:           auth,
		RateLimiter:    rateLimiter,
		TrustedProxies: proxies,
		CORSOrigins:    cfg.Webhook.CORSOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("VRE webhook service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
