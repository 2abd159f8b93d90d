package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/client"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/config"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/events"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/logging"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/metrics"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/repository"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/server"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "json").Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format).With("env", cfg.Environment.Name)

	db, err := client.InitDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to init database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	backendHTTP := &http.Client{
		Timeout:   cfg.Backend.Timeout,
		Transport: m.InstrumentRoundTripper(http.DefaultTransport),
	}

	backendClient := client.NewBackendClient(cfg.Backend.APIURL, backendHTTP)
	stripeClient := client.NewStripeClient(&cfg.Stripe)
	identityClient := client.NewIdentityClient(&cfg.Firebase)

	attemptRepo := repository.NewAttemptRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("close event publisher", "error", err)
		}
	}()

	checkoutService := service.NewCheckoutService(
		backendClient,
		stripeClient,
		attemptRepo,
		webhookEventRepo,
		publisher,
		m,
		cfg.Stripe.PublishableKey,
		cfg.BaseURL,
	)

	serverAddr := cfg.Addr()

	// Init HTTP server
	srv := server.NewServer(logger, checkoutService, identityClient, m)

	logger.Info("starting HTTP server", "addr", serverAddr)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	logger.Info("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
}
