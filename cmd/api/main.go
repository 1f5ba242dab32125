package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/onramp/internal/bootstrap"
	"github.com/cassiomorais/onramp/internal/controller"
	"github.com/cassiomorais/onramp/internal/infrastructure/config"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/onramp/internal/infrastructure/redis"
	"github.com/cassiomorais/onramp/internal/provider"
	"github.com/cassiomorais/onramp/internal/realtime"
	"github.com/cassiomorais/onramp/internal/repository/postgres"
	"github.com/cassiomorais/onramp/internal/service"
	"github.com/cassiomorais/onramp/internal/signing"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "onramp-api", "onramp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config
	logger := app.Logger

	// --- Repositories ---
	transactionRepo := postgres.NewTransactionRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Provider ---
	signers, err := signing.NewChain(signing.Config{
		Algorithm: signing.Algorithm(cfg.Provider.Algorithm),
		Encoding:  signing.Encoding(cfg.Provider.SecretEncoding),
		Secret:    cfg.Provider.Secret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid provider signing configuration")
	}
	gateway, err := provider.NewGateway(gatewayConfig(cfg), signers,
		observability.Component(logger, "provider_gateway"),
		provider.WithMetrics(app.Metrics),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create provider gateway")
	}

	// --- Services ---
	orderService := service.NewOrderService(transactionRepo, outboxRepo, txManager, gateway,
		observability.Component(logger, "order_service"), app.Metrics)

	// --- Live feed ---
	// Each instance reads the whole stream through its own group.
	group := cfg.Worker.ConsumerGroup + ":" + cfg.InstanceID
	consumer := infraRedis.NewStreamConsumer(app.Redis, cfg.Worker.Stream, group, cfg.InstanceID,
		cfg.Worker.BatchSize, cfg.Worker.BlockDuration)
	if err := consumer.CreateGroup(ctx, infraRedis.StartFromLatest); err != nil {
		logger.Fatal().Err(err).Str("group", group).Msg("Failed to create feed consumer group")
	}
	hub := realtime.NewHub(observability.Component(logger, "feed_hub"), app.Metrics)
	feed := realtime.NewFeed(consumer, hub, cfg.Worker.Stream, observability.Component(logger, "feed"), app.Metrics)

	// --- Build router ---
	deps := controller.RouterDeps{
		DB:               controller.PingFunc(app.PingDB),
		Redis:            controller.PingFunc(app.PingRedis),
		OrderService:     orderService,
		Hub:              hub,
		IdempotencyStore: idempotencyRepo,
		IdempotencyTTL:   cfg.Worker.IdempotencyTTL,
		Metrics:          app.Metrics,
		Logger:           logger,
		ServerConfig:     cfg.Server,
		JWTSecret:        cfg.Auth.JWTSecret,
	}
	if cfg.Provider.Sandbox {
		deps.Sandbox = sandbox(cfg)
		logger.Warn().Str("path", controller.SandboxPath).Msg("Sandbox provider mounted")
	}
	router := controller.NewRouter(deps)

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// WriteTimeout stays unset so the WebSocket feed is not cut off;
		// API routes are bounded by the router's request timeout.
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gCtx) })
	g.Go(func() error { return feed.Run(gCtx) })

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("API error")
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := consumer.DeleteGroup(cleanupCtx); err != nil {
		logger.Warn().Err(err).Str("group", group).Msg("Failed to delete feed consumer group")
	}
	logger.Info().Msg("Server exited")
}

func gatewayConfig(cfg *config.Config) provider.Config {
	p := cfg.Provider
	return provider.Config{
		BaseURL:   p.BaseURL,
		OrderPath: p.OrderPath,
		APIKey:    p.APIKey,
		Timeout:   p.Timeout,
		Breaker: provider.BreakerConfig{
			MaxRequests:  p.Breaker.MaxRequests,
			Interval:     p.Breaker.Interval,
			Timeout:      p.Breaker.Timeout,
			MinRequests:  p.Breaker.MinRequests,
			FailureRatio: p.Breaker.FailureRatio,
		},
		Defaults: provider.OrderDefaults{
			ReturnSuccessURL: cfg.Order.ReturnSuccessURL,
			ReturnFailedURL:  cfg.Order.ReturnFailedURL,
			CurrencyTo:       cfg.Order.CurrencyTo,
			WalletAddress:    cfg.Order.WalletAddress,
			WalletExtraID:    cfg.Order.WalletExtraID,
			Country:          cfg.Order.Country,
			ExternalUserID:   cfg.Order.ExternalUserID,
		},
	}
}

// sandbox verifies raw HMAC secrets; other signing setups are accepted unchecked.
func sandbox(cfg *config.Config) *provider.Sandbox {
	var opts []provider.SandboxOption
	if signing.Algorithm(cfg.Provider.Algorithm) == signing.AlgorithmHMAC &&
		signing.Encoding(cfg.Provider.SecretEncoding) == signing.EncodingRaw &&
		cfg.Provider.Secret != "" {
		opts = append(opts, provider.WithHMACKey([]byte(cfg.Provider.Secret)))
	}
	return provider.NewSandbox(opts...)
}
