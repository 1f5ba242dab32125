package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/onramp/internal/bootstrap"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/onramp/internal/infrastructure/redis"
	"github.com/cassiomorais/onramp/internal/repository/postgres"
	"github.com/cassiomorais/onramp/internal/worker"
	"github.com/cassiomorais/onramp/pkg/retry"
	"golang.org/x/sync/errgroup"
)

// streamMaxLen caps the transaction stream; consumers only need recent events.
const streamMaxLen = 100_000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "onramp-worker", "onramp_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	workerCfg := app.Config.Worker

	// --- Repositories ---
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	idempotencyRepo := postgres.NewIdempotencyRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)
	producer := infraRedis.NewStreamProducer(app.Redis, workerCfg.Stream, streamMaxLen)

	relay := worker.NewRelay(outboxRepo, txManager, producer,
		worker.RelayConfig{
			BatchSize:    int(workerCfg.BatchSize),
			PollInterval: workerCfg.OutboxPollInterval,
			Retry:        retry.DefaultConfig(),
		},
		observability.Component(app.Logger, "outbox_relay"),
		app.Metrics,
	)
	cleaner := worker.NewCleaner(idempotencyRepo, outboxRepo,
		workerCfg.CleanupInterval, workerCfg.OutboxRetention,
		observability.Component(app.Logger, "cleanup"),
	)

	app.Logger.Info().
		Str("stream", workerCfg.Stream).
		Dur("poll_interval", workerCfg.OutboxPollInterval).
		Dur("cleanup_interval", workerCfg.CleanupInterval).
		Msg("Worker started")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Outbox relay (polls outbox table and publishes to Redis Streams).
	g.Go(func() error { return relay.Run(gCtx) })

	// 2. Cleanup of expired idempotency keys and published outbox rows.
	g.Go(func() error { return cleaner.Run(gCtx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
