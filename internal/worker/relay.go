package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/outbox"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	"github.com/cassiomorais/onramp/pkg/retry"
	"github.com/rs/zerolog"
)

// Publisher appends outbox entries to an event stream.
type Publisher interface {
	Publish(ctx context.Context, entry *outbox.Entry) (string, error)
	Stream() string
}

// TxRunner runs fn inside a database transaction carried by the context.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	BatchSize    int
	PollInterval time.Duration
	Retry        retry.Config
}

// Relay moves pending outbox entries to the event stream.
type Relay struct {
	outbox    outbox.Repository
	txManager TxRunner
	publisher Publisher
	cfg       RelayConfig
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewRelay creates a Relay. metrics may be nil.
func NewRelay(
	outboxRepo outbox.Repository,
	txManager TxRunner,
	publisher Publisher,
	cfg RelayConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	}
	return &Relay{
		outbox:    outboxRepo,
		txManager: txManager,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info().
		Str("stream", r.publisher.Stream()).
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("Outbox relay started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay error")
		}
	}
}

// RelayOnce publishes one batch and returns how many entries reached the
// stream. Entries that still fail after retries are marked failed and are
// picked up again until they run out of attempts.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	start := time.Now()
	published := 0

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.outbox.GetPending(txCtx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			log := r.logger.With().
				Str("outbox_id", entry.ID.String()).
				Str("order_id", entry.AggregateID).
				Str("event_type", entry.EventType).
				Logger()

			retryCfg := r.cfg.Retry
			retryCfg.OnRetry = func(attempt uint, err error) {
				log.Debug().Err(err).Uint("attempt", attempt+1).Msg("Retrying outbox publish")
			}
			msgID, err := retry.DoWithResult(ctx, retryCfg, func() (string, error) {
				return r.publisher.Publish(ctx, entry)
			})
			if err != nil {
				log.Error().Err(err).Int("retry_count", entry.RetryCount+1).Msg("Failed to publish outbox event")
				r.observe("failed")
				if err := r.outbox.MarkFailed(txCtx, entry.ID); err != nil {
					return err
				}
				continue
			}

			if err := r.outbox.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
			r.observe("published")
			log.Debug().Str("message_id", msgID).Msg("Outbox event published")
		}
		return nil
	})

	if r.metrics != nil {
		r.metrics.WorkerProcessingDuration.WithLabelValues(r.publisher.Stream()).Observe(time.Since(start).Seconds())
	}
	return published, err
}

func (r *Relay) observe(status string) {
	if r.metrics != nil {
		r.metrics.WorkerMessagesProcessed.WithLabelValues(r.publisher.Stream(), status).Inc()
	}
}
