package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// IdempotencyPurger removes expired idempotency keys.
type IdempotencyPurger interface {
	Cleanup(ctx context.Context) (int64, error)
}

// OutboxPurger removes published outbox entries.
type OutboxPurger interface {
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// Cleaner periodically purges expired idempotency keys and old outbox rows.
type Cleaner struct {
	keys      IdempotencyPurger
	outbox    OutboxPurger
	interval  time.Duration
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewCleaner(keys IdempotencyPurger, outbox OutboxPurger, interval, retention time.Duration, logger zerolog.Logger) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Cleaner{
		keys:      keys,
		outbox:    outbox,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run cleans once at start and then on every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.CleanOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// CleanOnce runs both purges. A failure in one does not skip the other.
func (c *Cleaner) CleanOnce(ctx context.Context) (keys, events int64) {
	keys, err := c.keys.Cleanup(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to clean up idempotency keys")
	}

	events, err = c.outbox.DeletePublished(ctx, c.now().Add(-c.retention))
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to purge published outbox entries")
	}

	if keys > 0 || events > 0 {
		c.logger.Info().Int64("idempotency_keys", keys).Int64("outbox_entries", events).Msg("Cleanup completed")
	}
	return keys, events
}
