package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/onramp/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventSource is a consumer-group reader over the transaction stream.
type EventSource interface {
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageIDs ...string) error
}

// Feed relays transaction stream events to the hub.
type Feed struct {
	source     EventSource
	hub        *Hub
	stream     string
	logger     zerolog.Logger
	metrics    *observability.Metrics
	retryDelay time.Duration
}

// NewFeed creates a Feed. metrics may be nil.
func NewFeed(source EventSource, hub *Hub, stream string, logger zerolog.Logger, metrics *observability.Metrics) *Feed {
	return &Feed{
		source:     source,
		hub:        hub,
		stream:     stream,
		logger:     logger,
		metrics:    metrics,
		retryDelay: time.Second,
	}
}

// Run reads until ctx is done. Malformed messages are acknowledged and skipped.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := f.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Error().Err(err).Str("stream", f.stream).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.retryDelay):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		start := time.Now()
		ids := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			ids = append(ids, msg.ID)
			if err := f.relay(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				f.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Skipping stream message")
				f.observe("invalid")
				continue
			}
			f.observe("success")
		}

		if err := f.source.Ack(ctx, ids...); err != nil {
			f.logger.Error().Err(err).Int("count", len(ids)).Msg("Failed to ack stream messages")
		}
		if f.metrics != nil {
			f.metrics.WorkerProcessingDuration.WithLabelValues(f.stream).Observe(time.Since(start).Seconds())
		}
	}
}

func (f *Feed) relay(ctx context.Context, msg redis.XMessage) error {
	ev, err := infraRedis.DecodeEvent(msg)
	if err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.hub.Broadcast(ctx, b)
}

func (f *Feed) observe(status string) {
	if f.metrics != nil {
		f.metrics.WorkerMessagesProcessed.WithLabelValues(f.stream, status).Inc()
	}
}
