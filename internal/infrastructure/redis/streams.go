package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

// TransactionStream carries every ledger event relayed from the outbox.
const TransactionStream = "onramp:transactions"

// Group start positions for CreateGroup.
const (
	StartFromBeginning = "0"
	StartFromLatest    = "$"
)

// Event is the stream form of an outbox entry. Its JSON form is what live
// feed clients receive.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OrderID    string          `json:"orderId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

type StreamProducer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamProducer publishes to stream. maxLen > 0 caps the stream length approximately.
func NewStreamProducer(client *redis.Client, stream string, maxLen int64) *StreamProducer {
	return &StreamProducer{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the name of the stream events are published to.
func (p *StreamProducer) Stream() string {
	return p.stream
}

// Publish appends an outbox entry to the stream and returns the message ID.
func (p *StreamProducer) Publish(ctx context.Context, entry *outbox.Entry) (string, error) {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":   entry.ID.String(),
			"event_type": entry.EventType,
			"order_id":   entry.AggregateID,
			"payload":    string(payload),
			"timestamp":  entry.CreatedAt.UnixMilli(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish transaction event: %w", err)
	}
	return id, nil
}

// DecodeEvent converts a stream message back into an Event.
func DecodeEvent(msg redis.XMessage) (Event, error) {
	ev := Event{
		ID:      stringValue(msg.Values["event_id"]),
		Type:    stringValue(msg.Values["event_type"]),
		OrderID: stringValue(msg.Values["order_id"]),
	}
	if ev.Type == "" || ev.OrderID == "" {
		return Event{}, fmt.Errorf("stream message %s: missing event_type or order_id", msg.ID)
	}

	payload := stringValue(msg.Values["payload"])
	if payload == "" {
		payload = "{}"
	}
	if !json.Valid([]byte(payload)) {
		return Event{}, fmt.Errorf("stream message %s: payload is not valid JSON", msg.ID)
	}
	ev.Payload = json.RawMessage(payload)

	if ms, err := strconv.ParseInt(stringValue(msg.Values["timestamp"]), 10, 64); err == nil {
		ev.OccurredAt = time.UnixMilli(ms).UTC()
	}
	return ev, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// CreateGroup creates the consumer group (and the stream) if missing.
// start is StartFromBeginning or StartFromLatest.
func (c *StreamConsumer) CreateGroup(ctx context.Context, start string) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, start).Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns the next batch of undelivered messages, or nil when the block
// duration passes without any.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.stream, c.group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// DeleteGroup removes the consumer group. Per-instance groups are dropped on shutdown.
func (c *StreamConsumer) DeleteGroup(ctx context.Context) error {
	if err := c.client.XGroupDestroy(ctx, c.stream, c.group).Err(); err != nil {
		return fmt.Errorf("failed to delete consumer group: %w", err)
	}
	return nil
}
