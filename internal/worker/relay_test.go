package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cassiomorais/onramp/internal/domain/outbox"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/onramp/internal/infrastructure/redis"
	"github.com/cassiomorais/onramp/internal/testutil"
	"github.com/cassiomorais/onramp/pkg/retry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	failures  int
	calls     int
	published []*outbox.Entry
}

func (p *fakePublisher) Publish(_ context.Context, e *outbox.Entry) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures != 0 {
		if p.failures > 0 {
			p.failures--
		}
		return "", errors.New("redis: connection reset")
	}
	p.published = append(p.published, e)
	return "1-0", nil
}

func (p *fakePublisher) Stream() string { return "test:transactions" }

var fastRetry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func seedOutbox(t *testing.T, repo *testutil.MockOutboxRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, repo.Insert(context.Background(), outbox.NewEntry(
			outbox.AggregateTransaction, uuid.NewString(), outbox.EventTransactionCreated,
			map[string]any{"status": "pending"},
		)))
	}
}

func TestRelayOnce_PublishesPending(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	seedOutbox(t, repo, 3)
	pub := &fakePublisher{}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	relay := NewRelay(repo, testutil.NewMockTransactionManager(), pub, RelayConfig{Retry: fastRetry}, zerolog.New(io.Discard), metrics)

	n, err := relay.RelayOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, pub.published, 3)
	for _, e := range repo.Entries() {
		assert.Equal(t, outbox.StatusPublished, e.Status)
		assert.NotNil(t, e.PublishedAt)
	}
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.WorkerMessagesProcessed.WithLabelValues("test:transactions", "published")))

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayOnce_RetriesTransientFailure(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	seedOutbox(t, repo, 1)
	pub := &fakePublisher{failures: 2}
	relay := NewRelay(repo, testutil.NewMockTransactionManager(), pub, RelayConfig{Retry: fastRetry}, zerolog.New(io.Discard), nil)

	n, err := relay.RelayOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, pub.calls)
	assert.Equal(t, outbox.StatusPublished, repo.Entries()[0].Status)
}

func TestRelayOnce_MarksFailedAfterRetries(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	seedOutbox(t, repo, 1)
	pub := &fakePublisher{failures: -1}
	relay := NewRelay(repo, testutil.NewMockTransactionManager(), pub, RelayConfig{Retry: fastRetry}, zerolog.New(io.Discard), nil)

	for i := 0; i < 5; i++ {
		n, err := relay.RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	entry := repo.Entries()[0]
	assert.Equal(t, 5, entry.RetryCount)
	assert.Equal(t, outbox.StatusFailed, entry.Status)
	assert.Equal(t, 15, pub.calls)

	// Exhausted entries are no longer picked up.
	_, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, pub.calls)
}

func TestRelayOnce_PendingQueryError(t *testing.T) {
	repo := &testutil.MockOutboxRepository{
		GetPendingFunc: func(ctx context.Context, limit int) ([]*outbox.Entry, error) {
			return nil, errors.New("connection refused")
		},
	}
	relay := NewRelay(repo, testutil.NewMockTransactionManager(), &fakePublisher{}, RelayConfig{}, zerolog.New(io.Discard), nil)

	_, err := relay.RelayOnce(context.Background())

	assert.Error(t, err)
}

func TestRelayOnce_RespectsBatchSize(t *testing.T) {
	repo := &testutil.MockOutboxRepository{}
	seedOutbox(t, repo, 5)
	pub := &fakePublisher{}
	relay := NewRelay(repo, testutil.NewMockTransactionManager(), pub, RelayConfig{BatchSize: 2, Retry: fastRetry}, zerolog.New(io.Discard), nil)

	n, err := relay.RelayOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRelay_PublishesToRedisStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	producer := infraRedis.NewStreamProducer(client, infraRedis.TransactionStream, 1000)
	repo := &testutil.MockOutboxRepository{}
	seedOutbox(t, repo, 2)

	relay := NewRelay(repo, testutil.NewMockTransactionManager(), producer,
		RelayConfig{PollInterval: 10 * time.Millisecond, Retry: fastRetry}, zerolog.New(io.Discard), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := client.XLen(context.Background(), infraRedis.TransactionStream).Result()
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	msgs, err := client.XRange(context.Background(), infraRedis.TransactionStream, "-", "+").Result()
	require.NoError(t, err)
	event, err := infraRedis.DecodeEvent(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, outbox.EventTransactionCreated, event.Type)
	assert.Equal(t, repo.Entries()[0].AggregateID, event.OrderID)
}
