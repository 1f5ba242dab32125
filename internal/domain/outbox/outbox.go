package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate and event names written by the order service.
const (
	AggregateTransaction = "transaction"

	EventTransactionCreated       = "transaction.created"
	EventTransactionStatusUpdated = "transaction.status_updated"
)

type Entry struct {
	ID            uuid.UUID
	AggregateType string
	// AggregateID is the order ID of the ledger record.
	AggregateID string
	EventType   string
	Payload     map[string]any
	Status      Status
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

const defaultMaxRetries = 5

func NewEntry(aggregateType, aggregateID, eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		RetryCount:    0,
		MaxRetries:    defaultMaxRetries,
		CreatedAt:     time.Now(),
	}
}

// Exhausted reports whether the relay should stop retrying the entry.
func (e *Entry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}
