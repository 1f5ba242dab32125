package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/domain/outbox"
	"github.com/cassiomorais/onramp/internal/provider"
	"github.com/google/uuid"
)

// --- Transaction Repository Mock ---

// MockTransactionRepository is an in-memory order.Repository.
type MockTransactionRepository struct {
	mu    sync.Mutex
	byID  map[string]*order.Transaction
	clock func() time.Time

	CreateFunc       func(ctx context.Context, t *order.Transaction) (string, error)
	UpdateStatusFunc func(ctx context.Context, orderID string, u order.Update) (*order.Transaction, error)
	QueryFunc        func(ctx context.Context, f order.Filter) ([]*order.Transaction, int64, error)
	GetByOrderIDFunc func(ctx context.Context, orderID string) (*order.Transaction, error)
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		byID:  make(map[string]*order.Transaction),
		clock: time.Now,
	}
}

func (m *MockTransactionRepository) Create(ctx context.Context, t *order.Transaction) (string, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[t.OrderID]; ok {
		return "", domainErrors.ErrDuplicateOrder
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.clock()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	m.byID[t.OrderID] = t.Clone()
	return t.OrderID, nil
}

func (m *MockTransactionRepository) UpdateStatus(ctx context.Context, orderID string, u order.Update) (*order.Transaction, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, orderID, u)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[orderID]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	t.Apply(u, m.clock())
	return t.Clone(), nil
}

func (m *MockTransactionRepository) Query(ctx context.Context, f order.Filter) ([]*order.Transaction, int64, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, f)
	}
	f = f.Normalized()
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]*order.Transaction, 0, len(m.byID))
	for _, t := range m.byID {
		if f.Matches(t) {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderID > matched[j].OrderID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := f.Offset()
	if start >= len(matched) {
		return []*order.Transaction{}, total, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]*order.Transaction, 0, end-start)
	for _, t := range matched[start:end] {
		page = append(page, t.Clone())
	}
	return page, total, nil
}

func (m *MockTransactionRepository) GetByOrderID(ctx context.Context, orderID string) (*order.Transaction, error) {
	if m.GetByOrderIDFunc != nil {
		return m.GetByOrderIDFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[orderID]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return t.Clone(), nil
}

// Seed stores t directly, bypassing CreateFunc.
func (m *MockTransactionRepository) Seed(t *order.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.OrderID] = t.Clone()
}

// Count returns the number of stored records.
func (m *MockTransactionRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Get returns a stored record or nil, bypassing GetByOrderIDFunc.
func (m *MockTransactionRepository) Get(orderID string) *order.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[orderID].Clone()
}

// --- Gateway Mock ---

// MockGateway stands in for the provider gateway.
type MockGateway struct {
	mu             sync.Mutex
	submitted      []*provider.Order
	BuildOrderFunc func(req order.Request, walletAddress, currencyTo string) *provider.Order
	SubmitFunc     func(ctx context.Context, o *provider.Order) (*provider.Result, error)
}

func (m *MockGateway) BuildOrder(req order.Request, walletAddress, currencyTo string) *provider.Order {
	if m.BuildOrderFunc != nil {
		return m.BuildOrderFunc(req, walletAddress, currencyTo)
	}
	if currencyTo == "" {
		currencyTo = "USDTRX"
	}
	if walletAddress == "" {
		walletAddress = "TTestWallet"
	}
	o := &provider.Order{
		OrderID:         uuid.NewString(),
		ExternalUserID:  "user-1",
		ExternalOrderID: uuid.NewString(),
		ProviderCode:    req.ProviderCode,
		CurrencyFrom:    req.CurrencyCode,
		CurrencyTo:      currencyTo,
		AmountFrom:      req.Amount,
		Country:         "PH",
		WalletAddress:   walletAddress,
		PaymentMethod:   req.PaymentMethodCode,
	}
	if req.IP != "" {
		o.IP = StringPtr(req.IP)
	}
	if req.UserAgent != "" {
		o.UserAgent = StringPtr(req.UserAgent)
	}
	return o
}

func (m *MockGateway) Submit(ctx context.Context, o *provider.Order) (*provider.Result, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, o)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, o)
	}
	return &provider.Result{Success: &provider.Success{
		RedirectURL:  "https://checkout.example/" + o.OrderID,
		OrderDetails: map[string]any{"orderId": o.OrderID},
	}}, nil
}

// Submitted returns the orders passed to Submit.
func (m *MockGateway) Submitted() []*provider.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*provider.Order(nil), m.submitted...)
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is a mock implementation of outbox.Repository.
// Inserted entries are kept so tests can inspect them.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID) error
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			now := time.Now()
			e.Status = outbox.StatusPublished
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			if e.Exhausted() {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

// Entries returns every inserted entry.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}
