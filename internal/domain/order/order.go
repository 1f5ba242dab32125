package order

import (
	"math"
	"strings"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/shopspring/decimal"
)

// Status represents the ledger status of an order
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParseStatus converts raw callback or query input into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", errors.NewValidationError("status", "must be one of pending, processing, completed, failed")
	}
	return s, nil
}

// Request is a caller-supplied order submission
type Request struct {
	CurrencyCode      string
	PaymentMethodCode string
	ProviderCode      string
	Amount            string

	// Optional client details forwarded to the provider when known.
	IP        string
	UserAgent string
}

// Validate checks the four required fields before any provider call is made.
// The amount stays a string; it is only parsed to reject non-numeric input.
func (r Request) Validate() error {
	if strings.TrimSpace(r.CurrencyCode) == "" {
		return errors.NewValidationError("currencyCode", "is required")
	}
	if strings.TrimSpace(r.PaymentMethodCode) == "" {
		return errors.NewValidationError("paymentMethodCode", "is required")
	}
	if strings.TrimSpace(r.ProviderCode) == "" {
		return errors.NewValidationError("providerCode", "is required")
	}
	if strings.TrimSpace(r.Amount) == "" {
		return errors.NewValidationError("amount", "is required")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return errors.NewValidationError("amount", "must be a decimal number")
	}
	if !amount.IsPositive() {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	return nil
}

// Transaction is the ledger record of one order
type Transaction struct {
	OrderID         string
	ExternalUserID  string
	ExternalOrderID string
	ProviderCode    string
	CurrencyFrom    string
	CurrencyTo      string
	AmountFrom      string
	Country         string
	State           *string
	IP              *string
	WalletAddress   string
	WalletExtraID   *string
	PaymentMethod   string
	UserAgent       *string
	Metadata        map[string]any
	RedirectURL     *string
	Status          Status
	ErrorType       *string
	ErrorMessage    *string
	ErrorDetails    any
	TransactionHash *string
	// Extra holds callback fields that have no dedicated column.
	Extra       map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Clone returns a copy safe to hand to callers. Maps are copied one level deep.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = cloneMap(t.Metadata)
	c.Extra = cloneMap(t.Extra)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Filter selects ledger records. Empty fields are not applied.
type Filter struct {
	Status       *Status
	CurrencyFrom string
	ProviderCode string
	Page         int
	Limit        int
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage keeps Offset within int for any allowed limit. Pages past the
	// end of the ledger are empty anyway.
	MaxPage = math.MaxInt32
)

// Normalized returns a copy with pagination defaults applied and
// CurrencyFrom uppercased, which is how currencies are stored.
func (f Filter) Normalized() Filter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	f.CurrencyFrom = strings.ToUpper(strings.TrimSpace(f.CurrencyFrom))
	f.ProviderCode = strings.TrimSpace(f.ProviderCode)
	return f
}

// Offset is the number of records skipped before the requested page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Matches applies the filter to a single record.
func (f Filter) Matches(t *Transaction) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.CurrencyFrom != "" && strings.ToUpper(t.CurrencyFrom) != strings.ToUpper(f.CurrencyFrom) {
		return false
	}
	if f.ProviderCode != "" && t.ProviderCode != f.ProviderCode {
		return false
	}
	return true
}
