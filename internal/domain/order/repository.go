package order

import "context"

// Repository defines the interface for the transaction ledger
type Repository interface {
	// Create inserts a new record and returns its order ID.
	// Returns errors.ErrDuplicateOrder if the order ID already exists.
	Create(ctx context.Context, t *Transaction) (string, error)

	// UpdateStatus applies a status update atomically and returns the updated record.
	// Returns errors.ErrTransactionNotFound if no record matches.
	UpdateStatus(ctx context.Context, orderID string, u Update) (*Transaction, error)

	// Query returns one page of records, newest first, plus the total match count.
	Query(ctx context.Context, f Filter) ([]*Transaction, int64, error)

	// GetByOrderID retrieves a record by order ID
	GetByOrderID(ctx context.Context, orderID string) (*Transaction, error)
}

// Pagination describes where a page sits in the full result set
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
	Limit       int   `json:"limit"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// NewPagination derives page metadata from the total match count.
func NewPagination(page, limit int, totalCount int64) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = int((totalCount + int64(limit) - 1) / int64(limit))
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  totalCount,
		Limit:       limit,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
}

// Page is a query result with its pagination metadata
type Page struct {
	Transactions []*Transaction
	Pagination   Pagination
}
