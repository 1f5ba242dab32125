package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `order_id, external_user_id, external_order_id, provider_code,
	currency_from, currency_to, amount_from, country, state, ip,
	wallet_address, wallet_extra_id, payment_method, user_agent, metadata,
	redirect_url, status, error_type, error_message, error_details,
	transaction_hash, extra, created_at, updated_at, completed_at`

// updatableColumns is a whitelist mapping update field names to columns.
// Anything not listed here is merged into the extra JSONB column.
var updatableColumns = map[string]string{
	order.FieldTransactionHash: "transaction_hash",
	order.FieldCompletedAt:     "completed_at",
	order.FieldRedirectURL:     "redirect_url",
	order.FieldErrorType:       "error_type",
	order.FieldErrorMessage:    "error_message",
	order.FieldErrorDetails:    "error_details",
	order.FieldExternalUserID:  "external_user_id",
	order.FieldExternalOrderID: "external_order_id",
	order.FieldProviderCode:    "provider_code",
	order.FieldCurrencyFrom:    "currency_from",
	order.FieldCurrencyTo:      "currency_to",
	order.FieldAmountFrom:      "amount_from",
	order.FieldCountry:         "country",
	order.FieldState:           "state",
	order.FieldIP:              "ip",
	order.FieldWalletAddress:   "wallet_address",
	order.FieldWalletExtraID:   "wallet_extra_id",
	order.FieldPaymentMethod:   "payment_method",
	order.FieldUserAgent:       "user_agent",
	order.FieldMetadata:        "metadata",
}

var jsonColumns = map[string]bool{
	"metadata":      true,
	"error_details": true,
}

var _ order.Repository = (*TransactionRepository)(nil)

// TransactionRepository implements order.Repository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool, now: time.Now}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new ledger record.
func (r *TransactionRepository) Create(ctx context.Context, t *order.Transaction) (string, error) {
	metadata, err := jsonOrNil(t.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	errorDetails, err := jsonOrNil(t.ErrorDetails)
	if err != nil {
		return "", fmt.Errorf("marshal error details: %w", err)
	}
	extra := []byte("{}")
	if len(t.Extra) > 0 {
		if extra, err = json.Marshal(t.Extra); err != nil {
			return "", fmt.Errorf("marshal extra: %w", err)
		}
	}

	now := r.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		t.OrderID, t.ExternalUserID, t.ExternalOrderID, t.ProviderCode,
		strings.ToUpper(t.CurrencyFrom), t.CurrencyTo, t.AmountFrom, t.Country, t.State, t.IP,
		t.WalletAddress, t.WalletExtraID, t.PaymentMethod, t.UserAgent, metadata,
		t.RedirectURL, string(t.Status), t.ErrorType, t.ErrorMessage, errorDetails,
		t.TransactionHash, extra, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", domainErrors.ErrDuplicateOrder
		}
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return t.OrderID, nil
}

// UpdateStatus applies u in a single UPDATE ... RETURNING statement so
// concurrent callbacks only overwrite the fields they carry.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, orderID string, u order.Update) (*order.Transaction, error) {
	if !u.Status.Valid() {
		return nil, domainErrors.ErrInvalidStatus
	}
	query, args, err := buildUpdateQuery(orderID, u, r.now().UTC())
	if err != nil {
		return nil, err
	}
	t, err := r.scanTransaction(r.db(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, domainErrors.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	return t, nil
}

// Query returns one page of matching records, newest first, and the total count.
func (r *TransactionRepository) Query(ctx context.Context, f order.Filter) ([]*order.Transaction, int64, error) {
	f = f.Normalized()
	where, args := buildFilter(f)

	var total int64
	if err := r.db(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_at DESC, order_id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset())

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*order.Transaction, 0, f.Limit)
	for rows.Next() {
		t, err := r.scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transactions: %w", err)
	}
	return txs, total, nil
}

// GetByOrderID retrieves a ledger record by order ID.
func (r *TransactionRepository) GetByOrderID(ctx context.Context, orderID string) (*order.Transaction, error) {
	return r.scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1`, orderID))
}

// buildUpdateQuery renders the partial update for u. Columns are emitted in
// sorted field order so the statement text is stable.
func buildUpdateQuery(orderID string, u order.Update, now time.Time) (string, []any, error) {
	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{string(u.Status), now}

	keys := make([]string, 0, len(u.Fields))
	for k := range u.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		col, ok := updatableColumns[key]
		if !ok {
			continue
		}
		value := u.Fields[key]
		if jsonColumns[col] {
			b, err := json.Marshal(value)
			if err != nil {
				return "", nil, fmt.Errorf("marshal %s: %w", key, err)
			}
			value = b
		}
		if col == "currency_from" {
			if s, ok := value.(string); ok {
				value = strings.ToUpper(s)
			}
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if len(u.Extra) > 0 {
		b, err := json.Marshal(u.Extra)
		if err != nil {
			return "", nil, fmt.Errorf("marshal extra: %w", err)
		}
		args = append(args, b)
		sets = append(sets, fmt.Sprintf("extra = extra || $%d::jsonb", len(args)))
	}

	args = append(args, orderID)
	query := fmt.Sprintf("UPDATE transactions SET %s WHERE order_id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), transactionColumns)
	return query, args, nil
}

// buildFilter renders the WHERE clause for f. f must be normalized.
func buildFilter(f order.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CurrencyFrom != "" {
		args = append(args, f.CurrencyFrom)
		conds = append(conds, fmt.Sprintf("upper(currency_from) = $%d", len(args)))
	}
	if f.ProviderCode != "" {
		args = append(args, f.ProviderCode)
		conds = append(conds, fmt.Sprintf("provider_code = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func jsonOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// --- scanning helpers ---

func (r *TransactionRepository) scanTransaction(s scanner) (*order.Transaction, error) {
	t := &order.Transaction{}
	var (
		status       string
		metadata     []byte
		errorDetails []byte
		extra        []byte
	)
	err := s.Scan(
		&t.OrderID, &t.ExternalUserID, &t.ExternalOrderID, &t.ProviderCode,
		&t.CurrencyFrom, &t.CurrencyTo, &t.AmountFrom, &t.Country, &t.State, &t.IP,
		&t.WalletAddress, &t.WalletExtraID, &t.PaymentMethod, &t.UserAgent, &metadata,
		&t.RedirectURL, &status, &t.ErrorType, &t.ErrorMessage, &errorDetails,
		&t.TransactionHash, &extra, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	t.Status = order.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(errorDetails) > 0 {
		if err := json.Unmarshal(errorDetails, &t.ErrorDetails); err != nil {
			return nil, fmt.Errorf("unmarshal error details: %w", err)
		}
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &t.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return t, nil
}
