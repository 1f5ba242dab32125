package service

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/domain/outbox"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	"github.com/cassiomorais/onramp/internal/provider"
	"github.com/rs/zerolog"
)

// Error codes returned to callers in DomainError.Code.
const (
	CodeNotFound    = "not_found"
	CodeUpdateError = "update_error"
	CodeFetchError  = "fetch_error"
)

// ledgerWriteTimeout bounds the ledger write that follows a provider call.
const ledgerWriteTimeout = 10 * time.Second

// Gateway submits orders to the payment provider.
type Gateway interface {
	BuildOrder(req order.Request, walletAddress, currencyTo string) *provider.Order
	Submit(ctx context.Context, o *provider.Order) (*provider.Result, error)
}

// OrderService places orders with the provider and keeps the ledger.
type OrderService struct {
	repo       order.Repository
	outboxRepo outbox.Repository
	txManager  TransactionManager
	gateway    Gateway
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewOrderService creates a new OrderService. metrics may be nil.
func NewOrderService(
	repo order.Repository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	gateway Gateway,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *OrderService {
	return &OrderService{
		repo:       repo,
		outboxRepo: outboxRepo,
		txManager:  txManager,
		gateway:    gateway,
		logger:     logger,
		metrics:    metrics,
	}
}

// PlaceOrder validates the request, submits it to the provider and records
// the attempt in the ledger whatever the provider answered.
//
// Validation and signing errors are returned before anything is sent or
// stored. Provider rejections and transport failures come back as an
// unsuccessful OrderOutcome with a nil error.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o := s.gateway.BuildOrder(req.Request, req.WalletAddress, req.CurrencyTo)
	log := s.logger.With().
		Str("order_id", o.OrderID).
		Str("provider_code", o.ProviderCode).
		Logger()

	res, err := s.gateway.Submit(ctx, o)

	var outcome *OrderOutcome
	var te *domainErrors.TransportError
	switch {
	case err == nil:
		outcome = outcomeFromResult(o, res)
	case errors.As(err, &te):
		failure := provider.FailureFromTransport(te)
		outcome = &OrderOutcome{
			OrderID: o.OrderID,
			Failure: failure,
			Message: provider.FormatErrorMessage(failure),
			Cause:   err,
		}
		log.Warn().Err(err).Msg("Provider transport failed")
	default:
		// Signing and encoding errors happen before anything is sent.
		return nil, err
	}

	if id := res.ProviderOrderID(); id != "" && id != o.OrderID {
		log.Debug().Str("provider_order_id", id).Msg("Provider assigned its own order id")
		outcome.OrderID = id
	}

	// The provider call has happened; the record must outlive the request.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	t := newLedgerRecord(o, outcome)
	outcome.Recorded = s.record(recordCtx, log, t)

	s.observeOrder(o.ProviderCode, outcome)
	if outcome.Success {
		log.Info().Bool("redirect", outcome.RedirectURL != "").Msg("Order accepted")
	} else if outcome.Cause == nil {
		log.Info().Str("error_type", outcome.Failure.Type).Msg("Order rejected by provider")
	}
	return outcome, nil
}

func outcomeFromResult(o *provider.Order, res *provider.Result) *OrderOutcome {
	if res.OK() {
		return &OrderOutcome{
			Success:      true,
			OrderID:      o.OrderID,
			RedirectURL:  res.Success.RedirectURL,
			OrderDetails: res.Success.OrderDetails,
		}
	}
	return &OrderOutcome{
		OrderID: o.OrderID,
		Failure: res.Failure,
		Message: provider.FormatErrorMessage(res.Failure),
	}
}

func newLedgerRecord(o *provider.Order, outcome *OrderOutcome) *order.Transaction {
	t := &order.Transaction{
		OrderID:         outcome.OrderID,
		ExternalUserID:  o.ExternalUserID,
		ExternalOrderID: o.ExternalOrderID,
		ProviderCode:    o.ProviderCode,
		CurrencyFrom:    o.CurrencyFrom,
		CurrencyTo:      o.CurrencyTo,
		AmountFrom:      o.AmountFrom,
		Country:         o.Country,
		State:           o.State,
		IP:              o.IP,
		WalletAddress:   o.WalletAddress,
		WalletExtraID:   o.WalletExtraID,
		PaymentMethod:   o.PaymentMethod,
		UserAgent:       o.UserAgent,
		Metadata:        o.Metadata,
		Extra:           map[string]any{},
	}

	if outcome.Success {
		t.Status = order.StatusPending
		if outcome.RedirectURL != "" {
			u := outcome.RedirectURL
			t.RedirectURL = &u
		}
		return t
	}

	t.Status = order.StatusFailed
	if f := outcome.Failure; f != nil {
		errType, errMessage := f.Type, f.Message
		t.ErrorType = &errType
		t.ErrorMessage = &errMessage
		t.ErrorDetails = f.Details
	}
	return t
}

// record writes the ledger row and its outbox event in one transaction.
// Failures are logged and reported through the return value only; the
// provider call already happened and cannot be undone.
func (s *OrderService) record(ctx context.Context, log zerolog.Logger, t *order.Transaction) bool {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.Create(txCtx, t); err != nil {
			return err
		}
		return s.outboxRepo.Insert(txCtx, outbox.NewEntry(
			outbox.AggregateTransaction,
			t.OrderID,
			outbox.EventTransactionCreated,
			eventPayload(t),
		))
	})
	if err != nil {
		log.Error().Err(domainErrors.NewPersistenceError("create", err)).
			Str("status", string(t.Status)).
			Msg("Failed to record order in ledger")
		if s.metrics != nil {
			s.metrics.LedgerWriteErrors.WithLabelValues("create").Inc()
		}
		return false
	}
	return true
}

func (s *OrderService) observeOrder(providerCode string, outcome *OrderOutcome) {
	if s.metrics == nil {
		return
	}
	result := "success"
	switch {
	case outcome.Cause != nil:
		result = "transport_error"
	case !outcome.Success:
		result = "rejected"
	}
	s.metrics.OrdersTotal.WithLabelValues(providerCode, result).Inc()
}

// HandleCallback applies a provider status update to an existing record.
// Unknown order ids are reported with CodeNotFound and never create a record.
func (s *OrderService) HandleCallback(ctx context.Context, req CallbackRequest) (*order.Transaction, error) {
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(req.AdditionalData)+2)
	if req.TransactionHash != nil {
		fields[order.FieldTransactionHash] = *req.TransactionHash
	}
	if req.CompletedAt != nil {
		fields[order.FieldCompletedAt] = *req.CompletedAt
	}
	for k, v := range req.AdditionalData {
		// A null in additionalData does not erase a top-level value.
		if _, set := fields[k]; set && v == nil {
			continue
		}
		fields[k] = v
	}

	u, err := order.NewUpdate(status, fields)
	if err != nil {
		return nil, err
	}

	var updated *order.Transaction
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		t, err := s.repo.UpdateStatus(txCtx, req.OrderID, u)
		if err != nil {
			return err
		}
		updated = t
		return s.outboxRepo.Insert(txCtx, outbox.NewEntry(
			outbox.AggregateTransaction,
			t.OrderID,
			outbox.EventTransactionStatusUpdated,
			eventPayload(t),
		))
	})

	log := s.logger.With().Str("order_id", req.OrderID).Str("status", string(status)).Logger()
	switch {
	case err == nil:
		s.observeCallback(status, "updated")
		log.Info().Msg("Transaction status updated")
		return updated, nil
	case errors.Is(err, domainErrors.ErrTransactionNotFound):
		s.observeCallback(status, CodeNotFound)
		log.Warn().Msg("Callback for unknown order")
		return nil, domainErrors.NewDomainError(CodeNotFound, "Transaction not found", err)
	default:
		s.observeCallback(status, CodeUpdateError)
		if s.metrics != nil {
			s.metrics.LedgerWriteErrors.WithLabelValues("update").Inc()
		}
		log.Error().Err(err).Msg("Failed to update transaction")
		return nil, domainErrors.NewDomainError(CodeUpdateError, "Failed to update transaction",
			domainErrors.NewPersistenceError("update", err))
	}
}

func (s *OrderService) observeCallback(status order.Status, result string) {
	if s.metrics != nil {
		s.metrics.CallbacksTotal.WithLabelValues(string(status), result).Inc()
	}
}

// ListTransactions returns one page of the ledger, newest first.
func (s *OrderService) ListTransactions(ctx context.Context, f order.Filter) (*order.Page, error) {
	f = f.Normalized()
	txs, total, err := s.repo.Query(ctx, f)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query transactions")
		return nil, domainErrors.NewDomainError(CodeFetchError, "Failed to fetch transactions",
			domainErrors.NewPersistenceError("query", err))
	}
	return &order.Page{
		Transactions: txs,
		Pagination:   order.NewPagination(f.Page, f.Limit, total),
	}, nil
}

// GetTransaction returns a single ledger record.
func (s *OrderService) GetTransaction(ctx context.Context, orderID string) (*order.Transaction, error) {
	t, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrTransactionNotFound) {
			return nil, domainErrors.NewDomainError(CodeNotFound, "Transaction not found", err)
		}
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to fetch transaction")
		return nil, domainErrors.NewDomainError(CodeFetchError, "Failed to fetch transaction",
			domainErrors.NewPersistenceError("get", err))
	}
	return t, nil
}

// eventPayload is the outbox and live feed view of a record.
func eventPayload(t *order.Transaction) map[string]any {
	p := map[string]any{
		"orderId":      t.OrderID,
		"status":       string(t.Status),
		"providerCode": t.ProviderCode,
		"currencyFrom": t.CurrencyFrom,
		"currencyTo":   t.CurrencyTo,
		"amountFrom":   t.AmountFrom,
		"updatedAt":    t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.TransactionHash != nil {
		p["transactionHash"] = *t.TransactionHash
	}
	if t.ErrorType != nil {
		p["errorType"] = *t.ErrorType
	}
	if t.CompletedAt != nil {
		p["completedAt"] = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return p
}
