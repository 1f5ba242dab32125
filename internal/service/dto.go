package service

import (
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/provider"
)

// PlaceOrderRequest is a caller's order submission.
// Controllers convert their HTTP DTOs to this type.
type PlaceOrderRequest struct {
	order.Request

	// Empty values fall back to the configured defaults.
	WalletAddress string
	CurrencyTo    string
}

// OrderOutcome is the caller-facing result of PlaceOrder.
type OrderOutcome struct {
	Success      bool
	OrderID      string
	RedirectURL  string
	OrderDetails map[string]any

	// Failure and Message are set when Success is false.
	Failure *provider.Failure
	Message string

	// Cause is the transport error behind a failure, nil for business rejections.
	Cause error

	// Recorded is false when the ledger write failed after the provider call.
	Recorded bool
}

// CallbackRequest is a provider status update.
type CallbackRequest struct {
	OrderID         string
	Status          string
	TransactionHash *string
	CompletedAt     *string
	AdditionalData  map[string]any
}
