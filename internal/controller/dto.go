package controller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/provider"
	"github.com/cassiomorais/onramp/internal/service"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (validation tags, loose amount input).
// Controllers convert these to service layer DTOs before calling business logic.

// Amount accepts a JSON string or number and keeps its text verbatim.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("amount must be a string or number")
		}
		*a = Amount(n.String())
	}
	return nil
}

// CreateOrderRequest holds the input for placing an order with the provider.
type CreateOrderRequest struct {
	CurrencyCode      string `json:"currencyCode" validate:"required"`
	PaymentMethodCode string `json:"paymentMethodCode" validate:"required"`
	ProviderCode      string `json:"providerCode" validate:"required"`
	Amount            Amount `json:"amount" validate:"required"`
	WalletAddress     string `json:"walletAddress,omitempty"`
	CurrencyTo        string `json:"currencyTo,omitempty"`
}

func (r CreateOrderRequest) toService(ip, userAgent string) service.PlaceOrderRequest {
	return service.PlaceOrderRequest{
		Request: order.Request{
			CurrencyCode:      r.CurrencyCode,
			PaymentMethodCode: r.PaymentMethodCode,
			ProviderCode:      r.ProviderCode,
			Amount:            string(r.Amount),
			IP:                ip,
			UserAgent:         userAgent,
		},
		WalletAddress: r.WalletAddress,
		CurrencyTo:    r.CurrencyTo,
	}
}

// CallbackRequest holds a provider status update.
type CallbackRequest struct {
	OrderID         string         `json:"orderId" validate:"required"`
	Status          string         `json:"status" validate:"required"`
	TransactionHash *string        `json:"transactionHash,omitempty"`
	CompletedAt     *string        `json:"completedAt,omitempty"`
	AdditionalData  map[string]any `json:"additionalData,omitempty"`
}

func (r CallbackRequest) toService() service.CallbackRequest {
	return service.CallbackRequest{
		OrderID:         r.OrderID,
		Status:          r.Status,
		TransactionHash: r.TransactionHash,
		CompletedAt:     r.CompletedAt,
		AdditionalData:  r.AdditionalData,
	}
}

// --- Response DTOs ---

// ErrorBody is the error part of every failed response.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the envelope for failed requests.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

func newErrorResponse(errType, message string, details any) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Type: errType, Message: message, Details: details}}
}

// OrderResponse represents the outcome of an order submission.
type OrderResponse struct {
	Success      bool           `json:"success"`
	OrderID      string         `json:"orderId,omitempty"`
	RedirectURL  string         `json:"redirectUrl,omitempty"`
	OrderDetails map[string]any `json:"orderDetails,omitempty"`
	Error        *ErrorBody     `json:"error,omitempty"`
	Recorded     bool           `json:"recorded"`
}

func toOrderResponse(o *service.OrderOutcome) OrderResponse {
	resp := OrderResponse{
		Success:      o.Success,
		OrderID:      o.OrderID,
		RedirectURL:  o.RedirectURL,
		OrderDetails: o.OrderDetails,
		Recorded:     o.Recorded,
	}
	if !o.Success {
		resp.Error = failureBody(o.Failure, o.Message)
	}
	return resp
}

// failureBody carries the formatted message; type and details stay verbatim.
func failureBody(f *provider.Failure, message string) *ErrorBody {
	if f == nil {
		return &ErrorBody{Type: "api_error", Message: message}
	}
	return &ErrorBody{Type: f.Type, Message: message, Details: f.Details}
}

// TransactionResponse represents a ledger record in API responses.
type TransactionResponse struct {
	OrderID         string         `json:"orderId"`
	ExternalUserID  string         `json:"externalUserId"`
	ExternalOrderID string         `json:"externalOrderId"`
	ProviderCode    string         `json:"providerCode"`
	CurrencyFrom    string         `json:"currencyFrom"`
	CurrencyTo      string         `json:"currencyTo"`
	AmountFrom      string         `json:"amountFrom"`
	Country         string         `json:"country"`
	State           *string        `json:"state,omitempty"`
	IP              *string        `json:"ip,omitempty"`
	WalletAddress   string         `json:"walletAddress"`
	WalletExtraID   *string        `json:"walletExtraId,omitempty"`
	PaymentMethod   string         `json:"paymentMethod"`
	UserAgent       *string        `json:"userAgent,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	RedirectURL     *string        `json:"redirectUrl,omitempty"`
	Status          string         `json:"status"`
	ErrorType       *string        `json:"errorType,omitempty"`
	ErrorMessage    *string        `json:"errorMessage,omitempty"`
	ErrorDetails    any            `json:"errorDetails,omitempty"`
	TransactionHash *string        `json:"transactionHash,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
}

func toTransactionResponse(t *order.Transaction) TransactionResponse {
	return TransactionResponse{
		OrderID:         t.OrderID,
		ExternalUserID:  t.ExternalUserID,
		ExternalOrderID: t.ExternalOrderID,
		ProviderCode:    t.ProviderCode,
		CurrencyFrom:    t.CurrencyFrom,
		CurrencyTo:      t.CurrencyTo,
		AmountFrom:      t.AmountFrom,
		Country:         t.Country,
		State:           t.State,
		IP:              t.IP,
		WalletAddress:   t.WalletAddress,
		WalletExtraID:   t.WalletExtraID,
		PaymentMethod:   t.PaymentMethod,
		UserAgent:       t.UserAgent,
		Metadata:        t.Metadata,
		RedirectURL:     t.RedirectURL,
		Status:          string(t.Status),
		ErrorType:       t.ErrorType,
		ErrorMessage:    t.ErrorMessage,
		ErrorDetails:    t.ErrorDetails,
		TransactionHash: t.TransactionHash,
		Extra:           t.Extra,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

// TransactionEnvelope wraps a single record.
type TransactionEnvelope struct {
	Success bool                `json:"success"`
	Data    TransactionResponse `json:"data"`
}

// CallbackResponse acknowledges an applied status update.
type CallbackResponse struct {
	Success     bool                `json:"success"`
	Transaction TransactionResponse `json:"transaction"`
}

// TransactionListResponse is one page of the ledger.
type TransactionListResponse struct {
	Success bool            `json:"success"`
	Data    TransactionPage `json:"data"`
}

type TransactionPage struct {
	Transactions []TransactionResponse `json:"transactions"`
	Pagination   order.Pagination      `json:"pagination"`
}

func toTransactionList(p *order.Page) TransactionListResponse {
	items := make([]TransactionResponse, 0, len(p.Transactions))
	for _, t := range p.Transactions {
		items = append(items, toTransactionResponse(t))
	}
	return TransactionListResponse{
		Success: true,
		Data:    TransactionPage{Transactions: items, Pagination: p.Pagination},
	}
}
