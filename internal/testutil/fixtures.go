package testutil

import (
	"fmt"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/order"
)

// NewTestRequest returns a valid order request.
func NewTestRequest() order.Request {
	return order.Request{
		CurrencyCode:      "EUR",
		PaymentMethodCode: "card",
		ProviderCode:      "moonpay",
		Amount:            "150.25",
	}
}

// NewTestTransaction returns a pending ledger record.
func NewTestTransaction(orderID string, createdAt time.Time) *order.Transaction {
	return &order.Transaction{
		OrderID:         orderID,
		ExternalUserID:  "user-1",
		ExternalOrderID: "ext-" + orderID,
		ProviderCode:    "moonpay",
		CurrencyFrom:    "EUR",
		CurrencyTo:      "USDTRX",
		AmountFrom:      "150.25",
		Country:         "PH",
		WalletAddress:   "TTestWallet",
		PaymentMethod:   "card",
		Status:          order.StatusPending,
		Extra:           map[string]any{},
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

// SeedTransactions stores n records one second apart, oldest first.
// Order IDs are order-01, order-02, ...
func SeedTransactions(repo *MockTransactionRepository, n int, base time.Time) []*order.Transaction {
	out := make([]*order.Transaction, 0, n)
	for i := 1; i <= n; i++ {
		t := NewTestTransaction(fmt.Sprintf("order-%02d", i), base.Add(time.Duration(i)*time.Second))
		repo.Seed(t)
		out = append(out, t)
	}
	return out
}

func StringPtr(s string) *string {
	return &s
}
