package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateQuery_KnownFieldsAndExtra(t *testing.T) {
	completed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	u := order.Update{
		Status: order.StatusCompleted,
		Fields: map[string]any{
			order.FieldTransactionHash: "0xabc",
			order.FieldCompletedAt:     completed,
		},
		Extra: map[string]any{"networkFee": "0.0001"},
	}

	query, args, err := buildUpdateQuery("order-1", u, now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query,
		"UPDATE transactions SET status = $1, updated_at = $2, completed_at = $3, transaction_hash = $4, extra = extra || $5::jsonb WHERE order_id = $6 RETURNING "))
	require.Len(t, args, 6)
	assert.Equal(t, "completed", args[0])
	assert.Equal(t, now, args[1])
	assert.Equal(t, completed, args[2])
	assert.Equal(t, "0xabc", args[3])
	assert.JSONEq(t, `{"networkFee":"0.0001"}`, string(args[4].([]byte)))
	assert.Equal(t, "order-1", args[5])
}

func TestBuildUpdateQuery_StatusOnly(t *testing.T) {
	query, args, err := buildUpdateQuery("order-2", order.Update{Status: order.StatusProcessing}, time.Now())
	require.NoError(t, err)

	assert.Contains(t, query, "SET status = $1, updated_at = $2 WHERE order_id = $3")
	assert.NotContains(t, query, "extra ||")
	assert.NotContains(t, query, "amount_from =")
	assert.Len(t, args, 3)
}

func TestBuildUpdateQuery_JSONColumnsAndCurrency(t *testing.T) {
	u := order.Update{
		Status: order.StatusFailed,
		Fields: map[string]any{
			order.FieldErrorDetails: []any{map[string]any{"cause": "kyc", "value": "rejected"}},
			order.FieldCurrencyFrom: "btc",
		},
	}

	query, args, err := buildUpdateQuery("order-3", u, time.Now())
	require.NoError(t, err)

	assert.Contains(t, query, "currency_from = $3, error_details = $4")
	assert.Equal(t, "BTC", args[2])
	assert.JSONEq(t, `[{"cause":"kyc","value":"rejected"}]`, string(args[3].([]byte)))
}

func TestBuildUpdateQuery_IgnoresUnknownFieldKeys(t *testing.T) {
	u := order.Update{
		Status: order.StatusCompleted,
		Fields: map[string]any{"order_id; DROP TABLE transactions": "x"},
	}

	query, args, err := buildUpdateQuery("order-4", u, time.Now())
	require.NoError(t, err)

	assert.NotContains(t, query, "DROP")
	assert.Len(t, args, 3)
}

func TestBuildFilter(t *testing.T) {
	failed := order.StatusFailed

	tests := []struct {
		name   string
		filter order.Filter
		where  string
		args   []any
	}{
		{"no filters", order.Filter{}, "", nil},
		{"currency uppercased", order.Filter{CurrencyFrom: "btc"}, " WHERE upper(currency_from) = $1", []any{"BTC"}},
		{
			"all filters",
			order.Filter{Status: &failed, CurrencyFrom: "EUR", ProviderCode: "moonpay"},
			" WHERE status = $1 AND upper(currency_from) = $2 AND provider_code = $3",
			[]any{"failed", "EUR", "moonpay"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildFilter(tt.filter.Normalized())
			assert.Equal(t, tt.where, where)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestJSONOrNil(t *testing.T) {
	b, err := jsonOrNil(nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	var m map[string]any
	b, err = jsonOrNil(m)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = jsonOrNil("insufficient balance")
	require.NoError(t, err)
	assert.Equal(t, `"insufficient balance"`, string(b))
}
