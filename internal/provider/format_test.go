package provider

import (
	"testing"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/stretchr/testify/assert"
)

func TestFormatErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		failure  *Failure
		expected string
	}{
		{
			name: "type message and cause details",
			failure: &Failure{
				Type:    "insufficient_funds",
				Message: "Balance too low",
				Details: []any{map[string]any{"cause": "balance", "value": "0.01"}},
			},
			expected: "INSUFFICIENT_FUNDS: Balance too low (balance: 0.01)",
		},
		{
			name: "several causes",
			failure: &Failure{
				Type:    "validation",
				Message: "Invalid order",
				Details: []any{
					map[string]any{"cause": "amountFrom", "value": "min 10"},
					map[string]any{"cause": "country", "value": "unsupported"},
				},
			},
			expected: "VALIDATION: Invalid order (amountFrom: min 10, country: unsupported)",
		},
		{
			name:     "opaque sequence",
			failure:  &Failure{Message: "Rejected", Details: []any{"a", "b"}},
			expected: "Rejected (a, b)",
		},
		{
			name:     "scalar details",
			failure:  &Failure{Type: "limit", Message: "Too large", Details: "max 5000"},
			expected: "LIMIT: Too large (max 5000)",
		},
		{
			name:     "type without message",
			failure:  &Failure{Type: "limit"},
			expected: FallbackMessage,
		},
		{
			name:     "empty details sequence",
			failure:  &Failure{Message: "Rejected", Details: []any{}},
			expected: "Rejected",
		},
		{
			name:     "nil failure",
			failure:  nil,
			expected: "Order creation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatErrorMessage(tt.failure))
		})
	}
}

func TestFormatErrorMessage_TransportBodySymmetry(t *testing.T) {
	body := map[string]any{
		"errorType":    "insufficient_funds",
		"errorMessage": "Balance too low",
		"errorDetails": []any{map[string]any{"cause": "balance", "value": "0.01"}},
	}

	business := Classify(body).Failure
	transport := FailureFromTransport(domainErrors.NewTransportError(502, body, domainErrors.ErrMalformedResponse))

	assert.Equal(t, business, transport)
	assert.Equal(t, FormatErrorMessage(business), FormatErrorMessage(transport))
	assert.Equal(t, "INSUFFICIENT_FUNDS: Balance too low (balance: 0.01)", FormatErrorMessage(transport))
}

func TestFailureFromTransport(t *testing.T) {
	t.Run("without body", func(t *testing.T) {
		te := domainErrors.NewTransportError(0, nil, domainErrors.ErrProviderTimeout)
		f := FailureFromTransport(te)

		assert.Equal(t, "api_error", f.Type)
		assert.Equal(t, "Failed to create order", f.Message)
		assert.Equal(t, te.Error(), f.Details)
	})

	t.Run("body without error fields", func(t *testing.T) {
		te := domainErrors.NewTransportError(503, map[string]any{"status": "down"}, domainErrors.ErrProviderUnavailable)
		f := FailureFromTransport(te)

		assert.Equal(t, "api_error", f.Type)
		assert.Equal(t, "API request failed", f.Message)
		assert.Equal(t, te.Error(), f.Details)
	})
}
