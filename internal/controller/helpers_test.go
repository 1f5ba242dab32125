package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		payload      any
		expectedBody string
	}{
		{
			name:         "simple map",
			status:       http.StatusOK,
			payload:      map[string]string{"message": "hello"},
			expectedBody: `{"message":"hello"}`,
		},
		{
			name:         "error response",
			status:       http.StatusBadRequest,
			payload:      newErrorResponse("validation_error", "bad request", nil),
			expectedBody: `{"success":false,"error":{"type":"validation_error","message":"bad request"}}`,
		},
		{
			name:         "error response with details",
			status:       http.StatusUnprocessableEntity,
			payload:      newErrorResponse("INSUFFICIENT_FUNDS", "Balance too low", map[string]any{"balance": "0.01"}),
			expectedBody: `{"success":false,"error":{"type":"INSUFFICIENT_FUNDS","message":"Balance too low","details":{"balance":"0.01"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.status, tt.payload)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.False(t, resp.Success)
	return resp
}

func TestWriteError_ValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	writeError(w, r, domainErrors.NewValidationError("providerCode", "is required"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "validation_error", resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "providerCode")
}

func TestWriteError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   string
	}{
		{"transaction not found", domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
		{"duplicate order", domainErrors.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
		{"invalid status", domainErrors.ErrInvalidStatus, http.StatusBadRequest, "validation_error"},
		{"invalid secret", domainErrors.NewSigningError("hmac-sha256", domainErrors.ErrInvalidSecret), http.StatusInternalServerError, "signing_error"},
		{"unsupported algorithm", domainErrors.ErrUnsupportedAlgorithm, http.StatusInternalServerError, "signing_error"},
		{"provider unavailable", domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
		{"unauthorized", domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"wrapped not found", fmt.Errorf("lookup: %w", domainErrors.ErrTransactionNotFound), http.StatusNotFound, "not_found"},
		{"unknown error", errors.New("something went wrong"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(w, r, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedType, decodeError(t, w).Error.Type)
		})
	}
}

func TestWriteError_SigningErrorHidesSecretDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	writeError(w, r, domainErrors.NewSigningError("rsa-sha256", fmt.Errorf("%w: bad PEM block", domainErrors.ErrInvalidSecret)))

	resp := decodeError(t, w)
	assert.Equal(t, "request signing failed", resp.Error.Message)
	assert.NotContains(t, resp.Error.Message, "PEM")
}

func TestWriteError_DomainErrorCodes(t *testing.T) {
	tests := []struct {
		code           string
		expectedStatus int
	}{
		{service.CodeNotFound, http.StatusNotFound},
		{service.CodeFetchError, http.StatusInternalServerError},
		{service.CodeUpdateError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(w, r, domainErrors.NewDomainError(tt.code, "Transaction not found", errors.New("cause")))

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error.Type)
			assert.Equal(t, "Transaction not found", resp.Error.Message)
		})
	}
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("valid request", func(t *testing.T) {
		body := `{"currencyCode":"EUR","paymentMethodCode":"card","providerCode":"moonpay","amount":"150.25"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var req CreateOrderRequest
		require.NoError(t, decodeAndValidate(r, &req))
		assert.Equal(t, "EUR", req.CurrencyCode)
		assert.Equal(t, Amount("150.25"), req.Amount)
	})

	t.Run("numeric amount keeps its text", func(t *testing.T) {
		body := `{"currencyCode":"EUR","paymentMethodCode":"card","providerCode":"moonpay","amount":100.10}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var req CreateOrderRequest
		require.NoError(t, decodeAndValidate(r, &req))
		assert.Equal(t, Amount("100.10"), req.Amount)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{invalid"))

		var req CreateOrderRequest
		err := decodeAndValidate(r, &req)

		var ve *domainErrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "body", ve.Field)
	})

	t.Run("missing required field uses JSON name", func(t *testing.T) {
		body := `{"currencyCode":"EUR","paymentMethodCode":"card","amount":"10"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var req CreateOrderRequest
		err := decodeAndValidate(r, &req)

		var ve *domainErrors.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "providerCode", ve.Field)
	})

	t.Run("amount of wrong type", func(t *testing.T) {
		body := `{"currencyCode":"EUR","paymentMethodCode":"card","providerCode":"moonpay","amount":true}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var req CreateOrderRequest
		assert.ErrorIs(t, decodeAndValidate(r, &req), domainErrors.ErrValidationFailed)
	})

	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

		var req CallbackRequest
		assert.ErrorIs(t, decodeAndValidate(r, &req), domainErrors.ErrValidationFailed)
	})
}
