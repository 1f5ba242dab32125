package order

import (
	"fmt"
	"time"

	"github.com/cassiomorais/onramp/internal/domain/errors"
)

// Field names accepted in a status update. They match the JSON names of the
// ledger record so providers can send them in additionalData as-is.
const (
	FieldTransactionHash = "transactionHash"
	FieldCompletedAt     = "completedAt"
	FieldRedirectURL     = "redirectUrl"
	FieldErrorType       = "errorType"
	FieldErrorMessage    = "errorMessage"
	FieldErrorDetails    = "errorDetails"
	FieldExternalUserID  = "externalUserId"
	FieldExternalOrderID = "externalOrderId"
	FieldProviderCode    = "providerCode"
	FieldCurrencyFrom    = "currencyFrom"
	FieldCurrencyTo      = "currencyTo"
	FieldAmountFrom      = "amountFrom"
	FieldCountry         = "country"
	FieldState           = "state"
	FieldIP              = "ip"
	FieldWalletAddress   = "walletAddress"
	FieldWalletExtraID   = "walletExtraId"
	FieldPaymentMethod   = "paymentMethod"
	FieldUserAgent       = "userAgent"
	FieldMetadata        = "metadata"
)

// MutableFields lists every known field a status update may overwrite.
// orderId, status and the bookkeeping timestamps are managed by the store.
var MutableFields = []string{
	FieldTransactionHash, FieldCompletedAt, FieldRedirectURL,
	FieldErrorType, FieldErrorMessage, FieldErrorDetails,
	FieldExternalUserID, FieldExternalOrderID, FieldProviderCode,
	FieldCurrencyFrom, FieldCurrencyTo, FieldAmountFrom, FieldCountry,
	FieldState, FieldIP, FieldWalletAddress, FieldWalletExtraID,
	FieldPaymentMethod, FieldUserAgent, FieldMetadata,
}

var reservedFields = map[string]bool{
	"orderId":   true,
	"status":    true,
	"createdAt": true,
	"updatedAt": true,
}

// Update is a normalized status update. Fields holds typed values for known
// columns; Extra holds everything else and is merged key by key.
type Update struct {
	Status Status
	Fields map[string]any
	Extra  map[string]any
}

// NewUpdate splits a raw callback payload into known fields and extras.
// Nil values are dropped so absent optional callback fields never erase data.
func NewUpdate(status Status, raw map[string]any) (Update, error) {
	if !status.Valid() {
		return Update{}, errors.ErrInvalidStatus
	}
	u := Update{Status: status, Fields: map[string]any{}, Extra: map[string]any{}}

	known := make(map[string]bool, len(MutableFields))
	for _, f := range MutableFields {
		known[f] = true
	}

	for key, value := range raw {
		if value == nil || reservedFields[key] {
			continue
		}
		if !known[key] {
			u.Extra[key] = value
			continue
		}
		typed, err := coerceField(key, value)
		if err != nil {
			return Update{}, err
		}
		u.Fields[key] = typed
	}
	return u, nil
}

func coerceField(key string, value any) (any, error) {
	switch key {
	case FieldErrorDetails:
		return value, nil
	case FieldMetadata:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, errors.NewValidationError(key, "must be an object")
		}
		return m, nil
	case FieldCompletedAt:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, errors.NewValidationError(key, "must be an RFC 3339 timestamp")
			}
			return ts, nil
		default:
			return nil, errors.NewValidationError(key, "must be an RFC 3339 timestamp")
		}
	default:
		s, ok := value.(string)
		if !ok {
			return nil, errors.NewValidationError(key, fmt.Sprintf("must be a string, got %T", value))
		}
		return s, nil
	}
}

// Apply merges the update into t in place. It mirrors the single-statement
// update the Postgres store performs.
func (t *Transaction) Apply(u Update, now time.Time) {
	t.Status = u.Status
	t.UpdatedAt = now
	for key, value := range u.Fields {
		switch key {
		case FieldTransactionHash:
			t.TransactionHash = strPtr(value)
		case FieldCompletedAt:
			ts := value.(time.Time)
			t.CompletedAt = &ts
		case FieldRedirectURL:
			t.RedirectURL = strPtr(value)
		case FieldErrorType:
			t.ErrorType = strPtr(value)
		case FieldErrorMessage:
			t.ErrorMessage = strPtr(value)
		case FieldErrorDetails:
			t.ErrorDetails = value
		case FieldExternalUserID:
			t.ExternalUserID = value.(string)
		case FieldExternalOrderID:
			t.ExternalOrderID = value.(string)
		case FieldProviderCode:
			t.ProviderCode = value.(string)
		case FieldCurrencyFrom:
			t.CurrencyFrom = value.(string)
		case FieldCurrencyTo:
			t.CurrencyTo = value.(string)
		case FieldAmountFrom:
			t.AmountFrom = value.(string)
		case FieldCountry:
			t.Country = value.(string)
		case FieldState:
			t.State = strPtr(value)
		case FieldIP:
			t.IP = strPtr(value)
		case FieldWalletAddress:
			t.WalletAddress = value.(string)
		case FieldWalletExtraID:
			t.WalletExtraID = strPtr(value)
		case FieldPaymentMethod:
			t.PaymentMethod = value.(string)
		case FieldUserAgent:
			t.UserAgent = strPtr(value)
		case FieldMetadata:
			t.Metadata = value.(map[string]any)
		}
	}
	if len(u.Extra) > 0 {
		if t.Extra == nil {
			t.Extra = make(map[string]any, len(u.Extra))
		}
		for k, v := range u.Extra {
			t.Extra[k] = v
		}
	}
}

func strPtr(v any) *string {
	s := v.(string)
	return &s
}
