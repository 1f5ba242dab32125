package provider

import (
	"fmt"
	"strings"

	"github.com/cassiomorais/onramp/internal/domain/errors"
)

const (
	// FallbackMessage is shown when the provider gave no message at all.
	FallbackMessage = "Order creation failed"

	apiErrorType           = "api_error"
	apiErrorMessage        = "API request failed"
	transportFailedMessage = "Failed to create order"
)

// FormatErrorMessage renders a failure for display, e.g.
// "INSUFFICIENT_FUNDS: Balance too low (balance: 0.01)".
func FormatErrorMessage(f *Failure) string {
	if f == nil {
		return FallbackMessage
	}

	var msg string
	switch {
	case f.Type != "" && f.Message != "":
		msg = strings.ToUpper(f.Type) + ": " + f.Message
	case f.Message != "":
		msg = f.Message
	default:
		msg = FallbackMessage
	}

	if details := formatDetails(f.Details); details != "" {
		msg += " (" + details + ")"
	}
	return msg
}

func formatDetails(details any) string {
	switch d := details.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			parts = append(parts, formatDetailItem(item))
		}
		return strings.Join(parts, ", ")
	case []map[string]any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			parts = append(parts, formatDetailItem(item))
		}
		return strings.Join(parts, ", ")
	case string:
		return d
	default:
		return fmt.Sprint(d)
	}
}

func formatDetailItem(item any) string {
	if m, ok := item.(map[string]any); ok {
		cause, hasCause := m["cause"]
		value, hasValue := m["value"]
		if hasCause && hasValue {
			return fmt.Sprintf("%v: %v", cause, value)
		}
	}
	return fmt.Sprint(item)
}

// FailureFromTransport builds the caller-facing failure for a transport
// error. A decoded provider error body is used field by field; missing
// fields fall back to generic API error values.
func FailureFromTransport(te *errors.TransportError) *Failure {
	if te == nil {
		return &Failure{Type: apiErrorType, Message: transportFailedMessage}
	}
	if te.Body == nil {
		return &Failure{Type: apiErrorType, Message: transportFailedMessage, Details: te.Error()}
	}

	f := &Failure{
		Type:    stringField(te.Body, "errorType"),
		Message: stringField(te.Body, "errorMessage"),
		Details: te.Body["errorDetails"],
	}
	if f.Type == "" {
		f.Type = apiErrorType
	}
	if f.Message == "" {
		f.Message = apiErrorMessage
	}
	if f.Details == nil {
		f.Details = te.Error()
	}
	return f
}
