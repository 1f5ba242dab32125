package errors

import (
	"errors"
	"fmt"
)

var (
	// Ledger errors
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateOrder      = errors.New("order already exists")
	ErrInvalidStatus       = errors.New("invalid transaction status")

	// Signing errors
	ErrInvalidSecret        = errors.New("invalid signing secret")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// Provider errors
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderTimeout     = errors.New("provider request timeout")
	ErrMalformedResponse   = errors.New("malformed provider response")
	ErrSignatureRejected   = errors.New("provider rejected request signature")

	// Idempotency errors
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidAmount    = errors.New("invalid amount")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// SigningError reports secret material that cannot key the requested algorithm.
type SigningError struct {
	Algorithm string
	Err       error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign with %s: %v", e.Algorithm, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// NewSigningError creates a new signing error
func NewSigningError(algorithm string, err error) *SigningError {
	return &SigningError{Algorithm: algorithm, Err: err}
}

// TransportError is a failure to get a usable answer from the provider:
// the network call failed, the breaker is open, or a non-2xx response
// carried a body that could not be parsed. Body holds the decoded error
// body when one was available.
type TransportError struct {
	StatusCode int
	Body       map[string]any
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider transport (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error
func NewTransportError(statusCode int, body map[string]any, err error) *TransportError {
	return &TransportError{StatusCode: statusCode, Body: body, Err: err}
}

// PersistenceError wraps a ledger read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new persistence error
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}
