package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxBodySize = 1 << 20

var validate = newValidator()

// newValidator reports JSON field names so validation errors match the request body.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// A non-empty message replaces the internal error text.
var errorMappings = []errorMapping{
	{domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found", "Transaction not found"},
	{domainErrors.ErrDuplicateOrder, http.StatusConflict, "duplicate_order", ""},
	{domainErrors.ErrInvalidStatus, http.StatusBadRequest, "validation_error", ""},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request", ""},
	{domainErrors.ErrInvalidSecret, http.StatusInternalServerError, "signing_error", "request signing failed"},
	{domainErrors.ErrUnsupportedAlgorithm, http.StatusInternalServerError, "signing_error", "request signing failed"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable", ""},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized", ""},
}

var domainCodeStatus = map[string]int{
	service.CodeNotFound:    http.StatusNotFound,
	service.CodeUpdateError: http.StatusInternalServerError,
	service.CodeFetchError:  http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusBadRequest, newErrorResponse("validation_error", validationErr.Error(), nil))
		return
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		status, ok := domainCodeStatus[domainErr.Code]
		if !ok {
			status = http.StatusUnprocessableEntity
		}
		if status >= http.StatusInternalServerError {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("code", domainErr.Code).Msg("Request failed")
		}
		writeJSON(w, status, newErrorResponse(domainErr.Code, domainErr.Message, nil))
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			if m.status >= http.StatusInternalServerError {
				zerolog.Ctx(r.Context()).Error().Err(err).Str("code", m.code).Msg("Request failed")
			}
			writeJSON(w, m.status, newErrorResponse(m.code, msg, nil))
			return
		}
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error in handler")
	writeJSON(w, http.StatusInternalServerError, newErrorResponse("internal_error", "internal server error", nil))
}

func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
