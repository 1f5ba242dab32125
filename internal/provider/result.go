package provider

import "strings"

// Result is the normalized provider answer. Exactly one of Success and
// Failure is set.
type Result struct {
	Success *Success
	Failure *Failure
}

// Success means the provider accepted the order. RedirectURL is empty when
// the provider needs no further action from the user.
type Success struct {
	RedirectURL  string
	OrderDetails map[string]any
}

// Failure is a business rejection reported by the provider, kept verbatim.
type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OK reports whether the provider accepted the order.
func (r *Result) OK() bool {
	return r != nil && r.Success != nil
}

// ProviderOrderID returns the order id echoed in the response body, if any.
func (r *Result) ProviderOrderID() string {
	if r == nil || r.Success == nil {
		return ""
	}
	id, _ := r.Success.OrderDetails["orderId"].(string)
	return id
}

// Classify turns a decoded response body into a Result. An errorType or
// errorMessage field marks a business failure; a redirectUrl marks a
// success the user must follow. Anything else is a plain success.
func Classify(body map[string]any) *Result {
	if f, ok := failureFromBody(body); ok {
		return &Result{Failure: f}
	}

	s := &Success{OrderDetails: body}
	if u, ok := body["redirectUrl"].(string); ok {
		s.RedirectURL = u
	}
	return &Result{Success: s}
}

func failureFromBody(body map[string]any) (*Failure, bool) {
	errType := stringField(body, "errorType")
	errMessage := stringField(body, "errorMessage")
	if errType == "" && errMessage == "" {
		return nil, false
	}
	return &Failure{
		Type:    errType,
		Message: errMessage,
		Details: body["errorDetails"],
	}, true
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}
