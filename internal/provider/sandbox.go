package provider

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

const (
	maxSandboxBody     = 1 << 20
	maxRecordedPayload = 100
)

// Sandbox is an in-process stand-in for the provider's order endpoint.
// It can be mounted on the API router for local development and is used
// by tests as an httptest handler.
type Sandbox struct {
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	hmacKeys    [][]byte
	checkoutURL string

	mu       sync.Mutex
	payloads [][]byte
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithFailureRate sets the probability that an order is rejected with a
// business error.
func WithFailureRate(rate float64) SandboxOption {
	return func(s *Sandbox) { s.failureRate = rate }
}

// WithLatency sets the simulated processing latency.
func WithLatency(d time.Duration) SandboxOption {
	return func(s *Sandbox) { s.latency = d }
}

// WithHMACKey makes the sandbox verify the sign header against key.
func WithHMACKey(key []byte) SandboxOption {
	return func(s *Sandbox) { s.hmacKeys = append(s.hmacKeys, key) }
}

// WithCheckoutURL sets the prefix of returned redirect URLs.
func WithCheckoutURL(u string) SandboxOption {
	return func(s *Sandbox) { s.checkoutURL = u }
}

// NewSandbox creates a sandbox that accepts every order by default.
func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		checkoutURL: "https://sandbox.invalid/checkout/",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Payloads returns the most recent raw request bodies, oldest first.
func (s *Sandbox) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func (s *Sandbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	select {
	case <-time.After(s.latency):
	case <-r.Context().Done():
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSandboxBody))
	if err != nil {
		writeSandbox(w, http.StatusBadRequest, map[string]any{"errorType": "bad_request", "errorMessage": "unreadable body"})
		return
	}
	s.record(payload)

	if !s.verify(payload, r.Header.Get("sign")) {
		writeSandbox(w, http.StatusUnauthorized, map[string]any{"errorType": "unauthorized", "errorMessage": "Invalid signature"})
		return
	}

	var o Order
	if err := json.Unmarshal(payload, &o); err != nil {
		writeSandbox(w, http.StatusBadRequest, map[string]any{"errorType": "bad_request", "errorMessage": "invalid order body"})
		return
	}

	if rand.Float64() < s.failureRate {
		writeSandbox(w, http.StatusBadRequest, map[string]any{
			"errorType":    "insufficient_funds",
			"errorMessage": "Balance too low",
			"errorDetails": []map[string]any{{"cause": "amountFrom", "value": o.AmountFrom}},
		})
		return
	}

	writeSandbox(w, http.StatusOK, map[string]any{
		"orderId":         o.OrderID,
		"externalOrderId": o.ExternalOrderID,
		"redirectUrl":     s.checkoutURL + o.OrderID,
		"currencyFrom":    o.CurrencyFrom,
		"currencyTo":      o.CurrencyTo,
		"amountFrom":      o.AmountFrom,
	})
}

func (s *Sandbox) record(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.payloads) >= maxRecordedPayload {
		n := copy(s.payloads, s.payloads[1:])
		s.payloads = s.payloads[:n]
	}
	s.payloads = append(s.payloads, payload)
}

func (s *Sandbox) verify(payload []byte, sig string) bool {
	if len(s.hmacKeys) == 0 {
		return true
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	for _, key := range s.hmacKeys {
		mac := hmac.New(sha512.New, key)
		mac.Write(payload)
		if hmac.Equal(got, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

func writeSandbox(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
