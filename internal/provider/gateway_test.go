package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	"github.com/cassiomorais/onramp/internal/signing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = OrderDefaults{
	ReturnSuccessURL: "https://shop.example/success",
	ReturnFailedURL:  "https://shop.example/failed",
	CurrencyTo:       "USDTRX",
	WalletAddress:    "TXwallet",
	Country:          "PH",
	ExternalUserID:   "user-1",
}

func testRequest() order.Request {
	return order.Request{CurrencyCode: "eur", PaymentMethodCode: "card", ProviderCode: "moonpay", Amount: "150.25"}
}

func hmacChain(t *testing.T, secret string, enc signing.Encoding) []signing.Signer {
	t.Helper()
	chain, err := signing.NewChain(signing.Config{Algorithm: signing.AlgorithmHMAC, Encoding: enc, Secret: secret})
	require.NoError(t, err)
	return chain
}

func newTestGateway(t *testing.T, url string, signers []signing.Signer, opts ...Option) *Gateway {
	t.Helper()
	g, err := NewGateway(Config{
		BaseURL:  url,
		APIKey:   "api-key-1",
		Timeout:  2 * time.Second,
		Defaults: testDefaults,
	}, signers, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return g
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(Config{}, hmacChain(t, "s", signing.EncodingRaw), zerolog.Nop())
	assert.Error(t, err)

	_, err = NewGateway(Config{BaseURL: "http://x"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestGateway_BuildOrder(t *testing.T) {
	ids := []string{"order-1", "ext-1"}
	var n int
	g := newTestGateway(t, "http://provider", hmacChain(t, "s", signing.EncodingRaw),
		WithIDGenerator(func() string { id := ids[n]; n++; return id }))

	req := testRequest()
	req.UserAgent = "test-agent"
	o := g.BuildOrder(req, "", "")

	assert.Equal(t, "order-1", o.OrderID)
	assert.Equal(t, "ext-1", o.ExternalOrderID)
	assert.Equal(t, "EUR", o.CurrencyFrom)
	assert.Equal(t, "150.25", o.AmountFrom)
	assert.Equal(t, "USDTRX", o.CurrencyTo)
	assert.Equal(t, "TXwallet", o.WalletAddress)
	assert.Equal(t, "PH", o.Country)
	assert.Equal(t, "user-1", o.ExternalUserID)
	assert.Equal(t, "https://shop.example/success", o.ReturnSuccessURL)
	assert.Equal(t, "card", o.PaymentMethod)
	assert.Equal(t, "moonpay", o.ProviderCode)
	require.NotNil(t, o.UserAgent)
	assert.Equal(t, "test-agent", *o.UserAgent)
	assert.Nil(t, o.IP)
	assert.Nil(t, o.WalletExtraID)

	n = 0
	o = g.BuildOrder(req, "TOverride", "BTC")
	assert.Equal(t, "TOverride", o.WalletAddress)
	assert.Equal(t, "BTC", o.CurrencyTo)
}

func TestGateway_Submit_SuccessWithRedirect(t *testing.T) {
	sandbox := NewSandbox(WithHMACKey([]byte("secret")))
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		sandbox.ServeHTTP(w, r)
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, hmacChain(t, "secret", signing.EncodingRaw))
	o := g.BuildOrder(testRequest(), "", "")

	res, err := g.Submit(context.Background(), o)
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "https://sandbox.invalid/checkout/"+o.OrderID, res.Success.RedirectURL)
	assert.Equal(t, o.OrderID, res.ProviderOrderID())

	assert.Equal(t, "api-key-1", gotHeaders.Get("api-key"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	payloads := sandbox.Payloads()
	require.Len(t, payloads, 1)
	expected, err := signing.Sign(payloads[0], "secret", signing.AlgorithmHMAC)
	require.NoError(t, err)
	assert.Equal(t, expected, gotHeaders.Get("sign"))

	var sent Order
	require.NoError(t, json.Unmarshal(payloads[0], &sent))
	assert.Equal(t, *o, sent)
}

func TestGateway_Submit_AcceptedWithoutRedirect(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, `{"orderId":"p-1","status":"created","amountFrom":150.25}`))
	defer server.Close()

	g := newTestGateway(t, server.URL, hmacChain(t, "s", signing.EncodingRaw))
	res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
	require.NoError(t, err)

	require.True(t, res.OK())
	assert.Empty(t, res.Success.RedirectURL)
	assert.Equal(t, json.Number("150.25"), res.Success.OrderDetails["amountFrom"])
}

func TestGateway_Submit_BusinessFailure(t *testing.T) {
	body := `{"errorType":"insufficient_funds","errorMessage":"Balance too low","errorDetails":[{"cause":"balance","value":"0.01"}]}`

	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnprocessableEntity} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			server := httptest.NewServer(jsonHandler(status, body))
			defer server.Close()

			g := newTestGateway(t, server.URL, hmacChain(t, "s", signing.EncodingRaw))
			res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
			require.NoError(t, err)

			require.NotNil(t, res.Failure)
			assert.Equal(t, "insufficient_funds", res.Failure.Type)
			assert.Equal(t, "Balance too low", res.Failure.Message)
			assert.Equal(t, "INSUFFICIENT_FUNDS: Balance too low (balance: 0.01)", FormatErrorMessage(res.Failure))
		})
	}
}

func TestGateway_Submit_TransportErrors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		status   int
		sentinel error
		hasBody  bool
	}{
		{"unparseable 5xx", jsonHandler(http.StatusBadGateway, `<html>bad gateway</html>`), http.StatusBadGateway, domainErrors.ErrMalformedResponse, false},
		{"malformed 2xx", jsonHandler(http.StatusOK, `{"orderId":`), http.StatusOK, domainErrors.ErrMalformedResponse, false},
		{"empty 2xx", jsonHandler(http.StatusOK, ``), http.StatusOK, domainErrors.ErrMalformedResponse, false},
		{"5xx without error fields", jsonHandler(http.StatusServiceUnavailable, `{"status":"maintenance"}`), http.StatusServiceUnavailable, nil, true},
		{"signature rejected", jsonHandler(http.StatusUnauthorized, `{"errorType":"unauthorized"}`), http.StatusUnauthorized, domainErrors.ErrSignatureRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			g := newTestGateway(t, server.URL, hmacChain(t, "s", signing.EncodingRaw))
			res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
			assert.Nil(t, res)

			var te *domainErrors.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, tt.hasBody, te.Body != nil)
		})
	}
}

func TestGateway_Submit_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusOK, `{}`))
	url := server.URL
	server.Close()

	g := newTestGateway(t, url, hmacChain(t, "s", signing.EncodingRaw))
	_, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))

	var te *domainErrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.Nil(t, te.Body)
}

func TestGateway_Submit_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, hmacChain(t, "s", signing.EncodingRaw),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))

	assert.ErrorIs(t, err, domainErrors.ErrProviderTimeout)
}

func TestGateway_Submit_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g, err := NewGateway(Config{
		BaseURL: server.URL,
		Breaker: BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 2, FailureRatio: 0.5},
	}, hmacChain(t, "s", signing.EncodingRaw), zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
		require.Error(t, err)
	}

	_, err = g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGateway_Submit_BusinessFailuresDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(jsonHandler(http.StatusBadRequest, `{"errorType":"limit","errorMessage":"Too large"}`))
	defer server.Close()

	g, err := NewGateway(Config{
		BaseURL: server.URL,
		Breaker: BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 2, FailureRatio: 0.5},
	}, hmacChain(t, "s", signing.EncodingRaw), zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
		require.NoError(t, err)
		require.NotNil(t, res.Failure)
	}
}

func TestGateway_Submit_AutoEncodingFallback(t *testing.T) {
	key := []byte("shared-key-bytes")
	secret := base64.StdEncoding.EncodeToString(key)
	sandbox := NewSandbox(WithHMACKey(key))
	server := httptest.NewServer(sandbox)
	defer server.Close()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	g := newTestGateway(t, server.URL, hmacChain(t, secret, signing.EncodingAuto), WithMetrics(metrics))

	res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
	require.NoError(t, err)
	assert.True(t, res.OK())

	payloads := sandbox.Payloads()
	require.Len(t, payloads, 2)
	assert.True(t, bytes.Equal(payloads[0], payloads[1]), "fallback must re-sign identical bytes")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignatureFallbacks))
}

func TestGateway_Submit_AutoEncodingStopsOnFirstAccepted(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("shared-key-bytes"))
	sandbox := NewSandbox(WithHMACKey([]byte(secret)))
	server := httptest.NewServer(sandbox)
	defer server.Close()

	g := newTestGateway(t, server.URL, hmacChain(t, secret, signing.EncodingAuto))

	res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Len(t, sandbox.Payloads(), 1)
}

func TestGateway_Submit_AutoEncodingExhausted(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("shared-key-bytes"))
	sandbox := NewSandbox(WithHMACKey([]byte("some-other-key")))
	server := httptest.NewServer(sandbox)
	defer server.Close()

	g := newTestGateway(t, server.URL, hmacChain(t, secret, signing.EncodingAuto))

	_, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
	assert.ErrorIs(t, err, domainErrors.ErrSignatureRejected)
	assert.Len(t, sandbox.Payloads(), 2)
}

type failingSigner struct{}

func (failingSigner) Sign([]byte) (string, error) {
	return "", domainErrors.NewSigningError("rsa", errors.New("key unusable"))
}
func (failingSigner) Name() string { return "failing" }

func TestGateway_Submit_SigningErrorSendsNothing(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	g := newTestGateway(t, server.URL, []signing.Signer{failingSigner{}})
	_, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))

	var se *domainErrors.SigningError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, int32(0), hits.Load())
}

func TestSandbox_FailureRate(t *testing.T) {
	server := httptest.NewServer(NewSandbox(WithFailureRate(1.0)))
	defer server.Close()

	g := newTestGateway(t, server.URL, hmacChain(t, "s", signing.EncodingRaw))
	res, err := g.Submit(context.Background(), g.BuildOrder(testRequest(), "", ""))
	require.NoError(t, err)

	require.NotNil(t, res.Failure)
	assert.Equal(t, "INSUFFICIENT_FUNDS: Balance too low (amountFrom: 150.25)", FormatErrorMessage(res.Failure))
}

func TestSandbox_KeepsOnlyRecentPayloads(t *testing.T) {
	sandbox := NewSandbox()
	for i := 0; i < maxRecordedPayload+5; i++ {
		body := fmt.Sprintf(`{"orderId":"order-%d"}`, i)
		w := httptest.NewRecorder()
		sandbox.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, w.Code)
	}

	payloads := sandbox.Payloads()
	require.Len(t, payloads, maxRecordedPayload)
	assert.JSONEq(t, `{"orderId":"order-5"}`, string(payloads[0]))
	assert.JSONEq(t, fmt.Sprintf(`{"orderId":"order-%d"}`, maxRecordedPayload+4), string(payloads[len(payloads)-1]))
}

func TestSandbox_RejectsOversizedBody(t *testing.T) {
	sandbox := NewSandbox()
	body := `{"orderId":"` + strings.Repeat("x", maxSandboxBody) + `"}`

	w := httptest.NewRecorder()
	sandbox.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sandbox.Payloads())
}
