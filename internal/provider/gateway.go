// Package provider submits signed orders to the payment provider and
// normalizes its answers.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/onramp/internal/domain/errors"
	"github.com/cassiomorais/onramp/internal/domain/order"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	"github.com/cassiomorais/onramp/internal/signing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultOrderPath = "/v1/orders"
	maxResponseBytes = 1 << 20
	breakerName      = "provider"
)

// Config holds the provider endpoint, credentials and order defaults.
type Config struct {
	BaseURL   string
	OrderPath string
	APIKey    string
	Timeout   time.Duration
	Breaker   BreakerConfig
	Defaults  OrderDefaults
}

// OrderDefaults are the operational fields merged into every order.
type OrderDefaults struct {
	ReturnSuccessURL string
	ReturnFailedURL  string
	CurrencyTo       string
	WalletAddress    string
	WalletExtraID    string
	Country          string
	ExternalUserID   string
}

// Order is the body sent to the provider.
type Order struct {
	ReturnSuccessURL string         `json:"returnSuccessUrl"`
	ReturnFailedURL  string         `json:"returnFailedUrl"`
	OrderID          string         `json:"orderId"`
	ExternalUserID   string         `json:"externalUserId"`
	ExternalOrderID  string         `json:"externalOrderId"`
	ProviderCode     string         `json:"providerCode"`
	CurrencyFrom     string         `json:"currencyFrom"`
	CurrencyTo       string         `json:"currencyTo"`
	AmountFrom       string         `json:"amountFrom"`
	Country          string         `json:"country"`
	State            *string        `json:"state,omitempty"`
	IP               *string        `json:"ip,omitempty"`
	WalletAddress    string         `json:"walletAddress"`
	WalletExtraID    *string        `json:"walletExtraId,omitempty"`
	PaymentMethod    string         `json:"paymentMethod"`
	UserAgent        *string        `json:"userAgent,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

type rawResponse struct {
	status int
	body   []byte
}

// Gateway sends orders to the provider through a circuit breaker.
type Gateway struct {
	cfg     Config
	client  *http.Client
	signers []signing.Signer
	breaker *gobreaker.CircuitBreaker[*rawResponse]
	metrics *observability.Metrics
	logger  zerolog.Logger
	newID   func() string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default traced HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithMetrics records request and breaker metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithIDGenerator sets how order identifiers are generated.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) { g.newID = fn }
}

// NewGateway creates a gateway. signers are tried in order; the next one is
// used only when the provider rejects a signature.
func NewGateway(cfg Config, signers []signing.Signer, logger zerolog.Logger, opts ...Option) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if len(signers) == 0 {
		return nil, fmt.Errorf("at least one signer is required")
	}
	if cfg.OrderPath == "" {
		cfg.OrderPath = defaultOrderPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}

	g := &Gateway{
		cfg:     cfg,
		signers: signers,
		logger:  logger.With().Str("component", "provider_gateway").Logger(),
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(g)
	}
	if g.client == nil {
		g.client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	g.breaker = newBreaker(breakerName, cfg.Breaker, g.onBreakerChange)
	if g.metrics != nil {
		g.metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	}
	return g, nil
}

// BuildOrder merges the caller's request with the configured defaults.
// Empty walletAddress or currencyTo fall back to the defaults.
func (g *Gateway) BuildOrder(req order.Request, walletAddress, currencyTo string) *Order {
	d := g.cfg.Defaults
	if walletAddress == "" {
		walletAddress = d.WalletAddress
	}
	if currencyTo == "" {
		currencyTo = d.CurrencyTo
	}

	o := &Order{
		ReturnSuccessURL: d.ReturnSuccessURL,
		ReturnFailedURL:  d.ReturnFailedURL,
		OrderID:          g.newID(),
		ExternalUserID:   d.ExternalUserID,
		ExternalOrderID:  g.newID(),
		ProviderCode:     strings.TrimSpace(req.ProviderCode),
		CurrencyFrom:     strings.ToUpper(strings.TrimSpace(req.CurrencyCode)),
		CurrencyTo:       currencyTo,
		AmountFrom:       strings.TrimSpace(req.Amount),
		Country:          d.Country,
		WalletAddress:    walletAddress,
		PaymentMethod:    strings.TrimSpace(req.PaymentMethodCode),
	}
	if d.WalletExtraID != "" {
		o.WalletExtraID = &d.WalletExtraID
	}
	if req.IP != "" {
		ip := req.IP
		o.IP = &ip
	}
	if req.UserAgent != "" {
		ua := req.UserAgent
		o.UserAgent = &ua
	}
	return o
}

// Submit signs and sends the order. Business rejections come back as a
// Failure result; only transport faults and signing errors are returned as
// errors.
func (g *Gateway) Submit(ctx context.Context, o *Order) (*Result, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	start := time.Now()
	res, err := g.submitPayload(ctx, payload)
	g.observe(start, res, err)
	return res, err
}

func (g *Gateway) submitPayload(ctx context.Context, payload []byte) (*Result, error) {
	for i, signer := range g.signers {
		sig, err := signer.Sign(payload)
		if err != nil {
			return nil, err
		}

		raw, err := g.send(ctx, payload, sig)
		if err != nil {
			return nil, err
		}

		if raw.status == http.StatusUnauthorized && i < len(g.signers)-1 {
			g.logger.Warn().
				Str("strategy", signer.Name()).
				Str("next_strategy", g.signers[i+1].Name()).
				Msg("Provider rejected signature, retrying with next strategy")
			if g.metrics != nil {
				g.metrics.SignatureFallbacks.Inc()
			}
			continue
		}
		return interpret(raw)
	}
	// unreachable: the last signer always returns above
	return nil, domainErrors.NewTransportError(http.StatusUnauthorized, nil, domainErrors.ErrSignatureRejected)
}

func (g *Gateway) send(ctx context.Context, payload []byte, sig string) (*rawResponse, error) {
	var raw *rawResponse
	_, err := g.breaker.Execute(func() (*rawResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+g.cfg.OrderPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("api-key", g.cfg.APIKey)
		req.Header.Set("sign", sig)
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		raw = &rawResponse{status: resp.StatusCode, body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			return raw, fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		return raw, nil
	})

	if g.metrics != nil {
		result := "success"
		if err != nil {
			result = "failure"
		}
		g.metrics.CircuitBreakerRequests.WithLabelValues(breakerName, result).Inc()
	}

	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, domainErrors.NewTransportError(0, nil, fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err))
	case raw != nil:
		// 5xx: counted against the breaker, classified from its body below
		return raw, nil
	case isTimeout(err):
		return nil, domainErrors.NewTransportError(0, nil, fmt.Errorf("%w: %v", domainErrors.ErrProviderTimeout, err))
	default:
		return nil, domainErrors.NewTransportError(0, nil, err)
	}
}

func interpret(raw *rawResponse) (*Result, error) {
	body, decodeErr := decodeBody(raw.body)

	switch {
	case raw.status == http.StatusUnauthorized:
		return nil, domainErrors.NewTransportError(raw.status, body, domainErrors.ErrSignatureRejected)

	case raw.status >= 200 && raw.status < 300:
		if decodeErr != nil {
			return nil, domainErrors.NewTransportError(raw.status, nil,
				fmt.Errorf("%w: %v", domainErrors.ErrMalformedResponse, decodeErr))
		}
		return Classify(body), nil

	default:
		if decodeErr != nil {
			return nil, domainErrors.NewTransportError(raw.status, nil,
				fmt.Errorf("%w: %v", domainErrors.ErrMalformedResponse, decodeErr))
		}
		if f, ok := failureFromBody(body); ok {
			return &Result{Failure: f}, nil
		}
		return nil, domainErrors.NewTransportError(raw.status, body,
			fmt.Errorf("unexpected status %d", raw.status))
	}
}

func decodeBody(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("null body")
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (g *Gateway) observe(start time.Time, res *Result, err error) {
	if g.metrics == nil {
		return
	}
	outcome := "transport_error"
	switch {
	case err == nil && res.OK():
		outcome = "success"
	case err == nil:
		outcome = "failure"
	}
	g.metrics.ProviderRequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func (g *Gateway) onBreakerChange(name string, from, to gobreaker.State) {
	g.logger.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state changed")
	if g.metrics != nil {
		g.metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
	}
}
