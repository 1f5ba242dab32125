package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/onramp/internal/infrastructure/config"
	"github.com/cassiomorais/onramp/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/onramp/internal/middleware"
	"github.com/cassiomorais/onramp/internal/realtime"
	"github.com/cassiomorais/onramp/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SandboxPath is where the in-process provider is mounted when enabled.
const SandboxPath = "/sandbox/provider"

type RouterDeps struct {
	DB               Pinger
	Redis            Pinger
	OrderService     *service.OrderService
	Hub              *realtime.Hub
	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration
	Metrics          *observability.Metrics
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
	// Sandbox is mounted at SandboxPath when non-nil.
	Sandbox        http.Handler
	Logger         zerolog.Logger
	ServerConfig   config.ServerConfig
	JWTSecret      string
	RequestTimeout time.Duration
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(customMW.Tracing("onramp-api"))
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.ServerConfig.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMW.IdempotencyKeyHeader},
		ExposedHeaders:   []string{customMW.ReplayedHeader},
		AllowCredentials: deps.ServerConfig.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.DB, deps.Redis)
	orderH := NewOrderController(deps.OrderService)
	streamH := NewStreamController(deps.Hub, deps.ServerConfig.CORS.AllowedOrigins)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	if deps.Sandbox != nil {
		r.Handle(SandboxPath, deps.Sandbox)
		r.Handle(SandboxPath+"/*", deps.Sandbox)
	}

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Route("/api/v1/currencies", func(r chi.Router) {
		// The stream is long-lived and stays outside the request timeout.
		r.Group(func(r chi.Router) {
			if deps.JWTSecret != "" {
				r.Use(customMW.RequireAuth(deps.JWTSecret))
			}
			r.Get("/transactions/stream", streamH.Stream)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(timeout))

			r.With(orderMiddleware(deps)...).Post("/create-order", orderH.CreateOrder)
			r.Post("/callback", orderH.Callback)

			r.Group(func(r chi.Router) {
				if deps.JWTSecret != "" {
					r.Use(customMW.RequireAuth(deps.JWTSecret))
				}
				r.Get("/transactions", orderH.ListTransactions)
				r.Get("/transactions/{orderId}", orderH.GetTransaction)
			})
		})
	})

	return r
}

func orderMiddleware(deps RouterDeps) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	if deps.ServerConfig.OrderRateLimit > 0 {
		mws = append(mws, customMW.RateLimit(deps.ServerConfig.OrderRateLimit))
	}
	if deps.IdempotencyStore != nil {
		mws = append(mws, customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL, deps.Logger))
	}
	return mws
}
