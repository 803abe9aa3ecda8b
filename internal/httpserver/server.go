package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/acquisim/internal/bank"
	"github.com/CedrosPay/acquisim/internal/callbacks"
	"github.com/CedrosPay/acquisim/internal/config"
	"github.com/CedrosPay/acquisim/internal/idempotency"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/internal/metrics"
	"github.com/CedrosPay/acquisim/internal/payment"
	"github.com/CedrosPay/acquisim/internal/ratelimit"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

var serverStartTime = time.Now()

// NotificationAdmin manages notifications that exhausted their retries.
type NotificationAdmin interface {
	FailedWebhooks(ctx context.Context, limit int) ([]callbacks.FailedWebhook, error)
	Redeliver(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
}

// Deps are the services the HTTP layer fronts.
type Deps struct {
	Bank     *bank.Bank
	Payments *payment.Service
	// Notifications is optional; without it the DLQ endpoints answer 404.
	Notifications NotificationAdmin
	Idempotency   idempotency.Store
	Metrics       *metrics.Metrics
	// Gatherer serves /metrics. Defaults to the global Prometheus registry.
	Gatherer prometheus.Gatherer
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg           *config.Config
	bank          *bank.Bank
	payments      *payment.Service
	notifications NotificationAdmin
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// New builds the HTTP server with its router.
func New(cfg *config.Config, deps Deps, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: newHandlers(cfg, deps, appLogger),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, deps, appLogger)
	return s
}

func newHandlers(cfg *config.Config, deps Deps, appLogger zerolog.Logger) handlers {
	return handlers{
		cfg:           cfg,
		bank:          deps.Bank,
		payments:      deps.Payments,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		logger:        appLogger,
	}
}

// ConfigureRouter attaches the simulator routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps, appLogger zerolog.Logger) {
	if router == nil {
		return
	}
	handler := newHandlers(cfg, deps, appLogger)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotency.HeaderKey},
			ExposedHeaders:   []string{"Location", idempotency.ReplayHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	limits := ratelimit.ConfigFrom(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(limits))
	router.Use(ratelimit.IPLimiter(limits))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Lightweight endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	idempotencyMW := idempotency.Middleware(deps.Idempotency, cfg.Idempotency.TTL.Duration)

	// Merchant and cardholder flow
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		signed := r
		if deps.Idempotency != nil {
			signed = r.With(idempotencyMW)
		}
		signed.Post(acquiring.InitPath, handler.initPayment)
		signed.Post(acquiring.RegisterCardTokenPath, handler.registerCardToken)
		signed.Post(acquiring.MakePaymentPath, handler.makePayment)
		r.Post(acquiring.CardTokenInfoPath, handler.cardTokenInfo)

		r.Get(payment.PagePath+"{id}", handler.paymentPage)
		r.Post(payment.PagePath+"{id}", handler.confirmPayment)
		r.Get("/api/payment/{id}", handler.paymentInfo)
	})

	// Administrative API
	router.Route("/system", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(systemAuth(deps.Bank))

		r.Post("/account", handler.addAccount)
		r.Delete("/account", handler.deleteAccount)
		r.Get("/list_accounts", handler.listAccounts)
		r.Post("/credit", handler.openCredit)
		r.Post("/transaction", handler.newTransaction)
		r.Get("/list_transactions", handler.listTransactions)
		r.Get("/bank", handler.bankSummary)

		r.Get("/notifications/failed", handler.listFailedNotifications)
		r.Post("/notifications/failed/{id}/retry", handler.retryFailedNotification)
		r.Delete("/notifications/failed/{id}", handler.discardFailedNotification)
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
