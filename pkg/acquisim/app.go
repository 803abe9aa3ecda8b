package acquisim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/acquisim/internal/bank"
	"github.com/CedrosPay/acquisim/internal/callbacks"
	"github.com/CedrosPay/acquisim/internal/circuitbreaker"
	"github.com/CedrosPay/acquisim/internal/config"
	"github.com/CedrosPay/acquisim/internal/httpserver"
	"github.com/CedrosPay/acquisim/internal/idempotency"
	"github.com/CedrosPay/acquisim/internal/lifecycle"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/internal/metrics"
	"github.com/CedrosPay/acquisim/internal/monitoring"
	"github.com/CedrosPay/acquisim/internal/observability"
	"github.com/CedrosPay/acquisim/internal/payment"
)

// shutdownGrace bounds how long Close waits for in-flight notifications.
const shutdownGrace = 10 * time.Second

// App wires the simulator components for embedding or standalone serving.
type App struct {
	Config           *config.Config
	Bank             *bank.Bank
	Payments         *payment.Service
	Notifier         callbacks.Notifier
	IdempotencyStore *idempotency.MemoryStore
	Reporter         *monitoring.LedgerReporter
	Hooks            *observability.Registry

	logger          zerolog.Logger
	server          *httpserver.Server
	router          chi.Router
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	notifier callbacks.Notifier
	router   chi.Router
	registry *prometheus.Registry
	logger   *zerolog.Logger
	hooks    []Hook
}

// WithNotifier injects a merchant notifier in place of the configured HTTP client.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithRouter registers the simulator routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegistry collects metrics into registry instead of the global Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithHook registers a PaymentHook, a NotificationHook, or both.
func WithHook(hook Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hook)
	}
}

// WithLogger overrides the logger built from cfg.Logging.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// NewApp assembles the ledger, payment flow, notification delivery and HTTP surface.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("acquisim: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "acquisim",
		Environment: cfg.Logging.Environment,
	})
	if optState.logger != nil {
		appLogger = *optState.logger
	}

	app := &App{
		Config:          cfg,
		logger:          appLogger,
		resourceManager: lifecycle.NewManager(appLogger),
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if optState.registry != nil {
		registerer, gatherer = optState.registry, optState.registry
	}
	metricsCollector := metrics.New(registerer)

	app.Bank = bank.New(bank.Config{
		Username:     cfg.Bank.Username,
		Password:     cfg.Bank.CashboxPassword,
		NotifyBuffer: cfg.Bank.NotifyBuffer,
	})
	appLogger.Info().
		Str("store_card", app.Bank.StoreAccount().Card.String()).
		Msg("ledger.opened")

	app.Hooks = observability.NewRegistry(appLogger)
	if cfg.Monitoring.AuditLog {
		app.Hooks.Register(observability.NewLoggingHook(appLogger))
	}
	for _, hook := range optState.hooks {
		if !app.Hooks.Register(hook) {
			return nil, fmt.Errorf("acquisim: hook %q implements no hook interface", hook.Name())
		}
	}

	var admin httpserver.NotificationAdmin
	switch {
	case optState.notifier != nil:
		app.Notifier = optState.notifier
		admin, _ = optState.notifier.(httpserver.NotificationAdmin)
	case cfg.Callbacks.Enabled:
		client, err := app.newNotifier(ctx, metricsCollector)
		if err != nil {
			_ = app.resourceManager.Close()
			return nil, err
		}
		app.Notifier, admin = client, client
	default:
		app.Notifier = callbacks.NoopNotifier{}
		appLogger.Warn().Msg("acquisim: merchant notifications disabled")
	}

	app.Payments = payment.NewService(app.Bank, payment.Config{
		TerminalPassword: cfg.Terminal.Password,
		PublicURL:        cfg.Server.PublicURL,
		TTL:              cfg.Sessions.TTL.Duration,
	},
		payment.WithNotifier(app.Notifier),
		payment.WithMetrics(metricsCollector),
		payment.WithHooks(app.Hooks),
		payment.WithLogger(appLogger),
	)
	app.resourceManager.Register("payment-sessions", app.Payments)

	app.IdempotencyStore = idempotency.NewMemoryStore(cfg.Idempotency.MaxEntries)
	app.resourceManager.Register("idempotency-store", app.IdempotencyStore)

	app.Reporter = monitoring.NewLedgerReporter(app.Bank, metricsCollector, cfg.Monitoring.ReportInterval.Duration, appLogger)
	app.Reporter.Start(ctx)
	app.resourceManager.Register("ledger-reporter", app.Reporter)

	deps := httpserver.Deps{
		Bank:          app.Bank,
		Payments:      app.Payments,
		Notifications: admin,
		Idempotency:   app.IdempotencyStore,
		Metrics:       metricsCollector,
		Gatherer:      gatherer,
	}
	if optState.router != nil {
		app.router = optState.router
		httpserver.ConfigureRouter(app.router, cfg, deps, appLogger)
	} else {
		app.server = httpserver.New(cfg, deps, appLogger)
	}

	return app, nil
}

// newNotifier builds the retrying merchant client and its dead letter queue.
func (a *App) newNotifier(ctx context.Context, m *metrics.Metrics) (*callbacks.RetryableClient, error) {
	cfg := a.Config

	dlqStore, dlqCloser, err := callbacks.NewDLQStore(ctx, cfg.Callbacks.DLQ, m)
	if err != nil {
		return nil, fmt.Errorf("init notification DLQ: %w", err)
	}
	a.resourceManager.Register("notification-dlq", dlqCloser)

	callbackOpts := []callbacks.RetryOption{
		callbacks.WithRetryConfig(callbacks.RetryConfigFrom(cfg.Callbacks)),
		callbacks.WithHeaders(cfg.Callbacks.Headers),
		callbacks.WithBreakers(circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, a.logger)),
		callbacks.WithMetrics(m),
		callbacks.WithHooks(a.Hooks),
		callbacks.WithRetryLogger(a.logger),
	}
	if dlqStore != nil {
		callbackOpts = append(callbackOpts, callbacks.WithDLQStore(dlqStore))
	}
	client := callbacks.NewRetryableClient(cfg.Terminal.Password, callbackOpts...)

	a.resourceManager.RegisterFunc("notifier", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return client.Close(ctx)
	})
	return client, nil
}

// Handler exposes the routes as an http.Handler.
func (a *App) Handler() http.Handler {
	if a.server != nil {
		return a.server.Handler()
	}
	return a.router
}

// Run serves HTTP until ctx is cancelled, then shuts the server down gracefully.
// It is only available when the App owns its server.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return errors.New("acquisim: Run requires an app built without WithRouter")
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("address", a.server.Addr()).Msg("server.listening")
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.logger.Info().Msg("server.shutting_down")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases everything the app owns in reverse construction order.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// Hook types re-exported for embedders.
type (
	Hook                       = observability.Hook
	PaymentHook                = observability.PaymentHook
	NotificationHook           = observability.NotificationHook
	SessionStartedEvent        = observability.SessionStartedEvent
	SessionFinishedEvent       = observability.SessionFinishedEvent
	NotificationDeliveredEvent = observability.NotificationDeliveredEvent
	NotificationFailedEvent    = observability.NotificationFailedEvent
)

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the simulator.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
