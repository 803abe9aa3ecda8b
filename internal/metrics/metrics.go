package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the acquiring simulator.
type Metrics struct {
	// Session metrics
	SessionsCreatedTotal prometheus.Counter
	SessionsExpiredTotal prometheus.Counter
	SessionsActive       prometheus.Gauge
	InitRejectedTotal    *prometheus.CounterVec

	// Payment metrics
	PaymentsTotal       *prometheus.CounterVec
	PaymentsFailedTotal *prometheus.CounterVec
	PaymentAmountTotal  prometheus.Counter
	ConfirmDuration     prometheus.Histogram

	// Card token metrics
	CardTokensTotal *prometheus.CounterVec

	// Ledger gauges, refreshed by the ledger reporter
	LedgerAccounts       prometheus.Gauge
	LedgerActiveAccounts prometheus.Gauge
	LedgerTransactions   prometheus.Gauge
	LedgerEmission       prometheus.Gauge
	LedgerStoreBalance   prometheus.Gauge
	LedgerRejectedTotal  *prometheus.CounterVec

	// Notification (webhook) metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDLQTotal     *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// DLQ backend metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on registry (default registerer when nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		SessionsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "acquisim_sessions_created_total",
			Help: "Total number of payment sessions created",
		}),
		SessionsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "acquisim_sessions_expired_total",
			Help: "Total number of sessions removed by the watchdog before confirmation",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acquisim_sessions_active",
			Help: "Number of sessions awaiting cardholder confirmation",
		}),
		InitRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_init_rejected_total",
				Help: "Initiate requests rejected before a session was created",
			},
			[]string{"reason"},
		),

		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_payments_total",
				Help: "Confirmed payment sessions by outcome",
			},
			[]string{"status"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_payments_failed_total",
				Help: "Failed payment confirmations by reason",
			},
			[]string{"reason"},
		),
		PaymentAmountTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "acquisim_payment_amount_total",
			Help: "Total settled amount in minor units",
		}),
		ConfirmDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "acquisim_confirm_duration_seconds",
			Help:    "Time taken to confirm a payment session",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		CardTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_card_tokens_total",
				Help: "Finished card-token registrations by outcome and reason",
			},
			[]string{"status", "reason"},
		),

		LedgerAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acquisim_ledger_accounts",
			Help: "Number of cardholder accounts including deleted ones",
		}),
		LedgerActiveAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acquisim_ledger_active_accounts",
			Help: "Number of cardholder accounts not deleted",
		}),
		LedgerTransactions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acquisim_ledger_transactions",
			Help: "Length of the transaction log",
		}),
		LedgerEmission: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acquisim_ledger_emission",
			Help: "Total credit issued in minor units",
		}),
		LedgerStoreBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acquisim_ledger_store_balance",
			Help: "Merchant settlement account balance in minor units",
		}),
		LedgerRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_ledger_rejected_total",
				Help: "Ledger operations rejected by reason",
			},
			[]string{"operation", "reason"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_webhooks_total",
				Help: "Merchant notifications by event type and final status",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_webhook_retries_total",
				Help: "Notifications delivered after more than one attempt",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_webhook_dlq_total",
				Help: "Notifications parked in the dead letter queue",
			},
			[]string{"event_type"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acquisim_webhook_duration_seconds",
				Help:    "Time from first attempt to final outcome",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 60, 300},
			},
			[]string{"event_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acquisim_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acquisim_db_query_duration_seconds",
				Help:    "Dead letter queue backend operation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveSessionCreated records a new pending session.
func (m *Metrics) ObserveSessionCreated() {
	m.SessionsCreatedTotal.Inc()
	m.SessionsActive.Inc()
}

// ObserveSessionClosed records a session leaving the registry. expired marks watchdog removals.
func (m *Metrics) ObserveSessionClosed(expired bool) {
	m.SessionsActive.Dec()
	if expired {
		m.SessionsExpiredTotal.Inc()
	}
}

// ObserveInitRejected records an initiate request that created no session.
func (m *Metrics) ObserveInitRejected(reason string) {
	m.InitRejectedTotal.WithLabelValues(reason).Inc()
}

// ObservePayment records a confirm outcome.
func (m *Metrics) ObservePayment(success bool, reason string, amount int64, duration time.Duration) {
	m.ConfirmDuration.Observe(duration.Seconds())
	if success {
		m.PaymentsTotal.WithLabelValues("success").Inc()
		m.PaymentAmountTotal.Add(float64(amount))
		return
	}
	m.PaymentsTotal.WithLabelValues("fail").Inc()
	m.PaymentsFailedTotal.WithLabelValues(reason).Inc()
}

// ObserveCardTokenRegistration records a finished card-token session.
func (m *Metrics) ObserveCardTokenRegistration(success bool, reason string) {
	status := "success"
	if !success {
		status = "fail"
	}
	m.CardTokensTotal.WithLabelValues(status, reason).Inc()
}

// ObserveLedgerRejected records a rejected ledger operation.
func (m *Metrics) ObserveLedgerRejected(operation, reason string) {
	m.LedgerRejectedTotal.WithLabelValues(operation, reason).Inc()
}

// SetLedgerTotals publishes a ledger snapshot.
func (m *Metrics) SetLedgerTotals(accounts, active, transactions int, emission, storeBalance int64) {
	m.LedgerAccounts.Set(float64(accounts))
	m.LedgerActiveAccounts.Set(float64(active))
	m.LedgerTransactions.Set(float64(transactions))
	m.LedgerEmission.Set(float64(-emission))
	m.LedgerStoreBalance.Set(float64(storeBalance))
}

// ObserveWebhook records the final outcome of one notification.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
	if sentToDLQ {
		m.WebhookDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveRateLimit records a throttled request.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a DLQ backend operation.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// formatAttempt caps the attempt label so retries beyond 5 share a bucket.
func formatAttempt(attempt int) string {
	if attempt > 5 {
		return "5+"
	}
	return strconv.Itoa(attempt)
}
