package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/acquisim/internal/circuitbreaker"
	"github.com/CedrosPay/acquisim/internal/config"
	"github.com/CedrosPay/acquisim/internal/httputil"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/internal/metrics"
	"github.com/CedrosPay/acquisim/internal/observability"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

// RetryConfig holds notification retry configuration.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Timeout         time.Duration // Per-attempt timeout
}

// DefaultRetryConfig returns the defaults used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryConfigFrom converts the file configuration. Disabled retries mean a single attempt.
func RetryConfigFrom(cfg config.CallbacksConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.Timeout.Duration > 0 {
		rc.Timeout = cfg.Timeout.Duration
	}
	if !cfg.Retry.Enabled {
		rc.MaxAttempts = 1
		return rc
	}
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		rc.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		rc.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier >= 1 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	return rc
}

// RetryableClient posts signed notifications asynchronously with exponential backoff.
// Exhausted deliveries are parked in the DLQ.
type RetryableClient struct {
	secret     string
	headers    map[string]string
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	dlqStore   DLQStore
	metrics    *metrics.Metrics
	breakers   *circuitbreaker.Manager
	hooks      *observability.Registry

	// mu orders wg.Add against Close.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	stop    chan struct{}
	stopped sync.Once
}

// RetryOption customizes the retry client.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets the logger.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) { c.logger = logger }
}

// WithDLQStore enables the dead letter queue.
func WithDLQStore(store DLQStore) RetryOption {
	return func(c *RetryableClient) { c.dlqStore = store }
}

// WithRetryConfig overrides retry timing.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) { c.retryCfg = cfg }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) { c.metrics = m }
}

// WithBreakers guards each merchant host with its own circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) { c.breakers = m }
}

// WithHooks reports delivery outcomes to notification hooks.
func WithHooks(hooks *observability.Registry) RetryOption {
	return func(c *RetryableClient) { c.hooks = hooks }
}

// WithHeaders adds static headers to every notification.
func WithHeaders(h map[string]string) RetryOption {
	return func(c *RetryableClient) { c.headers = h }
}

// NewRetryableClient constructs a notifier that signs with the terminal secret.
func NewRetryableClient(secret string, opts ...RetryOption) *RetryableClient {
	c := &RetryableClient{
		secret:   secret,
		retryCfg: DefaultRetryConfig(),
		logger:   zerolog.Nop(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = httputil.NewClient(c.retryCfg.Timeout)
	return c
}

// PaymentFinished signs n and delivers it in the background.
func (c *RetryableClient) PaymentFinished(ctx context.Context, notificationURL string, n acquiring.PaymentNotification) {
	if c == nil || notificationURL == "" {
		return
	}

	PrepareNotification(&n, c.secret)
	payload, err := json.Marshal(n)
	if err != nil {
		c.logger.Error().Err(err).Str("event_id", n.EventID).Msg("callbacks.serialize_failed")
		return
	}
	c.deliverAsync(ctx, notificationURL, payload, EventPaymentFinished, n.EventID, n.SessionID)
}

// CardTokenFinished signs n and delivers it in the background.
func (c *RetryableClient) CardTokenFinished(ctx context.Context, notificationURL string, n acquiring.CardTokenNotification) {
	if c == nil || notificationURL == "" {
		return
	}

	PrepareCardTokenNotification(&n, c.secret)
	payload, err := json.Marshal(n)
	if err != nil {
		c.logger.Error().Err(err).Str("event_id", n.EventID).Msg("callbacks.serialize_failed")
		return
	}
	c.deliverAsync(ctx, notificationURL, payload, EventCardTokenFinished, n.EventID, n.SessionID)
}

// deliverAsync retries payload in a goroutine tracked by Close. After Close started the
// payload goes straight to the dead letter queue.
func (c *RetryableClient) deliverAsync(ctx context.Context, notificationURL string, payload []byte, eventType, eventID, sessionID string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.logger.Warn().
			Str("event_id", eventID).
			Str("session_id", sessionID).
			Msg("callbacks.closed")
		if c.dlqStore != nil {
			c.saveToDLQ(context.WithoutCancel(ctx), notificationURL, payload, eventType, 0, ErrClientClosed)
		}
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		ctx := context.Background()
		start := time.Now()
		attempts, err := c.sendWithRetry(ctx, notificationURL, payload, eventType)
		if err == nil {
			c.hooks.EmitNotificationDelivered(ctx, observability.NotificationDeliveredEvent{
				Timestamp: time.Now().UTC(),
				EventID:   eventID,
				SessionID: sessionID,
				EventType: eventType,
				URL:       notificationURL,
				Attempts:  attempts,
				Duration:  time.Since(start),
			})
			return
		}

		c.logger.Error().
			Err(err).
			Str("event_id", eventID).
			Str("session_id", sessionID).
			Str("url", logger.RedactURL(notificationURL)).
			Msg("callbacks.delivery_failed")
		parked := false
		if c.dlqStore != nil {
			parked = c.saveToDLQ(ctx, notificationURL, payload, eventType, attempts, err)
		}
		c.hooks.EmitNotificationFailed(ctx, observability.NotificationFailedEvent{
			Timestamp: time.Now().UTC(),
			EventID:   eventID,
			SessionID: sessionID,
			EventType: eventType,
			URL:       notificationURL,
			Attempts:  attempts,
			Error:     err.Error(),
			Parked:    parked,
		})
	}()
}

// sendWithRetry attempts delivery with exponential backoff and returns the attempts made.
// A Close aborts the wait between attempts and reports the last error.
func (c *RetryableClient) sendWithRetry(ctx context.Context, target string, payload []byte, eventType string) (int, error) {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	startTime := time.Now()

	attempts := c.retryCfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.attempt(ctx, target, payload)
		if err == nil {
			if c.metrics != nil {
				c.metrics.ObserveWebhook(eventType, "success", time.Since(startTime), attempt, false)
			}
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("event_type", eventType).
					Msg("callbacks.delivered_after_retry")
			}
			return attempt, nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks.attempt_failed")

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-c.stop:
			return attempt, fmt.Errorf("delivery aborted by shutdown after %d attempts: %w", attempt, lastErr)
		}
		interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
		if c.retryCfg.MaxInterval > 0 && interval > c.retryCfg.MaxInterval {
			interval = c.retryCfg.MaxInterval
		}
	}

	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventType, "failed", time.Since(startTime), attempts, false)
	}
	return attempts, fmt.Errorf("webhook failed after %d attempts: %w", attempts, lastErr)
}

// attempt runs one delivery behind the merchant host's breaker.
func (c *RetryableClient) attempt(ctx context.Context, target string, payload []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
	defer cancel()

	return c.breakers.Execute(breakerKey(target), func() error {
		return c.sendHTTP(reqCtx, target, payload)
	})
}

func breakerKey(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	return u.Host
}

func (c *RetryableClient) sendHTTP(ctx context.Context, target string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, logger.RedactURL(target))
	}
	return nil
}

// saveToDLQ parks an exhausted notification and reports whether it was stored.
func (c *RetryableClient) saveToDLQ(ctx context.Context, target string, payload []byte, eventType string, attempts int, lastErr error) bool {
	now := time.Now().UTC()
	webhook := FailedWebhook{
		ID:          generateWebhookID(),
		URL:         target,
		Payload:     json.RawMessage(payload),
		Headers:     c.headers,
		EventType:   eventType,
		Attempts:    attempts,
		LastError:   lastErr.Error(),
		LastAttempt: now,
		CreatedAt:   now,
	}

	if err := c.dlqStore.SaveFailedWebhook(ctx, webhook); err != nil {
		c.logger.Error().Err(err).Str("webhook_id", webhook.ID).Msg("callbacks.dlq_save_failed")
		return false
	}
	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventType, "dlq", 0, webhook.Attempts, true)
	}
	c.logger.Info().
		Str("webhook_id", webhook.ID).
		Str("event_type", eventType).
		Int("attempts", webhook.Attempts).
		Msg("callbacks.saved_to_dlq")
	return true
}

var (
	// ErrNoDLQ is returned by DLQ operations on a client without a store.
	ErrNoDLQ = errors.New("callbacks: dead letter queue not configured")
	// ErrClientClosed is recorded for notifications handed over after Close started.
	ErrClientClosed = errors.New("callbacks: client closed")
)

// FailedWebhooks lists parked notifications.
func (c *RetryableClient) FailedWebhooks(ctx context.Context, limit int) ([]FailedWebhook, error) {
	if c.dlqStore == nil {
		return nil, ErrNoDLQ
	}
	return c.dlqStore.ListFailedWebhooks(ctx, limit)
}

// Redeliver makes one synchronous attempt for a parked notification and removes it from
// the DLQ on success. The payload is resent byte for byte so its token stays valid.
func (c *RetryableClient) Redeliver(ctx context.Context, id string) error {
	if c.dlqStore == nil {
		return ErrNoDLQ
	}
	webhook, err := c.dlqStore.GetFailedWebhook(ctx, id)
	if err != nil {
		return err
	}
	if err := c.attempt(ctx, webhook.URL, webhook.Payload); err != nil {
		return fmt.Errorf("redeliver %s: %w", id, err)
	}
	if c.metrics != nil {
		c.metrics.ObserveWebhook(webhook.EventType, "redelivered", 0, 1, false)
	}
	return c.dlqStore.DeleteFailedWebhook(ctx, id)
}

// Discard drops a parked notification without delivering it.
func (c *RetryableClient) Discard(ctx context.Context, id string) error {
	if c.dlqStore == nil {
		return ErrNoDLQ
	}
	if _, err := c.dlqStore.GetFailedWebhook(ctx, id); err != nil {
		return err
	}
	return c.dlqStore.DeleteFailedWebhook(ctx, id)
}

// Close stops pending backoff waits and blocks until in-flight deliveries finish or ctx ends.
func (c *RetryableClient) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.stopped.Do(func() { close(c.stop) })

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every delivery started so far has finished.
func (c *RetryableClient) Wait() {
	c.wg.Wait()
}

func generateWebhookID() string {
	return "webhook_" + strings.TrimPrefix(generateEventID(), "evt_")
}
