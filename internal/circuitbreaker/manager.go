// Package circuitbreaker isolates outbound merchant notification traffic per merchant host,
// so one unreachable merchant cannot slow delivery to the others.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/CedrosPay/acquisim/internal/config"
)

// ErrOpen is returned when a host's breaker rejects a call without executing it.
var ErrOpen = errors.New("circuitbreaker: open")

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval is the cyclic period in closed state after which counts are cleared. 0 never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Manager hands out one breaker per key, created on first use.
type Manager struct {
	enabled  bool
	settings BreakerConfig
	logger   zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManagerFromConfig creates a manager for webhook delivery.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, logger zerolog.Logger) *Manager {
	return NewManager(cfg.Enabled, BreakerConfig{
		MaxRequests:         cfg.Webhook.MaxRequests,
		Interval:            cfg.Webhook.Interval.Duration,
		Timeout:             cfg.Webhook.Timeout.Duration,
		ConsecutiveFailures: cfg.Webhook.ConsecutiveFailures,
		FailureRatio:        cfg.Webhook.FailureRatio,
		MinRequests:         cfg.Webhook.MinRequests,
	}, logger)
}

// NewManager creates a manager. A disabled manager executes every call directly.
func NewManager(enabled bool, settings BreakerConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		enabled:  enabled,
		settings: settings,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *Manager) breaker(key string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.breakers[key]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(m.toGobreakerSettings(key))
		m.breakers[key] = cb
	}
	return cb
}

// Execute runs fn behind the breaker for key.
func (m *Manager) Execute(key string, fn func() error) error {
	if m == nil || !m.enabled {
		return fn()
	}

	_, err := m.breaker(key).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker state for key: "disabled", "closed", "half-open" or "open".
func (m *Manager) State(key string) string {
	if m == nil || !m.enabled {
		return "disabled"
	}
	return m.breaker(key).State().String()
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Counts returns the current counts for key.
func (m *Manager) Counts(key string) Counts {
	if m == nil || !m.enabled {
		return Counts{}
	}
	c := m.breaker(key).Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

func (m *Manager) toGobreakerSettings(name string) gobreaker.Settings {
	cfg := m.settings
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuitbreaker.state_changed")
		},
	}
}
