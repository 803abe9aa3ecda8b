package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses Go-style duration strings, or bare numbers as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	if secs, convErr := time.ParseDuration(raw + "s"); convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the simulator configuration aggregated from file and environment.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Bank           BankConfig           `yaml:"bank"`
	Terminal       TerminalConfig       `yaml:"terminal"`
	Sessions       SessionsConfig       `yaml:"sessions"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	PublicURL          string   `yaml:"public_url"` // Base URL cardholders use; payment URLs are built from it
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Protects /metrics when set
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// BankConfig configures the ledger.
type BankConfig struct {
	Username        string `yaml:"username"`
	CashboxPassword string `yaml:"cashbox_password"` // System password, also guards the emission and store accounts
	NotifyBuffer    int    `yaml:"notify_buffer"`    // Change-event channel capacity per subscriber
}

// TerminalConfig holds the merchant terminal secret.
type TerminalConfig struct {
	Password string `yaml:"password"`
}

// SessionsConfig configures payment sessions.
type SessionsConfig struct {
	TTL Duration `yaml:"ttl"`
}

// CallbacksConfig holds merchant notification delivery settings.
type CallbacksConfig struct {
	Enabled bool              `yaml:"enabled"`
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout"`
	Retry   RetryConfig       `yaml:"retry"`
	DLQ     DLQConfig         `yaml:"dlq"`
}

// RetryConfig holds notification retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// DLQConfig selects where undeliverable notifications are parked.
type DLQConfig struct {
	Backend           string             `yaml:"backend"` // none, memory, file, postgres, mongodb
	FilePath          string             `yaml:"file_path"`
	PostgresURL       string             `yaml:"postgres_url"`
	PostgresTable     string             `yaml:"postgres_table"`
	PostgresPool      PostgresPoolConfig `yaml:"postgres_pool"`
	MongoDBURL        string             `yaml:"mongodb_url"`
	MongoDBDatabase   string             `yaml:"mongodb_database"`
	MongoDBCollection string             `yaml:"mongodb_collection"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RateLimitConfig holds two-tier rate limiting configuration.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for outbound calls.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Webhook BreakerServiceConfig `yaml:"webhook"` // Merchant notification delivery
}

// BreakerServiceConfig configures one breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio
}

// IdempotencyConfig configures Idempotency-Key replay on the initiate endpoint.
type IdempotencyConfig struct {
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries"`
}

// MonitoringConfig configures the ledger reporter.
type MonitoringConfig struct {
	ReportInterval Duration `yaml:"report_interval"` // Periodic refresh on top of change events
	AuditLog       bool     `yaml:"audit_log"`       // Log every session and notification outcome
}
