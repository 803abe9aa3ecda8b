package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// finalize applies derived defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Bank.NotifyBuffer < 1 {
		c.Bank.NotifyBuffer = 1
	}
	if c.Callbacks.DLQ.Backend == "" {
		c.Callbacks.DLQ.Backend = "none"
	}

	return c.validate()
}

func (c *Config) validate() error {
	var errs []error

	if c.Bank.Username == "" {
		errs = append(errs, errors.New("bank.username is required"))
	}
	if c.Bank.CashboxPassword == "" {
		errs = append(errs, errors.New("bank.cashbox_password is required"))
	}
	if c.Terminal.Password == "" {
		errs = append(errs, errors.New("terminal.password is required"))
	}
	if c.Sessions.TTL.Duration <= 0 {
		errs = append(errs, errors.New("sessions.ttl must be positive"))
	}

	if u, err := url.Parse(c.Server.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url must be an absolute http(s) URL, got %q", c.Server.PublicURL))
	}

	if c.Callbacks.Retry.Enabled {
		if c.Callbacks.Retry.MaxAttempts < 1 {
			errs = append(errs, errors.New("callbacks.retry.max_attempts must be at least 1"))
		}
		if c.Callbacks.Retry.Multiplier < 1 {
			errs = append(errs, errors.New("callbacks.retry.multiplier must be >= 1"))
		}
	}

	switch c.Callbacks.DLQ.Backend {
	case "none", "memory":
	case "file":
		if c.Callbacks.DLQ.FilePath == "" {
			errs = append(errs, errors.New("callbacks.dlq.file_path is required for file backend"))
		}
	case "postgres":
		if c.Callbacks.DLQ.PostgresURL == "" {
			errs = append(errs, errors.New("callbacks.dlq.postgres_url is required for postgres backend"))
		}
		if !validIdentifier(c.Callbacks.DLQ.PostgresTable) {
			errs = append(errs, fmt.Errorf("callbacks.dlq.postgres_table %q is not a valid identifier", c.Callbacks.DLQ.PostgresTable))
		}
	case "mongodb":
		if c.Callbacks.DLQ.MongoDBURL == "" {
			errs = append(errs, errors.New("callbacks.dlq.mongodb_url is required for mongodb backend"))
		}
		if c.Callbacks.DLQ.MongoDBDatabase == "" || c.Callbacks.DLQ.MongoDBCollection == "" {
			errs = append(errs, errors.New("callbacks.dlq.mongodb_database and mongodb_collection are required for mongodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("callbacks.dlq.backend %q is not supported", c.Callbacks.DLQ.Backend))
	}

	if c.RateLimit.GlobalEnabled && c.RateLimit.GlobalLimit <= 0 {
		errs = append(errs, errors.New("rate_limit.global_limit must be positive when enabled"))
	}
	if c.RateLimit.PerIPEnabled && c.RateLimit.PerIPLimit <= 0 {
		errs = append(errs, errors.New("rate_limit.per_ip_limit must be positive when enabled"))
	}
	if c.CircuitBreaker.Enabled {
		r := c.CircuitBreaker.Webhook.FailureRatio
		if r < 0 || r > 1 {
			errs = append(errs, errors.New("circuit_breaker.webhook.failure_ratio must be within [0,1]"))
		}
	}

	return errors.Join(errs...)
}

// validIdentifier reports whether name is safe to interpolate as a SQL table name.
func validIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ApplyPostgresPoolSettings configures a connection pool from config.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime.Duration)
	}
}
