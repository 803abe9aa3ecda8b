package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "ACQUISIM_"

// applyEnvOverrides applies environment variable overrides. Env wins over YAML.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setIfEnv(&c.Server.PublicURL, "PUBLIC_URL")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "ADMIN_METRICS_API_KEY")
	if v := env("CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	setIfEnv(&c.Bank.Username, "BANK_USERNAME")
	setIfEnv(&c.Bank.CashboxPassword, "CASHBOX_PASSWORD")
	setIntIfEnv(&c.Bank.NotifyBuffer, "BANK_NOTIFY_BUFFER")

	setIfEnv(&c.Terminal.Password, "TERMINAL_PASSWORD")
	setDurationIfEnv(&c.Sessions.TTL, "SESSION_TTL")

	setBoolIfEnv(&c.Callbacks.Enabled, "CALLBACKS_ENABLED")
	setDurationIfEnv(&c.Callbacks.Timeout, "CALLBACK_TIMEOUT")
	setIntIfEnv(&c.Callbacks.Retry.MaxAttempts, "CALLBACK_MAX_ATTEMPTS")
	setIfEnv(&c.Callbacks.DLQ.Backend, "DLQ_BACKEND")
	setIfEnv(&c.Callbacks.DLQ.FilePath, "DLQ_FILE_PATH")
	setIfEnv(&c.Callbacks.DLQ.PostgresURL, "DLQ_POSTGRES_URL")
	setIfEnv(&c.Callbacks.DLQ.MongoDBURL, "DLQ_MONGODB_URL")
	setIfEnv(&c.Callbacks.DLQ.MongoDBDatabase, "DLQ_MONGODB_DATABASE")

	// ACQUISIM_CALLBACK_HEADER_X_API_KEY=abc -> "X-Api-Key: abc"
	headerPrefix := EnvPrefix + "CALLBACK_HEADER_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, headerPrefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], headerPrefix)
		if name == "" {
			continue
		}
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		c.Callbacks.Headers[textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))] = parts[1]
	}

	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "RATE_LIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "RATE_LIMIT_GLOBAL_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "RATE_LIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "RATE_LIMIT_PER_IP_LIMIT")

	setBoolIfEnv(&c.CircuitBreaker.Enabled, "CIRCUIT_BREAKER_ENABLED")
	setDurationIfEnv(&c.Idempotency.TTL, "IDEMPOTENCY_TTL")
	setBoolIfEnv(&c.Monitoring.AuditLog, "AUDIT_LOG")
}

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func setIfEnv(target *string, key string) {
	if v := env(key); v != "" {
		*target = v
	}
}

// setBoolIfEnv accepts "1" or any case of "true" as true.
func setBoolIfEnv(target *bool, key string) {
	if v := env(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := env(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
