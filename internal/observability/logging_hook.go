package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingHook writes an audit line for every event.
type LoggingHook struct {
	logger zerolog.Logger
}

// NewLoggingHook creates a hook that logs all events under component=audit.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger.With().Str("component", "audit").Logger()}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) OnSessionStarted(ctx context.Context, event SessionStartedEvent) {
	h.logger.Info().
		Str("session_id", event.SessionID).
		Str("kind", event.Kind).
		Int64("amount", event.Amount).
		Msg("audit.session_started")
}

func (h *LoggingHook) OnSessionFinished(ctx context.Context, event SessionFinishedEvent) {
	log := h.logger.Info()
	if !event.Success {
		log = h.logger.Warn().Str("reason", event.Reason)
	}

	log.Str("session_id", event.SessionID).
		Str("kind", event.Kind).
		Bool("success", event.Success).
		Bool("expired", event.Expired).
		Int64("amount", event.Amount).
		Dur("duration", event.Duration).
		Msg("audit.session_finished")
}

func (h *LoggingHook) OnNotificationDelivered(ctx context.Context, event NotificationDeliveredEvent) {
	h.logger.Info().
		Str("event_id", event.EventID).
		Str("session_id", event.SessionID).
		Int("attempts", event.Attempts).
		Dur("duration", event.Duration).
		Msg("audit.notification_delivered")
}

func (h *LoggingHook) OnNotificationFailed(ctx context.Context, event NotificationFailedEvent) {
	h.logger.Error().
		Str("event_id", event.EventID).
		Str("session_id", event.SessionID).
		Int("attempts", event.Attempts).
		Str("error", event.Error).
		Bool("parked", event.Parked).
		Msg("audit.notification_failed")
}
