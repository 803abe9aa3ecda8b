package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can forward events to tracing, audit or test harnesses.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// PaymentHook receives events during the payment session lifecycle.
type PaymentHook interface {
	Hook

	// OnSessionStarted is called once a verified initiate request opened a session.
	OnSessionStarted(ctx context.Context, event SessionStartedEvent)

	// OnSessionFinished is called when a session is confirmed (either way) or expires.
	OnSessionFinished(ctx context.Context, event SessionFinishedEvent)
}

// NotificationHook receives events during merchant notification delivery.
type NotificationHook interface {
	Hook

	// OnNotificationDelivered is called when the merchant accepted a notification.
	OnNotificationDelivered(ctx context.Context, event NotificationDeliveredEvent)

	// OnNotificationFailed is called when every attempt failed.
	OnNotificationFailed(ctx context.Context, event NotificationFailedEvent)
}

// ===============================================
// Event Types
// ===============================================

// SessionStartedEvent is emitted when a payment or card-token session opens.
type SessionStartedEvent struct {
	Timestamp       time.Time
	SessionID       string
	Kind            string // "payment" or "card_token"
	Amount          int64  // Minor currency units, zero for card-token sessions
	NotificationURL string
}

// SessionFinishedEvent is emitted when a session leaves the registry.
type SessionFinishedEvent struct {
	Timestamp time.Time
	SessionID string
	Kind      string
	Amount    int64
	Success   bool
	Reason    string        // Set if Success=false
	Expired   bool          // Nobody confirmed within the TTL
	Duration  time.Duration // Time from session creation to completion
}

// NotificationDeliveredEvent is emitted when a notification is delivered.
type NotificationDeliveredEvent struct {
	Timestamp time.Time
	EventID   string
	SessionID string
	EventType string
	URL       string
	Attempts  int
	Duration  time.Duration
}

// NotificationFailedEvent is emitted when a notification exhausted its retries.
type NotificationFailedEvent struct {
	Timestamp time.Time
	EventID   string
	SessionID string
	EventType string
	URL       string
	Attempts  int
	Error     string
	Parked    bool // Saved to the dead letter queue for manual redelivery
}
