package callbacks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

// Event types of merchant notifications, sent when a session reaches a terminal state.
const (
	EventPaymentFinished   = "payment.finished"
	EventCardTokenFinished = "card_token.finished"
)

// Notifier delivers session outcomes to the merchant's notification_url.
type Notifier interface {
	PaymentFinished(ctx context.Context, notificationURL string, n acquiring.PaymentNotification)
	CardTokenFinished(ctx context.Context, notificationURL string, n acquiring.CardTokenNotification)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentFinished(context.Context, string, acquiring.PaymentNotification) {}
func (NoopNotifier) CardTokenFinished(context.Context, string, acquiring.CardTokenNotification) {}

// generateEventID returns "evt_" followed by 24 hex chars.
func generateEventID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(b)
}

// PrepareNotification fills the event ID and timestamp when unset, then signs n.
// An existing EventID is kept so redeliveries carry the same idempotency key.
func PrepareNotification(n *acquiring.PaymentNotification, secret string) {
	if n.EventID == "" {
		n.EventID = generateEventID()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	n.Sign(secret)
}

// PrepareCardTokenNotification is PrepareNotification for card-token registrations.
func PrepareCardTokenNotification(n *acquiring.CardTokenNotification, secret string) {
	if n.EventID == "" {
		n.EventID = generateEventID()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	n.Sign(secret)
}
