// Package session holds pending payment sessions and expires the ones nobody completes.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

// ErrNotFound is returned when a session was never created, was already consumed, or expired.
var ErrNotFound = errors.New("session: not found")

// Kind tells what a session does once the cardholder confirms it.
type Kind string

const (
	// KindPayment moves the requested amount to the merchant.
	KindPayment Kind = "payment"
	// KindCardToken issues a reusable card token to the merchant.
	KindCardToken Kind = "card_token"
)

// Session is a pending operation awaiting cardholder confirmation.
// Request is set for payments, Registration for card-token sessions.
type Session struct {
	ID           uuid.UUID
	Kind         Kind
	Request      acquiring.InitPaymentRequest
	Registration acquiring.RegisterCardTokenRequest
	Merchant     uuid.UUID
	CreatedAt    time.Time
}

// Amount is the payment amount, zero for card-token sessions.
func (s Session) Amount() int64 {
	if s.Kind == KindCardToken {
		return 0
	}
	return s.Request.Amount
}

// NotificationURL is where the merchant hears about the outcome.
func (s Session) NotificationURL() string {
	if s.Kind == KindCardToken {
		return s.Registration.NotificationURL
	}
	return s.Request.NotificationURL
}

// SuccessURL is where the cardholder goes after a successful confirmation.
func (s Session) SuccessURL() string {
	if s.Kind == KindCardToken {
		return s.Registration.SuccessURL
	}
	return s.Request.SuccessURL
}

// FailURL is where the cardholder goes after any failure.
func (s Session) FailURL() string {
	if s.Kind == KindCardToken {
		return s.Registration.FailURL
	}
	return s.Request.FailURL
}

// Registry is the set of live sessions. Its lock is never held across calls into other
// components.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new payment session for a verified request settling into merchant.
func (r *Registry) Create(req acquiring.InitPaymentRequest, merchant uuid.UUID) (uuid.UUID, time.Time) {
	return r.insert(Session{Kind: KindPayment, Request: req, Merchant: merchant})
}

// CreateRegistration stores a new card-token session for a verified request.
func (r *Registry) CreateRegistration(req acquiring.RegisterCardTokenRequest, merchant uuid.UUID) (uuid.UUID, time.Time) {
	return r.insert(Session{Kind: KindCardToken, Registration: req, Merchant: merchant})
}

func (r *Registry) insert(s Session) (uuid.UUID, time.Time) {
	s.ID = uuid.New()
	s.CreatedAt = r.now()

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return s.ID, s.CreatedAt
}

// Peek returns a session without consuming it.
func (r *Registry) Peek(id uuid.UUID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Take removes and returns a session. Exactly one caller can take a given id.
func (r *Registry) Take(id uuid.UUID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(r.sessions, id)
	return s, nil
}

// Remove deletes a session if present and reports whether it was.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
