// Package payment drives a payment session from merchant initiation to cardholder
// confirmation.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/acquisim/internal/bank"
	"github.com/CedrosPay/acquisim/internal/callbacks"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/internal/metrics"
	"github.com/CedrosPay/acquisim/internal/observability"
	"github.com/CedrosPay/acquisim/internal/session"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

// PagePath prefixes the cardholder-facing page of every session kind.
const PagePath = "/payment/"

// Failure reasons reported to merchants and metrics.
const (
	ReasonNotAuthorized     = bank.ReasonNotAuthorized
	ReasonInvalidCard       = "invalid_card"
	ReasonAccountNotFound   = bank.ReasonAccountNotFound
	ReasonAccountDeleted    = bank.ReasonAccountDeleted
	ReasonMerchantMismatch  = "merchant_mismatch"
	ReasonNotEnoughFunds    = bank.ReasonNotEnoughFunds
	ReasonBadTransaction    = bank.ReasonBadTransaction
	ReasonCardTokenNotFound = bank.ReasonCardTokenNotFound
	ReasonExpired           = "expired"
	ReasonInternal          = bank.ReasonInternal
)

// Config configures a Service.
type Config struct {
	// TerminalPassword is the secret merchants sign initiation requests with.
	TerminalPassword string
	// PublicURL is the externally reachable base URL of the simulator.
	PublicURL string
	// TTL bounds how long a session waits for the cardholder.
	TTL time.Duration
}

// Outcome is the result of a confirmation attempt that found its session.
// CardToken is set when a card-token session succeeded.
type Outcome struct {
	SessionID   uuid.UUID
	Kind        session.Kind
	CardToken   string
	Status      acquiring.OperationStatus
	RedirectURL string
	Reason      string
	Amount      int64
}

// Succeeded reports whether money moved.
func (o Outcome) Succeeded() bool { return o.Status == acquiring.StatusSuccess }

// Service is the payment flow controller.
type Service struct {
	bank      *bank.Bank
	registry  *session.Registry
	watchdog  *session.Watchdog
	notifier  callbacks.Notifier
	metrics   *metrics.Metrics
	hooks     *observability.Registry
	logger    zerolog.Logger
	secret    string
	publicURL string
}

// Option customises a Service.
type Option func(*Service)

// WithNotifier sets where finished sessions are reported.
func WithNotifier(n callbacks.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHooks reports session lifecycle events to hooks.
func WithHooks(hooks *observability.Registry) Option {
	return func(s *Service) { s.hooks = hooks }
}

// WithLogger sets the logger used outside request scope, e.g. on expiry.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService wires a flow controller over b with its own session registry and watchdog.
func NewService(b *bank.Bank, cfg Config, opts ...Option) *Service {
	s := &Service{
		bank:      b,
		registry:  session.NewRegistry(),
		notifier:  callbacks.NoopNotifier{},
		logger:    zerolog.Nop(),
		secret:    cfg.TerminalPassword,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.watchdog = session.NewWatchdog(s.registry, cfg.TTL, session.WithExpireHook(s.expired))
	return s
}

// Initiate verifies a merchant request and opens a session for it.
// A bad token yields acquiring.ErrUnauthorized and no session.
func (s *Service) Initiate(ctx context.Context, req acquiring.InitPaymentRequest) (acquiring.InitPaymentResponse, error) {
	log := logger.FromContext(ctx)

	if err := acquiring.ValidateToken(req, s.secret); err != nil {
		s.rejectInit("unauthorized")
		log.Warn().Int64("amount", req.Amount).Msg("payment.initiate.unauthorized")
		return acquiring.InitPaymentResponse{}, err
	}
	if err := req.Validate(); err != nil {
		s.rejectInit("invalid_request")
		log.Warn().Err(err).Msg("payment.initiate.invalid")
		return acquiring.InitPaymentResponse{}, err
	}

	store := s.bank.StoreAccount()
	id, createdAt := s.registry.Create(req, store.Card)
	s.watchdog.Watch(id, createdAt)
	if s.metrics != nil {
		s.metrics.ObserveSessionCreated()
	}

	log.Info().
		Str("session_id", id.String()).
		Int64("amount", req.Amount).
		Str("notification_url", logger.RedactURL(req.NotificationURL)).
		Msg("payment.initiate.created")
	s.hooks.EmitSessionStarted(ctx, observability.SessionStartedEvent{
		Timestamp:       createdAt,
		SessionID:       id.String(),
		Kind:            string(session.KindPayment),
		Amount:          req.Amount,
		NotificationURL: req.NotificationURL,
	})

	return acquiring.InitPaymentResponse{
		PaymentURL:      s.PaymentURL(id),
		SessionID:       id.String(),
		OperationStatus: acquiring.StatusSuccess,
	}, nil
}

func (s *Service) rejectInit(reason string) {
	if s.metrics != nil {
		s.metrics.ObserveInitRejected(reason)
	}
}

// PaymentURL is where the cardholder completes session id.
func (s *Service) PaymentURL(id uuid.UUID) string {
	return s.publicURL + PagePath + id.String()
}

// Page returns what the payment form shows without consuming the session.
func (s *Service) Page(id uuid.UUID) (acquiring.PaymentPage, error) {
	sess, err := s.registry.Peek(id)
	if err != nil {
		return acquiring.PaymentPage{}, err
	}
	return acquiring.PaymentPage{
		SessionID: sess.ID.String(),
		Kind:      string(sess.Kind),
		Amount:    sess.Amount(),
	}, nil
}

// Confirm completes session id with the cardholder's credentials.
// The session is consumed before anything else, so it is one-shot whatever the outcome.
// The only error is session.ErrNotFound; every other failure is an Outcome pointing at fail_url.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, card, password string) (Outcome, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With().Str("session_id", id.String()).Logger()

	sess, err := s.registry.Take(id)
	if err != nil {
		log.Debug().Msg("payment.confirm.session_missing")
		return Outcome{}, err
	}
	s.watchdog.Cancel(id)

	out := Outcome{
		SessionID: sess.ID,
		Kind:      sess.Kind,
		Amount:    sess.Amount(),
	}
	if sess.Kind == session.KindCardToken {
		out.CardToken, out.Reason = s.register(ctx, sess, card, password)
	} else {
		out.Reason = s.settle(ctx, sess, card, password)
	}

	if out.Reason == "" {
		out.Status = acquiring.StatusSuccess
		out.RedirectURL = sess.SuccessURL()
		log.Info().
			Str("kind", string(sess.Kind)).
			Str("card", logger.TruncateCard(card)).
			Int64("amount", out.Amount).
			Msg("payment.confirm.completed")
	} else {
		out.Status = acquiring.StatusFail
		out.RedirectURL = sess.FailURL()
		log.Warn().
			Str("kind", string(sess.Kind)).
			Str("card", logger.TruncateCard(card)).
			Str("reason", out.Reason).
			Msg("payment.confirm.failed")
	}

	if s.metrics != nil {
		s.metrics.ObserveSessionClosed(false)
		if sess.Kind == session.KindCardToken {
			s.metrics.ObserveCardTokenRegistration(out.Succeeded(), out.Reason)
		} else {
			s.metrics.ObservePayment(out.Succeeded(), out.Reason, out.Amount, time.Since(start))
		}
	}
	s.finish(ctx, sess, out)
	return out, nil
}

// settle authorizes the cardholder and moves the money. It returns the failure reason or "".
func (s *Service) settle(ctx context.Context, sess session.Session, card, password string) string {
	cardID, err := uuid.Parse(card)
	if err != nil {
		return ReasonInvalidCard
	}

	payer, err := s.bank.AuthorizeAccount(cardID, password)
	if err != nil {
		return s.ledgerReason("authorize", err)
	}

	store := s.bank.StoreAccount()
	if sess.Merchant != store.Card {
		log := logger.FromContext(ctx)
		log.Error().
			Str("session_id", sess.ID.String()).
			Msg("payment.confirm.merchant_mismatch")
		return ReasonMerchantMismatch
	}

	if err := s.bank.NewTransaction(payer, store, sess.Amount()); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("ledger.transfer.rejected")
		return s.ledgerReason("transfer", err)
	}
	return ""
}

func (s *Service) ledgerReason(operation string, err error) string {
	reason := bank.Reason(err)
	if s.metrics != nil {
		s.metrics.ObserveLedgerRejected(operation, reason)
	}
	return reason
}

// finish tells the merchant and hooks how the session ended. Delivery never affects the
// cardholder.
func (s *Service) finish(ctx context.Context, sess session.Session, out Outcome) {
	now := time.Now().UTC()
	s.hooks.EmitSessionFinished(ctx, observability.SessionFinishedEvent{
		Timestamp: now,
		SessionID: sess.ID.String(),
		Kind:      string(sess.Kind),
		Amount:    sess.Amount(),
		Success:   out.Succeeded(),
		Reason:    out.Reason,
		Expired:   out.Reason == ReasonExpired,
		Duration:  now.Sub(sess.CreatedAt),
	})

	if sess.Kind == session.KindCardToken {
		s.notifier.CardTokenFinished(ctx, sess.NotificationURL(), acquiring.CardTokenNotification{
			SessionID: sess.ID.String(),
			Status:    out.Status,
			Reason:    out.Reason,
			CardToken: out.CardToken,
		})
		return
	}
	s.notifier.PaymentFinished(ctx, sess.NotificationURL(), acquiring.PaymentNotification{
		SessionID: sess.ID.String(),
		Status:    out.Status,
		Reason:    out.Reason,
		Amount:    sess.Amount(),
	})
}

func (s *Service) expired(sess session.Session) {
	if s.metrics != nil {
		s.metrics.ObserveSessionClosed(true)
		if sess.Kind == session.KindCardToken {
			s.metrics.ObserveCardTokenRegistration(false, ReasonExpired)
		}
	}
	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("kind", string(sess.Kind)).
		Dur("ttl", s.watchdog.TTL()).
		Msg("session.expired")
	s.finish(context.Background(), sess, Outcome{
		SessionID: sess.ID,
		Kind:      sess.Kind,
		Status:    acquiring.StatusFail,
		Reason:    ReasonExpired,
		Amount:    sess.Amount(),
	})
}

// ActiveSessions returns the number of sessions awaiting confirmation.
func (s *Service) ActiveSessions() int {
	return s.registry.Len()
}

// Close disarms pending expiry timers. Pending sessions are dropped with the process.
func (s *Service) Close() error {
	s.watchdog.Stop()
	return nil
}

// ParseSessionID parses a session identifier from a URL path segment.
func ParseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed session id", session.ErrNotFound)
	}
	return id, nil
}
