package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/internal/observability"
	"github.com/CedrosPay/acquisim/internal/session"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

// RegisterCardToken verifies a merchant request and opens a card-token session. The
// session shares the payment page, the TTL and the one-shot confirm of payment sessions.
func (s *Service) RegisterCardToken(ctx context.Context, req acquiring.RegisterCardTokenRequest) (acquiring.RegisterCardTokenResponse, error) {
	log := logger.FromContext(ctx)

	if err := acquiring.ValidateToken(req, s.secret); err != nil {
		s.rejectInit("unauthorized")
		log.Warn().Msg("card_token.register.unauthorized")
		return acquiring.RegisterCardTokenResponse{}, err
	}
	if err := req.Validate(); err != nil {
		s.rejectInit("invalid_request")
		log.Warn().Err(err).Msg("card_token.register.invalid")
		return acquiring.RegisterCardTokenResponse{}, err
	}

	store := s.bank.StoreAccount()
	id, createdAt := s.registry.CreateRegistration(req, store.Card)
	s.watchdog.Watch(id, createdAt)
	if s.metrics != nil {
		s.metrics.ObserveSessionCreated()
	}

	log.Info().
		Str("session_id", id.String()).
		Str("notification_url", logger.RedactURL(req.NotificationURL)).
		Msg("card_token.register.created")
	s.hooks.EmitSessionStarted(ctx, observability.SessionStartedEvent{
		Timestamp:       createdAt,
		SessionID:       id.String(),
		Kind:            string(session.KindCardToken),
		NotificationURL: req.NotificationURL,
	})

	return acquiring.RegisterCardTokenResponse{
		RegistrationURL: s.PaymentURL(id),
		SessionID:       id.String(),
		OperationStatus: acquiring.StatusSuccess,
	}, nil
}

// register authorizes the cardholder and issues a card token for their account.
func (s *Service) register(ctx context.Context, sess session.Session, card, password string) (string, string) {
	cardID, err := uuid.Parse(card)
	if err != nil {
		return "", ReasonInvalidCard
	}
	if _, err := s.bank.AuthorizeAccount(cardID, password); err != nil {
		return "", s.ledgerReason("authorize", err)
	}
	if sess.Merchant != s.bank.StoreAccount().Card {
		log := logger.FromContext(ctx)
		log.Error().
			Str("session_id", sess.ID.String()).
			Msg("card_token.register.merchant_mismatch")
		return "", ReasonMerchantMismatch
	}

	token, err := s.bank.IssueCardToken(cardID)
	if err != nil {
		return "", s.ledgerReason("issue_card_token", err)
	}
	return token, ""
}

// MakePayment charges a registered card token into the store account without a session.
// A bad token yields acquiring.ErrUnauthorized and a malformed request an
// acquiring.ErrInvalidRequest; a declined charge is a response with status fail.
func (s *Service) MakePayment(ctx context.Context, req acquiring.MakePaymentRequest) (acquiring.MakePaymentResponse, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	if err := acquiring.ValidateToken(req, s.secret); err != nil {
		log.Warn().Int64("amount", req.Amount).Msg("card_token.charge.unauthorized")
		return acquiring.MakePaymentResponse{}, err
	}
	if err := req.Validate(); err != nil {
		log.Warn().Err(err).Msg("card_token.charge.invalid")
		return acquiring.MakePaymentResponse{}, err
	}

	reason := s.charge(ctx, req)
	if s.metrics != nil {
		s.metrics.ObservePayment(reason == "", reason, req.Amount, time.Since(start))
	}
	if reason != "" {
		log.Warn().Str("reason", reason).Int64("amount", req.Amount).Msg("card_token.charge.declined")
		return acquiring.MakePaymentResponse{OperationStatus: acquiring.StatusFail, Reason: reason}, nil
	}

	log.Info().Int64("amount", req.Amount).Msg("card_token.charge.completed")
	return acquiring.MakePaymentResponse{OperationStatus: acquiring.StatusSuccess}, nil
}

func (s *Service) charge(ctx context.Context, req acquiring.MakePaymentRequest) string {
	payer, err := s.bank.ResolveCardToken(req.CardToken)
	if err != nil {
		return s.ledgerReason("resolve_card_token", err)
	}
	if err := s.bank.NewTransaction(payer, s.bank.StoreAccount(), req.Amount); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("ledger.transfer.rejected")
		return s.ledgerReason("transfer", err)
	}
	return ""
}

// CardTokenInfo reports whether a card token can still be charged. Unknown tokens are
// reported inactive.
func (s *Service) CardTokenInfo(ctx context.Context, req acquiring.CardTokenInfoRequest) (acquiring.CardTokenInfoResponse, error) {
	if err := acquiring.ValidateToken(req, s.secret); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Msg("card_token.info.unauthorized")
		return acquiring.CardTokenInfoResponse{}, err
	}
	active, _ := s.bank.CardTokenActive(req.CardToken)
	return acquiring.CardTokenInfoResponse{CardToken: req.CardToken, Active: active}, nil
}
