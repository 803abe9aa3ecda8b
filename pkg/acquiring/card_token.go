package acquiring

import (
	"fmt"
	"strconv"
	"time"
)

// RegisterCardTokenRequest asks the acquirer to open a card-token registration session.
// The cardholder authenticates once on the registration page; the merchant then receives a
// card token it can charge later without the cardholder present.
type RegisterCardTokenRequest struct {
	NotificationURL string `json:"notification_url"`
	SuccessURL      string `json:"success_url"`
	FailURL         string `json:"fail_url"`
	Token           string `json:"token"`
}

// NewRegisterCardTokenRequest builds a registration request signed with the terminal secret.
func NewRegisterCardTokenRequest(notificationURL, successURL, failURL, secret string) RegisterCardTokenRequest {
	req := RegisterCardTokenRequest{
		NotificationURL: notificationURL,
		SuccessURL:      successURL,
		FailURL:         failURL,
	}
	req.Token = GenerateToken(req.SignableFields(), secret)
	return req
}

// SignableFields implements Signable.
func (r RegisterCardTokenRequest) SignableFields() map[string]string {
	return map[string]string{
		"notification_url": r.NotificationURL,
		"success_url":      r.SuccessURL,
		"fail_url":         r.FailURL,
	}
}

// RequestToken implements Signable.
func (r RegisterCardTokenRequest) RequestToken() string { return r.Token }

// Validate checks the three callback URLs.
func (r RegisterCardTokenRequest) Validate() error {
	for name, raw := range map[string]string{
		"notification_url": r.NotificationURL,
		"success_url":      r.SuccessURL,
		"fail_url":         r.FailURL,
	} {
		if err := validateCallbackURL(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, name, err)
		}
	}
	return nil
}

// RegisterCardTokenResponse is returned by the registration endpoint.
type RegisterCardTokenResponse struct {
	RegistrationURL string          `json:"registration_url,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	OperationStatus OperationStatus `json:"operation_status"`
	Reason          string          `json:"reason,omitempty"`
}

// MakePaymentRequest charges a registered card token. Amount is in minor currency units.
type MakePaymentRequest struct {
	CardToken string `json:"card_token"`
	Amount    int64  `json:"amount"`
	Token     string `json:"token"`
}

// NewMakePaymentRequest builds a charge signed with the terminal secret.
func NewMakePaymentRequest(cardToken string, amount int64, secret string) MakePaymentRequest {
	req := MakePaymentRequest{CardToken: cardToken, Amount: amount}
	req.Token = GenerateToken(req.SignableFields(), secret)
	return req
}

// SignableFields implements Signable.
func (r MakePaymentRequest) SignableFields() map[string]string {
	return map[string]string{
		"card_token": r.CardToken,
		"amount":     strconv.FormatInt(r.Amount, 10),
	}
}

// RequestToken implements Signable.
func (r MakePaymentRequest) RequestToken() string { return r.Token }

// Validate checks the charge is structurally usable. It does not check the token.
func (r MakePaymentRequest) Validate() error {
	if r.CardToken == "" {
		return fmt.Errorf("%w: card_token is required", ErrInvalidRequest)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// MakePaymentResponse reports the outcome of a token charge. A declined charge is a
// successful call with OperationStatus fail.
type MakePaymentResponse struct {
	OperationStatus OperationStatus `json:"operation_status"`
	Reason          string          `json:"reason,omitempty"`
}

// CardTokenInfoRequest asks whether a card token can still be charged.
type CardTokenInfoRequest struct {
	CardToken string `json:"card_token"`
	Token     string `json:"token"`
}

// NewCardTokenInfoRequest builds a lookup signed with the terminal secret.
func NewCardTokenInfoRequest(cardToken, secret string) CardTokenInfoRequest {
	req := CardTokenInfoRequest{CardToken: cardToken}
	req.Token = GenerateToken(req.SignableFields(), secret)
	return req
}

// SignableFields implements Signable.
func (r CardTokenInfoRequest) SignableFields() map[string]string {
	return map[string]string{"card_token": r.CardToken}
}

// RequestToken implements Signable.
func (r CardTokenInfoRequest) RequestToken() string { return r.Token }

// CardTokenInfoResponse tells whether the token's account is still open.
type CardTokenInfoResponse struct {
	CardToken string `json:"card_token"`
	Active    bool   `json:"active"`
}

// CardTokenNotification is posted to the merchant's notification_url once a registration
// session finishes. CardToken is set only on success.
type CardTokenNotification struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Status    OperationStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	CardToken string          `json:"card_token,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Token     string          `json:"token"`
}

// SignableFields implements Signable.
func (n CardTokenNotification) SignableFields() map[string]string {
	return map[string]string{
		"event_id":   n.EventID,
		"session_id": n.SessionID,
		"status":     string(n.Status),
		"reason":     n.Reason,
		"card_token": n.CardToken,
		"timestamp":  n.Timestamp.UTC().Format(time.RFC3339),
	}
}

// RequestToken implements Signable.
func (n CardTokenNotification) RequestToken() string { return n.Token }

// Sign sets the notification token.
func (n *CardTokenNotification) Sign(secret string) {
	n.Token = GenerateToken(n.SignableFields(), secret)
}
