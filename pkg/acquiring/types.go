// Package acquiring holds the wire contract between merchants and the acquiring simulator:
// request and notification types, the token scheme that authenticates them, and a small client.
package acquiring

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ErrInvalidRequest wraps structural validation failures of a request.
var ErrInvalidRequest = errors.New("acquiring: invalid request")

// OperationStatus reports the outcome of an operation to the merchant.
type OperationStatus string

const (
	StatusSuccess OperationStatus = "success"
	StatusFail    OperationStatus = "fail"
)

// InitPaymentRequest asks the acquirer to open a payment session.
// Amount is in minor currency units.
type InitPaymentRequest struct {
	NotificationURL string `json:"notification_url"`
	SuccessURL      string `json:"success_url"`
	FailURL         string `json:"fail_url"`
	Amount          int64  `json:"amount"`
	Token           string `json:"token"`
}

// NewInitPaymentRequest builds a request and signs it with the terminal secret.
func NewInitPaymentRequest(notificationURL, successURL, failURL string, amount int64, secret string) InitPaymentRequest {
	req := InitPaymentRequest{
		NotificationURL: notificationURL,
		SuccessURL:      successURL,
		FailURL:         failURL,
		Amount:          amount,
	}
	req.Token = GenerateToken(req.SignableFields(), secret)
	return req
}

// SignableFields implements Signable. URLs are signed exactly as transmitted.
func (r InitPaymentRequest) SignableFields() map[string]string {
	return map[string]string{
		"notification_url": r.NotificationURL,
		"success_url":      r.SuccessURL,
		"fail_url":         r.FailURL,
		"amount":           strconv.FormatInt(r.Amount, 10),
	}
}

// RequestToken implements Signable.
func (r InitPaymentRequest) RequestToken() string { return r.Token }

// Validate checks the request is structurally usable. It does not check the token.
func (r InitPaymentRequest) Validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
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

func validateCallbackURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// InitPaymentResponse is returned by the initiate endpoint.
type InitPaymentResponse struct {
	PaymentURL      string          `json:"payment_url,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	OperationStatus OperationStatus `json:"operation_status"`
	Reason          string          `json:"reason,omitempty"`
}

// Credentials are submitted by the cardholder on the payment page.
type Credentials struct {
	CardNumber string `json:"card_number"`
	Password   string `json:"password"`
}

// ConfirmResponse is the JSON body sent alongside the confirm redirect.
type ConfirmResponse struct {
	RedirectURL     string          `json:"redirect_url"`
	OperationStatus OperationStatus `json:"operation_status"`
}

// PaymentPage is the non-destructive view of a pending session.
// Kind is "payment" or "card_token"; card-token sessions carry no amount.
type PaymentPage struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
}

// PaymentNotification is posted to the merchant's notification_url once a session finishes.
type PaymentNotification struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	Status    OperationStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Amount    int64           `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Token     string          `json:"token"`
}

// SignableFields implements Signable.
func (n PaymentNotification) SignableFields() map[string]string {
	return map[string]string{
		"event_id":   n.EventID,
		"session_id": n.SessionID,
		"status":     string(n.Status),
		"reason":     n.Reason,
		"amount":     strconv.FormatInt(n.Amount, 10),
		"timestamp":  n.Timestamp.UTC().Format(time.RFC3339),
	}
}

// RequestToken implements Signable.
func (n PaymentNotification) RequestToken() string { return n.Token }

// Sign sets the notification token.
func (n *PaymentNotification) Sign(secret string) {
	n.Token = GenerateToken(n.SignableFields(), secret)
}
