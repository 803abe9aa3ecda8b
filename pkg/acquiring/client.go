package acquiring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CedrosPay/acquisim/internal/httputil"
)

// Acquirer endpoints relative to its base URL.
const (
	InitPath              = "/api/Init"
	RegisterCardTokenPath = "/api/InitCardTokenRegistration"
	MakePaymentPath       = "/api/MakePayment"
	CardTokenInfoPath     = "/api/CardTokenInfo"
)

// Client talks to an acquiring simulator on behalf of a merchant.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient returns a client for the acquirer at baseURL using the terminal secret.
func NewClient(baseURL, secret string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    httputil.NewClient(10 * time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitPayment signs and submits an initiate request.
// Any non-success answer from the acquirer is returned as an error carrying the response body.
func (c *Client) InitPayment(ctx context.Context, notificationURL, successURL, failURL string, amount int64) (InitPaymentResponse, error) {
	req := NewInitPaymentRequest(notificationURL, successURL, failURL, amount, c.secret)
	var out InitPaymentResponse
	status, raw, err := c.post(ctx, InitPath, req, &out)
	if err != nil {
		return InitPaymentResponse{}, fmt.Errorf("init payment: %w", err)
	}
	if status != http.StatusOK || out.OperationStatus != StatusSuccess {
		return out, fmt.Errorf("init failed with status %d: %s", status, raw)
	}
	return out, nil
}

// RegisterCardToken opens a card-token registration session.
func (c *Client) RegisterCardToken(ctx context.Context, notificationURL, successURL, failURL string) (RegisterCardTokenResponse, error) {
	req := NewRegisterCardTokenRequest(notificationURL, successURL, failURL, c.secret)
	var out RegisterCardTokenResponse
	status, raw, err := c.post(ctx, RegisterCardTokenPath, req, &out)
	if err != nil {
		return RegisterCardTokenResponse{}, fmt.Errorf("register card token: %w", err)
	}
	if status != http.StatusOK || out.OperationStatus != StatusSuccess {
		return out, fmt.Errorf("registration failed with status %d: %s", status, raw)
	}
	return out, nil
}

// MakePayment charges a registered card token. A declined charge is returned without error;
// check OperationStatus.
func (c *Client) MakePayment(ctx context.Context, cardToken string, amount int64) (MakePaymentResponse, error) {
	req := NewMakePaymentRequest(cardToken, amount, c.secret)
	var out MakePaymentResponse
	status, raw, err := c.post(ctx, MakePaymentPath, req, &out)
	if err != nil {
		return MakePaymentResponse{}, fmt.Errorf("make payment: %w", err)
	}
	if status != http.StatusOK {
		return out, fmt.Errorf("make payment failed with status %d: %s", status, raw)
	}
	return out, nil
}

// CardTokenInfo reports whether a card token can still be charged.
func (c *Client) CardTokenInfo(ctx context.Context, cardToken string) (CardTokenInfoResponse, error) {
	req := NewCardTokenInfoRequest(cardToken, c.secret)
	var out CardTokenInfoResponse
	status, raw, err := c.post(ctx, CardTokenInfoPath, req, &out)
	if err != nil {
		return CardTokenInfoResponse{}, fmt.Errorf("card token info: %w", err)
	}
	if status != http.StatusOK {
		return out, fmt.Errorf("card token info failed with status %d: %s", status, raw)
	}
	return out, nil
}

// post sends req as JSON and decodes a JSON answer into out. Non-2xx answers are decoded
// too when possible; the trimmed body is returned for error messages.
func (c *Client) post(ctx context.Context, path string, req, out any) (int, string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode == http.StatusOK {
		return resp.StatusCode, trimmed, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, trimmed, nil
}

// VerifyNotification checks a notification received from the acquirer.
func (c *Client) VerifyNotification(n PaymentNotification) error {
	return ValidateToken(n, c.secret)
}

// VerifyCardTokenNotification checks a registration notification received from the acquirer.
func (c *Client) VerifyCardTokenNotification(n CardTokenNotification) error {
	return ValidateToken(n, c.secret)
}
