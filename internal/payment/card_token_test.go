package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CedrosPay/acquisim/internal/session"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

func (f fixture) register(t *testing.T) uuid.UUID {
	t.Helper()
	req := acquiring.NewRegisterCardTokenRequest(notifyURL, successURL, failURL, terminalSecret)
	resp, err := f.svc.RegisterCardToken(context.Background(), req)
	if err != nil {
		t.Fatalf("RegisterCardToken: %v", err)
	}
	if resp.OperationStatus != acquiring.StatusSuccess {
		t.Fatalf("OperationStatus = %q", resp.OperationStatus)
	}
	if want := "http://acquirer.test/payment/" + resp.SessionID; resp.RegistrationURL != want {
		t.Errorf("RegistrationURL = %q, want %q", resp.RegistrationURL, want)
	}
	return uuid.MustParse(resp.SessionID)
}

// issueToken registers card through a card-token session and returns the merchant's token.
func (f fixture) issueToken(t *testing.T, card uuid.UUID, password string) string {
	t.Helper()
	id := f.register(t)
	out, err := f.svc.Confirm(context.Background(), id, card.String(), password)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !out.Succeeded() || out.CardToken == "" {
		t.Fatalf("registration outcome = %+v", out)
	}
	return out.CardToken
}

func (f fixture) charge(t *testing.T, token string, amount int64) acquiring.MakePaymentResponse {
	t.Helper()
	resp, err := f.svc.MakePayment(context.Background(), acquiring.NewMakePaymentRequest(token, amount, terminalSecret))
	if err != nil {
		t.Fatalf("MakePayment: %v", err)
	}
	return resp
}

func TestService_CardTokenRegistration(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 1000)
	id := f.register(t)

	page, err := f.svc.Page(id)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if page.Kind != string(session.KindCardToken) || page.Amount != 0 {
		t.Errorf("page = %+v", page)
	}

	out, err := f.svc.Confirm(context.Background(), id, card.String(), "p")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !out.Succeeded() || out.RedirectURL != successURL || out.Kind != session.KindCardToken {
		t.Errorf("outcome = %+v", out)
	}
	if _, err := f.svc.Confirm(context.Background(), id, card.String(), "p"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("second Confirm err = %v, want ErrNotFound", err)
	}
	if got := len(f.bank.ListTransactions()); got != 1 {
		t.Errorf("registration moved money: %d transactions", got)
	}

	tokens := f.notifier.cardTokens()
	if len(tokens) != 1 || tokens[0].CardToken != out.CardToken || tokens[0].Status != acquiring.StatusSuccess ||
		tokens[0].SessionID != id.String() {
		t.Errorf("card token notifications = %+v", tokens)
	}
	if len(f.notifier.all()) != 0 {
		t.Errorf("payment notification sent for a registration: %+v", f.notifier.all())
	}
	if got := testutil.ToFloat64(f.metrics.CardTokensTotal.WithLabelValues("success", "")); got != 1 {
		t.Errorf("card tokens metric = %v", got)
	}
}

func TestService_CardTokenRegistrationFailures(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 0)

	tests := []struct {
		name     string
		card     string
		password string
		reason   string
	}{
		{"wrong password", card.String(), "nope", ReasonNotAuthorized},
		{"unknown card", uuid.NewString(), "p", ReasonAccountNotFound},
		{"garbage card", "1234", "p", ReasonInvalidCard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := f.register(t)
			out, err := f.svc.Confirm(context.Background(), id, tt.card, tt.password)
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if out.Succeeded() || out.Reason != tt.reason || out.RedirectURL != failURL || out.CardToken != "" {
				t.Errorf("outcome = %+v, want reason %q", out, tt.reason)
			}
		})
	}

	for _, n := range f.notifier.cardTokens() {
		if n.CardToken != "" || n.Status != acquiring.StatusFail {
			t.Errorf("failed registration leaked a token: %+v", n)
		}
	}
}

func TestService_RegisterCardTokenRejectsBadRequests(t *testing.T) {
	f := newFixture(t, time.Hour)

	forged := acquiring.NewRegisterCardTokenRequest(notifyURL, successURL, failURL, "wrong-secret")
	if _, err := f.svc.RegisterCardToken(context.Background(), forged); !errors.Is(err, acquiring.ErrUnauthorized) {
		t.Errorf("forged err = %v, want ErrUnauthorized", err)
	}
	relative := acquiring.NewRegisterCardTokenRequest("/notify", successURL, failURL, terminalSecret)
	if _, err := f.svc.RegisterCardToken(context.Background(), relative); !errors.Is(err, acquiring.ErrInvalidRequest) {
		t.Errorf("relative url err = %v, want ErrInvalidRequest", err)
	}
	if f.svc.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0", f.svc.ActiveSessions())
	}
}

func TestService_CardTokenRegistrationExpires(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.register(t)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.notifier.cardTokens()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	tokens := f.notifier.cardTokens()
	if len(tokens) != 1 || tokens[0].Status != acquiring.StatusFail || tokens[0].Reason != ReasonExpired {
		t.Fatalf("card token notifications = %+v", tokens)
	}
	if got := testutil.ToFloat64(f.metrics.CardTokensTotal.WithLabelValues("fail", ReasonExpired)); got != 1 {
		t.Errorf("expired registrations metric = %v", got)
	}
}

func TestService_MakePayment(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 1000)
	token := f.issueToken(t, card, "p")

	if resp := f.charge(t, token, 600); resp.OperationStatus != acquiring.StatusSuccess {
		t.Fatalf("first charge = %+v", resp)
	}
	if got := f.balance(card); got != 400 {
		t.Errorf("balance = %d, want 400", got)
	}
	if got := f.bank.StoreBalance(); got != 600 {
		t.Errorf("StoreBalance = %d, want 600", got)
	}

	resp := f.charge(t, token, 401)
	if resp.OperationStatus != acquiring.StatusFail || resp.Reason != ReasonNotEnoughFunds {
		t.Errorf("overdraft charge = %+v", resp)
	}
	if got := f.balance(card); got != 400 {
		t.Errorf("balance after declined charge = %d, want 400", got)
	}

	if resp := f.charge(t, "unknown-token", 1); resp.Reason != ReasonCardTokenNotFound {
		t.Errorf("unknown token charge = %+v", resp)
	}

	if err := f.bank.DeleteAccount(card); err != nil {
		t.Fatal(err)
	}
	if resp := f.charge(t, token, 1); resp.Reason != ReasonAccountDeleted {
		t.Errorf("charge after delete = %+v", resp)
	}
	info, err := f.svc.CardTokenInfo(context.Background(), acquiring.NewCardTokenInfoRequest(token, terminalSecret))
	if err != nil || info.Active {
		t.Errorf("CardTokenInfo after delete = %+v, %v", info, err)
	}
}

func TestService_MakePaymentRejectsBadRequests(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 1000)
	token := f.issueToken(t, card, "p")

	tampered := acquiring.NewMakePaymentRequest(token, 1, terminalSecret)
	tampered.Amount = 1000
	if _, err := f.svc.MakePayment(context.Background(), tampered); !errors.Is(err, acquiring.ErrUnauthorized) {
		t.Errorf("tampered err = %v, want ErrUnauthorized", err)
	}
	zero := acquiring.NewMakePaymentRequest(token, 0, terminalSecret)
	if _, err := f.svc.MakePayment(context.Background(), zero); !errors.Is(err, acquiring.ErrInvalidRequest) {
		t.Errorf("zero amount err = %v, want ErrInvalidRequest", err)
	}
	if _, err := f.svc.CardTokenInfo(context.Background(), acquiring.NewCardTokenInfoRequest(token, "wrong")); !errors.Is(err, acquiring.ErrUnauthorized) {
		t.Errorf("info err = %v, want ErrUnauthorized", err)
	}
	if got := f.balance(card); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
}
