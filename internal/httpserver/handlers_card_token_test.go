package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/CedrosPay/acquisim/internal/bank"
	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

func TestCardTokenRegistration_Browser(t *testing.T) {
	env := newTestEnv(t, nil)
	card := env.openAccount(t, "p", 0)

	req := acquiring.NewRegisterCardTokenRequest(notifyURL, successURL, failURL, terminalSecret)
	rec := env.do(t, jsonRequest(t, http.MethodPost, acquiring.RegisterCardTokenPath, req))
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body)
	}
	var resp acquiring.RegisterCardTokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OperationStatus != acquiring.StatusSuccess || resp.RegistrationURL != "http://acquirer.test/payment/"+resp.SessionID {
		t.Fatalf("register response = %+v", resp)
	}

	page := env.do(t, httptest.NewRequest(http.MethodGet, "/payment/"+resp.SessionID, nil))
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), "Register card") {
		t.Fatalf("registration page = %d:\n%s", page.Code, page.Body)
	}

	form := url.Values{"card_number": {card.String()}, "password": {"p"}}
	confirm := httptest.NewRequest(http.MethodPost, "/payment/"+resp.SessionID, strings.NewReader(form.Encode()))
	confirm.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = env.do(t, confirm)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != successURL {
		t.Fatalf("confirm = %d Location %q", rec.Code, rec.Header().Get("Location"))
	}
	if strings.Contains(rec.Body.String(), "card_token") {
		t.Error("card token exposed to the cardholder")
	}
}

func TestCardTokenRegistration_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)

	forged := acquiring.NewRegisterCardTokenRequest(notifyURL, successURL, failURL, "wrong")
	if rec := env.do(t, jsonRequest(t, http.MethodPost, acquiring.RegisterCardTokenPath, forged)); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged status = %d", rec.Code)
	}
	bad := acquiring.NewRegisterCardTokenRequest("notify", successURL, failURL, terminalSecret)
	rec := env.do(t, jsonRequest(t, http.MethodPost, acquiring.RegisterCardTokenPath, bad))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != apierrors.ErrCodeInvalidField {
		t.Errorf("invalid code = %s", e.Code)
	}
}

func TestMakePayment_HTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	card := env.openAccount(t, "p", 500)
	token, err := env.bank.IssueCardToken(card)
	if err != nil {
		t.Fatal(err)
	}

	charge := func(amount int64, secret string) *httptest.ResponseRecorder {
		return env.do(t, jsonRequest(t, http.MethodPost, acquiring.MakePaymentPath, acquiring.NewMakePaymentRequest(token, amount, secret)))
	}

	rec := charge(200, terminalSecret)
	var resp acquiring.MakePaymentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp.OperationStatus != acquiring.StatusSuccess {
		t.Fatalf("charge = %d %+v", rec.Code, resp)
	}
	if got := env.bank.StoreBalance(); got != 200 {
		t.Errorf("StoreBalance = %d, want 200", got)
	}

	rec = charge(301, terminalSecret)
	resp = acquiring.MakePaymentResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || resp.OperationStatus != acquiring.StatusFail || resp.Reason != bank.ReasonNotEnoughFunds {
		t.Errorf("declined charge = %d %+v", rec.Code, resp)
	}

	if rec := charge(1, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged charge status = %d", rec.Code)
	}
	if got := env.bank.Balance(bank.Account{Card: card}); got != 300 {
		t.Errorf("balance = %d, want 300", got)
	}

	info := env.do(t, jsonRequest(t, http.MethodPost, acquiring.CardTokenInfoPath, acquiring.NewCardTokenInfoRequest(token, terminalSecret)))
	var status acquiring.CardTokenInfoResponse
	if err := json.NewDecoder(info.Body).Decode(&status); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Code != http.StatusOK || !status.Active || status.CardToken != token {
		t.Errorf("info = %d %+v", info.Code, status)
	}
}

func TestMakePayment_IdempotencyKeyChargesOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	card := env.openAccount(t, "p", 500)
	token, err := env.bank.IssueCardToken(card)
	if err != nil {
		t.Fatal(err)
	}

	body := acquiring.NewMakePaymentRequest(token, 100, terminalSecret)
	for i := 0; i < 2; i++ {
		req := jsonRequest(t, http.MethodPost, acquiring.MakePaymentPath, body)
		req.Header.Set("Idempotency-Key", "charge-1")
		if rec := env.do(t, req); rec.Code != http.StatusOK {
			t.Fatalf("charge #%d status = %d", i, rec.Code)
		}
	}
	if got := env.bank.StoreBalance(); got != 100 {
		t.Errorf("StoreBalance = %d, want 100", got)
	}
}
