package acquiring

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestGenerateToken_KnownVector(t *testing.T) {
	req := InitPaymentRequest{
		NotificationURL: "http://m/n",
		SuccessURL:      "http://m/ok",
		FailURL:         "http://m/fail",
		Amount:          1000,
	}

	// amount, fail_url, notification_url, password, success_url
	want := "113f96bf5aa36224ea35f6550c8f91409450e3a0e9054d54969e7d6c8c26c164"
	if got := GenerateToken(req.SignableFields(), "secret"); got != want {
		t.Fatalf("GenerateToken() = %s, want %s", got, want)
	}
}

func TestGenerateToken_NoFields(t *testing.T) {
	want := "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := GenerateToken(nil, "secret"); got != want {
		t.Fatalf("GenerateToken(nil) = %s, want %s", got, want)
	}
}

func TestGenerateToken_Deterministic(t *testing.T) {
	fields := map[string]string{"b": "2", "a": "1", "c": "3"}
	first := GenerateToken(fields, "k")
	for i := 0; i < 20; i++ {
		if got := GenerateToken(fields, "k"); got != first {
			t.Fatalf("iteration %d: token changed from %s to %s", i, first, got)
		}
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}
}

func TestGenerateToken_DoesNotMutateInput(t *testing.T) {
	fields := map[string]string{"amount": "1"}
	GenerateToken(fields, "k")
	if _, ok := fields[SecretField]; ok {
		t.Fatal("secret leaked into caller's map")
	}
}

func TestValidateToken(t *testing.T) {
	const secret = "terminal-secret"
	valid := NewInitPaymentRequest("http://m/n", "http://m/ok", "http://m/fail", 500, secret)

	if err := ValidateToken(valid, secret); err != nil {
		t.Fatalf("ValidateToken(valid) = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *InitPaymentRequest)
		secret string
	}{
		{"wrong secret", func(r *InitPaymentRequest) {}, "other"},
		{"amount changed", func(r *InitPaymentRequest) { r.Amount = 501 }, secret},
		{"success url changed", func(r *InitPaymentRequest) { r.SuccessURL = "http://evil/ok" }, secret},
		{"fail url changed", func(r *InitPaymentRequest) { r.FailURL = "http://evil/fail" }, secret},
		{"notification url changed", func(r *InitPaymentRequest) { r.NotificationURL = "http://evil/n" }, secret},
		{"token changed", func(r *InitPaymentRequest) { r.Token = "00" + r.Token[2:] }, secret},
		{"empty token", func(r *InitPaymentRequest) { r.Token = "" }, secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := ValidateToken(r, tt.secret); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("ValidateToken() = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestPaymentNotification_Sign(t *testing.T) {
	signed := PaymentNotification{
		EventID:   "evt_1",
		SessionID: "sess",
		Status:    StatusFail,
		Reason:    "insufficient_funds",
		Amount:    42,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	signed.Sign("s")
	if err := ValidateToken(signed, "s"); err != nil {
		t.Fatalf("ValidateToken() = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*PaymentNotification)
	}{
		{"status", func(n *PaymentNotification) { n.Status = StatusSuccess }},
		{"reason", func(n *PaymentNotification) { n.Reason = "expired" }},
		{"amount", func(n *PaymentNotification) { n.Amount = 43 }},
		{"timestamp", func(n *PaymentNotification) { n.Timestamp = n.Timestamp.Add(time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := signed
			tt.mutate(&n)
			if err := ValidateToken(n, "s"); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("tampered %s: ValidateToken() = %v, want ErrUnauthorized", tt.name, err)
			}
		})
	}
}

func TestPaymentNotification_SignatureSurvivesJSON(t *testing.T) {
	n := PaymentNotification{
		EventID:   "evt_2",
		SessionID: "sess",
		Status:    StatusSuccess,
		Amount:    7,
		Timestamp: time.Date(2024, 3, 1, 14, 0, 0, 0, time.FixedZone("CET", 3600)),
	}
	n.Sign("s")

	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	var got PaymentNotification
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if err := ValidateToken(got, "s"); err != nil {
		t.Errorf("ValidateToken(decoded) = %v", err)
	}
}

func TestInitPaymentRequest_Validate(t *testing.T) {
	good := InitPaymentRequest{
		NotificationURL: "https://shop.example/notify",
		SuccessURL:      "https://shop.example/ok",
		FailURL:         "https://shop.example/fail",
		Amount:          1,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate(good) = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *InitPaymentRequest)
	}{
		{"zero amount", func(r *InitPaymentRequest) { r.Amount = 0 }},
		{"negative amount", func(r *InitPaymentRequest) { r.Amount = -5 }},
		{"missing success url", func(r *InitPaymentRequest) { r.SuccessURL = "" }},
		{"relative fail url", func(r *InitPaymentRequest) { r.FailURL = "/fail" }},
		{"ftp notification url", func(r *InitPaymentRequest) { r.NotificationURL = "ftp://shop.example/n" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := good
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Validate() = %v, want ErrInvalidRequest", err)
			}
		})
	}
}
