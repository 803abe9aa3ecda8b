package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/acquisim/internal/bank"
	"github.com/CedrosPay/acquisim/internal/metrics"
	"github.com/CedrosPay/acquisim/internal/observability"
	"github.com/CedrosPay/acquisim/internal/session"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
)

const (
	terminalSecret = "terminal-secret"
	successURL     = "http://shop.test/ok"
	failURL        = "http://shop.test/fail"
	notifyURL      = "http://shop.test/notify"
)

type sentNotification struct {
	url string
	n   acquiring.PaymentNotification
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   []sentNotification
	tokens []acquiring.CardTokenNotification
}

func (r *recordingNotifier) PaymentFinished(_ context.Context, url string, n acquiring.PaymentNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{url: url, n: n})
}

func (r *recordingNotifier) CardTokenFinished(_ context.Context, _ string, n acquiring.CardTokenNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, n)
}

func (r *recordingNotifier) cardTokens() []acquiring.CardTokenNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]acquiring.CardTokenNotification(nil), r.tokens...)
}

func (r *recordingNotifier) all() []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentNotification(nil), r.sent...)
}

type fixture struct {
	svc      *Service
	bank     *bank.Bank
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, ttl time.Duration) fixture {
	t.Helper()
	b := bank.New(bank.Config{Username: "bank", Password: "cashbox"})
	n := &recordingNotifier{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(b, Config{
		TerminalPassword: terminalSecret,
		PublicURL:        "http://acquirer.test/",
		TTL:              ttl,
	}, WithNotifier(n), WithMetrics(m))
	t.Cleanup(func() { svc.Close() })
	return fixture{svc: svc, bank: b, notifier: n, metrics: m}
}

// fundedCard opens an account with the given balance.
func (f fixture) fundedCard(t *testing.T, password string, balance int64) uuid.UUID {
	t.Helper()
	card := f.bank.AddAccount(password)
	if balance > 0 {
		if err := f.bank.OpenCredit(card, balance); err != nil {
			t.Fatalf("OpenCredit: %v", err)
		}
	}
	return card
}

func (f fixture) initiate(t *testing.T, amount int64) uuid.UUID {
	t.Helper()
	req := acquiring.NewInitPaymentRequest(notifyURL, successURL, failURL, amount, terminalSecret)
	resp, err := f.svc.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	id, err := uuid.Parse(resp.SessionID)
	if err != nil {
		t.Fatalf("session id %q: %v", resp.SessionID, err)
	}
	return id
}

func (f fixture) balance(card uuid.UUID) int64 {
	return f.bank.Balance(bank.Account{Card: card})
}

func TestService_HappyPath(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 1000)

	req := acquiring.NewInitPaymentRequest(notifyURL, successURL, failURL, 1000, terminalSecret)
	resp, err := f.svc.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if resp.OperationStatus != acquiring.StatusSuccess {
		t.Errorf("OperationStatus = %q", resp.OperationStatus)
	}
	if want := "http://acquirer.test/payment/" + resp.SessionID; resp.PaymentURL != want {
		t.Errorf("PaymentURL = %q, want %q", resp.PaymentURL, want)
	}
	id := uuid.MustParse(resp.SessionID)

	out, err := f.svc.Confirm(context.Background(), id, card.String(), "p")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !out.Succeeded() || out.RedirectURL != successURL || out.Reason != "" {
		t.Errorf("outcome = %+v", out)
	}

	txs := f.bank.ListTransactions()
	// Credit plus the payment.
	if len(txs) != 2 {
		t.Fatalf("transactions = %d, want 2", len(txs))
	}
	last := txs[1]
	if last.Sender != card || last.Recipient != f.bank.StoreAccount().Card || last.Amount != 1000 {
		t.Errorf("payment tx = %+v", last)
	}
	if got := f.balance(card); got != 0 {
		t.Errorf("balance(card) = %d, want 0", got)
	}
	if got := f.bank.StoreBalance(); got != 1000 {
		t.Errorf("StoreBalance = %d, want 1000", got)
	}
	if _, err := f.svc.Page(id); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session still present: %v", err)
	}
	if f.svc.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d", f.svc.ActiveSessions())
	}

	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].url != notifyURL || sent[0].n.Status != acquiring.StatusSuccess ||
		sent[0].n.Amount != 1000 || sent[0].n.SessionID != id.String() {
		t.Errorf("notifications = %+v", sent)
	}
	if got := testutil.ToFloat64(f.metrics.PaymentsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("payments success metric = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.SessionsActive); got != 0 {
		t.Errorf("active sessions gauge = %v", got)
	}
}

func TestService_BadTokenCreatesNoSession(t *testing.T) {
	f := newFixture(t, time.Hour)

	req := acquiring.NewInitPaymentRequest(notifyURL, successURL, failURL, 1000, "wrong-secret")
	_, err := f.svc.Initiate(context.Background(), req)
	if !errors.Is(err, acquiring.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if f.svc.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0", f.svc.ActiveSessions())
	}
	if got := testutil.ToFloat64(f.metrics.InitRejectedTotal.WithLabelValues("unauthorized")); got != 1 {
		t.Errorf("rejected metric = %v", got)
	}
}

func TestService_TamperedRequestRejected(t *testing.T) {
	f := newFixture(t, time.Hour)

	req := acquiring.NewInitPaymentRequest(notifyURL, successURL, failURL, 1000, terminalSecret)
	req.Amount = 1
	if _, err := f.svc.Initiate(context.Background(), req); !errors.Is(err, acquiring.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestService_InvalidRequestRejected(t *testing.T) {
	f := newFixture(t, time.Hour)

	tests := []struct {
		name string
		req  acquiring.InitPaymentRequest
	}{
		{"zero amount", acquiring.NewInitPaymentRequest(notifyURL, successURL, failURL, 0, terminalSecret)},
		{"relative url", acquiring.NewInitPaymentRequest("/notify", successURL, failURL, 10, terminalSecret)},
		{"ftp url", acquiring.NewInitPaymentRequest(notifyURL, "ftp://shop.test/ok", failURL, 10, terminalSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Initiate(context.Background(), tt.req); !errors.Is(err, acquiring.ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if f.svc.ActiveSessions() != 0 {
		t.Errorf("ActiveSessions = %d, want 0", f.svc.ActiveSessions())
	}
}

func TestService_Expiry(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	card := f.fundedCard(t, "p", 1000)
	id := f.initiate(t, 500)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.notifier.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.svc.Confirm(context.Background(), id, card.String(), "p"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Confirm after expiry err = %v, want ErrNotFound", err)
	}
	if got := f.balance(card); got != 1000 {
		t.Errorf("balance moved after expiry: %d", got)
	}

	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].n.Status != acquiring.StatusFail || sent[0].n.Reason != ReasonExpired {
		t.Errorf("notifications = %+v", sent)
	}
	if got := testutil.ToFloat64(f.metrics.SessionsExpiredTotal); got != 1 {
		t.Errorf("expired metric = %v", got)
	}
}

func TestService_ConcurrentConfirmSucceedsOnce(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 10_000)
	id := f.initiate(t, 100)

	const callers = 32
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		notFound  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := f.svc.Confirm(context.Background(), id, card.String(), "p")
			switch {
			case errors.Is(err, session.ErrNotFound):
				notFound.Add(1)
			case err == nil && out.Succeeded():
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if succeeded.Load() != 1 || notFound.Load() != callers-1 {
		t.Errorf("succeeded=%d notFound=%d", succeeded.Load(), notFound.Load())
	}
	if got := f.balance(card); got != 9_900 {
		t.Errorf("balance = %d, want 9900", got)
	}
}

func TestService_FailuresRedirectToFailURL(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, f fixture) (card, password string)
		reason string
	}{
		{
			name: "wrong password",
			setup: func(t *testing.T, f fixture) (string, string) {
				return f.fundedCard(t, "p", 1000).String(), "nope"
			},
			reason: ReasonNotAuthorized,
		},
		{
			name: "insufficient funds",
			setup: func(t *testing.T, f fixture) (string, string) {
				return f.fundedCard(t, "p", 10).String(), "p"
			},
			reason: ReasonNotEnoughFunds,
		},
		{
			name: "deleted account",
			setup: func(t *testing.T, f fixture) (string, string) {
				card := f.fundedCard(t, "p", 1000)
				if err := f.bank.DeleteAccount(card); err != nil {
					t.Fatalf("DeleteAccount: %v", err)
				}
				return card.String(), "p"
			},
			reason: ReasonAccountDeleted,
		},
		{
			name: "unknown card",
			setup: func(t *testing.T, f fixture) (string, string) {
				return uuid.NewString(), "p"
			},
			reason: ReasonAccountNotFound,
		},
		{
			name: "malformed card",
			setup: func(t *testing.T, f fixture) (string, string) {
				return "4111-1111", "p"
			},
			reason: ReasonInvalidCard,
		},
		{
			name: "store account as payer",
			setup: func(t *testing.T, f fixture) (string, string) {
				return f.bank.StoreAccount().Card.String(), "cashbox"
			},
			reason: ReasonAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Hour)
			card, password := tt.setup(t, f)
			id := f.initiate(t, 500)
			txBefore := len(f.bank.ListTransactions())

			out, err := f.svc.Confirm(context.Background(), id, card, password)
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if out.Succeeded() || out.RedirectURL != failURL || out.Reason != tt.reason {
				t.Errorf("outcome = %+v, want fail/%s", out, tt.reason)
			}
			if got := len(f.bank.ListTransactions()); got != txBefore {
				t.Errorf("transactions %d -> %d", txBefore, got)
			}

			// One-shot even on failure.
			if _, err := f.svc.Confirm(context.Background(), id, card, password); !errors.Is(err, session.ErrNotFound) {
				t.Errorf("second Confirm err = %v, want ErrNotFound", err)
			}

			sent := f.notifier.all()
			if len(sent) != 1 || sent[0].n.Status != acquiring.StatusFail || sent[0].n.Reason != tt.reason {
				t.Errorf("notifications = %+v", sent)
			}
		})
	}
}

func TestService_MerchantMismatch(t *testing.T) {
	f := newFixture(t, time.Hour)
	card := f.fundedCard(t, "p", 1000)

	req := acquiring.NewInitPaymentRequest(notifyURL, successURL, failURL, 100, terminalSecret)
	id, _ := f.svc.registry.Create(req, uuid.New())

	out, err := f.svc.Confirm(context.Background(), id, card.String(), "p")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Reason != ReasonMerchantMismatch || out.RedirectURL != failURL {
		t.Errorf("outcome = %+v", out)
	}
	if got := f.balance(card); got != 1000 {
		t.Errorf("balance = %d, want 1000", got)
	}
}

func TestService_PageDoesNotConsume(t *testing.T) {
	f := newFixture(t, time.Hour)
	id := f.initiate(t, 750)

	for i := 0; i < 3; i++ {
		page, err := f.svc.Page(id)
		if err != nil {
			t.Fatalf("Page #%d: %v", i, err)
		}
		if page.Amount != 750 || page.SessionID != id.String() {
			t.Errorf("page = %+v", page)
		}
	}
	if f.svc.ActiveSessions() != 1 {
		t.Errorf("ActiveSessions = %d, want 1", f.svc.ActiveSessions())
	}
	if _, err := f.svc.Page(uuid.New()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("unknown page err = %v", err)
	}
}

func TestParseSessionID(t *testing.T) {
	id := uuid.New()
	got, err := ParseSessionID(id.String())
	if err != nil || got != id {
		t.Errorf("ParseSessionID = %v, %v", got, err)
	}
	if _, err := ParseSessionID("not-a-uuid"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("malformed err = %v", err)
	}
	if !strings.HasSuffix(NewService(bank.New(bank.Config{}), Config{}).PaymentURL(id), PagePath+id.String()) {
		t.Error("PaymentURL suffix")
	}
}

type lifecycleHook struct {
	mu       sync.Mutex
	started  []observability.SessionStartedEvent
	finished []observability.SessionFinishedEvent
}

func (h *lifecycleHook) Name() string { return "lifecycle" }

func (h *lifecycleHook) OnSessionStarted(_ context.Context, e observability.SessionStartedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, e)
}

func (h *lifecycleHook) OnSessionFinished(_ context.Context, e observability.SessionFinishedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, e)
}

func (h *lifecycleHook) snapshot() ([]observability.SessionStartedEvent, []observability.SessionFinishedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]observability.SessionStartedEvent(nil), h.started...),
		append([]observability.SessionFinishedEvent(nil), h.finished...)
}

func TestService_EmitsLifecycleHooks(t *testing.T) {
	hook := &lifecycleHook{}
	hooks := observability.NewRegistry(zerolog.Nop())
	hooks.RegisterPaymentHook(hook)

	b := bank.New(bank.Config{Username: "bank", Password: "cashbox"})
	svc := NewService(b, Config{
		TerminalPassword: terminalSecret,
		PublicURL:        "http://acquirer.test",
		TTL:              20 * time.Millisecond,
	}, WithHooks(hooks))
	defer svc.Close()
	f := fixture{svc: svc, bank: b}

	card := f.fundedCard(t, "p", 100)
	paid := f.initiate(t, 100)
	if _, err := svc.Confirm(context.Background(), paid, card.String(), "p"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	abandoned := f.initiate(t, 50)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, finished := hook.snapshot()
		if len(finished) == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	started, finished := hook.snapshot()
	if len(started) != 2 || started[0].SessionID != paid.String() || started[0].Amount != 100 {
		t.Fatalf("started = %+v", started)
	}
	if len(finished) != 2 {
		t.Fatalf("finished = %+v", finished)
	}
	if !finished[0].Success || finished[0].SessionID != paid.String() || finished[0].Expired {
		t.Errorf("confirmed event = %+v", finished[0])
	}
	if finished[1].Success || !finished[1].Expired || finished[1].Reason != ReasonExpired || finished[1].SessionID != abandoned.String() {
		t.Errorf("expired event = %+v", finished[1])
	}
}
