package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errMerchantDown = errors.New("merchant down")

func tripAfterTwo() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Timeout:             time.Hour,
		ConsecutiveFailures: 2,
	}
}

func TestManager_TripsPerKey(t *testing.T) {
	m := NewManager(true, tripAfterTwo(), zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := m.Execute("bad.example", func() error { return errMerchantDown }); !errors.Is(err, errMerchantDown) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if got := m.State("bad.example"); got != "open" {
		t.Fatalf("State(bad) = %q, want open", got)
	}

	called := false
	if err := m.Execute("bad.example", func() error { called = true; return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("open breaker err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn executed while breaker open")
	}

	// Other merchants are unaffected.
	if err := m.Execute("good.example", func() error { return nil }); err != nil {
		t.Errorf("good host err = %v", err)
	}
	if got := m.State("good.example"); got != "closed" {
		t.Errorf("State(good) = %q, want closed", got)
	}
	if c := m.Counts("good.example"); c.TotalSuccesses != 1 {
		t.Errorf("Counts(good) = %+v, want one success", c)
	}
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(false, tripAfterTwo(), zerolog.Nop())
	for i := 0; i < 5; i++ {
		_ = m.Execute("x", func() error { return errMerchantDown })
	}
	if err := m.Execute("x", func() error { return nil }); err != nil {
		t.Errorf("disabled manager err = %v", err)
	}
	if got := m.State("x"); got != "disabled" {
		t.Errorf("State() = %q, want disabled", got)
	}

	var nilManager *Manager
	if err := nilManager.Execute("x", func() error { return nil }); err != nil {
		t.Errorf("nil manager err = %v", err)
	}
}
