// Package monitoring keeps ledger gauges current without sitting on the ledger's hot path.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/acquisim/internal/bank"
	"github.com/CedrosPay/acquisim/internal/metrics"
)

// LedgerReporter refreshes ledger gauges whenever the ledger signals a change, and on a
// fixed interval as a fallback.
type LedgerReporter struct {
	bank     *bank.Bank
	metrics  *metrics.Metrics
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	last bank.Summary
	seen time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLedgerReporter creates a reporter. A non-positive interval disables the periodic refresh.
func NewLedgerReporter(b *bank.Bank, m *metrics.Metrics, interval time.Duration, logger zerolog.Logger) *LedgerReporter {
	return &LedgerReporter{
		bank:     b,
		metrics:  m,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to the ledger and runs the refresh loop until ctx ends or Stop is called.
func (r *LedgerReporter) Start(ctx context.Context) {
	events, cancel := r.bank.Subscribe()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.loop(ctx, events)
	}()

	r.logger.Info().Dur("interval", r.interval).Msg("ledger_reporter.started")
}

func (r *LedgerReporter) loop(ctx context.Context, events <-chan struct{}) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			r.refresh()
		case <-tick:
			r.refresh()
		}
	}
}

func (r *LedgerReporter) refresh() {
	s := r.bank.Summary()

	r.mu.Lock()
	r.last = s
	r.seen = time.Now()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SetLedgerTotals(s.Accounts, s.ActiveAccounts, s.Transactions, s.Emission, s.StoreBalance)
	}
	r.logger.Debug().
		Int("accounts", s.Accounts).
		Int("transactions", s.Transactions).
		Int64("store_balance", s.StoreBalance).
		Msg("ledger_reporter.refreshed")
}

// Snapshot returns the most recent summary and when it was taken.
func (r *LedgerReporter) Snapshot() (bank.Summary, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.seen
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (r *LedgerReporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Close implements io.Closer for the lifecycle manager.
func (r *LedgerReporter) Close() error {
	r.Stop()
	return nil
}
