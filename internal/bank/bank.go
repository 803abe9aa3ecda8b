// Package bank is the in-memory ledger of the acquiring simulator.
//
// Balances are never stored. They are folded from the append-only transaction log on every
// read, so the log is the only source of truth. All state sits behind one mutex; a transfer's
// balance check and its append happen inside the same critical section.
package bank

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound  = errors.New("bank: account not found")
	ErrAccountIsDeleted = errors.New("bank: account is deleted")
	ErrNotAuthorized    = errors.New("bank: not authorized")
	ErrBadTransaction   = errors.New("bank: bad transaction")
	ErrNotEnoughFunds   = errors.New("bank: not enough funds")
)

// Account is a card account. The password never leaves the package.
type Account struct {
	Card     uuid.UUID `json:"card_number"`
	Exists   bool      `json:"exists"`
	password string
}

// Transaction is an immutable ledger entry. Amount is in minor currency units.
type Transaction struct {
	Sender    uuid.UUID `json:"sender"`
	Recipient uuid.UUID `json:"recipient"`
	Amount    int64     `json:"amount"`
	Datetime  time.Time `json:"datetime"`
}

// AccountReport is the administrative view of one account.
type AccountReport struct {
	Card         uuid.UUID     `json:"card_number"`
	Balance      int64         `json:"balance"`
	Exists       bool          `json:"exists"`
	Transactions []Transaction `json:"transactions"`
}

// Summary is a consistent snapshot of ledger totals.
type Summary struct {
	Accounts       int   `json:"accounts"`
	ActiveAccounts int   `json:"active_accounts"`
	Transactions   int   `json:"transactions"`
	Emission       int64 `json:"emission"`
	StoreBalance   int64 `json:"store_balance"`
}

// Config configures a Bank.
type Config struct {
	// Username and Password are the system (administrative) credentials.
	// Password is also the secret of the emission and store accounts.
	Username string
	Password string
	// NotifyBuffer is the channel capacity handed to each subscriber.
	NotifyBuffer int
}

// Bank owns accounts and the transaction log.
type Bank struct {
	mu           sync.Mutex
	username     string
	emission     Account
	store        Account
	accounts     []Account
	index        map[uuid.UUID]int
	transactions []Transaction
	cardTokens   map[string]uuid.UUID
	now          func() time.Time

	subMu   sync.Mutex
	subs    map[uint64]chan struct{}
	nextSub uint64
	buffer  int
}

// New creates a bank with its emission and store accounts.
func New(cfg Config) *Bank {
	buffer := cfg.NotifyBuffer
	if buffer < 1 {
		buffer = 1
	}
	return &Bank{
		username:   cfg.Username,
		emission:   Account{Card: uuid.New(), Exists: true, password: cfg.Password},
		store:      Account{Card: uuid.New(), Exists: true, password: cfg.Password},
		index:      make(map[uuid.UUID]int),
		cardTokens: make(map[string]uuid.UUID),
		now:        func() time.Time { return time.Now().UTC() },
		subs:       make(map[uint64]chan struct{}),
		buffer:     buffer,
	}
}

// withLock runs fn inside the ledger critical section. The deferred unlock keeps the
// ledger usable after fn panics.
func (b *Bank) withLock(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// AuthorizeSystem checks administrative credentials.
func (b *Bank) AuthorizeSystem(username, password string) error {
	var ok bool
	b.withLock(func() {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(b.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(b.emission.password)) == 1
		ok = userOK && passOK
	})
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}

// AddAccount opens a new account and returns its card number.
func (b *Bank) AddAccount(password string) uuid.UUID {
	acc := Account{Card: uuid.New(), Exists: true, password: password}
	b.withLock(func() {
		b.index[acc.Card] = len(b.accounts)
		b.accounts = append(b.accounts, acc)
	})
	b.notify()
	return acc.Card
}

// DeleteAccount marks an account deleted. Its history is kept.
// Deleting an already deleted account succeeds without a change event.
func (b *Bank) DeleteAccount(card uuid.UUID) error {
	var found, changed bool
	b.withLock(func() {
		i, ok := b.index[card]
		if !ok {
			return
		}
		found = true
		if b.accounts[i].Exists {
			b.accounts[i].Exists = false
			changed = true
		}
	})
	if !found {
		return ErrAccountNotFound
	}
	if changed {
		b.notify()
	}
	return nil
}

// FindAccount returns an active user account.
func (b *Bank) FindAccount(card uuid.UUID) (Account, error) {
	var (
		acc Account
		err error
	)
	b.withLock(func() { acc, err = b.findLocked(card) })
	return acc, err
}

func (b *Bank) findLocked(card uuid.UUID) (Account, error) {
	i, ok := b.index[card]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	acc := b.accounts[i]
	if !acc.Exists {
		return Account{}, ErrAccountIsDeleted
	}
	return acc, nil
}

// resolveLocked finds a transfer party: an active user account or the store account.
func (b *Bank) resolveLocked(card uuid.UUID) (Account, error) {
	if card == b.store.Card {
		return b.store, nil
	}
	return b.findLocked(card)
}

// AuthorizeAccount checks a cardholder's password against an active account.
func (b *Bank) AuthorizeAccount(card uuid.UUID, password string) (Account, error) {
	acc, err := b.FindAccount(card)
	if err != nil {
		return Account{}, err
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(acc.password)) != 1 {
		return Account{}, ErrNotAuthorized
	}
	return acc, nil
}

// StoreAccount returns the merchant settlement account.
func (b *Bank) StoreAccount() Account {
	return b.store
}

// Balance folds the log for acc.
func (b *Bank) Balance(acc Account) int64 {
	var balance int64
	b.withLock(func() { balance = b.balanceLocked(acc.Card) })
	return balance
}

func (b *Bank) balanceLocked(card uuid.UUID) int64 {
	var balance int64
	for _, tx := range b.transactions {
		switch card {
		case tx.Sender:
			balance -= tx.Amount
		case tx.Recipient:
			balance += tx.Amount
		}
	}
	return balance
}

func (b *Bank) transactionsLocked(card uuid.UUID) []Transaction {
	out := []Transaction{}
	for _, tx := range b.transactions {
		if tx.Sender == card || tx.Recipient == card {
			out = append(out, tx)
		}
	}
	return out
}

// NewTransaction moves amount from sender to recipient.
// Both parties are re-resolved under the lock, so a party deleted since it was looked up
// can no longer transact.
func (b *Bank) NewTransaction(sender, recipient Account, amount int64) error {
	if sender.Card == recipient.Card || amount <= 0 {
		return ErrBadTransaction
	}

	var err error
	b.withLock(func() {
		if _, err = b.resolveLocked(sender.Card); err != nil {
			return
		}
		if _, err = b.resolveLocked(recipient.Card); err != nil {
			return
		}
		if b.balanceLocked(sender.Card) < amount {
			err = ErrNotEnoughFunds
			return
		}
		b.transactions = append(b.transactions, Transaction{
			Sender:    sender.Card,
			Recipient: recipient.Card,
			Amount:    amount,
			Datetime:  b.now(),
		})
	})
	if err != nil {
		return err
	}
	b.notify()
	return nil
}

// OpenCredit funds an account from the emission account. Emission is unbounded.
func (b *Bank) OpenCredit(card uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrBadTransaction
	}

	var err error
	b.withLock(func() {
		var acc Account
		if acc, err = b.findLocked(card); err != nil {
			return
		}
		b.transactions = append(b.transactions, Transaction{
			Sender:    b.emission.Card,
			Recipient: acc.Card,
			Amount:    amount,
			Datetime:  b.now(),
		})
	})
	if err != nil {
		return err
	}
	b.notify()
	return nil
}

// ListAccounts reports every user account, deleted ones included.
func (b *Bank) ListAccounts() []AccountReport {
	var out []AccountReport
	b.withLock(func() {
		out = make([]AccountReport, 0, len(b.accounts))
		for _, acc := range b.accounts {
			out = append(out, AccountReport{
				Card:         acc.Card,
				Balance:      b.balanceLocked(acc.Card),
				Exists:       acc.Exists,
				Transactions: b.transactionsLocked(acc.Card),
			})
		}
	})
	return out
}

// ListTransactions returns a copy of the full log.
func (b *Bank) ListTransactions() []Transaction {
	var out []Transaction
	b.withLock(func() {
		out = make([]Transaction, len(b.transactions))
		copy(out, b.transactions)
	})
	return out
}

// Emission returns the emission account balance. It is never positive; its magnitude is
// the total credit issued.
func (b *Bank) Emission() int64 {
	var v int64
	b.withLock(func() { v = b.balanceLocked(b.emission.Card) })
	return v
}

// StoreBalance returns the store account balance.
func (b *Bank) StoreBalance() int64 {
	var v int64
	b.withLock(func() { v = b.balanceLocked(b.store.Card) })
	return v
}

// Summary returns totals taken in a single critical section.
func (b *Bank) Summary() Summary {
	var s Summary
	b.withLock(func() {
		s.Accounts = len(b.accounts)
		for _, acc := range b.accounts {
			if acc.Exists {
				s.ActiveAccounts++
			}
		}
		s.Transactions = len(b.transactions)
		s.Emission = b.balanceLocked(b.emission.Card)
		s.StoreBalance = b.balanceLocked(b.store.Card)
	})
	return s
}
