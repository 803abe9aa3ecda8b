package bank

import (
	"errors"

	"github.com/google/uuid"
)

// ErrCardTokenNotFound is returned for a card token the bank never issued.
var ErrCardTokenNotFound = errors.New("bank: card token not found")

// IssueCardToken binds a new opaque token to an active account. A card may hold several
// tokens; each keeps working until the account is deleted.
func (b *Bank) IssueCardToken(card uuid.UUID) (string, error) {
	token := uuid.NewString()
	var err error
	b.withLock(func() {
		if _, err = b.findLocked(card); err != nil {
			return
		}
		b.cardTokens[token] = card
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ResolveCardToken returns the active account behind token.
func (b *Bank) ResolveCardToken(token string) (Account, error) {
	var (
		acc Account
		err error
	)
	b.withLock(func() {
		card, ok := b.cardTokens[token]
		if !ok {
			err = ErrCardTokenNotFound
			return
		}
		acc, err = b.findLocked(card)
	})
	return acc, err
}

// CardTokenActive reports whether token can still be charged. Tokens of deleted accounts
// are inactive.
func (b *Bank) CardTokenActive(token string) (bool, error) {
	_, err := b.ResolveCardToken(token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAccountIsDeleted):
		return false, nil
	default:
		return false, err
	}
}
