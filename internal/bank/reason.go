package bank

import "errors"

// Machine-readable reasons for ledger rejections.
const (
	ReasonNotAuthorized     = "not_authorized"
	ReasonAccountNotFound   = "account_not_found"
	ReasonAccountDeleted    = "account_deleted"
	ReasonNotEnoughFunds    = "insufficient_funds"
	ReasonBadTransaction    = "bad_transaction"
	ReasonCardTokenNotFound = "card_token_not_found"
	ReasonInternal          = "internal_error"
)

// Reason maps a ledger error to its reason string. Errors the ledger does not produce map
// to ReasonInternal.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthorized):
		return ReasonNotAuthorized
	case errors.Is(err, ErrAccountNotFound):
		return ReasonAccountNotFound
	case errors.Is(err, ErrAccountIsDeleted):
		return ReasonAccountDeleted
	case errors.Is(err, ErrNotEnoughFunds):
		return ReasonNotEnoughFunds
	case errors.Is(err, ErrBadTransaction):
		return ReasonBadTransaction
	case errors.Is(err, ErrCardTokenNotFound):
		return ReasonCardTokenNotFound
	default:
		return ReasonInternal
	}
}
