package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/CedrosPay/acquisim/internal/bank"
	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/internal/session"
)

const maxRequestBody = 1 << 20

// decodeJSON decodes a JSON request body into dest, rejecting unknown fields.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(io.LimitReader(r, maxRequestBody))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// isJSON reports whether the request body is JSON.
func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// wantsJSON reports whether the client expects JSON rather than a browser response.
func wantsJSON(r *http.Request) bool {
	return isJSON(r) || strings.Contains(r.Header.Get("Accept"), "application/json")
}

// writeLedgerError maps ledger and session errors onto the API error envelope.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bank.ErrAccountNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAccountNotFound, "Account not found")
	case errors.Is(err, bank.ErrAccountIsDeleted):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeAccountDeleted, "Account is deleted")
	case errors.Is(err, bank.ErrNotEnoughFunds):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInsufficientFunds, "Not enough funds")
	case errors.Is(err, bank.ErrBadTransaction):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeBadTransaction, "Bad transaction")
	case errors.Is(err, bank.ErrNotAuthorized):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidCredentials, "Invalid credentials")
	case errors.Is(err, session.ErrNotFound):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeSessionNotFound, "Payment session not found")
	default:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Internal error")
	}
}
