package httpserver

import (
	"errors"
	"net/http"

	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
	"github.com/CedrosPay/acquisim/pkg/responders"
)

// registerCardToken handles POST /api/InitCardTokenRegistration.
func (h *handlers) registerCardToken(w http.ResponseWriter, r *http.Request) {
	var req acquiring.RegisterCardTokenRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed registration request", "error", err.Error())
		return
	}

	resp, err := h.payments.RegisterCardToken(r.Context(), req)
	if err != nil {
		writeMerchantError(w, r, err, "card_token.register.error")
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// makePayment handles POST /api/MakePayment. A declined charge is still a 200.
func (h *handlers) makePayment(w http.ResponseWriter, r *http.Request) {
	var req acquiring.MakePaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed payment request", "error", err.Error())
		return
	}

	resp, err := h.payments.MakePayment(r.Context(), req)
	if err != nil {
		writeMerchantError(w, r, err, "card_token.charge.error")
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// cardTokenInfo handles POST /api/CardTokenInfo.
func (h *handlers) cardTokenInfo(w http.ResponseWriter, r *http.Request) {
	var req acquiring.CardTokenInfoRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed token info request", "error", err.Error())
		return
	}

	resp, err := h.payments.CardTokenInfo(r.Context(), req)
	if err != nil {
		writeMerchantError(w, r, err, "card_token.info.error")
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// writeMerchantError maps the errors of token-signed merchant calls.
func writeMerchantError(w http.ResponseWriter, r *http.Request, err error, event string) {
	switch {
	case errors.Is(err, acquiring.ErrUnauthorized):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Token mismatch")
	case errors.Is(err, acquiring.ErrInvalidRequest):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, err.Error())
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg(event)
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Internal error")
	}
}
