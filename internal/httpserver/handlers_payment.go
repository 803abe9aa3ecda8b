package httpserver

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/internal/payment"
	"github.com/CedrosPay/acquisim/internal/session"
	"github.com/CedrosPay/acquisim/pkg/acquiring"
	"github.com/CedrosPay/acquisim/pkg/responders"
)

// initPayment handles POST /api/Init from merchants.
func (h *handlers) initPayment(w http.ResponseWriter, r *http.Request) {
	var req acquiring.InitPaymentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed initiate request", "error", err.Error())
		return
	}

	resp, err := h.payments.Initiate(r.Context(), req)
	if err != nil {
		writeMerchantError(w, r, err, "payment.initiate.error")
		return
	}
	responders.JSON(w, http.StatusOK, resp)
}

// paymentPage renders the card form without consuming the session.
func (h *handlers) paymentPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.lookupPage(r)
	if err != nil {
		h.renderNotFound(w, r)
		return
	}

	data := paymentPageData{
		SessionID: page.SessionID,
		Kind:      page.Kind,
		Amount:    page.Amount,
		Action:    payment.PagePath + page.SessionID,
	}
	if err := renderPage(w, http.StatusOK, "payment.html", data); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("payment.page.render_failed")
	}
}

// paymentInfo is the JSON form of the payment page.
func (h *handlers) paymentInfo(w http.ResponseWriter, r *http.Request) {
	page, err := h.lookupPage(r)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, page)
}

func (h *handlers) lookupPage(r *http.Request) (acquiring.PaymentPage, error) {
	id, err := payment.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		return acquiring.PaymentPage{}, err
	}
	return h.payments.Page(id)
}

// confirmPayment takes the cardholder's credentials and redirects to the merchant.
// Browsers get 303 See Other; JSON clients get the target in the body and Location header.
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	id, err := payment.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		h.confirmNotFound(w, r)
		return
	}

	creds, ok := readCredentials(w, r)
	if !ok {
		return
	}

	out, err := h.payments.Confirm(r.Context(), id, creds.CardNumber, creds.Password)
	if errors.Is(err, session.ErrNotFound) {
		h.confirmNotFound(w, r)
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("payment.confirm.error")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Internal error")
		return
	}

	if wantsJSON(r) {
		responders.RedirectJSON(w, out.RedirectURL, acquiring.ConfirmResponse{
			RedirectURL:     out.RedirectURL,
			OperationStatus: out.Status,
		})
		return
	}
	responders.SeeOther(w, r, out.RedirectURL)
}

// readCredentials parses JSON or form credentials. A body that cannot be parsed leaves the
// session untouched.
func readCredentials(w http.ResponseWriter, r *http.Request) (acquiring.Credentials, bool) {
	var creds acquiring.Credentials
	if isJSON(r) {
		if err := decodeJSON(r.Body, &creds); err != nil {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed credentials", "error", err.Error())
			return creds, false
		}
		return creds, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Malformed form body")
		return creds, false
	}
	creds.CardNumber = r.PostForm.Get("card_number")
	creds.Password = r.PostForm.Get("password")
	return creds, true
}

func (h *handlers) confirmNotFound(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeSessionNotFound, "Payment session not found")
		return
	}
	h.renderNotFound(w, r)
}

func (h *handlers) renderNotFound(w http.ResponseWriter, r *http.Request) {
	if err := renderPage(w, http.StatusNotFound, "not_found.html", nil); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("payment.page.render_failed")
	}
}
