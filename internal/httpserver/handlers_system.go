package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CedrosPay/acquisim/internal/bank"
	"github.com/CedrosPay/acquisim/internal/callbacks"
	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/internal/logger"
	"github.com/CedrosPay/acquisim/pkg/responders"
)

type addAccountRequest struct {
	Password string `json:"password"`
}

type addAccountResponse struct {
	CardNumber uuid.UUID `json:"card_number"`
}

type deleteAccountRequest struct {
	CardNumber uuid.UUID `json:"card_number"`
}

type openCreditRequest struct {
	CardNumber uuid.UUID `json:"card_number"`
	Amount     int64     `json:"amount"`
}

type newTransactionRequest struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Amount int64     `json:"amount"`
}

type bankSummaryResponse struct {
	bank.Summary
	StoreCardNumber uuid.UUID `json:"store_card_number"`
}

func (h *handlers) addAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed request", "error", err.Error())
		return
	}
	if req.Password == "" {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeMissingField, "password is required", "field", "password")
		return
	}

	card := h.bank.AddAccount(req.Password)
	log := logger.FromContext(r.Context())
	log.Info().
		Str("card", logger.TruncateCard(card.String())).
		Msg("ledger.account.added")
	responders.JSON(w, http.StatusOK, addAccountResponse{CardNumber: card})
}

func (h *handlers) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed request", "error", err.Error())
		return
	}

	if err := h.bank.DeleteAccount(req.CardNumber); err != nil {
		h.ledgerRejected(r, "delete_account", err)
		writeLedgerError(w, err)
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().
		Str("card", logger.TruncateCard(req.CardNumber.String())).
		Msg("ledger.account.deleted")
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{"accounts": h.bank.ListAccounts()})
}

func (h *handlers) openCredit(w http.ResponseWriter, r *http.Request) {
	var req openCreditRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed request", "error", err.Error())
		return
	}

	if err := h.bank.OpenCredit(req.CardNumber, req.Amount); err != nil {
		h.ledgerRejected(r, "open_credit", err)
		writeLedgerError(w, err)
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().
		Str("card", logger.TruncateCard(req.CardNumber.String())).
		Int64("amount", req.Amount).
		Msg("ledger.credit.opened")
	w.WriteHeader(http.StatusOK)
}

// newTransaction moves money between two user accounts.
func (h *handlers) newTransaction(w http.ResponseWriter, r *http.Request) {
	var req newTransactionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "Malformed request", "error", err.Error())
		return
	}

	sender, err := h.bank.FindAccount(req.From)
	if err != nil {
		h.ledgerRejected(r, "transaction", err)
		writeLedgerError(w, err)
		return
	}
	recipient, err := h.bank.FindAccount(req.To)
	if err != nil {
		h.ledgerRejected(r, "transaction", err)
		writeLedgerError(w, err)
		return
	}
	if err := h.bank.NewTransaction(sender, recipient, req.Amount); err != nil {
		h.ledgerRejected(r, "transaction", err)
		writeLedgerError(w, err)
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().
		Str("from", logger.TruncateCard(req.From.String())).
		Str("to", logger.TruncateCard(req.To.String())).
		Int64("amount", req.Amount).
		Msg("ledger.transfer.completed")
	w.WriteHeader(http.StatusOK)
}

func (h *handlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, h.bank.ListTransactions())
}

func (h *handlers) bankSummary(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, bankSummaryResponse{
		Summary:         h.bank.Summary(),
		StoreCardNumber: h.bank.StoreAccount().Card,
	})
}

func (h *handlers) ledgerRejected(r *http.Request, operation string, err error) {
	log := logger.FromContext(r.Context())
	log.Warn().Err(err).Str("operation", operation).Msg("ledger.operation.rejected")
	if h.metrics != nil {
		h.metrics.ObserveLedgerRejected(operation, bank.Reason(err))
	}
}

// GET /system/notifications/failed?limit=100
func (h *handlers) listFailedNotifications(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotificationNotFound, "Notification dead letter queue is not configured")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Invalid limit parameter. Must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	failed, err := h.notifications.FailedWebhooks(r.Context(), limit)
	if err != nil {
		h.writeNotificationError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"notifications": failed,
		"count":         len(failed),
	})
}

func (h *handlers) retryFailedNotification(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotificationNotFound, "Notification dead letter queue is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.notifications.Redeliver(r.Context(), id); err != nil {
		h.writeNotificationError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"id": id, "redelivered": true})
}

func (h *handlers) discardFailedNotification(w http.ResponseWriter, r *http.Request) {
	if h.notifications == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotificationNotFound, "Notification dead letter queue is not configured")
		return
	}
	if err := h.notifications.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeNotificationError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) writeNotificationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, callbacks.ErrWebhookNotFound), errors.Is(err, callbacks.ErrNoDLQ):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeNotificationNotFound, "Failed notification not found")
	default:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("callbacks.dlq_operation_failed")
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInternalError, "Notification operation failed", "error", err.Error())
	}
}
