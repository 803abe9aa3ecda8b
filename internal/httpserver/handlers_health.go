package httpserver

import (
	"net/http"
	"time"

	"github.com/CedrosPay/acquisim/pkg/responders"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	summary := h.bank.Summary()
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime":          time.Since(serverStartTime).Round(time.Second).String(),
		"active_sessions": h.payments.ActiveSessions(),
		"ledger": map[string]any{
			"accounts":     summary.Accounts,
			"transactions": summary.Transactions,
		},
	})
}
