package httpserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/CedrosPay/acquisim/internal/bank"
	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/internal/logger"
)

// adminMetricsAuth protects /metrics with "Authorization: Bearer {key}" when a key is configured.
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			expected := "Bearer " + apiKey
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// systemAuth requires HTTP Basic credentials accepted by the bank's system login.
func systemAuth(b *bank.Bank) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok || b.AuthorizeSystem(username, password) != nil {
				log := logger.FromContext(r.Context())
				log.Warn().
					Bool("credentials_present", ok).
					Msg("system.auth_failed")
				w.Header().Set("WWW-Authenticate", `Basic realm="acquisim system", charset="UTF-8"`)
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Invalid system credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
