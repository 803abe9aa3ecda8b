package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	apierrors "github.com/CedrosPay/acquisim/internal/errors"
	"github.com/CedrosPay/acquisim/internal/logger"
)

const (
	// HeaderKey is the request header carrying the client's idempotency key.
	HeaderKey = "Idempotency-Key"
	// ReplayHeader marks a response served from the cache.
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL is how long a response is replayable.
	DefaultTTL = 24 * time.Hour

	maxBodyBytes = 1 << 20
)

// recorder tees the response so it can be cached.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rw *recorder) WriteHeader(status int) {
	if rw.status == 0 {
		rw.status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// inflight tracks keys whose first request is still being served.
type inflight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (f *inflight) acquire(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

func (f *inflight) release(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

// Middleware replays the first 2xx response for a repeated Idempotency-Key.
// Keys are scoped by method and path. Reusing a key with a different body, or while the
// first request is still running, is rejected with 409.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	running := &inflight{keys: make(map[string]struct{})}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "request body too large or unreadable")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := fingerprintOf(body)

			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, found := store.Get(r.Context(), key); found {
				replay(w, r, cached, fingerprint, rawKey)
				return
			}

			if !running.acquire(key) {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyConflict,
					"a request with this Idempotency-Key is already in progress")
				return
			}
			defer running.release(key)

			// The first request may have finished between the lookup and the claim.
			if cached, found := store.Get(r.Context(), key); found {
				replay(w, r, cached, fingerprint, rawKey)
				return
			}

			rw := &recorder{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			if rw.status >= 200 && rw.status < 300 {
				_ = store.Set(r.Context(), key, &Response{
					StatusCode:  rw.status,
					Header:      w.Header().Clone(),
					Body:        append([]byte(nil), rw.body.Bytes()...),
					Fingerprint: fingerprint,
					CachedAt:    time.Now(),
				}, ttl)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, cached *Response, fingerprint, rawKey string) {
	log := logger.FromContext(r.Context())
	if cached.Fingerprint != fingerprint {
		log.Warn().Str("idempotency_key", rawKey).Msg("idempotency.body_mismatch")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeIdempotencyConflict,
			"Idempotency-Key was already used with a different request body")
		return
	}
	for k, vs := range cached.Header {
		w.Header()[k] = append([]string(nil), vs...)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	log.Debug().Str("idempotency_key", rawKey).Msg("idempotency.replayed")
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
