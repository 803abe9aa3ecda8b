package httputil

import (
	"net/http"
	"time"
)

// NewClient returns an HTTP client with the given timeout and a pooled transport.
// Merchant notifications and the merchant simulator hit the same few hosts repeatedly,
// so idle connections are kept for reuse.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
