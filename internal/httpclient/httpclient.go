// Package httpclient builds the outbound HTTP clients used for provider
// calls: timeout configuration, circuit-breaker protection, bounded response
// reading, and the retrying request executor.
package httpclient

import (
	"net/http"
	"time"
)

// New returns an http.Client configured for outbound provider requests.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
