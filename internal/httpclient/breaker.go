package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"marginalia/internal/errors"
)

type breakerRoundTripper struct {
	base    http.RoundTripper
	breaker *errors.CircuitBreaker
}

// NewWithCircuitBreaker builds an HTTP client whose transport is guarded by a
// circuit breaker named after the provider endpoint.
func NewWithCircuitBreaker(timeout time.Duration, name string, config errors.CircuitBreakerConfig) *http.Client {
	client := New(timeout)
	client.Transport = WrapTransportWithCircuitBreaker(client.Transport, name, config)
	return client
}

// WrapTransportWithCircuitBreaker wraps a transport with circuit breaker
// protection. 429 and 5xx responses count as failures.
func WrapTransportWithCircuitBreaker(base http.RoundTripper, name string, config errors.CircuitBreakerConfig) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == "" {
		name = "http-client"
	}
	return &breakerRoundTripper{
		base:    base,
		breaker: errors.NewCircuitBreaker(name, config),
	}
}

func (t *breakerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if errors.IsCancellation(err) {
			t.breaker.Mark(nil)
		} else {
			t.breaker.Mark(err)
		}
		return nil, err
	}

	if errors.IsRetryableStatus(resp.StatusCode) {
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	} else {
		t.breaker.Mark(nil)
	}
	return resp, nil
}
