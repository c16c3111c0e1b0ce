// Package errors classifies failures from provider APIs and the network into
// transient (retryable), permanent, and degraded kinds, and exposes the retry
// and circuit-breaker primitives built on that classification.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	RetryAfter int    // seconds, from a Retry-After header
	Message    string // user-facing message
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError represents a failure where the caller can continue with
// reduced functionality, typically with FallbackContent substituted.
type DegradedError struct {
	Err             error
	FallbackContent string
	Message         string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// NewTransientError creates a transient error with a user-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError creates a permanent error with a user-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError creates a degraded error with fallback content.
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, FallbackContent: fallback}
}

// IsCancellation reports whether err originates from context cancellation or
// deadline expiry. Cancellation is never retried and callers surface it
// silently rather than as a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsTransient reports whether an error is retryable. Cancellation always
// wins: a cancelled operation is never transient.
func IsTransient(err error) bool {
	if err == nil || IsCancellation(err) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	if isNetworkError(err) {
		return true
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return IsRetryableStatus(httpErr.StatusCode)
	}

	return false
}

// IsPermanent reports whether an error is known to be non-retryable.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return true
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 &&
			httpErr.StatusCode != http.StatusTooManyRequests
	}

	return false
}

// IsDegraded reports whether an error allows degraded service.
func IsDegraded(err error) bool {
	var degraded *DegradedError
	return errors.As(err, &degraded)
}

// IsRetryableStatus reports whether an HTTP status warrants a retry:
// 429 and every 5xx.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// HTTPStatusError carries a non-2xx provider response through the error chain.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// NewHTTPStatusError creates an HTTP status error.
func NewHTTPStatusError(statusCode int, status, body string) error {
	return &HTTPStatusError{StatusCode: statusCode, Status: status, Body: body}
}

// FormatForUser converts technical errors into messages fit for a
// notification toast.
func FormatForUser(err error) string {
	if err == nil {
		return ""
	}

	var transient *TransientError
	if errors.As(err, &transient) && transient.Message != "" {
		return transient.Message
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) && permanent.Message != "" {
		return permanent.Message
	}
	var degraded *DegradedError
	if errors.As(err, &degraded) && degraded.Message != "" {
		return degraded.Message
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return "The AI service is rate limiting requests. Please wait a moment and try again."
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return "Authentication failed. Please check your API key in settings."
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "The request timed out. Please try again."
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "network"):
		return "Could not reach the AI service. Please check your network and base URL."
	default:
		return err.Error()
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
