package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"marginalia/internal/errors"
	"marginalia/internal/logging"
)

// RetryPolicy controls DoWithRetry.
type RetryPolicy struct {
	Retries int           // retries after the first attempt (default: 3)
	Backoff time.Duration // first backoff, doubled each retry (default: 1s)

	// Sleep waits for d or until ctx is done. Overridable so tests can drive
	// waits with a fake clock. Nil uses a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the standard provider retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 3, Backoff: 1 * time.Second}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DoWithRetry issues req, retrying on HTTP 429, any 5xx, and network-level
// failures with doubling backoff. On exhaustion the last failing response is
// returned as-is; converting a non-2xx response into an error is the caller's
// job. Cancellation is checked before every attempt and interrupts every
// backoff wait: a cancelled request never produces a further network call.
//
// The request must be rewindable (GetBody set), which http.NewRequest
// arranges for in-memory bodies.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy, logger logging.Logger) (*http.Response, error) {
	logger = logging.OrNop(logger)
	if client == nil {
		client = http.DefaultClient
	}

	backoff := policy.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("request cancelled: %w", err)
		}

		attemptReq := req
		if attempt > 0 {
			var err error
			attemptReq, err = rewind(req)
			if err != nil {
				return nil, err
			}
		}

		resp, err := client.Do(attemptReq.WithContext(ctx))
		if err != nil {
			if errors.IsCancellation(err) {
				return nil, err
			}
			lastErr = err
			if attempt >= policy.Retries {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
			}
			logger.Debug("network error on attempt %d (%v), retrying in %v", attempt+1, err, backoff)
		} else if errors.IsRetryableStatus(resp.StatusCode) && attempt < policy.Retries {
			logger.Debug("status %d on attempt %d, retrying in %v", resp.StatusCode, attempt+1, backoff)
			drain(resp)
		} else {
			return resp, nil
		}

		if err := policy.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("request cancelled during backoff: %w", err)
		}
		backoff *= 2
	}
}

// rewind clones req with a fresh body for a retry attempt.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	_ = resp.Body.Close()
}
