package errors

import (
	"context"
	"fmt"
	"time"

	"marginalia/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries  int           // retries after the first attempt (default: 3)
	BaseBackoff time.Duration // first backoff, doubled each retry (default: 1s)
	MaxBackoff  time.Duration // cap on a single backoff (default: 30s)

	// Sleep waits for d or until ctx is done. Overridable so tests can drive
	// retries with a fake clock. Nil uses a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

func (c RetryConfig) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
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

// Backoff returns the wait before retry number attempt (0-based): base * 2^attempt,
// capped at MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	base := c.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	delay := base << attempt
	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}

// RetryWithResult executes fn with exponential-backoff retry on transient
// errors. Cancellation is checked before every attempt and during every
// backoff wait; a cancelled context aborts immediately and is never retried.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)

	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			logger.Debug("context cancelled, stopping retries")
			return zero, fmt.Errorf("cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded after %d retries", attempt)
			}
			return result, nil
		}

		lastErr = err
		if IsCancellation(err) {
			logger.Debug("cancelled during attempt %d", attempt+1)
			return zero, err
		}
		if !IsTransient(err) {
			logger.Debug("non-transient error, stopping retries: %v", err)
			return zero, err
		}
		if attempt == config.MaxRetries {
			logger.Warn("retries exhausted after %d attempts", attempt+1)
			break
		}

		delay := config.Backoff(attempt)
		logger.Debug("attempt %d failed (%v), retrying in %v", attempt+1, err, delay)
		if err := config.sleep(ctx, delay); err != nil {
			logger.Debug("cancelled during backoff")
			return zero, fmt.Errorf("cancelled during retry: %w", err)
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Retry is RetryWithResult for functions without a result.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
