package store

import (
	"context"
	"strings"
	"time"

	"marginalia/internal/errors"
)

// writeRetry covers transient SQLITE_BUSY contention when another process
// holds the write lock. Short backoffs; the lock clears in milliseconds.
var writeRetry = errors.RetryConfig{
	MaxRetries:  3,
	BaseBackoff: 50 * time.Millisecond,
	MaxBackoff:  time.Second,
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

// withWriteRetry runs fn, retrying lock contention as transient.
func withWriteRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return errors.Retry(ctx, writeRetry, nil, func(ctx context.Context) error {
		err := fn(ctx)
		if isBusy(err) {
			return errors.NewTransientError(err, "")
		}
		return err
	})
}
