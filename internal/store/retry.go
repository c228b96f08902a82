package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rahul/hitobot/internal/milestone"
)

// isRetryable reports whether err is a transient SQLite condition.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk i/o error")
}

// isExpected covers domain errors that are not store failures.
func isExpected(err error) bool {
	return errors.Is(err, milestone.ErrRequestNotFound) ||
		errors.Is(err, errNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, context.Canceled)
}

// withRetry retries transient errors with exponential backoff until timeout.
// Exhausted retries surface as milestone.ErrStoreUnavailable.
func withRetry(ctx context.Context, timeout time.Duration, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = timeout

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))

	if err != nil && isRetryable(err) {
		return fmt.Errorf("%w: %v", milestone.ErrStoreUnavailable, err)
	}
	return err
}
