package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
)

// RetryPolicy bounds how callers retry a retryable conflict before giving up.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, InitialInterval: 100 * time.Millisecond}

// Retryable reports whether an error is a transient write conflict worth
// retrying: the store's lock contention, or an exclusivity conflict that a
// concurrent writer may have resolved by the next attempt.
func Retryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// Retry runs op with bounded exponential backoff, retrying only retryable
// conflicts. Other errors surface immediately.
func Retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval

	wrapped := func() error {
		err := op()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(policy.MaxAttempts-1)), ctx))
}
