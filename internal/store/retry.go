package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxTries bounds how often a conflicting transaction is replayed.
const DefaultMaxTries uint = 5

// Retry runs op until it succeeds, fails with an error other than
// ErrConflict, or maxTries attempts have been made. Only conflicts are
// retried; every other error is returned as is.
func Retry[T any](ctx context.Context, maxTries uint, op func() (T, error)) (T, error) {
	if maxTries == 0 {
		maxTries = DefaultMaxTries
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(5*time.Second),
	)
}
