package database

import (
	"context"
	"time"

	appErrors "github.com/noah-isme/tutor-ledger-api/pkg/errors"
)

// Retrier re-runs an operation once after a transient storage failure.
type Retrier struct {
	Backoff time.Duration
	OnRetry func(attempt int, err error)
}

// NewRetrier builds a retrier with the given backoff.
func NewRetrier(backoff time.Duration) *Retrier {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Retrier{Backoff: backoff}
}

// Do runs fn, retrying a single time when it fails transiently. A failure that
// is still transient after the retry is surfaced as ErrTransientStorage.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !IsTransient(err) {
		return err
	}
	if r != nil && r.OnRetry != nil {
		r.OnRetry(1, err)
	}

	backoff := 100 * time.Millisecond
	if r != nil && r.Backoff > 0 {
		backoff = r.Backoff
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		wrapped := appErrors.Clone(appErrors.ErrTransientStorage, "")
		wrapped.Err = ctx.Err()
		return wrapped
	case <-timer.C:
	}

	err = fn(ctx)
	if IsTransient(err) {
		wrapped := appErrors.Clone(appErrors.ErrTransientStorage, "")
		wrapped.Err = err
		return wrapped
	}
	return err
}
