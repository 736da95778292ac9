package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crossledger/native/lending"
)

const (
	busyInitialInterval = 2 * time.Millisecond
	busyMaxInterval     = 50 * time.Millisecond
	busyMaxElapsed      = 2 * time.Second
)

// retryBusy re-issues fn while the engine reports ErrEngineBusy. Any other
// outcome, including a direct re-entry, is returned as is. A nested call made
// by an engine collaborator keeps failing until busyMaxElapsed, after which
// the outer call proceeds without it.
func retryBusy[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyInitialInterval
	policy.MaxInterval = busyMaxInterval
	policy.MaxElapsedTime = busyMaxElapsed
	return backoff.RetryWithData(func() (T, error) {
		out, err := fn()
		if err != nil && !errors.Is(err, lending.ErrEngineBusy) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithContext(policy, ctx))
}

// retryBusyErr is retryBusy for calls without a result.
func retryBusyErr(ctx context.Context, fn func() error) error {
	_, err := retryBusy(ctx, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
