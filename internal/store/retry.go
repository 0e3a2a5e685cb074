package store

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

// Retry runs fn up to attempts times while it fails with a retryable error
// and returns the last error of fn rather than the aggregated retry error.
func Retry[T any](ctx context.Context, attempts uint, logger *zap.SugaredLogger, fn func() (T, error)) (T, error) {
	if attempts == 0 {
		attempts = 1
	}
	var lastErr error
	out, err := retry.DoWithData(
		func() (T, error) {
			v, err := fn()
			lastErr = err
			return v, err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(25*time.Millisecond),
		retry.MaxJitter(25*time.Millisecond),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			if logger != nil {
				logger.Debugw("retrying transaction", "attempt", n+1, "err", err)
			}
		}),
	)
	if err != nil && lastErr != nil {
		var zero T
		return zero, lastErr
	}
	return out, err
}
