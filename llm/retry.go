package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/types"
)

// RetryPolicy defines how transient provider failures are retried.
type RetryPolicy struct {
	// Delays holds the wait before each retry attempt; len(Delays) bounds the
	// number of retries.
	Delays []time.Duration
}

// DefaultRetryPolicy retries transport failures twice, at 100ms and 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}}
}

// retryDo runs fn, retrying per policy when the error is retryable. The last
// error is returned unchanged so callers can inspect its code.
func retryDo[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func() (T, error)) (T, error) {
	var zero T
	result, err := fn()
	if err == nil {
		return result, nil
	}

	for attempt, delay := range policy.Delays {
		if !types.IsRetryable(err) {
			return zero, err
		}

		logger.Warn("provider call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return zero, types.NewError(types.ErrCancelled, "call cancelled during retry backoff").WithCause(ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
