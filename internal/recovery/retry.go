package recovery

import (
	"context"
	"log/slog"
	"time"
)

// retryDelays is the backoff ladder used by RetryOperation; attempts past the
// ladder reuse the last entry.
var retryDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// RetryOperation invokes op until it succeeds or maxRetries retries are
// exhausted (initial attempt + maxRetries). Backoff suspends only the calling
// cycle; the context cancels the wait. On exhaustion the last error is
// returned unchanged so callers can classify the original fault.
func RetryOperation[T any](ctx context.Context, op func() (T, error), maxRetries int) (T, error) {
	var zero T
	var lastErr error

	attempts := maxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelays[min(attempt-1, len(retryDelays)-1)]
			slog.Warn("RetryOperation backing off", "attempt", attempt, "max_retries", maxRetries, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		result, err := op()
		if err == nil {
			if attempt > 0 {
				slog.Info("RetryOperation succeeded after retry", "attempt", attempt+1)
			}
			return result, nil
		}
		lastErr = err
	}
	slog.Error("RetryOperation exhausted", "attempts", attempts, "error", lastErr)
	return zero, lastErr
}
