package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// RetryConfig controls navigation retries.
type RetryConfig struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig retries a navigation twice, starting at one second.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:  2,
	InitialWait: time.Second,
	MaxWait:     8 * time.Second,
	Multiplier:  2.0,
}

// retryDo calls fn up to MaxRetries+1 times with exponential backoff between
// attempts. It stops early when ctx ends.
func retryDo[T any](ctx context.Context, rc RetryConfig, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < rc.MaxRetries {
			wait := backoff(rc, attempt)
			slog.Debug("retrying navigation",
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.Any("error", err),
			)
			if err := sleep(ctx, wait); err != nil {
				return zero, err
			}
		}
	}
	return zero, lastErr
}

func backoff(rc RetryConfig, attempt int) time.Duration {
	mult := rc.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := time.Duration(float64(rc.InitialWait) * math.Pow(mult, float64(attempt)))
	if rc.MaxWait > 0 && wait > rc.MaxWait {
		wait = rc.MaxWait
	}
	return wait
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
