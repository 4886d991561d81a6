package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// WithRetry retries failed calls up to maxRetries times with exponential
// backoff starting at base. Open circuits, client errors (4xx other than
// 429) and cancelled contexts are not retried.
func WithRetry(maxRetries int, base time.Duration, logger *slog.Logger) HandlerMiddleware {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = base
			b.MaxInterval = 30 * base

			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if !retryable(ctx, err) || attempt == maxRetries {
					break
				}

				wait := b.NextBackOff()
				if wait == backoff.Stop {
					break
				}
				if logger != nil {
					logger.WarnContext(ctx, "retrying call",
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
