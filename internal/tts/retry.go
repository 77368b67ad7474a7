package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// retryProvider wraps a Provider with bounded exponential backoff on
// transient failures.
type retryProvider struct {
	inner    Provider
	attempts int
	baseWait time.Duration
}

// WithRetry returns a Provider that attempts each synthesis up to attempts
// times, backing off quadratically between tries. Non-transient errors
// return immediately.
func WithRetry(p Provider, attempts int) Provider {
	if attempts < 1 {
		attempts = 1
	}
	return &retryProvider{inner: p, attempts: attempts, baseWait: 500 * time.Millisecond}
}

func (r *retryProvider) Name() string                        { return r.inner.Name() }
func (r *retryProvider) FileExtension() string               { return r.inner.FileExtension() }
func (r *retryProvider) EstimateCost(totalChars int) float64 { return r.inner.EstimateCost(totalChars) }

func (r *retryProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * r.baseWait
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("retrying synthesis", "provider", r.inner.Name(), "attempt", attempt)
		}

		audio, err := r.inner.Synthesize(ctx, req)
		if err == nil {
			return audio, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all retries exhausted: %w", lastErr)
}
