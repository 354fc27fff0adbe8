// Package resilience provides the retry and circuit-breaker primitives used
// around the database connection and node restart calls.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
)

// Retry runs fn under an exponential backoff with jitter, up to attempts times.
func Retry[T any](ctx context.Context, attempts int, initialInterval time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if attempts <= 0 {
		return zero, nil
	}

	meter := otel.Meter("glas")
	attemptCounter, _ := meter.Int64Counter("glas_resilience_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("glas_resilience_retry_success_total")
	failCounter, _ := meter.Int64Counter("glas_resilience_retry_fail_total")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = 60 * time.Second
	bctx := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	var result T
	var lastErr error
	op := func() error {
		v, err := fn()
		attemptCounter.Add(ctx, 1)
		if err != nil {
			lastErr = err
			return err
		}
		result = v
		return nil
	}

	if err := backoff.Retry(op, bctx); err != nil {
		failCounter.Add(ctx, 1)
		return zero, lastErr
	}
	successCounter.Add(ctx, 1)
	return result, nil
}
