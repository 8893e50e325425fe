package fault

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Retry schedule for idempotent reads against flaky infrastructure:
// the initial try plus three retries delayed 100ms, 400ms, 1600ms with
// ±25% jitter. Writes never go through here.
const (
	retryInitialInterval = 100 * time.Millisecond
	retryMultiplier      = 4.0
	retryJitter          = 0.25
	retryMaxTries        = 4
)

// RetryRead runs op under the idempotent-read retry policy. Only
// infrastructure-unavailable faults are retried; every other error
// returns immediately. The context bounds the whole schedule.
func RetryRead[T any](ctx context.Context, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = retryInitialInterval
	expo.Multiplier = retryMultiplier
	expo.RandomizationFactor = retryJitter

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !IsKind(err, Infrastructure) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(retryMaxTries))
}
