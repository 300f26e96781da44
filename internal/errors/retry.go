package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"oats/internal/logging"
)

// RetryConfig shapes the backoff schedule for calls against flaky
// dependencies.
type RetryConfig struct {
	MaxAttempts  int           // additional attempts after the first
	BaseDelay    time.Duration // delay before the first retry
	MaxDelay     time.Duration // ceiling for any single delay
	JitterFactor float64       // fraction of the delay randomized both ways
}

// DefaultRetryConfig returns the oracle call policy: three attempts total
// with a jittered 500ms exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  2,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.25,
	}
}

// Retry runs fn until it succeeds, fails permanently, or the attempt budget
// runs out. Only errors wrapped as transient earn another attempt.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	log := logging.OrNop(logger)
	attempts := config.MaxAttempts + 1
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry abandoned: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			if n > 1 {
				log.Info("call recovered on attempt %d of %d", n, attempts)
			}
			return result, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if n == attempts {
			break
		}

		wait := config.delayFor(n)
		log.Debug("attempt %d of %d failed, next in %v: %v", n, attempts, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry abandoned during backoff: %w", ctx.Err())
		}
	}

	log.Warn("no attempts left after %d tries: %v", attempts, lastErr)
	return zero, fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// delayFor doubles BaseDelay for each completed attempt, caps the result at
// MaxDelay, then widens it by the jitter band.
func (c RetryConfig) delayFor(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 1; i < attempt && delay < c.MaxDelay; i++ {
		delay *= 2
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.JitterFactor > 0 {
		band := float64(delay) * c.JitterFactor
		delay += time.Duration((rand.Float64()*2 - 1) * band)
		if delay < 0 {
			delay = c.BaseDelay
		}
		if delay > c.MaxDelay {
			delay = c.MaxDelay
		}
	}
	return delay
}
