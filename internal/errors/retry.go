package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"hyperagent/internal/logging"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxAttempts  int           // additional attempts after the first (default: 3)
	BaseDelay    time.Duration // delay before the first retry (default: 5s)
	MaxDelay     time.Duration // cap on the computed delay (default: 60s)
	JitterFactor float64       // fraction of delay added as random jitter (default: 0.2)
}

// DefaultRetryConfig matches the tool-level retry policy: 5s, 10s, 20s
// plus 10-30% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    5 * time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.2,
	}
}

// Retry executes fn until it succeeds, exhausts attempts, or returns a
// non-transient error. Only CategoryTransient errors are retried.
func Retry(ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, logger, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, logger logging.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	logger = logging.OrNop(logger)

	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded on attempt %d", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		if !Classify(err).Retryable() {
			logger.Debug("error not transient (%s), stopping retries: %v", Classify(err), err)
			return zero, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("retries exhausted after %d attempts", attempt+1)
			break
		}

		delay := Backoff(attempt, config)
		logger.Debug("attempt %d failed (%v), retrying in %v", attempt+1, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Backoff computes base*2^attempt capped at MaxDelay, plus positive
// jitter in [jitter/2, 3*jitter/2) of the delay.
func Backoff(attempt int, config RetryConfig) time.Duration {
	base := config.BaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		delay += time.Duration(jitter/2 + rand.Float64()*jitter)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return delay
}
