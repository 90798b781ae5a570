package util

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryWithContext calls fn up to maxTries times until it returns a non-nil result and nil error,
// or until ctx is done. If maxTries <= 0, it defaults to 1.
// Returns ctx.Err() if the context is canceled, otherwise returns the last error.
func RetryWithContext[T any](ctx context.Context, maxTries int, fn func(context.Context) (T, error)) (T, error) {
	return RetryWithBackoff(ctx, BackoffOptions{MaxAttempts: maxTries}, nil, fn)
}

func RetryErrWithContext(ctx context.Context, maxTries int, fn func(context.Context) error) error {
	_, err := RetryWithContext(ctx, maxTries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// BackoffOptions bounds RetryWithBackoff. The delay before attempt n+1 is
// InitialDelay * Multiplier^(n-1), capped at MaxDelay, with up to Jitter
// (a fraction of the delay) added at random.
type BackoffOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// Delay returns the wait before the attempt following attempt (1-based),
// without jitter.
func (o BackoffOptions) Delay(attempt int) time.Duration {
	if o.InitialDelay <= 0 || attempt < 1 {
		return 0
	}
	mult := o.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(o.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if o.MaxDelay > 0 && d >= float64(o.MaxDelay) {
			return o.MaxDelay
		}
	}
	if o.MaxDelay > 0 && time.Duration(d) > o.MaxDelay {
		return o.MaxDelay
	}
	return time.Duration(d)
}

func (o BackoffOptions) jittered(attempt int) time.Duration {
	d := o.Delay(attempt)
	if d <= 0 || o.Jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*o.Jitter*float64(d))
}

// RetryWithBackoff calls fn until it succeeds, MaxAttempts is reached, ctx is
// done or shouldRetry rejects the error. A nil shouldRetry retries every
// error except context errors. The last error is returned unchanged; once
// ctx is done its error is returned instead.
func RetryWithBackoff[T any](
	ctx context.Context,
	opts BackoffOptions,
	shouldRetry func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	maxTries := opts.MaxAttempts
	if maxTries <= 0 {
		maxTries = 1
	}
	retry := shouldRetry
	if retry == nil {
		retry = notContextErr
	}

	var lastErr error
	var zero T
	for attempt := 1; attempt <= maxTries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		// Only the caller's context ends the loop. An attempt that failed on
		// its own deadline is left to shouldRetry.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if !retry(err) {
			return zero, err
		}
		if attempt == maxTries {
			break
		}

		if wait := opts.jittered(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, lastErr
}

func notContextErr(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
