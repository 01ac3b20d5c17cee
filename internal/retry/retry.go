// Package retry wraps fallible sub-operations with bounded attempts and
// exponential backoff. Callers decide which failures are worth wrapping;
// errors marked Permanent are never retried.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
)

type options struct {
	maxAttempts  int
	initialDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

type Option func(*options)

func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.initialDelay = d
		}
	}
}

// WithSleep replaces the backoff sleep, used by tests to record the schedule.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do runs op up to maxAttempts times. The wait before each retry doubles,
// starting at initialDelay. The last error is returned once attempts are
// exhausted; a Permanent error or context cancellation stops early.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	cfg := options{
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var lastErr error
	delay := cfg.initialDelay
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := cfg.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		var permanent *PermanentError
		if errors.As(lastErr, &permanent) {
			return permanent.Err
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
