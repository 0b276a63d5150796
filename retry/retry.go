// Package retry repeats operations that fail transiently.
//
// Listener redelivery and the mailbox copier use it so that one backend
// hiccup does not turn into a dead letter or a failed mailbox.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config configures retry behavior. Zero fields take the defaults of
// DefaultConfig.
type Config struct {
	// MaxRetries is the number of attempts after the first one (default: 3).
	// Zero runs the operation once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps any single delay (default: 30s).
	MaxBackoff time.Duration

	// Multiplier grows the delay after each retry (default: 2).
	Multiplier float64

	// Jitter spreads each delay by up to this fraction either way, in [0, 1]
	// (default: 0.1).
	Jitter float64

	// IsRetryable decides whether a failure is worth another attempt
	// (default: DefaultIsRetryable).
	IsRetryable func(error) bool

	// OnRetry is called with the attempt that just failed, counting from 1,
	// before waiting for the next one.
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

// normalize fills zero or out-of-range fields from DefaultConfig.
func (c Config) normalize() Config {
	d := DefaultConfig()
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	if c.IsRetryable == nil {
		c.IsRetryable = d.IsRetryable
	}
	return c
}

// Reasons a retry loop gives up, matched with errors.Is on the returned error.
var (
	ErrNotRetryable    = errors.New("retry: error is not retryable")
	ErrMaxRetries      = errors.New("retry: max retries exceeded")
	ErrContextCanceled = errors.New("retry: context canceled")
)

// RetryError reports a retry loop that gave up.
type RetryError struct {
	Cause    error // last error returned by the operation
	Attempts int   // attempts made, including the first
	Reason   error // ErrMaxRetries, ErrNotRetryable or ErrContextCanceled
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempt(s) (%v): %v", e.Attempts, e.Reason, e.Cause)
}

func (e *RetryError) Unwrap() error { return e.Cause }

// Is matches both the reason and the cause.
func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Reason, target) || errors.Is(e.Cause, target)
}

// Attempts returns how many attempts produced err. Errors that did not come
// from Do count as one attempt.
func Attempts(err error) int {
	var re *RetryError
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 1
}

// RetryableFunc is an operation run by Do.
type RetryableFunc func(ctx context.Context) error

// Do runs fn until it succeeds, fails with a non-retryable error, runs out of
// retries or ctx ends. A context that is already done before the first
// attempt returns ctx.Err() unwrapped.
func Do(ctx context.Context, cfg Config, fn RetryableFunc) error {
	cfg = cfg.normalize()
	if err := ctx.Err(); err != nil {
		return err
	}

	delays := newSchedule(cfg)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case !cfg.IsRetryable(err):
			return &RetryError{Cause: err, Attempts: attempt, Reason: ErrNotRetryable}
		case attempt > cfg.MaxRetries:
			return &RetryError{Cause: err, Attempts: attempt, Reason: ErrMaxRetries}
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, delays.next()) {
			return &RetryError{Cause: err, Attempts: attempt, Reason: ErrContextCanceled}
		}
	}
}

// DoWithResult is Do for operations returning a value. The value of the last
// attempt is returned.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// DefaultIsRetryable treats unknown errors as transient. Context errors and
// errors marked with MarkNotRetryable are not retried; errors implementing
// Retryable() bool decide for themselves.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNotRetryable):
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// MarkNotRetryable wraps err so DefaultIsRetryable rejects it.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{error: err, retryable: false}
}

// MarkRetryable wraps err so DefaultIsRetryable accepts it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{error: err, retryable: true}
}

type marked struct {
	error
	retryable bool
}

func (m *marked) Unwrap() error   { return m.error }
func (m *marked) Retryable() bool { return m.retryable }
