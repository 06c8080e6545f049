// Package retry runs an operation again with exponential backoff when it
// fails with a transient error.
//
// Usage:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: 200*time.Millisecond}, func() error {
//	    return encoder.Call()
//	})
//
// Wrap an error with Permanent to stop retrying immediately.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls the retry behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay is the wait before the second attempt.
	// Subsequent delays are doubled up to MaxDelay.
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration `yaml:"max_delay"`
	// ShouldRetry classifies errors as retryable. When nil, every error that
	// is not marked Permanent is retried.
	ShouldRetry func(err error) bool `yaml:"-"`
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, err error) `yaml:"-"`
}

// DefaultConfig suits short calls to a local or nearby encoder.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged so callers can still match it with errors.Is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Backoff returns the wait after the given failed attempt (1-based):
// InitialDelay doubled once per earlier attempt, capped at MaxDelay.
func (c Config) Backoff(attempt int) time.Duration {
	c = c.normalized()
	d := c.InitialDelay
	for i := 1; i < attempt && d < c.MaxDelay; i++ {
		d *= 2
	}
	return min(d, c.MaxDelay)
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultConfig.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	return c
}

// retryable reports whether err may be tried again and returns the error
// Do should surface.
func (c Config) retryable(err error) (bool, error) {
	var p permanentError
	if errors.As(err, &p) {
		return false, p.err
	}
	if c.ShouldRetry != nil && !c.ShouldRetry(err) {
		return false, err
	}
	return true, err
}

// Do calls fn until it succeeds, returns an error that must not be retried,
// ctx is done, or cfg.MaxAttempts calls have been made.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.normalized()

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return errors.Join(err, cerr)
		}
		if err = fn(); err == nil {
			return nil
		}

		again, surfaced := cfg.retryable(err)
		if !again || attempt >= cfg.MaxAttempts {
			return surfaced
		}

		d := cfg.Backoff(attempt)
		slog.Debug("retrying after failure", "attempt", attempt, "of", cfg.MaxAttempts, "wait", d, "err", err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if cerr := sleep(ctx, d); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
