package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bigtube/internal/logging"
)

// RetryConfig controls Retry's exponential backoff.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Base        float64
	// OnRetry runs before each sleep with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultRetry is three attempts starting at one second, doubling, capped at 30s.
var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	Base:        2,
}

// RetryError is returned once every attempt has failed.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error { return e.Last }

// ErrPermanent marks an error that Retry must not retry.
var ErrPermanent = errors.New("permanent")

// Permanent wraps err so Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Delay returns the backoff before the retry following attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	base := c.Base
	if base <= 0 {
		base = 2
	}
	d := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= base
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && time.Duration(d) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, returns a Permanent error, ctx is done or
// MaxAttempts is exhausted.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return &RetryError{Attempts: attempt - 1, Last: last}
			}
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if errors.Is(last, ErrPermanent) {
			return last
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := cfg.Delay(attempt)
		if logging.Logger != nil {
			logging.Logger.Warn("retrying after failure",
				"event", "retry",
				"attempt", attempt,
				"max_attempts", cfg.MaxAttempts,
				"delay_ms", delay.Milliseconds(),
				"error", last)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, last)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return &RetryError{Attempts: attempt, Last: last}
		case <-t.C:
		}
	}
	return &RetryError{Attempts: cfg.MaxAttempts, Last: last}
}
