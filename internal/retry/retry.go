// Package retry provides exponential backoff retry logic with jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ytingest/quota"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
	// InitialBackoff is the initial delay before retrying.
	InitialBackoff time.Duration
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// JitterFraction is the fraction of backoff used for jitter (0.0-1.0).
	JitterFraction float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2, // +/- 20% jitter
	}
}

// ErrorClassifier determines if an error is retryable.
type ErrorClassifier func(error) bool

// ErrPermanent marks errors wrapped with Permanent.
var ErrPermanent = errors.New("permanent error")

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so IsRetryable rejects it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable is the default classifier. Context errors, quota errors and
// errors wrapped with Permanent are not retried.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if quota.IsExceeded(err) {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return true
}

// Do runs fn until it succeeds, classifier rejects its error, or
// cfg.MaxRetries retries have failed. A nil classifier means IsRetryable.
// Exhausted retries return a *RetryableError wrapping the last error.
func Do(ctx context.Context, cfg Config, classifier ErrorClassifier, fn func(context.Context) error) error {
	if classifier == nil {
		classifier = IsRetryable
	}
	bo := newBackOff(cfg)

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case !classifier(err):
			return err
		case attempt >= cfg.MaxRetries:
			return &RetryableError{Err: err, Retries: cfg.MaxRetries}
		}

		wait := bo.NextBackOff()
		if cfg.MaxBackoff > 0 {
			wait = min(wait, cfg.MaxBackoff)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newBackOff translates Config into an exponential backoff policy.
func newBackOff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff
	bo.Multiplier = cfg.Multiplier
	if bo.Multiplier <= 1 {
		bo.Multiplier = 2.0
	}
	bo.RandomizationFactor = cfg.JitterFraction
	bo.Reset()
	return bo
}

// RetryableError is returned when every attempt failed with a retryable error.
type RetryableError struct {
	Err     error
	Retries int
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("failed after %d retries: %v", e.Retries, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
