// Package retry retries transient failures with exponential backoff.
//
// It is used for work that follows a successful spool, such as uploading
// the spooled file to object storage. The spool naming loop does not use
// it: name collisions are resolved by lengthening the candidate, not by
// waiting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand/v2"
	"time"
)

// Default values applied by DefaultConfig and to zero Config fields.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitter         = 0.1
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero executes once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter randomizes each delay by +/- Jitter*delay, between 0 and 1.
	Jitter float64

	// IsRetryable decides whether an error is retried. Nil uses DefaultIsRetryable.
	IsRetryable func(error) bool

	// OnRetry, if set, is called before sleeping ahead of each retry.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultConfig returns the defaults used for archive uploads.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultMultiplier,
		Jitter:         DefaultJitter,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Sentinel errors.
var (
	// ErrNotRetryable marks a failure that stopped retrying early.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is returned when all attempts failed.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is returned when ctx ended between attempts.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Func is a retryable unit of work.
type Func func(ctx context.Context) error

// Do runs fn until it succeeds, returns a non-retryable error, ctx ends,
// or cfg.MaxRetries retries were spent. Failures are reported as *RetryError.
func Do(ctx context.Context, cfg Config, fn Func) error {
	cfg = applyDefaults(cfg)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return &RetryError{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return &RetryError{Cause: err, Attempts: attempt + 1, Err: ErrNotRetryable}
		}
		if attempt >= cfg.MaxRetries {
			return &RetryError{Cause: err, Attempts: attempt + 1, Err: ErrMaxRetries}
		}

		backoff := Backoff(cfg, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Cause: err, Attempts: attempt + 1, Err: ErrContextCanceled}
		case <-timer.C:
		}
	}
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RetryError describes a retry sequence that did not succeed.
type RetryError struct {
	// Cause is the last error returned by the function.
	Cause error
	// Attempts is the number of times the function ran.
	Attempts int
	// Err is ErrMaxRetries, ErrNotRetryable, or ErrContextCanceled.
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// Backoff returns the delay before retry number attempt+1.
func Backoff(cfg Config, attempt int) time.Duration {
	cfg = applyDefaults(cfg)
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := backoff * cfg.Jitter
		backoff += spread * (2*rand.Float64() - 1)
	}
	return time.Duration(backoff)
}

func applyDefaults(cfg Config) Config {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable retries everything except context errors, missing
// files, permission errors, and errors marked with MarkNotRetryable. An
// error implementing Retryable() bool decides for itself.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var marked interface{ Retryable() bool }
	if errors.As(err, &marked) {
		return marked.Retryable()
	}

	switch {
	case errors.Is(err, ErrNotRetryable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission):
		return false
	}
	return true
}

// MarkNotRetryable wraps err so DefaultIsRetryable rejects it.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, retryable: false}
}

// MarkRetryable wraps err so DefaultIsRetryable accepts it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, retryable: true}
}

type markedError struct {
	cause     error
	retryable bool
}

func (e *markedError) Error() string   { return e.cause.Error() }
func (e *markedError) Unwrap() error   { return e.cause }
func (e *markedError) Retryable() bool { return e.retryable }
