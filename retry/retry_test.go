package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		cause := errors.New("still down")
		err := Do(ctx, fastConfig(2), func(context.Context) error {
			calls++
			return cause
		})
		if !errors.Is(err, ErrMaxRetries) || !errors.Is(err, cause) {
			t.Fatalf("expected max retries wrapping cause, got %v", err)
		}
		var re *RetryError
		if !errors.As(err, &re) || re.Attempts != 3 {
			t.Errorf("expected 3 attempts, got %+v", re)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("zero retries runs once", func(t *testing.T) {
		calls := 0
		_ = Do(ctx, fastConfig(0), func(context.Context) error {
			calls++
			return errors.New("fail")
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("missing file is not retried", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(5), func(context.Context) error {
			calls++
			return fmt.Errorf("open spool file: %w", fs.ErrNotExist)
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Fatalf("expected ErrNotRetryable, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("marked errors", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(5), func(context.Context) error {
			calls++
			return MarkNotRetryable(errors.New("bad request"))
		})
		if !errors.Is(err, ErrNotRetryable) || calls != 1 {
			t.Errorf("expected one call and ErrNotRetryable, got %d, %v", calls, err)
		}

		if !DefaultIsRetryable(MarkRetryable(fs.ErrPermission)) {
			t.Error("expected explicit retryable mark to win")
		}
		if MarkRetryable(nil) != nil || MarkNotRetryable(nil) != nil {
			t.Error("expected nil to stay nil")
		}
	})

	t.Run("on retry hook", func(t *testing.T) {
		var attempts []int
		cfg := fastConfig(2)
		cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
			attempts = append(attempts, attempt)
		}
		_ = Do(ctx, cfg, func(context.Context) error { return errors.New("fail") })
		if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
			t.Errorf("expected hook for attempts 1 and 2, got %v", attempts)
		}
	})

	t.Run("context canceled before first attempt", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Do(cctx, fastConfig(3), func(context.Context) error {
			t.Fatal("must not run")
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("context canceled while waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cfg := Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
		err := Do(cctx, cfg, func(context.Context) error {
			cancel()
			return errors.New("fail")
		})
		if !errors.Is(err, ErrContextCanceled) {
			t.Errorf("expected ErrContextCanceled, got %v", err)
		}
	})
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(2), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "s3://bucket/key", nil
	})
	if err != nil || got != "s3://bucket/key" {
		t.Errorf("expected uri, got %q, %v", got, err)
	}
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for attempt, w := range want {
		if got := Backoff(cfg, attempt); got != w {
			t.Errorf("attempt %d: expected %v, got %v", attempt, w, got)
		}
	}

	cfg.Jitter = 0.5
	for i := 0; i < 100; i++ {
		got := Backoff(cfg, 0)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered backoff %v out of range", got)
		}
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("timeout"), true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{fs.ErrNotExist, false},
		{fs.ErrPermission, false},
		{ErrNotRetryable, false},
	}
	for _, tt := range tests {
		if got := DefaultIsRetryable(tt.err); got != tt.want {
			t.Errorf("DefaultIsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
