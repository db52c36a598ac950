package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("sqlite: upsert: database is locked")

func fastPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	v, err := Do(context.Background(), DefaultPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 || calls != 1 {
		t.Errorf("got value %d after %d calls, want 7 after 1", v, calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	var retried []int
	cfg := fastPolicy()
	cfg.OnRetry = func(attempt int, _ error) { retried = append(retried, attempt) }

	v, err := Do(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBusy
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", v, calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected retry callbacks: %v", retried)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, errBusy
	})
	if !errors.Is(err, errBusy) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("unknown column")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := Do(ctx, fastPolicy(), func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, errBusy
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetryableOverride(t *testing.T) {
	var calls int
	cfg := fastPolicy()
	cfg.Retryable = func(error) bool { return false }
	_, _ = Do(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errBusy
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_DeadlineShorterThanBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cfg := Policy{MaxAttempts: 5, BaseDelay: time.Minute}
	var calls int
	start := time.Now()
	_, err := Do(ctx, cfg, func(_ context.Context) (int, error) {
		calls++
		return 0, errBusy
	})
	if !errors.Is(err, errBusy) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Do slept despite the deadline")
	}
}

func TestBackoff(t *testing.T) {
	cfg := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{6, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.attempt); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0.5}
	for range 50 {
		d := cfg.Backoff(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("backoff %v outside jitter bounds", d)
		}
	}
}

func TestNormalized(t *testing.T) {
	p := Policy{Jitter: -1}.normalized()
	def := DefaultPolicy()
	if p.MaxAttempts != def.MaxAttempts || p.BaseDelay != def.BaseDelay || p.MaxDelay != def.MaxDelay {
		t.Errorf("zero fields not defaulted: %+v", p)
	}
	if p.Jitter != 0 {
		t.Errorf("negative jitter kept: %v", p.Jitter)
	}
	if p.Retryable == nil || !p.Retryable(errBusy) {
		t.Error("default Retryable should treat a locked database as transient")
	}
}
