package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("rate limited"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry = %v, want nil after recovery", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) error {
		calls++
		return Transient(errors.New("still down"))
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Retry = %v, want ErrRetriesExhausted", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), "test", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Retry = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on permanent failure)", calls)
	}
}

func TestRetryCancellationIsExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Retry(ctx, fastPolicy(5), "test", func(ctx context.Context) error {
		cancel()
		return Transient(errors.New("interrupted"))
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Retry = %v, want ErrRetriesExhausted on cancellation", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		if d > 300*time.Millisecond+300*time.Millisecond/4 {
			t.Fatalf("Backoff(%d) = %v, above cap plus jitter", attempt, d)
		}
		if d <= 0 {
			t.Fatalf("Backoff(%d) = %v, want positive", attempt, d)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(errors.New("plain")) {
		t.Error("plain error classified transient")
	}
	if !IsTransient(Transient(errors.New("hiccup"))) {
		t.Error("wrapped error not classified transient")
	}
	wrapped := errors.Join(errors.New("outer"), Transient(errors.New("inner")))
	if !IsTransient(wrapped) {
		t.Error("nested transient not detected")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}
