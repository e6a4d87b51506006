package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestPolicy_BackoffSchedule verifies the default exponential schedule:
// 1s, 2s, 4s, 8s, then capped at 10s.
func TestPolicy_BackoffSchedule(t *testing.T) {
	var p Policy // all defaults

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d): got %v, want %v", i+1, got, w)
		}
	}
}

func TestPolicy_BackoffCapBelowInitial(t *testing.T) {
	p := Policy{InitialBackoff: 5 * time.Second, MaxBackoff: 2 * time.Second}
	if got := p.Backoff(1); got != 2*time.Second {
		t.Errorf("Backoff(1): got %v, want cap 2s", got)
	}
}

func TestPolicy_DoSucceedsOnThirdAttempt(t *testing.T) {
	p := Policy{Name: "test", InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestPolicy_DoExhaustsAttempts(t *testing.T) {
	p := Policy{Name: "test", InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	sentinel := errors.New("backend down")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	if calls != 3 {
		t.Errorf("calls: got %d, want 3 (default MaxAttempts)", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("err should wrap the last failure: %v", err)
	}
}

func TestPolicy_DoRespectsCancellation(t *testing.T) {
	p := Policy{Name: "test", InitialBackoff: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("fail")
		})
	}()

	// Let the first attempt land, then cancel during the backoff sleep.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestPolicy_DoNoRetryAfterCancelledContext(t *testing.T) {
	p := Policy{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err: got %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("op should not run with a dead context, ran %d times", calls)
	}
}
