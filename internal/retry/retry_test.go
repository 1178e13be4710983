package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Hour}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond}

	cause := errors.New("connection refused")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})

	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Do() error = %v, want wrapped %v", err, cause)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	p := Policy{}

	calls := 0
	p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("nope")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			return errors.New("connection refused")
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}
