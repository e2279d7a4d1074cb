package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	cfg := FixedConfig(3, time.Millisecond)

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errTest
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := FixedConfig(3, time.Millisecond)

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errTest
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, errTest) {
		t.Errorf("error should wrap the last failure, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	cfg := FixedConfig(10, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		attempts++
		return errTest
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if attempts >= 10 {
		t.Errorf("cancellation should stop retries early, attempts = %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := FixedConfig(3, time.Millisecond)

	attempts := 0
	got, err := DoWithResult(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTest
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "done" {
		t.Errorf("result = %q, want %q", got, "done")
	}
}

func TestDelayFor_FixedBackoff(t *testing.T) {
	cfg := FixedConfig(5, 10*time.Millisecond)

	for attempt := 0; attempt < 4; attempt++ {
		if d := delayFor(cfg, attempt); d != 10*time.Millisecond {
			t.Errorf("delayFor(%d) = %v, want 10ms", attempt, d)
		}
	}
}

func TestDelayFor_ExponentialCappedAtMax(t *testing.T) {
	cfg := Config{
		MaxAttempts:  10,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}

	if d := delayFor(cfg, 0); d != 10*time.Millisecond {
		t.Errorf("delayFor(0) = %v, want 10ms", d)
	}
	if d := delayFor(cfg, 1); d != 20*time.Millisecond {
		t.Errorf("delayFor(1) = %v, want 20ms", d)
	}
	if d := delayFor(cfg, 5); d != 50*time.Millisecond {
		t.Errorf("delayFor(5) = %v, want cap of 50ms", d)
	}
}
