package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/toolprint/hypertool-mcp-go/internal/errkind"
)

func TestRetrierSucceedsAfterRetryableFailures(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 1, Jitter: false})

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errkind.New(errkind.KindTimeout, "slow").WithRetry()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetrierStopsOnNonRetryableError(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond})

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errkind.New(errkind.KindInvalidParams, "bad request")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Fatalf("expected a non-retryable error to stop after 1 attempt, got %d", attempts)
	}
}

func TestRetrierGivesUpAfterMaxAttempts(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errkind.New(errkind.KindTimeout, "slow").WithRetry()
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if attempts != 2 {
		t.Fatalf("expected exactly MaxAttempts=2 attempts, got %d", attempts)
	}
}

func TestRetrierRespectsContextCancellation(t *testing.T) {
	r := NewRetrier(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errkind.New(errkind.KindTimeout, "slow").WithRetry()
	})
	if err == nil {
		t.Fatal("expected an error from cancellation")
	}
	if attempts > 1 {
		t.Fatalf("expected cancellation to short-circuit retries, got %d attempts", attempts)
	}
}
