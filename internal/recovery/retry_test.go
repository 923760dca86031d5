package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryOperationSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := RetryOperation(context.Background(), func() (string, error) {
		calls++
		return "ok", nil
	}, 3)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if result != "ok" {
		t.Errorf("Expected result %q, got %q", "ok", result)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryOperationSucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	result, err := RetryOperation(context.Background(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, 3)
	if err != nil {
		t.Fatalf("Expected success after retry, got %v", err)
	}
	if result != 42 {
		t.Errorf("Expected result 42, got %d", result)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestRetryOperationExhaustsRetries(t *testing.T) {
	lastErr := errors.New("persistent failure")
	calls := 0
	_, err := RetryOperation(context.Background(), func() (string, error) {
		calls++
		return "", lastErr
	}, 2)
	if !errors.Is(err, lastErr) {
		t.Errorf("Expected the last error unchanged, got %v", err)
	}
	// Initial attempt plus two retries.
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryOperationContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = RetryOperation(ctx, func() (string, error) {
			calls++
			return "", errors.New("always fails")
		}, 5)
	}()

	// Cancel during the first backoff wait.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RetryOperation did not return after context cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", calls)
	}
}
