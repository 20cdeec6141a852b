package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
		OnRetry:       func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) },
	}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || len(retried) != 2 {
		t.Errorf("calls = %d retries = %v", calls, retried)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	want := errors.New("down")
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1}, func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) || calls != 3 {
		t.Errorf("err = %v calls = %d", err, calls)
	}
}

func TestRetryForeverStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryWithResult(ctx, RetryConfig{InitialDelay: time.Millisecond, BackoffFactor: 1}, func() (int, error) {
		calls++
		if calls == 10 {
			cancel()
		}
		return 0, errors.New("still down")
	})
	if !errors.Is(err, context.Canceled) || calls != 10 {
		t.Errorf("err = %v calls = %d", err, calls)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("not found")
	calls := 0
	cfg := DefaultRetryConfig()
	cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("calls = %d, err = %v", calls, err)
	}
}
