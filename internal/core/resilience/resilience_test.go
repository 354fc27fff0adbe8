package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsEventually(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 2, time.Millisecond, func() (int, error) {
		calls++
		return 0, errors.New("permanent")
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestCircuitBreakerOpensOnFailureRate(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Second, 4, 4, 0.5, 50*time.Millisecond, 1)
	for i := 0; i < 4; i++ {
		if !cb.Allow() {
			t.Fatalf("expected closed breaker to allow request %d", i)
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatalf("expected breaker to be open after sustained failures")
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Second, 4, 2, 0.5, 10*time.Millisecond, 1)
	cb.Allow()
	cb.RecordResult(false)
	cb.Allow()
	cb.RecordResult(false)
	if cb.Allow() {
		t.Fatalf("expected breaker open")
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected half-open probe to be allowed")
	}
	cb.RecordResult(true)
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after successful probe")
	}
}
