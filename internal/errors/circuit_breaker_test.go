package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		cb.Mark(boom)
		if cb.State() != StateClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, cb.State())
		}
	}
	cb.Mark(boom)
	if cb.State() != StateOpen {
		t.Fatalf("state after threshold = %v, want open", cb.State())
	}

	err := cb.Allow()
	if err == nil {
		t.Fatal("open breaker should reject")
	}
	if !IsDegraded(err) {
		t.Errorf("rejection should be degraded, got %v", err)
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})

	boom := errors.New("boom")
	cb.Mark(boom)
	cb.Mark(boom)
	cb.Mark(nil)
	cb.Mark(boom)
	cb.Mark(boom)
	if cb.State() != StateClosed {
		t.Fatalf("interleaved success should reset the count, state = %v", cb.State())
	}
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 10; i++ {
		cb.Mark(context.Canceled)
	}
	if cb.State() != StateClosed {
		t.Fatalf("cancellations should not open the breaker, state = %v", cb.State())
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	cb.Mark(errors.New("boom"))
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("half-open probe should be allowed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.State())
	}

	cb.Mark(nil)
	cb.Mark(nil)
	if cb.State() != StateClosed {
		t.Fatalf("state after recovery = %v, want closed", cb.State())
	}
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	cb.Mark(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe should be allowed, got %v", err)
	}
	cb.Mark(errors.New("still down"))
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open again", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	cb.Mark(errors.New("boom"))
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state after reset = %v, want closed", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("reset breaker should allow, got %v", err)
	}
}
