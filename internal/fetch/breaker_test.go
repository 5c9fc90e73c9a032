package fetch

import (
	"testing"
	"time"
)

func TestBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	if cb.State() != CBClosed {
		t.Fatalf("initial state: got %v, want CLOSED", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("closed circuit should allow requests")
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CBClosed {
		t.Fatalf("after 2 failures: got %v, want CLOSED", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CBOpen {
		t.Fatalf("after 3 failures: got %v, want OPEN", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open circuit should reject requests")
	}
}

func TestBreaker_RecoveryLifecycle(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CBOpen {
		t.Fatalf("expected OPEN, got %v", cb.State())
	}

	// Still cooling down.
	time.Sleep(500 * time.Millisecond)
	if cb.Allow() {
		t.Fatal("should reject during cooldown")
	}

	// Cooldown elapsed: the probing call is allowed and moves to HALF_OPEN.
	time.Sleep(600 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("should allow after cooldown")
	}
	if cb.State() != CBHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %v", cb.State())
	}

	// A success closes it.
	cb.RecordSuccess()
	if cb.State() != CBClosed {
		t.Fatalf("expected CLOSED after success, got %v", cb.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 50*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	cb.Allow()
	if cb.State() != CBHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %v", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CBOpen {
		t.Fatalf("expected OPEN after probe failure, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("cooldown should restart after probe failure")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != CBClosed {
		t.Fatalf("expected CLOSED, got %v", cb.State())
	}
}

func TestCBState_String(t *testing.T) {
	if got := CBClosed.String(); got != "CLOSED" {
		t.Errorf("CBClosed: got %q", got)
	}
	if got := CBOpen.String(); got != "OPEN" {
		t.Errorf("CBOpen: got %q", got)
	}
	if got := CBHalfOpen.String(); got != "HALF_OPEN" {
		t.Errorf("CBHalfOpen: got %q", got)
	}
}

func TestBreakerRegistry_LazyCreation(t *testing.T) {
	reg := NewBreakerRegistry(3, time.Hour)

	cb1 := reg.Get("https://a.test/page")
	cb2 := reg.Get("https://a.test/page")
	if cb1 != cb2 {
		t.Fatal("expected same breaker for same key")
	}

	cb3 := reg.Get("https://b.test/page")
	if cb3 == cb1 {
		t.Fatal("expected different breaker for different key")
	}
	if cb3.State() != CBClosed {
		t.Fatalf("new breaker should be CLOSED, got %v", cb3.State())
	}
}
