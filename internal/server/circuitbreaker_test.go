package server

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"user-records/internal/store"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: got %v, want boom", i+1, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("function ran while circuit was open")
	}

	stats := cb.GetStats()
	if stats.State != "open" || stats.FailedRequests != 3 || stats.RejectedRequests != 1 || stats.TotalRequests != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_IgnoresAnswers(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)

	for _, err := range []error{
		store.ErrNotFound,
		fmt.Errorf("update: %w", store.ErrNotFound),
		errors.Join(store.ErrConstraint, errBoom),
		fmt.Errorf("insert user: %w", errors.Join(store.ErrInvalidInput, errBoom)),
	} {
		got := cb.Execute(func() error { return err })
		if !errors.Is(got, err) {
			t.Errorf("Execute returned %v, want %v", got, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
	if stats := cb.GetStats(); stats.FailedRequests != 0 {
		t.Errorf("failed requests = %d, want 0", stats.FailedRequests)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	_ = cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	time.Sleep(30 * time.Millisecond)

	// The trial call is let through and closes the circuit.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("trial: got %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
}

func TestCircuitBreaker_PanickingCallCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("panic was swallowed")
			}
		}()
		_ = cb.Execute(func() error { panic("driver bug") })
	}()

	if cb.GetState() != StateOpen {
		t.Fatalf("state after panic = %s, want open", cb.GetState())
	}

	// The next window admits a fresh trial call instead of staying stuck.
	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial after panic: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenAllowsOneTrial(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)

	_ = cb.Execute(func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("second trial: got %v, want ErrTooManyRequests", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	_ = cb.Execute(func() error { return errBoom })

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestCircuitState_String(t *testing.T) {
	for state, want := range map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		CircuitState(42): "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("%d: got %q, want %q", state, got, want)
		}
	}
}
