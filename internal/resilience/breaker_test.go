package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewBreaker("weather", BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	boom := errors.New("boom")

	var calls int
	fail := func() (int, error) {
		calls++
		return 0, boom
	}

	for range 2 {
		if _, err := Execute(cb, fail); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %v", cb.State())
	}

	_, err := Execute(cb, fail)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if IsTransient(err) {
		t.Error("open breaker should not be retried")
	}
	if calls != 2 {
		t.Errorf("expected fn not called while open, got %d calls", calls)
	}
}

func TestBreaker_PassesValue(t *testing.T) {
	cb := NewBreaker("weather", BreakerConfig{})
	got, err := Execute(cb, func() (string, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewBreaker("weather", BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	_, _ = Execute(cb, func() (int, error) { return 0, errors.New("down") })
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %v", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := Execute(cb, func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed state, got %v", cb.State())
	}
}

func TestFromBreakerConfig(t *testing.T) {
	cfg := FromBreakerConfig(3, 30)
	if cfg.FailureThreshold != 3 || cfg.ResetTimeout != 30*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if zero := FromBreakerConfig(0, 0); zero != (BreakerConfig{}) {
		t.Errorf("expected zero config, got %+v", zero)
	}
}
