package resilience

import (
	"errors"
	"testing"
	"time"
)

var errRemote = errors.New("remote call failed")

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, CoolDown: time.Minute})

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errRemote }); !errors.Is(err, errRemote) {
			t.Fatalf("call %d: got %v, want errRemote", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	err := b.Do(func() error {
		t.Fatal("fn must not run while breaker is open")
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("got %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3, CoolDown: time.Minute})

	for i := 0; i < 2; i++ {
		_ = b.Do(func() error { return errRemote })
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}
	for i := 0; i < 2; i++ {
		_ = b.Do(func() error { return errRemote })
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after reset", got)
	}
}

func TestBreakerHalfOpenClosesAfterProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolDown: 10 * time.Millisecond, ProbeMax: 2})

	_ = b.Do(func() error { return errRemote })
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cool-down", got)
	}

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", got)
	}
}

func TestBreakerHalfOpenReopensOnProbeFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolDown: 10 * time.Millisecond, ProbeMax: 3})

	_ = b.Do(func() error { return errRemote })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errRemote }); !errors.Is(err, errRemote) {
		t.Fatalf("probe: got %v, want errRemote", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("got %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerHalfOpenLimitsProbeBudget(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 1, CoolDown: 10 * time.Millisecond, ProbeMax: 1})

	_ = b.Do(func() error { return errRemote })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	// ProbeMax 1: the single successful probe closes the breaker.
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}
