package retry

import (
	"testing"
	"time"
)

type fakeReason struct {
	disallowed bool
}

func (f fakeReason) RetryDisallowed() bool { return f.disallowed }

func TestEqualsPolicyConstant(t *testing.T) {
	r := New(Equals{Interval: 500 * time.Millisecond}, 0, nil)
	for i := 0; i < 3; i++ {
		d, ok := r.Delay(fakeReason{})
		if !ok || d != 500*time.Millisecond {
			t.Fatalf("Delay() = %v, %v, want 500ms, true", d, ok)
		}
	}
}

func TestLimitExceeded(t *testing.T) {
	r := New(Equals{Interval: time.Second}, 2, nil)
	if _, ok := r.Delay(fakeReason{}); !ok {
		t.Fatalf("attempt 1 should be allowed")
	}
	if _, ok := r.Delay(fakeReason{}); !ok {
		t.Fatalf("attempt 2 should be allowed")
	}
	if _, ok := r.Delay(fakeReason{}); ok {
		t.Fatalf("attempt 3 should exceed the limit")
	}
}

func TestFilterRejects(t *testing.T) {
	r := New(Equals{Interval: time.Second}, 0, func(Reason) bool { return true })
	if _, ok := r.Delay(fakeReason{}); ok {
		t.Fatalf("filter returning true should reject retry")
	}
}

func TestRetryDisallowedReasonAlwaysWins(t *testing.T) {
	r := New(Equals{Interval: time.Second}, 0, func(Reason) bool { return false })
	if _, ok := r.Delay(fakeReason{disallowed: true}); ok {
		t.Fatalf("a disallowed reason must never be retried regardless of filter")
	}
}

func TestResetClearsAttemptCount(t *testing.T) {
	r := New(Equals{Interval: time.Second}, 1, nil)
	r.Delay(fakeReason{})
	if _, ok := r.Delay(fakeReason{}); ok {
		t.Fatalf("expected limit exceeded before reset")
	}
	r.Reset()
	if _, ok := r.Delay(fakeReason{}); !ok {
		t.Fatalf("expected retry allowed after reset")
	}
}

func TestExponentialClampsToMax(t *testing.T) {
	p := Exponential{Base: time.Second, Scale: 2, Max: 5 * time.Second}
	if d := p.Delay(10); d != 5*time.Second {
		t.Fatalf("Delay(10) = %v, want clamp to 5s", d)
	}
}

func TestLinearGrows(t *testing.T) {
	p := Linear{Scale: 100 * time.Millisecond}
	if d := p.Delay(0); d != 100*time.Millisecond {
		t.Fatalf("Delay(0) = %v, want 100ms", d)
	}
	if d := p.Delay(3); d != 400*time.Millisecond {
		t.Fatalf("Delay(3) = %v, want 400ms", d)
	}
}
