package fed

import (
	"testing"
	"time"
)

func TestBackoff_GrowsToMaxWithoutJitter(t *testing.T) {
	b := newBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 2})
	want := []time.Duration{100, 200, 400, 500, 500}
	for i, w := range want {
		if got := b.next(); got != w*time.Millisecond {
			t.Errorf("delay %d = %s, want %s", i, got, w*time.Millisecond)
		}
	}
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := newBackoff(DefaultBackoffConfig())
	d := b.next()
	if d < InitialBackoff || d > InitialBackoff+time.Duration(float64(InitialBackoff)*JitterFactor) {
		t.Errorf("first delay %s outside [%s, +%.0f%%]", d, InitialBackoff, JitterFactor*100)
	}
}

func TestNewBackoff_FixesInvalidConfig(t *testing.T) {
	b := newBackoff(BackoffConfig{Initial: -1, Max: -1, Multiplier: 0.5, Jitter: -1})
	if got := b.next(); got != InitialBackoff {
		t.Errorf("first delay = %s, want %s", got, InitialBackoff)
	}
	if got := b.next(); got != 2*InitialBackoff {
		t.Errorf("second delay = %s, want %s", got, 2*InitialBackoff)
	}
}
