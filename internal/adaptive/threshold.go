// Package adaptive holds the feedback controllers that tune detection: the
// acceptance threshold and the polling interval.
package adaptive

import (
	"sync"

	"github.com/bryanchriswhite/Nudger/internal/config"
)

// Threshold nudges the match acceptance threshold within [Min, Max].
// Confident successes raise it; runs of failures lower it.
type Threshold struct {
	mu       sync.Mutex
	cfg      config.ThresholdConfig
	value    float64
	failures int
	raises   int
	lowers   int
}

// NewThreshold starts at cfg.Initial, clamped into bounds.
func NewThreshold(cfg config.ThresholdConfig) *Threshold {
	t := &Threshold{cfg: cfg}
	t.value = t.clamp(cfg.Initial)
	return t
}

func (t *Threshold) clamp(v float64) float64 {
	if v < t.cfg.Min {
		return t.cfg.Min
	}
	if v > t.cfg.Max {
		return t.cfg.Max
	}
	return v
}

// OnResult feeds one detection outcome into the controller.
//
// A success clears the failure count and, when confidence exceeds the
// current value by more than RaiseMargin, raises the value by Step. A
// failure increments the count; reaching FailureLimit lowers the value by
// Step and clears the count.
func (t *Threshold) OnResult(success bool, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.failures = 0
		if confidence > t.value+t.cfg.RaiseMargin {
			next := t.clamp(t.value + t.cfg.Step)
			if next != t.value {
				t.raises++
			}
			t.value = next
		}
		return
	}

	t.failures++
	if t.failures >= t.cfg.FailureLimit {
		next := t.clamp(t.value - t.cfg.Step)
		if next != t.value {
			t.lowers++
		}
		t.value = next
		t.failures = 0
	}
}

// Value returns the current threshold.
func (t *Threshold) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// State returns the threshold half of the adaptive state.
func (t *Threshold) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Threshold: t.value, ConsecutiveFailures: t.failures}
}

// Failures returns the consecutive failure count.
func (t *Threshold) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// Adjustments returns how many times the value has been raised and lowered.
func (t *Threshold) Adjustments() (raised, lowered int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.raises, t.lowers
}

// Reset returns to the initial value and clears the failure count.
func (t *Threshold) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = t.clamp(t.cfg.Initial)
	t.failures = 0
}

// Reconfigure installs new bounds, keeping the current value clamped into them.
func (t *Threshold) Reconfigure(cfg config.ThresholdConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
	t.value = t.clamp(t.value)
	if t.failures >= cfg.FailureLimit {
		t.failures = 0
	}
}
