package adaptive

import "time"

// State is a read-only snapshot of the adaptive controllers and the
// scheduler's error counter.
type State struct {
	Threshold           float64       `json:"threshold"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Interval            time.Duration `json:"interval"`
	ErrorCount          int           `json:"error_count"`
}

// Snapshot combines the controllers' current values.
func Snapshot(t *Threshold, s *Sleeper, errorCount int) State {
	st := t.State()
	st.Interval = s.Interval()
	st.ErrorCount = errorCount
	return st
}
