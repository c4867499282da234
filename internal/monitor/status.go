package monitor

import (
	"time"

	"github.com/bryanchriswhite/Nudger/internal/adaptive"
	"github.com/bryanchriswhite/Nudger/internal/arbiter"
	"github.com/bryanchriswhite/Nudger/internal/vision"
)

// CycleResult summarizes one monitor cycle.
type CycleResult struct {
	ID            string              `json:"id"`
	StartedAt     time.Time           `json:"started_at"`
	Duration      time.Duration       `json:"duration"`
	ConfigVersion uint64              `json:"config_version"`
	Activation    *arbiter.Outcome    `json:"activation,omitempty"`
	Idle          vision.MatchResult  `json:"idle"`
	Busy          *vision.MatchResult `json:"busy,omitempty"`
	Threshold     float64             `json:"threshold"`
	Action        string              `json:"action"`
	Skipped       bool                `json:"skipped,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// Detected reports whether any template was accepted this cycle.
func (r *CycleResult) Detected() bool {
	return r.Idle.Accepted(r.Threshold) || r.Busy != nil
}

// Status is a point-in-time view of the monitor.
type Status struct {
	Running       bool           `json:"running"`
	Paused        bool           `json:"paused"`
	LoopAlive     bool           `json:"loop_alive"`
	Cycles        uint64         `json:"cycles"`
	Adaptive      adaptive.State `json:"adaptive"`
	Arbiter       arbiter.State  `json:"arbiter"`
	LastResult    *CycleResult   `json:"last_result,omitempty"`
	ConfigVersion uint64         `json:"config_version"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Result is the reply to a control operation. Changed is false when the
// operation found the monitor already in the requested state.
type Result struct {
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}
