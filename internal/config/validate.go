package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError lists every problem found in a configuration snapshot.
type ValidationError struct {
	Problems []string `json:"problems"`
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the snapshot for consistency. It returns nil or a
// *ValidationError carrying all problems found.
func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		v.add("server.port %d out of range 1-65535", c.Server.Port)
	}

	m := c.Monitor
	if m.Interval <= 0 {
		v.add("monitor.interval must be positive")
	}
	if m.MaxInterval < m.Interval {
		v.add("monitor.max_interval %s is below monitor.interval %s", m.MaxInterval, m.Interval)
	}
	if m.IntervalStep < 0 {
		v.add("monitor.interval_step must not be negative")
	}
	if m.IdleCycles < 1 {
		v.add("monitor.idle_cycles must be at least 1")
	}
	if m.MinSleep <= 0 {
		v.add("monitor.min_sleep must be positive")
	}
	if m.ActionSettle < 0 {
		v.add("monitor.action_settle must not be negative")
	}
	if m.InputDelay < 0 {
		v.add("monitor.input_delay must not be negative")
	}
	if m.ErrorCeiling < 1 {
		v.add("monitor.error_ceiling must be at least 1")
	}
	if m.ErrorCooldown < 0 || m.MaxCooldown < m.ErrorCooldown {
		v.add("monitor.error_cooldown must be within 0..monitor.max_cooldown")
	}
	if strings.TrimSpace(m.TriggerText) == "" {
		v.add("monitor.trigger_text must not be empty")
	}
	if m.InputTarget.X < 0 || m.InputTarget.Y < 0 {
		v.add("monitor.input_target (%d,%d) must not be negative", m.InputTarget.X, m.InputTarget.Y)
	}
	if m.PasteModifier == "" {
		v.add("monitor.paste_modifier must not be empty")
	}

	d := c.Detection
	if d.IdleTemplate == "" {
		v.add("detection.idle_template must be set")
	}
	if len(d.Scales) == 0 {
		v.add("detection.scales must not be empty")
	}
	for _, s := range d.Scales {
		if s <= 0 || s > 4 {
			v.add("detection.scales entry %g out of range (0,4]", s)
		}
	}
	if d.MinTemplateSize < 1 {
		v.add("detection.min_template_size must be at least 1")
	}
	t := d.Threshold
	if t.Min < 0 || t.Max > 1 || t.Min > t.Max {
		v.add("detection.threshold bounds [%g,%g] must satisfy 0 <= min <= max <= 1", t.Min, t.Max)
	}
	if t.Initial < t.Min || t.Initial > t.Max {
		v.add("detection.threshold.initial %g outside [%g,%g]", t.Initial, t.Min, t.Max)
	}
	if t.Step <= 0 {
		v.add("detection.threshold.step must be positive")
	}
	if t.RaiseMargin < 0 {
		v.add("detection.threshold.raise_margin must not be negative")
	}
	if t.FailureLimit < 1 {
		v.add("detection.threshold.failure_limit must be at least 1")
	}
	switch d.CaptureBackend {
	case "x11", "screenshot":
	default:
		v.add("detection.capture_backend %q must be x11 or screenshot", d.CaptureBackend)
	}
	if d.CaptureValidity < 0 || d.CaptureValidity >= time.Second {
		v.add("detection.capture_validity %s must be within [0,1s)", d.CaptureValidity)
	}

	w := c.Windows
	if len(w.TargetKeywords) == 0 && len(w.TargetPatterns) == 0 {
		v.add("windows: at least one target keyword or target pattern is required")
	}
	if len(w.TargetKeywords) > 0 && len(w.TitleSeparators) == 0 {
		v.add("windows.title_separators must not be empty when target keywords are set")
	}
	for _, p := range w.TargetPatterns {
		if _, err := regexp.Compile(p); err != nil {
			v.add("windows.target_patterns %q: %v", p, err)
		}
	}
	for _, kw := range w.TargetKeywords {
		if strings.TrimSpace(kw) == "" {
			v.add("windows.target_keywords contains an empty entry")
			break
		}
	}

	a := c.Arbitration
	if a.MaxAttempts < 1 {
		v.add("arbitration.max_attempts must be at least 1")
	}
	if a.AttemptDelay < 0 || a.StepSettle < 0 {
		v.add("arbitration delays must not be negative")
	}
	if a.RestoreTimeout <= 0 {
		v.add("arbitration.restore_timeout must be positive")
	}

	if c.History.Capacity < 1 {
		v.add("history.capacity must be at least 1")
	}
	if c.Debug.PreviewQuality < 1 || c.Debug.PreviewQuality > 100 {
		v.add("debug.preview_quality %d out of range 1-100", c.Debug.PreviewQuality)
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}
