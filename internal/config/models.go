package config

import (
	"time"
)

// Point is a screen coordinate in root-window pixels.
type Point struct {
	X int `json:"x" yaml:"x" mapstructure:"x"`
	Y int `json:"y" yaml:"y" mapstructure:"y"`
}

// Config represents the application configuration. A Config handed out by
// Manager is an immutable snapshot; callers that want to change settings
// copy it with Clone, edit the copy and pass it to Manager.Update.
type Config struct {
	// Version is assigned by the Manager each time a snapshot is installed.
	Version uint64 `json:"version" yaml:"-" mapstructure:"-"`

	LogLevel  string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	LogFile   string `json:"log_file,omitempty" yaml:"log_file,omitempty" mapstructure:"log_file"`

	Server      ServerConfig      `json:"server" yaml:"server" mapstructure:"server"`
	Monitor     MonitorConfig     `json:"monitor" yaml:"monitor" mapstructure:"monitor"`
	Detection   DetectionConfig   `json:"detection" yaml:"detection" mapstructure:"detection"`
	Windows     WindowRules       `json:"windows" yaml:"windows" mapstructure:"windows"`
	Arbitration ArbitrationConfig `json:"arbitration" yaml:"arbitration" mapstructure:"arbitration"`
	History     HistoryConfig     `json:"history" yaml:"history" mapstructure:"history"`
	Debug       DebugConfig       `json:"debug" yaml:"debug" mapstructure:"debug"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" yaml:"host" mapstructure:"host"`
	Port    int    `json:"port" yaml:"port" mapstructure:"port"`
}

// MonitorConfig configures the scheduling loop and the actions taken when the
// target application is idle.
type MonitorConfig struct {
	Interval     time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	MaxInterval  time.Duration `json:"max_interval" yaml:"max_interval" mapstructure:"max_interval"`
	IntervalStep time.Duration `json:"interval_step" yaml:"interval_step" mapstructure:"interval_step"`
	IdleCycles   int           `json:"idle_cycles" yaml:"idle_cycles" mapstructure:"idle_cycles"`
	MinSleep     time.Duration `json:"min_sleep" yaml:"min_sleep" mapstructure:"min_sleep"`
	ActionSettle time.Duration `json:"action_settle" yaml:"action_settle" mapstructure:"action_settle"`
	// InputDelay separates the steps of the trigger sequence.
	InputDelay    time.Duration `json:"input_delay" yaml:"input_delay" mapstructure:"input_delay"`
	ErrorCeiling  int           `json:"error_ceiling" yaml:"error_ceiling" mapstructure:"error_ceiling"`
	ErrorCooldown time.Duration `json:"error_cooldown" yaml:"error_cooldown" mapstructure:"error_cooldown"`
	MaxCooldown   time.Duration `json:"max_cooldown" yaml:"max_cooldown" mapstructure:"max_cooldown"`

	TriggerText string `json:"trigger_text" yaml:"trigger_text" mapstructure:"trigger_text"`
	InputTarget Point  `json:"input_target" yaml:"input_target" mapstructure:"input_target"`
	// PasteModifier is the modifier used for select-all and paste.
	PasteModifier string `json:"paste_modifier" yaml:"paste_modifier" mapstructure:"paste_modifier"`

	AutoActivate bool `json:"auto_activate" yaml:"auto_activate" mapstructure:"auto_activate"`
	// AutoRestore hands the foreground back to interfering windows after a
	// cycle. Their placements are restored either way.
	AutoRestore              bool `json:"auto_restore" yaml:"auto_restore" mapstructure:"auto_restore"`
	MinimizeTargetAfterCycle bool `json:"minimize_target_after_cycle" yaml:"minimize_target_after_cycle" mapstructure:"minimize_target_after_cycle"`
	StartPaused              bool `json:"start_paused" yaml:"start_paused" mapstructure:"start_paused"`
}

// ThresholdConfig bounds the adaptive acceptance threshold.
type ThresholdConfig struct {
	Initial      float64 `json:"initial" yaml:"initial" mapstructure:"initial"`
	Min          float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max          float64 `json:"max" yaml:"max" mapstructure:"max"`
	Step         float64 `json:"step" yaml:"step" mapstructure:"step"`
	RaiseMargin  float64 `json:"raise_margin" yaml:"raise_margin" mapstructure:"raise_margin"`
	FailureLimit int     `json:"failure_limit" yaml:"failure_limit" mapstructure:"failure_limit"`
}

// DetectionConfig configures template matching and screen capture.
type DetectionConfig struct {
	IdleTemplate    string          `json:"idle_template" yaml:"idle_template" mapstructure:"idle_template"`
	BusyTemplates   []string        `json:"busy_templates" yaml:"busy_templates" mapstructure:"busy_templates"`
	Scales          []float64       `json:"scales" yaml:"scales" mapstructure:"scales"`
	MinTemplateSize int             `json:"min_template_size" yaml:"min_template_size" mapstructure:"min_template_size"`
	Threshold       ThresholdConfig `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	// CaptureBackend is "x11" or "screenshot".
	CaptureBackend  string        `json:"capture_backend" yaml:"capture_backend" mapstructure:"capture_backend"`
	CaptureValidity time.Duration `json:"capture_validity" yaml:"capture_validity" mapstructure:"capture_validity"`
}

// WindowRules are the title rules used to classify top-level windows.
type WindowRules struct {
	TargetKeywords      []string `json:"target_keywords" yaml:"target_keywords" mapstructure:"target_keywords"`
	TitleSeparators     []string `json:"title_separators" yaml:"title_separators" mapstructure:"title_separators"`
	TargetPatterns      []string `json:"target_patterns" yaml:"target_patterns" mapstructure:"target_patterns"`
	ExcludeKeywords     []string `json:"exclude_keywords" yaml:"exclude_keywords" mapstructure:"exclude_keywords"`
	InterferingKeywords []string `json:"interfering_keywords" yaml:"interfering_keywords" mapstructure:"interfering_keywords"`
}

// ArbitrationConfig tunes the focus acquisition sequence.
type ArbitrationConfig struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	AttemptDelay   time.Duration `json:"attempt_delay" yaml:"attempt_delay" mapstructure:"attempt_delay"`
	StepSettle     time.Duration `json:"step_settle" yaml:"step_settle" mapstructure:"step_settle"`
	RestoreTimeout time.Duration `json:"restore_timeout" yaml:"restore_timeout" mapstructure:"restore_timeout"`
}

// HistoryConfig configures detection history retention.
type HistoryConfig struct {
	Capacity int `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
	// DatabasePath enables the SQLite cycle log when non-empty.
	DatabasePath string `json:"database_path" yaml:"database_path" mapstructure:"database_path"`
}

// DebugConfig holds diagnostic toggles.
type DebugConfig struct {
	Preview        bool `json:"preview" yaml:"preview" mapstructure:"preview"`
	PreviewQuality int  `json:"preview_quality" yaml:"preview_quality" mapstructure:"preview_quality"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogPretty: true,
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    5000,
		},
		Monitor: MonitorConfig{
			Interval:      15 * time.Second,
			MaxInterval:   60 * time.Second,
			IntervalStep:  5 * time.Second,
			IdleCycles:    4,
			MinSleep:      time.Second,
			ActionSettle:  500 * time.Millisecond,
			InputDelay:    200 * time.Millisecond,
			ErrorCeiling:  5,
			ErrorCooldown: 5 * time.Second,
			MaxCooldown:   time.Minute,
			TriggerText:   "Continue your mission",
			InputTarget:   Point{X: 1670, Y: 844},
			PasteModifier: "ctrl",
			AutoActivate:  true,
			AutoRestore:   true,
		},
		Detection: DetectionConfig{
			IdleTemplate:    "templates/dd.png",
			BusyTemplates:   []string{"templates/pp.png", "templates/kk.png"},
			Scales:          []float64{0.8, 0.9, 1.0, 1.1, 1.2},
			MinTemplateSize: 8,
			Threshold: ThresholdConfig{
				Initial:      0.95,
				Min:          0.85,
				Max:          0.98,
				Step:         0.01,
				RaiseMargin:  0.03,
				FailureLimit: 3,
			},
			CaptureBackend:  "x11",
			CaptureValidity: 200 * time.Millisecond,
		},
		Windows: WindowRules{
			TargetKeywords:      []string{"Trae"},
			TitleSeparators:     []string{" - ", " — ", " | "},
			TargetPatterns:      []string{},
			ExcludeKeywords:     []string{"Chrome", "Firefox", "Edge", "Brave", "Opera", "Slack", "Discord", "Terminal"},
			InterferingKeywords: []string{"Chrome", "Chromium", "Firefox", "Edge", "Brave", "Opera", "Vivaldi"},
		},
		Arbitration: ArbitrationConfig{
			MaxAttempts:    3,
			AttemptDelay:   300 * time.Millisecond,
			StepSettle:     150 * time.Millisecond,
			RestoreTimeout: 5 * time.Second,
		},
		History: HistoryConfig{
			Capacity: 100,
		},
		Debug: DebugConfig{
			PreviewQuality: 75,
		},
	}
}

// Clone returns a deep copy suitable for editing.
func (c *Config) Clone() *Config {
	out := *c
	out.Detection.BusyTemplates = cloneStrings(c.Detection.BusyTemplates)
	out.Detection.Scales = append([]float64(nil), c.Detection.Scales...)
	out.Windows = c.Windows.Clone()
	return &out
}

// Clone returns a deep copy of the rule lists.
func (r WindowRules) Clone() WindowRules {
	return WindowRules{
		TargetKeywords:      cloneStrings(r.TargetKeywords),
		TitleSeparators:     cloneStrings(r.TitleSeparators),
		TargetPatterns:      cloneStrings(r.TargetPatterns),
		ExcludeKeywords:     cloneStrings(r.ExcludeKeywords),
		InterferingKeywords: cloneStrings(r.InterferingKeywords),
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// normalize fills nil slices so serialized output and comparisons are stable.
func (c *Config) normalize() {
	if c.Detection.BusyTemplates == nil {
		c.Detection.BusyTemplates = []string{}
	}
	if c.Windows.TargetKeywords == nil {
		c.Windows.TargetKeywords = []string{}
	}
	if c.Windows.TitleSeparators == nil {
		c.Windows.TitleSeparators = []string{}
	}
	if c.Windows.TargetPatterns == nil {
		c.Windows.TargetPatterns = []string{}
	}
	if c.Windows.ExcludeKeywords == nil {
		c.Windows.ExcludeKeywords = []string{}
	}
	if c.Windows.InterferingKeywords == nil {
		c.Windows.InterferingKeywords = []string{}
	}
}
