package arbiter

import "fmt"

// State is a phase of focus arbitration.
type State int

const (
	Idle State = iota
	InterferenceSaved
	TargetActivating
	TargetActive
	ActivationFailed
	Restoring
)

func (s State) String() string {
	switch s {
	case InterferenceSaved:
		return "interference_saved"
	case TargetActivating:
		return "target_activating"
	case TargetActive:
		return "target_active"
	case ActivationFailed:
		return "activation_failed"
	case Restoring:
		return "restoring"
	default:
		return "idle"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for c := Idle; c <= Restoring; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown arbiter state %q", text)
}

// Step is one activation technique. Steps run in declaration order.
type Step int

const (
	StepRestoreAndForeground Step = iota
	StepTopmostKick
	StepClickCenter
)

func (s Step) String() string {
	switch s {
	case StepTopmostKick:
		return "topmost_kick"
	case StepClickCenter:
		return "click_center"
	default:
		return "restore_and_foreground"
	}
}

// MarshalText renders the step name in JSON output.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a step name.
func (s *Step) UnmarshalText(text []byte) error {
	for c := StepRestoreAndForeground; c <= StepClickCenter; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown activation step %q", text)
}

// activation tracks progress through the technique sequence.
type activation struct {
	state       State
	attempt     int
	maxAttempts int
	step        Step
}

func startActivation(maxAttempts int) activation {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return activation{
		state:       TargetActivating,
		attempt:     1,
		maxAttempts: maxAttempts,
		step:        StepRestoreAndForeground,
	}
}

// decide returns the activation that follows running a.step, given whether
// the target was verified as foreground afterwards.
func decide(a activation, verified bool) activation {
	if a.state != TargetActivating {
		return a
	}
	if verified {
		a.state = TargetActive
		return a
	}
	if a.step < StepClickCenter {
		a.step++
		return a
	}
	if a.attempt < a.maxAttempts {
		a.attempt++
		a.step = StepRestoreAndForeground
		return a
	}
	a.state = ActivationFailed
	return a
}

func (a activation) done() bool {
	return a.state == TargetActive || a.state == ActivationFailed
}
