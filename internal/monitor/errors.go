package monitor

import "fmt"

// Trigger sequence steps, in order.
const (
	StepFocusInput   = "focus_input"
	StepSelectAll    = "select_all"
	StepDelete       = "delete"
	StepSetClipboard = "set_clipboard"
	StepPaste        = "paste"
	StepClickAction  = "click_action"
	StepDismiss      = "dismiss"
)

// ActionError reports the synthetic input step that failed. The rest of
// the sequence is abandoned; the cycle still restores windows.
type ActionError struct {
	Step string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("input step %s failed: %v", e.Step, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
