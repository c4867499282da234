package window

import (
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessName returns the executable name for pid, or "" when it cannot be
// resolved (pid unset, process gone, or permission denied).
func ProcessName(pid int) string {
	if pid <= 0 {
		return ""
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

// Described is a Record annotated with its classification and owning process.
type Described struct {
	Record
	Kind    Class  `json:"kind"`
	Process string `json:"process,omitempty"`
}

// Describe enumerates windows and classifies each one.
func Describe(b Backend, c *Classifier) ([]Described, error) {
	records, err := Enumerate(b)
	if err != nil {
		return nil, err
	}
	out := make([]Described, 0, len(records))
	for _, r := range records {
		out = append(out, Described{
			Record:  r,
			Kind:    c.Classify(r.Title),
			Process: ProcessName(r.PID),
		})
	}
	return out, nil
}
