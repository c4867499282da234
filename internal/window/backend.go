package window

import (
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/Nudger/internal/logger"
)

// ErrWindowNotFound is returned when no window matches the target rules, or
// when a handle no longer refers to a live window.
var ErrWindowNotFound = errors.New("window not found")

// Handle is an opaque platform window identifier.
type Handle uint32

// Rect is a window rectangle in root-window coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the geometric center of r.
func (r Rect) Center() image.Point {
	return image.Pt(r.X+r.Width/2, r.Y+r.Height/2)
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ShowState is the window manager state of a window.
type ShowState int

const (
	ShowNormal ShowState = iota
	ShowMinimized
	ShowMaximized
)

func (s ShowState) String() string {
	switch s {
	case ShowMinimized:
		return "minimized"
	case ShowMaximized:
		return "maximized"
	default:
		return "normal"
	}
}

// MarshalText renders the state name in JSON output.
func (s ShowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ShowState) UnmarshalText(text []byte) error {
	for k := ShowNormal; k <= ShowMaximized; k++ {
		if k.String() == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown show state %q", text)
}

// Placement is the show state and rectangle of a window.
type Placement struct {
	State ShowState `json:"state"`
	Rect  Rect      `json:"rect"`
}

// Record is a point-in-time snapshot of a top-level window. It is never
// updated after it is taken.
type Record struct {
	Handle     Handle    `json:"handle"`
	Title      string    `json:"title"`
	Class      string    `json:"class"`
	PID        int       `json:"pid"`
	Foreground bool      `json:"foreground"`
	Placement  Placement `json:"placement"`
}

// Minimized reports whether the window was minimized when the snapshot was taken.
func (r Record) Minimized() bool { return r.Placement.State == ShowMinimized }

// Maximized reports whether the window was maximized when the snapshot was taken.
func (r Record) Maximized() bool { return r.Placement.State == ShowMaximized }

// Backend is the window-system capability used for enumeration, focus
// control and placement. Implementations must be safe for use from a single
// goroutine at a time.
type Backend interface {
	// Name returns the backend name (e.g., "x11")
	Name() string

	// Close releases the connection to the display server
	Close() error

	// List returns the handles of all managed top-level windows
	List() ([]Handle, error)

	// Exists reports whether h still refers to a live window
	Exists(h Handle) bool

	Title(h Handle) (string, error)
	Class(h Handle) string
	PID(h Handle) int

	// Foreground returns the window that currently has focus
	Foreground() (Handle, error)

	// SetForeground asks the window manager to activate h. Success of the
	// request does not imply that focus moved; callers verify with Foreground.
	SetForeground(h Handle) error

	Placement(h Handle) (Placement, error)

	// SetPlacement applies the show state and, for normal windows, the rectangle.
	SetPlacement(h Handle, p Placement) error

	// SetTopmost toggles the always-on-top state of h
	SetTopmost(h Handle, on bool) error

	// SendToBack lowers h in the stacking order without activating or
	// minimizing it
	SendToBack(h Handle) error

	// Rect returns the current outer rectangle of h
	Rect(h Handle) (Rect, error)
}

// Snapshot reads the current state of h into a Record.
func Snapshot(b Backend, h Handle) (Record, error) {
	fg, _ := b.Foreground()
	return snapshot(b, h, fg)
}

func snapshot(b Backend, h Handle, fg Handle) (Record, error) {
	if !b.Exists(h) {
		return Record{}, fmt.Errorf("%w: handle 0x%x", ErrWindowNotFound, uint32(h))
	}
	title, err := b.Title(h)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read title of 0x%x: %w", uint32(h), err)
	}
	placement, err := b.Placement(h)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read placement of 0x%x: %w", uint32(h), err)
	}

	return Record{
		Handle:     h,
		Title:      title,
		Class:      b.Class(h),
		PID:        b.PID(h),
		Foreground: fg == h,
		Placement:  placement,
	}, nil
}

// Enumerate snapshots every listed window. Windows that vanish during
// enumeration, or that carry neither a title nor a class, are skipped.
func Enumerate(b Backend) ([]Record, error) {
	log := logger.WithComponent("window")

	handles, err := b.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	fg, _ := b.Foreground()
	records := make([]Record, 0, len(handles))
	for _, h := range handles {
		rec, err := snapshot(b, h, fg)
		if err != nil {
			log.Debug().Uint32("handle", uint32(h)).Err(err).Msg("Skipping window")
			continue
		}
		if rec.Title == "" && rec.Class == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
