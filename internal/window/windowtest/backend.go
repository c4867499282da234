// Package windowtest provides an in-memory window.Backend for tests.
package windowtest

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/Nudger/internal/window"
)

// Window is a simulated top-level window.
type Window struct {
	Handle    window.Handle
	Title     string
	Class     string
	PID       int
	Placement window.Placement
	Topmost   bool
}

// Backend simulates a window manager. Focus requests are honoured unless
// Resistance is positive; each ignored request decrements it. A topmost
// toggle clears any remaining resistance when KickBreaksResistance is set.
type Backend struct {
	mu         sync.Mutex
	windows    map[window.Handle]*Window
	order      []window.Handle
	foreground window.Handle

	Resistance           int
	KickBreaksResistance bool

	calls []string
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{windows: make(map[window.Handle]*Window)}
}

// Add registers a window. The last window added with foreground=true owns focus.
func (b *Backend) Add(w Window, foreground bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := w
	b.windows[w.Handle] = &cp
	b.order = append(b.order, w.Handle)
	if foreground {
		b.foreground = w.Handle
	}
}

// Remove destroys a window.
func (b *Backend) Remove(h window.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, h)
	for i, o := range b.order {
		if o == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.foreground == h {
		b.foreground = 0
	}
}

// Window returns a copy of the simulated window.
func (b *Backend) Window(h window.Handle) (Window, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[h]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// SetFocus moves focus directly, as a user click would.
func (b *Backend) SetFocus(h window.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreground = h
}

// Calls returns the mutating calls made so far, e.g. "SetForeground(2)".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Stacking returns handles bottom-to-top.
func (b *Backend) Stacking() []window.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]window.Handle(nil), b.order...)
}

func (b *Backend) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *Backend) get(h window.Handle) (*Window, error) {
	w, ok := b.windows[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", window.ErrWindowNotFound, h)
	}
	return w, nil
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Close() error { return nil }

func (b *Backend) List() ([]window.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]window.Handle(nil), b.order...), nil
}

func (b *Backend) Exists(h window.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.windows[h]
	return ok
}

func (b *Backend) Title(h window.Handle) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.get(h)
	if err != nil {
		return "", err
	}
	return w.Title, nil
}

func (b *Backend) Class(h window.Handle) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[h]; ok {
		return w.Class
	}
	return ""
}

func (b *Backend) PID(h window.Handle) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[h]; ok {
		return w.PID
	}
	return 0
}

func (b *Backend) Foreground() (window.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.foreground, nil
}

func (b *Backend) SetForeground(h window.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SetForeground(%d)", h)
	w, err := b.get(h)
	if err != nil {
		return err
	}
	if b.Resistance > 0 {
		b.Resistance--
		return nil
	}
	if w.Placement.State == window.ShowMinimized {
		return nil
	}
	b.foreground = h
	b.raise(h)
	return nil
}

func (b *Backend) Placement(h window.Handle) (window.Placement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.get(h)
	if err != nil {
		return window.Placement{}, err
	}
	return w.Placement, nil
}

func (b *Backend) SetPlacement(h window.Handle, p window.Placement) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SetPlacement(%d,%s)", h, p.State)
	w, err := b.get(h)
	if err != nil {
		return err
	}
	switch p.State {
	case window.ShowMinimized:
		w.Placement.State = window.ShowMinimized
		if b.foreground == h {
			b.foreground = 0
		}
	case window.ShowMaximized:
		w.Placement.State = window.ShowMaximized
	default:
		w.Placement.State = window.ShowNormal
		if !p.Rect.Empty() {
			w.Placement.Rect = p.Rect
		}
	}
	return nil
}

func (b *Backend) SetTopmost(h window.Handle, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SetTopmost(%d,%t)", h, on)
	w, err := b.get(h)
	if err != nil {
		return err
	}
	w.Topmost = on
	if on {
		b.raise(h)
		if b.KickBreaksResistance {
			b.Resistance = 0
		}
	}
	return nil
}

func (b *Backend) SendToBack(h window.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SendToBack(%d)", h)
	if _, err := b.get(h); err != nil {
		return err
	}
	for i, o := range b.order {
		if o == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.order = append([]window.Handle{h}, b.order...)
	return nil
}

func (b *Backend) Rect(h window.Handle) (window.Rect, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, err := b.get(h)
	if err != nil {
		return window.Rect{}, err
	}
	return w.Placement.Rect, nil
}

// raise moves h to the top of the stacking order (caller holds mu).
func (b *Backend) raise(h window.Handle) {
	for i, o := range b.order {
		if o == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.order = append(b.order, h)
}

var _ window.Backend = (*Backend)(nil)
