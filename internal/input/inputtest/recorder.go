// Package inputtest provides a recording input.Synthesizer.
package inputtest

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/Nudger/internal/input"
)

// Recorder records every synthesized event. FailOn makes the named
// operation ("click", "key", "clipboard", "move") return an error.
type Recorder struct {
	mu      sync.Mutex
	pointer image.Point
	clip    string
	events  []string
	FailOn  string
	OnClick func(p image.Point)
}

// New returns a recorder with the pointer at the origin.
func New() *Recorder {
	return &Recorder{}
}

// Events returns the recorded events, e.g. "click(10,20)" or "key(ctrl+a)".
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Clipboard returns the last clipboard text.
func (r *Recorder) Clipboard() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clip
}

func (r *Recorder) fail(op string) error {
	if r.FailOn == op {
		return fmt.Errorf("synthetic %s failure", op)
	}
	return nil
}

func (r *Recorder) Location() (image.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pointer, nil
}

func (r *Recorder) MoveTo(p image.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("move"); err != nil {
		return err
	}
	r.pointer = p
	r.events = append(r.events, fmt.Sprintf("move(%d,%d)", p.X, p.Y))
	return nil
}

func (r *Recorder) Click(p image.Point) error {
	r.mu.Lock()
	if err := r.fail("click"); err != nil {
		r.mu.Unlock()
		return err
	}
	r.pointer = p
	r.events = append(r.events, fmt.Sprintf("click(%d,%d)", p.X, p.Y))
	hook := r.OnClick
	r.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (r *Recorder) KeyTap(key string, modifiers ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("key"); err != nil {
		return err
	}
	r.events = append(r.events, "key("+input.Combo(key, modifiers...)+")")
	return nil
}

func (r *Recorder) SetClipboard(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("clipboard"); err != nil {
		return err
	}
	r.clip = text
	r.events = append(r.events, "clipboard")
	return nil
}

var _ input.Synthesizer = (*Recorder)(nil)
