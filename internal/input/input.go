// Package input synthesizes keyboard, mouse and clipboard events.
package input

import (
	"image"
	"strings"
)

// Synthesizer injects user input. Methods block until the platform has
// accepted the event.
type Synthesizer interface {
	// Location returns the current pointer position.
	Location() (image.Point, error)

	// MoveTo warps the pointer without clicking.
	MoveTo(p image.Point) error

	// Click moves the pointer to p and presses the left button.
	Click(p image.Point) error

	// KeyTap presses and releases key while holding modifiers.
	KeyTap(key string, modifiers ...string) error

	// SetClipboard replaces the clipboard text.
	SetClipboard(text string) error
}

// Combo renders a key and its modifiers as "ctrl+a" for logging.
func Combo(key string, modifiers ...string) string {
	if len(modifiers) == 0 {
		return key
	}
	return strings.Join(modifiers, "+") + "+" + key
}
