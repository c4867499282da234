package input

import (
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"
)

// Robot implements Synthesizer with robotgo.
type Robot struct{}

// NewRobot returns a robotgo-backed synthesizer.
func NewRobot() *Robot {
	return &Robot{}
}

func (Robot) Location() (image.Point, error) {
	x, y := robotgo.Location()
	return image.Pt(x, y), nil
}

func (Robot) MoveTo(p image.Point) error {
	robotgo.Move(p.X, p.Y)
	return nil
}

func (r Robot) Click(p image.Point) error {
	robotgo.Move(p.X, p.Y)
	robotgo.Click("left", false)
	return nil
}

func (Robot) KeyTap(key string, modifiers ...string) error {
	args := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		args[i] = m
	}
	if err := robotgo.KeyTap(key, args...); err != nil {
		return fmt.Errorf("key %s: %w", Combo(key, modifiers...), err)
	}
	return nil
}

func (Robot) SetClipboard(text string) error {
	if err := robotgo.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}

var _ Synthesizer = Robot{}
