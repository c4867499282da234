package capture

import (
	"context"
	"image"
	"time"
)

// Capturer grabs the full desktop as an RGBA image.
type Capturer interface {
	// Capture returns a new image of the whole screen
	Capture(ctx context.Context) (*image.RGBA, error)

	// Close releases any resources held by the capturer
	Close() error

	// Name returns a human-readable name for this capturer
	Name() string
}

// Frame is one captured screen image. Frames are never modified after they
// are created; a newer capture supersedes them.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
	Source     string
}

// Age reports how old the frame is relative to now.
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.CapturedAt)
}
