package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenshotCapturer captures the union of all active displays with
// kbinani/screenshot. It works without a shared X connection and on
// platforms other than X11.
type ScreenshotCapturer struct{}

// NewScreenshotCapturer returns a capturer backed by kbinani/screenshot
func NewScreenshotCapturer() *ScreenshotCapturer {
	return &ScreenshotCapturer{}
}

// Name returns the capturer name
func (ScreenshotCapturer) Name() string {
	return "screenshot"
}

// Close is a no-op
func (ScreenshotCapturer) Close() error {
	return nil
}

// Capture grabs every active display in a single image
func (ScreenshotCapturer) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays")
	}
	bounds := image.Rectangle{}
	for i := 0; i < n; i++ {
		bounds = bounds.Union(screenshot.GetDisplayBounds(i))
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to capture %v: %w", bounds, err)
	}
	return img, nil
}
