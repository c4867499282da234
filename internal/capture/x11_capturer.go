package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/Nudger/internal/logger"
)

// X11Capturer reads the root window with GetImage
type X11Capturer struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	owned  bool
	mu     sync.Mutex
}

// NewX11Capturer opens its own connection to the X server
func NewX11Capturer() (*X11Capturer, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	c := NewX11CapturerWithConn(conn)
	c.owned = true
	return c, nil
}

// NewX11CapturerWithConn shares an existing connection, typically the one
// used by the window backend. Close leaves a shared connection open.
func NewX11CapturerWithConn(conn *xgb.Conn) *X11Capturer {
	return &X11Capturer{
		conn:   conn,
		screen: xproto.Setup(conn).DefaultScreen(conn),
	}
}

// Name returns the capturer name
func (c *X11Capturer) Name() string {
	return "x11"
}

// Close closes the X11 connection if this capturer opened it
func (c *X11Capturer) Close() error {
	if c.owned {
		c.conn.Close()
	}
	return nil
}

// Capture grabs the full root window
func (c *X11Capturer) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	width := int(c.screen.WidthInPixels)
	height := int(c.screen.HeightInPixels)

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.screen.Root),
		0, 0,
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get root image: %w", err)
	}

	logger.WithComponent("x11-capturer").Debug().
		Int("width", width).
		Int("height", height).
		Int("bytes", len(reply.Data)).
		Msg("Captured root window")

	return convertZPixmap(reply.Data, width, height, int(c.screen.RootDepth))
}

// convertZPixmap converts 24/32-bit BGRX scanlines to RGBA
func convertZPixmap(data []byte, width, height, depth int) (*image.RGBA, error) {
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}
	if len(data) < width*height*4 {
		return nil, fmt.Errorf("short image data: got %d bytes, want %d", len(data), width*height*4)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := data[y*width*4 : (y+1)*width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = 0xff
		}
	}
	return img, nil
}
