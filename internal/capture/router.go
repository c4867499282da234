package capture

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/bryanchriswhite/Nudger/internal/logger"
)

// Open returns the capturer named by backend. An "x11" request falls back to
// the screenshot capturer when no X connection is available.
func Open(backend string, conn *xgb.Conn) (Capturer, error) {
	log := logger.WithComponent("capture")

	switch backend {
	case "screenshot":
		log.Info().Msg("Using screenshot capturer")
		return NewScreenshotCapturer(), nil
	case "x11", "":
		if conn != nil {
			log.Info().Msg("Using X11 root-window capturer")
			return NewX11CapturerWithConn(conn), nil
		}
		c, err := NewX11Capturer()
		if err != nil {
			log.Warn().Err(err).Msg("X11 capturer not available, falling back to screenshot capturer")
			return NewScreenshotCapturer(), nil
		}
		log.Info().Msg("Using X11 root-window capturer")
		return c, nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}
}
