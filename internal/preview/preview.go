// Package preview streams annotated detection frames as Motion JPEG so the
// matcher's view of the screen can be watched from a browser.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
)

// ErrNoFrame is returned by the snapshot handler before the first publish.
var ErrNoFrame = errors.New("no preview frame yet")

// Publisher accepts frames for display.
type Publisher interface {
	Publish(frame *image.RGBA) error
	Enabled() bool
	SetEnabled(on bool)
	SetQuality(q int)
}

// Config controls encoding.
type Config struct {
	Quality int
	// MaxWidth downscales wider frames before encoding; 0 keeps full size.
	MaxWidth int
}

var _ Publisher = (*Stream)(nil)

// Stream fans encoded frames out to connected MJPEG clients and keeps the
// newest one for snapshots.
type Stream struct {
	mu      sync.RWMutex
	config  Config
	enabled bool

	frameMu    sync.RWMutex
	current    []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	log        *zerolog.Logger
}

// NewStream creates a stream. It starts disabled.
func NewStream(config Config) *Stream {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 75
	}
	return &Stream{
		config:  config,
		clients: make(map[chan []byte]struct{}),
		log:     logger.WithComponent("preview"),
	}
}

// SetEnabled turns publishing on or off. Disabling disconnects clients.
func (s *Stream) SetEnabled(on bool) {
	s.mu.Lock()
	changed := s.enabled != on
	s.enabled = on
	s.mu.Unlock()

	if !changed {
		return
	}
	if !on {
		s.clientsMu.Lock()
		for ch := range s.clients {
			close(ch)
		}
		s.clients = make(map[chan []byte]struct{})
		s.clientsMu.Unlock()
	}
	s.log.Info().Bool("enabled", on).Msg("Preview toggled")
}

// SetQuality changes the JPEG quality for subsequent frames.
func (s *Stream) SetQuality(q int) {
	if q <= 0 || q > 100 {
		return
	}
	s.mu.Lock()
	s.config.Quality = q
	s.mu.Unlock()
}

// Enabled reports whether frames are being accepted.
func (s *Stream) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Publish encodes frame and sends it to every client. Slow clients skip
// frames rather than block the caller.
func (s *Stream) Publish(frame *image.RGBA) error {
	if !s.Enabled() {
		return nil
	}

	s.mu.RLock()
	cfg := s.config
	s.mu.RUnlock()

	var src image.Image = frame
	if cfg.MaxWidth > 0 && frame.Bounds().Dx() > cfg.MaxWidth {
		b := frame.Bounds()
		h := b.Dy() * cfg.MaxWidth / b.Dx()
		dst := image.NewRGBA(image.Rect(0, 0, cfg.MaxWidth, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, b, xdraw.Src, nil)
		src = dst
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, src, &jpeg.Options{Quality: cfg.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	data := buf.Bytes()

	s.frameMu.Lock()
	s.current = data
	s.lastUpdate = time.Now()
	s.frameCount++
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- data:
		default:
		}
	}
	s.clientsMu.RUnlock()
	return nil
}

// Latest returns the newest encoded frame.
func (s *Stream) Latest() ([]byte, time.Time, error) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	if s.current == nil {
		return nil, time.Time{}, ErrNoFrame
	}
	return s.current, s.lastUpdate, nil
}

// Clients returns the number of connected stream clients.
func (s *Stream) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// StreamHandler serves multipart/x-mixed-replace JPEG frames.
func (s *Stream) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			http.Error(w, "preview disabled", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		frames := make(chan []byte, 2)
		s.clientsMu.Lock()
		s.clients[frames] = struct{}{}
		count := len(s.clients)
		s.clientsMu.Unlock()
		s.log.Debug().Int("clients", count).Msg("Preview client connected")

		defer func() {
			s.clientsMu.Lock()
			if _, ok := s.clients[frames]; ok {
				delete(s.clients, frames)
			}
			count := len(s.clients)
			s.clientsMu.Unlock()
			s.log.Debug().Int("clients", count).Msg("Preview client disconnected")
		}()

		if data, _, err := s.Latest(); err == nil {
			if writePart(w, data) != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frames:
				if !ok {
					return
				}
				if writePart(w, data) != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SnapshotHandler serves the newest frame as a single JPEG.
func (s *Stream) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, at, err := s.Latest()
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
		_, _ = w.Write(data)
	}
}
