package app

import (
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/bryanchriswhite/Nudger/internal/capture"
	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/input"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/bryanchriswhite/Nudger/internal/window"
	"github.com/cenkalti/backoff/v4"
)

// connectRetries bounds how often the X server is dialed at startup. A
// session that is still coming up usually accepts within a few seconds.
const connectRetries = 6

// dial is replaced in tests.
var dial = xgb.NewConn

// ConnectX dials the X server named by $DISPLAY, retrying with exponential
// backoff until it answers, ctx is done, or the retries run out.
func ConnectX(ctx context.Context) (*xgb.Conn, error) {
	log := logger.WithComponent("app")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 4 * time.Second

	var conn *xgb.Conn
	op := func() error {
		c, err := dial()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("X server not reachable")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, connectRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	return conn, nil
}

// Desktop bundles the window backend, capturer and input synthesizer that
// share one X connection.
type Desktop struct {
	Conn     *xgb.Conn
	Backend  *window.X11Backend
	Capturer capture.Capturer
	Input    input.Synthesizer
}

// OpenDesktop connects to X and opens the capturer selected by cfg.
func OpenDesktop(ctx context.Context, cfg *config.Config) (*Desktop, error) {
	conn, err := ConnectX(ctx)
	if err != nil {
		return nil, err
	}

	capturer, err := capture.Open(cfg.Detection.CaptureBackend, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Desktop{
		Conn:     conn,
		Backend:  window.NewX11BackendWithConn(conn),
		Capturer: capturer,
		Input:    input.NewRobot(),
	}, nil
}

// Close releases the capturer and the X connection.
func (d *Desktop) Close() {
	if d == nil {
		return
	}
	if d.Capturer != nil {
		_ = d.Capturer.Close()
	}
	if d.Backend != nil {
		_ = d.Backend.Close()
	}
}
