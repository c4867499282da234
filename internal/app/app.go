// Package app wires the detection engine together for the serve command
// and the daemon.
package app

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/api"
	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/history"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/bryanchriswhite/Nudger/internal/monitor"
	"github.com/bryanchriswhite/Nudger/internal/preview"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// configPoll is the mtime fallback for the config watcher.
	configPoll = 2 * time.Second

	// previewMaxWidth keeps preview frames small enough for a browser tab.
	previewMaxWidth = 1280
)

// Options are the command-line overrides applied on top of the config file.
// Zero values leave the file's setting alone.
type Options struct {
	ConfigPath  string
	Host        string
	Port        int
	LogLevel    string
	StartPaused bool
	Preview     bool
	NoServer    bool
}

// App is a running engine: desktop connection, scheduler, controller and,
// optionally, the control API.
type App struct {
	cfgMgr     *config.Manager
	desktop    *Desktop
	db         *history.Store
	stream     *preview.Stream
	controller *monitor.Controller
	server     *api.Server
	addr       string
	paused     bool
	log        *zerolog.Logger
}

// ApplyOverrides installs the non-zero options over cfgMgr's snapshot
// without saving them.
func ApplyOverrides(cfgMgr *config.Manager, opts Options) error {
	if opts.Host == "" && opts.Port == 0 && opts.LogLevel == "" && !opts.Preview && !opts.StartPaused {
		return nil
	}
	return cfgMgr.Override(func(c *config.Config) {
		if opts.Host != "" {
			c.Server.Host = opts.Host
		}
		if opts.Port > 0 {
			c.Server.Port = opts.Port
		}
		if opts.LogLevel != "" {
			c.LogLevel = opts.LogLevel
		}
		if opts.Preview {
			c.Debug.Preview = true
		}
		if opts.StartPaused {
			c.Monitor.StartPaused = true
		}
	})
}

// New loads the config, connects to the desktop and builds the engine.
func New(ctx context.Context, opts Options) (*App, error) {
	log := logger.WithComponent("app")

	cfgMgr, err := config.NewManager(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}
	if err := ApplyOverrides(cfgMgr, opts); err != nil {
		return nil, fmt.Errorf("invalid command-line overrides: %w", err)
	}
	cfg := cfgMgr.Get()

	a := &App{
		cfgMgr: cfgMgr,
		paused: cfg.Monitor.StartPaused,
		log:    log,
	}

	log.Info().Msg("Connecting to X11 server...")
	a.desktop, err = OpenDesktop(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.History.DatabasePath != "" {
		path := cfgMgr.ResolvePath(cfg.History.DatabasePath)
		a.db, err = history.Open(path)
		if err != nil {
			a.Close()
			return nil, err
		}
		log.Info().Str("path", path).Msg("Cycle history database opened")
	}

	a.stream = preview.NewStream(preview.Config{
		Quality:  cfg.Debug.PreviewQuality,
		MaxWidth: previewMaxWidth,
	})

	sched, err := monitor.NewScheduler(monitor.Options{
		Config:   cfgMgr,
		Backend:  a.desktop.Backend,
		Input:    a.desktop.Input,
		Capturer: a.desktop.Capturer,
		History:  a.db,
		Preview:  a.stream,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.controller = monitor.NewController(sched)

	if cfg.Server.Enabled && !opts.NoServer {
		a.server = api.NewServer(a.controller, cfgMgr, a.stream, a.db)
		a.addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}
	return a, nil
}

// Config returns the config manager.
func (a *App) Config() *config.Manager {
	return a.cfgMgr
}

// Controller returns the loop controller.
func (a *App) Controller() *monitor.Controller {
	return a.controller
}

// Addr returns the control API address, or "" when the API is disabled.
func (a *App) Addr() string {
	return a.addr
}

// Run drives the loop, the control API and the config watcher until ctx is
// done or one of them fails. The desktop is restored before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.controller.Run(ctx, a.paused)
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(ctx, a.addr)
		})
	}
	g.Go(func() error {
		return a.cfgMgr.Watch(ctx, configPoll)
	})

	a.log.Info().
		Str("addr", a.addr).
		Bool("paused", a.paused).
		Msg("Nudger is running")
	return g.Wait()
}

// Close releases the database and the desktop connection.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close history database")
		}
	}
	a.desktop.Close()
}
