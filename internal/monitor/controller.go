package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/adaptive"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/bryanchriswhite/Nudger/internal/metrics"
	"github.com/rs/zerolog"
)

// pauseSlice bounds how long a paused loop sleeps between checks.
const pauseSlice = 250 * time.Millisecond

// Controller starts, stops and pauses the monitor loop. All operations are
// idempotent and safe to call from HTTP handlers.
type Controller struct {
	sched *Scheduler
	log   *zerolog.Logger

	running atomic.Bool
	paused  atomic.Bool
	alive   atomic.Bool

	mu     sync.Mutex
	base   context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	listenersMu sync.RWMutex
	listeners   []chan Status
}

// NewController wraps a scheduler. The loop is not started.
func NewController(sched *Scheduler) *Controller {
	return &Controller{
		sched: sched,
		log:   logger.WithComponent("controller"),
		base:  context.Background(),
		wake:  make(chan struct{}, 1),
	}
}

// Scheduler returns the wrapped scheduler.
func (c *Controller) Scheduler() *Scheduler {
	return c.sched
}

// Run binds the loop to ctx, starts it (paused when startPaused is set),
// and blocks until ctx is done. The loop is stopped before Run returns.
func (c *Controller) Run(ctx context.Context, startPaused bool) error {
	c.mu.Lock()
	c.base = ctx
	c.mu.Unlock()

	if startPaused {
		c.paused.Store(true)
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
	return nil
}

// Start launches the loop.
func (c *Controller) Start() Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return Result{Changed: false, Message: "monitor already running"}
	}

	ctx, cancel := context.WithCancel(c.base)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running.Store(true)
	go c.loop(ctx, done)

	c.log.Info().Bool("paused", c.paused.Load()).Msg("Monitor started")
	c.updateGauge()
	return Result{Changed: true, Message: "monitor started"}
}

// Stop cancels the loop and waits for the current cycle, including its
// window restore, to finish.
func (c *Controller) Stop() Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return Result{Changed: false, Message: "monitor not running"}
	}

	c.cancel()
	<-c.done
	c.running.Store(false)
	c.cancel = nil
	c.done = nil

	c.log.Info().Msg("Monitor stopped")
	c.updateGauge()
	c.broadcast(c.Status())
	return Result{Changed: true, Message: "monitor stopped"}
}

// Restart stops the loop, if running, and starts it again.
func (c *Controller) Restart() Result {
	c.Stop()
	c.Start()
	return Result{Changed: true, Message: "monitor restarted"}
}

// Pause suspends cycles at the next cycle boundary.
func (c *Controller) Pause() Result {
	if !c.paused.CompareAndSwap(false, true) {
		return Result{Changed: false, Message: "monitor already paused"}
	}
	c.log.Info().Msg("Monitor paused")
	c.updateGauge()
	c.broadcast(c.Status())
	return Result{Changed: true, Message: "monitor paused"}
}

// Resume continues after Pause.
func (c *Controller) Resume() Result {
	if !c.paused.CompareAndSwap(true, false) {
		return Result{Changed: false, Message: "monitor not paused"}
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	c.log.Info().Msg("Monitor resumed")
	c.updateGauge()
	c.broadcast(c.Status())
	return Result{Changed: true, Message: "monitor resumed"}
}

// Status returns the current state of the monitor.
func (c *Controller) Status() Status {
	return Status{
		Running:       c.running.Load(),
		Paused:        c.paused.Load(),
		LoopAlive:     c.alive.Load(),
		Cycles:        c.sched.Cycles(),
		Adaptive:      c.sched.Adaptive(),
		Arbiter:       c.sched.ArbiterState(),
		LastResult:    c.sched.LastResult(),
		ConfigVersion: c.sched.ConfigVersion(),
		Timestamp:     time.Now(),
	}
}

// Subscribe returns a channel that receives the status after every cycle
// and every control change.
func (c *Controller) Subscribe() chan Status {
	ch := make(chan Status, 10)
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, ch)
	c.listenersMu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Controller) Unsubscribe(ch chan Status) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	for i, listener := range c.listeners {
		if listener == ch {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

func (c *Controller) broadcast(st Status) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()

	for _, listener := range c.listeners {
		select {
		case listener <- st:
		default:
			// Skip if channel is full
		}
	}
}

func (c *Controller) updateGauge() {
	metrics.Running.Set(metrics.Bool(c.running.Load() && !c.paused.Load()))
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.alive.Store(true)
	defer c.alive.Store(false)

	for {
		if ctx.Err() != nil {
			return
		}

		if c.paused.Load() {
			adaptive.Sleep(ctx, pauseSlice, c.wake)
			continue
		}

		start := time.Now()
		if _, err := c.sched.RunCycle(ctx); err != nil && ctx.Err() != nil {
			return
		}
		c.broadcast(c.Status())

		if cooldown, reset := c.sched.CheckErrorCeiling(); reset {
			adaptive.Sleep(ctx, cooldown, nil)
			continue
		}
		adaptive.Sleep(ctx, c.sched.NextSleep(time.Since(start)), nil)
	}
}
