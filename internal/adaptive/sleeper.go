package adaptive

import (
	"context"
	"sync"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/config"
)

// Sleeper computes the polling interval. After IdleCycles consecutive cycles
// without any detection the interval grows by IntervalStep up to
// MaxInterval; any detection snaps it back to the base interval.
type Sleeper struct {
	mu       sync.Mutex
	cfg      config.MonitorConfig
	interval time.Duration
	idle     int
}

// NewSleeper starts at the base interval.
func NewSleeper(cfg config.MonitorConfig) *Sleeper {
	return &Sleeper{cfg: cfg, interval: cfg.Interval}
}

// OnCycle records whether the cycle detected anything.
func (s *Sleeper) OnCycle(detected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if detected {
		s.idle = 0
		s.interval = s.cfg.Interval
		return
	}

	s.idle++
	if s.idle >= s.cfg.IdleCycles {
		s.idle = 0
		s.interval += s.cfg.IntervalStep
		if s.interval > s.cfg.MaxInterval {
			s.interval = s.cfg.MaxInterval
		}
	}
}

// Interval returns the current target interval.
func (s *Sleeper) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Remaining returns how long to sleep after a cycle that took elapsed: the
// interval minus elapsed, but never less than MinSleep.
func (s *Sleeper) Remaining(elapsed time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.interval - elapsed
	if d < s.cfg.MinSleep {
		d = s.cfg.MinSleep
	}
	return d
}

// Reset returns to the base interval.
func (s *Sleeper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = s.cfg.Interval
	s.idle = 0
}

// Reconfigure installs new interval bounds and resets to the new base.
func (s *Sleeper) Reconfigure(cfg config.MonitorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.interval = cfg.Interval
	s.idle = 0
}

// Sleep blocks for d or until ctx is done or wake receives. It reports
// whether the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-wake:
		return false
	}
}
