// Package arbiter moves the target window to the foreground for the duration
// of a detection cycle and puts interfering windows back afterwards.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/adaptive"
	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/input"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/bryanchriswhite/Nudger/internal/window"
	"github.com/rs/zerolog"
)

// ErrActivationFailed is returned by Secure when the target could not be
// brought to the foreground. It is retryable on the next cycle.
var ErrActivationFailed = errors.New("target activation failed")

// Outcome describes a Secure call.
type Outcome struct {
	State    State           `json:"state"`
	Target   *window.Record  `json:"target,omitempty"`
	Saved    []window.Record `json:"saved,omitempty"`
	Attempts int             `json:"attempts"`
	Step     Step            `json:"step"`
}

// RestorePolicy shapes what Restore does besides putting saved placements
// back.
type RestorePolicy struct {
	// MinimizeTarget minimizes the target before anything else.
	MinimizeTarget bool
	// Refocus gives the foreground back to windows that had it when saved.
	// Without it the target stays in front.
	Refocus bool
}

// DefaultRestorePolicy refocuses saved windows and leaves the target alone.
var DefaultRestorePolicy = RestorePolicy{Refocus: true}

// Arbiter owns the saved interference state between Secure and Restore.
type Arbiter struct {
	backend window.Backend
	input   input.Synthesizer
	log     *zerolog.Logger

	mu         sync.Mutex
	classifier *window.Classifier
	cfg        config.ArbitrationConfig
	policy     RestorePolicy
	state      State
	saved      []window.Record
	target     *window.Record
}

// New creates an arbiter.
func New(backend window.Backend, in input.Synthesizer, classifier *window.Classifier, cfg config.ArbitrationConfig) *Arbiter {
	return &Arbiter{
		backend:    backend,
		input:      in,
		log:        logger.WithComponent("arbiter"),
		classifier: classifier,
		cfg:        cfg,
		policy:     DefaultRestorePolicy,
	}
}

// Reconfigure swaps the classifier, timing and restore policy after a
// config reload.
func (a *Arbiter) Reconfigure(classifier *window.Classifier, cfg config.ArbitrationConfig, policy RestorePolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.classifier = classifier
	a.cfg = cfg
	a.policy = policy
}

// SetRestorePolicy replaces the restore policy.
func (a *Arbiter) SetRestorePolicy(policy RestorePolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy = policy
}

// State returns the current phase.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Saved returns copies of the saved interfering window records.
func (a *Arbiter) Saved() []window.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]window.Record(nil), a.saved...)
}

// Secure saves and neutralizes foreground interfering windows, then runs the
// activation techniques against the target until it is verified as the
// foreground window or the attempts run out.
func (a *Arbiter) Secure(ctx context.Context) (Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.target != nil || len(a.saved) > 0 {
		a.log.Warn().Int("saved", len(a.saved)).Msg("Dropping state from a cycle that was never restored")
		a.saved = nil
		a.target = nil
	}

	records, err := window.Enumerate(a.backend)
	if err != nil {
		a.state = ActivationFailed
		return Outcome{State: a.state}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	a.saveInterference(records)
	a.state = InterferenceSaved
	out := Outcome{State: a.state, Saved: append([]window.Record(nil), a.saved...)}

	target, err := a.classifier.FindTarget(records)
	if err != nil {
		a.state = ActivationFailed
		out.State = a.state
		a.log.Debug().Msg("No target window")
		return out, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	a.target = &target
	out.Target = &target

	act := startActivation(a.cfg.MaxAttempts)
	a.state = act.state
	for {
		if err := ctx.Err(); err != nil {
			a.state = ActivationFailed
			out.State = a.state
			return out, fmt.Errorf("%w: %w", ErrActivationFailed, err)
		}

		if err := a.apply(target, act.step); err != nil {
			if errors.Is(err, window.ErrWindowNotFound) {
				a.state = ActivationFailed
				out.State = a.state
				return out, fmt.Errorf("%w: %w", ErrActivationFailed, err)
			}
			a.log.Debug().Err(err).Str("step", act.step.String()).Msg("Activation step failed")
		}

		if !adaptive.Sleep(ctx, a.cfg.StepSettle, nil) {
			continue
		}

		verified := a.isForeground(target.Handle)
		next := decide(act, verified)
		out.Attempts = act.attempt
		out.Step = act.step

		if next.done() {
			a.state = next.state
			out.State = next.state
			if next.state == TargetActive {
				if err := a.backend.SetPlacement(target.Handle, window.Placement{State: window.ShowMaximized}); err != nil {
					a.log.Warn().Err(err).Uint32("window", uint32(target.Handle)).Msg("Failed to maximize target")
				}
				a.log.Debug().
					Str("title", target.Title).
					Int("attempt", act.attempt).
					Str("step", act.step.String()).
					Msg("Target window active")
				return out, nil
			}
			a.log.Warn().Str("title", target.Title).Int("attempts", act.attempt).Msg("Could not activate target window")
			return out, ErrActivationFailed
		}

		if next.attempt != act.attempt {
			adaptive.Sleep(ctx, a.cfg.AttemptDelay, nil)
		}
		act = next
	}
}

// saveInterference records and backgrounds every interfering window that
// is in the foreground and not minimized (caller holds mu).
func (a *Arbiter) saveInterference(records []window.Record) {
	for _, r := range a.classifier.Interfering(records) {
		if !r.Foreground || r.Minimized() || a.isSaved(r.Handle) {
			continue
		}
		a.saved = append(a.saved, r)
		if err := a.backend.SendToBack(r.Handle); err != nil {
			a.log.Warn().Err(err).Str("title", r.Title).Msg("Failed to lower interfering window")
			continue
		}
		a.log.Debug().Str("title", r.Title).Msg("Saved interfering window")
	}
}

func (a *Arbiter) isSaved(h window.Handle) bool {
	for _, r := range a.saved {
		if r.Handle == h {
			return true
		}
	}
	return false
}

func (a *Arbiter) isForeground(h window.Handle) bool {
	fg, err := a.backend.Foreground()
	return err == nil && fg == h
}

func (a *Arbiter) apply(target window.Record, step Step) error {
	h := target.Handle
	switch step {
	case StepRestoreAndForeground:
		p, err := a.backend.Placement(h)
		if err != nil {
			return err
		}
		if p.State == window.ShowMinimized {
			if err := a.backend.SetPlacement(h, window.Placement{State: window.ShowNormal}); err != nil {
				return err
			}
		}
		return a.backend.SetForeground(h)

	case StepTopmostKick:
		if err := a.backend.SetTopmost(h, true); err != nil {
			return err
		}
		if err := a.backend.SetTopmost(h, false); err != nil {
			return err
		}
		return a.backend.SetForeground(h)

	case StepClickCenter:
		rect, err := a.backend.Rect(h)
		if err != nil {
			return err
		}
		if rect.Empty() {
			return fmt.Errorf("window %d has no area", h)
		}
		prev, locErr := a.input.Location()
		clickErr := a.input.Click(rect.Center())
		if locErr == nil {
			if err := a.input.MoveTo(prev); err != nil {
				a.log.Debug().Err(err).Msg("Failed to restore pointer")
			}
		}
		if clickErr != nil {
			return clickErr
		}
		return a.backend.SetForeground(h)
	}
	return fmt.Errorf("unknown step %d", step)
}

// Restore puts saved windows back. It minimizes the target first and
// refocuses saved windows as the restore policy says. Per-window failures are collected, never fatal. Calling
// Restore with nothing saved is a no-op.
func (a *Arbiter) Restore(ctx context.Context) []error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.target == nil && len(a.saved) == 0 {
		a.state = Idle
		return nil
	}
	a.state = Restoring

	var errs []error
	if a.policy.MinimizeTarget && a.target != nil && a.backend.Exists(a.target.Handle) {
		if err := a.backend.SetPlacement(a.target.Handle, window.Placement{State: window.ShowMinimized}); err != nil {
			errs = append(errs, fmt.Errorf("minimize target %q: %w", a.target.Title, err))
		}
	}

	for _, r := range a.saved {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("restore %q: %w", r.Title, err))
			continue
		}
		if !a.backend.Exists(r.Handle) {
			a.log.Debug().Str("title", r.Title).Msg("Saved window is gone")
			continue
		}
		if err := a.backend.SetPlacement(r.Handle, r.Placement); err != nil {
			errs = append(errs, fmt.Errorf("restore %q: %w", r.Title, err))
			continue
		}
		if a.policy.Refocus && r.Foreground && !r.Minimized() {
			if err := a.backend.SetForeground(r.Handle); err != nil {
				a.log.Warn().Err(err).Str("title", r.Title).Msg("Failed to refocus window")
			}
		}
	}

	for _, err := range errs {
		a.log.Warn().Err(err).Msg("Restore failed")
	}

	a.saved = nil
	a.target = nil
	a.state = Idle
	return errs
}

// RestoreContext returns a context for Restore that survives cancellation
// of parent but is bounded by the configured restore timeout.
func (a *Arbiter) RestoreContext(parent context.Context) (context.Context, context.CancelFunc) {
	a.mu.Lock()
	timeout := a.cfg.RestoreTimeout
	a.mu.Unlock()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
