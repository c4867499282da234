// Package monitor runs the detection loop: secure the target window, look
// for the idle and busy prompts, act on them and restore the desktop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/adaptive"
	"github.com/bryanchriswhite/Nudger/internal/arbiter"
	"github.com/bryanchriswhite/Nudger/internal/capture"
	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/history"
	"github.com/bryanchriswhite/Nudger/internal/input"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/bryanchriswhite/Nudger/internal/metrics"
	"github.com/bryanchriswhite/Nudger/internal/preview"
	"github.com/bryanchriswhite/Nudger/internal/vision"
	"github.com/bryanchriswhite/Nudger/internal/window"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options wires a Scheduler. Config, Backend, Input and Capturer are
// required; the rest are optional.
type Options struct {
	Config    *config.Manager
	Backend   window.Backend
	Input     input.Synthesizer
	Capturer  capture.Capturer
	Templates *vision.Store
	History   *history.Store
	Preview   preview.Publisher
}

// Scheduler owns the per-cycle state. RunCycle must not be called
// concurrently; the read accessors are safe from any goroutine.
type Scheduler struct {
	cfgMgr  *config.Manager
	backend window.Backend
	input   input.Synthesizer
	cache   *capture.Cache
	store   *vision.Store
	db      *history.Store
	preview preview.Publisher
	arbiter *arbiter.Arbiter
	log     *zerolog.Logger

	threshold *adaptive.Threshold
	sleeper   *adaptive.Sleeper
	ring      *history.Ring

	mu         sync.RWMutex
	version    uint64
	classifier *window.Classifier
	matcher    *vision.Matcher
	errorCount int
	last       *CycleResult

	cycles atomic.Uint64
}

// NewScheduler builds a scheduler from the current config snapshot.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Config == nil || opts.Backend == nil || opts.Input == nil || opts.Capturer == nil {
		return nil, errors.New("monitor: config, backend, input and capturer are required")
	}

	cfg := opts.Config.Get()
	classifier, err := window.NewClassifier(cfg.Windows)
	if err != nil {
		return nil, err
	}

	store := opts.Templates
	if store == nil {
		store = vision.NewStore()
	}

	s := &Scheduler{
		cfgMgr:     opts.Config,
		backend:    opts.Backend,
		input:      opts.Input,
		cache:      capture.NewCache(opts.Capturer, cfg.Detection.CaptureValidity),
		store:      store,
		db:         opts.History,
		preview:    opts.Preview,
		arbiter:    arbiter.New(opts.Backend, opts.Input, classifier, cfg.Arbitration),
		log:        logger.WithComponent("scheduler"),
		threshold:  adaptive.NewThreshold(cfg.Detection.Threshold),
		sleeper:    adaptive.NewSleeper(cfg.Monitor),
		ring:       history.NewRing(cfg.History.Capacity),
		version:    cfg.Version,
		classifier: classifier,
		matcher:    vision.NewMatcher(cfg.Detection.Scales, cfg.Detection.MinTemplateSize),
	}
	s.arbiter.SetRestorePolicy(restorePolicy(cfg.Monitor))
	if s.preview != nil {
		s.preview.SetQuality(cfg.Debug.PreviewQuality)
		s.preview.SetEnabled(cfg.Debug.Preview)
	}
	return s, nil
}

// refresh applies a newer config snapshot, if there is one.
func (s *Scheduler) refresh() *config.Config {
	cfg := s.cfgMgr.Get()

	s.mu.RLock()
	current := s.version
	s.mu.RUnlock()
	if cfg.Version == current {
		return cfg
	}

	classifier, err := window.NewClassifier(cfg.Windows)
	s.mu.Lock()
	if err != nil {
		s.log.Warn().Err(err).Msg("Keeping previous window rules")
		classifier = s.classifier
	}
	s.classifier = classifier
	s.matcher = vision.NewMatcher(cfg.Detection.Scales, cfg.Detection.MinTemplateSize)
	s.version = cfg.Version
	s.mu.Unlock()

	s.arbiter.Reconfigure(classifier, cfg.Arbitration, restorePolicy(cfg.Monitor))
	s.store.Clear()
	s.cache.SetValidity(cfg.Detection.CaptureValidity)
	s.threshold.Reconfigure(cfg.Detection.Threshold)
	s.sleeper.Reconfigure(cfg.Monitor)
	s.ring.Resize(cfg.History.Capacity)
	if s.preview != nil {
		s.preview.SetQuality(cfg.Debug.PreviewQuality)
		s.preview.SetEnabled(cfg.Debug.Preview)
	}

	s.log.Info().Uint64("version", cfg.Version).Msg("Applied new config")
	return cfg
}

// RunCycle performs one detection cycle. The returned error is the one
// that counts toward the error ceiling; input failures and a missing
// target window are reported in the result instead.
func (s *Scheduler) RunCycle(ctx context.Context) (res *CycleResult, err error) {
	start := time.Now()
	cfg := s.refresh()
	res = &CycleResult{
		ID:            uuid.NewString(),
		StartedAt:     start,
		ConfigVersion: cfg.Version,
		Action:        history.ActionNone,
		Threshold:     s.threshold.Value(),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			s.log.Error().Interface("panic", r).Msg("Recovered from cycle panic")
		}
		res.Duration = time.Since(start)
		if err != nil {
			res.Error = err.Error()
		}
		s.finish(res, err)
	}()

	if cfg.Monitor.AutoActivate {
		defer s.restore(ctx)
		outcome, aerr := s.arbiter.Secure(ctx)
		res.Activation = &outcome
		metrics.Activations.WithLabelValues(outcome.State.String(), outcome.Step.String()).Inc()
		if aerr != nil {
			if errors.Is(aerr, window.ErrWindowNotFound) {
				res.Skipped = true
				res.Error = aerr.Error()
				s.log.Info().Msg("Target window not found, skipping cycle")
				s.sleeper.OnCycle(false)
				return res, nil
			}
			return res, aerr
		}
	}

	frame, cerr := s.cache.Capture(ctx)
	if cerr != nil {
		return res, fmt.Errorf("capture failed: %w", cerr)
	}
	metrics.Captures.WithLabelValues(frame.Source).Inc()
	scene := vision.NewScene(frame.Image)

	var annotations []vision.Annotation
	idle, ierr := s.match(scene, cfg.Detection.IdleTemplate)
	res.Idle = idle
	if ierr != nil {
		s.log.Warn().Err(ierr).Str("template", cfg.Detection.IdleTemplate).Msg("Idle template unavailable")
	} else {
		annotations = append(annotations, vision.Annotation{Result: idle, Accepted: idle.Accepted(res.Threshold)})
	}

	var actionErr error
	if ierr == nil && idle.Accepted(res.Threshold) {
		s.log.Info().
			Float64("confidence", idle.Confidence).
			Float64("threshold", res.Threshold).
			Float64("scale", idle.Scale).
			Int("x", idle.Center.X).
			Int("y", idle.Center.Y).
			Msg("Idle prompt detected")
		actionErr = s.trigger(ctx, cfg.Monitor, idle.Center)
		res.Action = history.ActionTrigger
		if actionErr == nil {
			adaptive.Sleep(ctx, cfg.Monitor.ActionSettle, nil)
		}
	} else {
		busy, ann := s.matchBusy(scene, cfg.Detection.BusyTemplates, res.Threshold)
		annotations = append(annotations, ann...)
		if busy != nil {
			res.Busy = busy
			res.Action = history.ActionDismiss
			s.log.Info().
				Str("template", filepath.Base(busy.Template)).
				Float64("confidence", busy.Confidence).
				Msg("Busy prompt detected")
			if err := s.input.Click(busy.Center); err != nil {
				actionErr = &ActionError{Step: StepDismiss, Err: err}
			}
		}
	}

	if actionErr != nil {
		res.Error = actionErr.Error()
		s.log.Warn().Err(actionErr).Msg("Input sequence aborted")
	}

	if ierr == nil {
		s.threshold.OnResult(idle.Accepted(res.Threshold), idle.Confidence)
	}
	s.sleeper.OnCycle(res.Detected())
	s.publish(frame.Image, annotations)
	return res, nil
}

// restore runs the arbiter's restore under a context that outlives
// cancellation of the cycle.
func (s *Scheduler) restore(ctx context.Context) {
	rctx, cancel := s.arbiter.RestoreContext(ctx)
	defer cancel()
	if errs := s.arbiter.Restore(rctx); len(errs) > 0 {
		s.log.Warn().Int("failures", len(errs)).Msg("Window restore incomplete")
	}
}

func (s *Scheduler) match(scene *vision.Scene, path string) (vision.MatchResult, error) {
	t, err := s.store.Load(s.cfgMgr.ResolvePath(path))
	if err != nil {
		return vision.MatchResult{Template: path}, err
	}

	s.mu.RLock()
	matcher := s.matcher
	s.mu.RUnlock()

	start := time.Now()
	res := matcher.Match(scene, t)
	name := filepath.Base(path)
	metrics.MatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.MatchConfidence.WithLabelValues(name).Set(res.Confidence)
	return res, nil
}

// matchBusy returns the first accepted busy template match.
func (s *Scheduler) matchBusy(scene *vision.Scene, paths []string, threshold float64) (*vision.MatchResult, []vision.Annotation) {
	var annotations []vision.Annotation
	for _, path := range paths {
		res, err := s.match(scene, path)
		if err != nil {
			s.log.Debug().Err(err).Str("template", path).Msg("Busy template unavailable")
			continue
		}
		accepted := res.Accepted(threshold)
		annotations = append(annotations, vision.Annotation{Result: res, Accepted: accepted})
		if accepted {
			return &res, annotations
		}
	}
	return nil, annotations
}

// trigger types the trigger text into the input box and presses the
// action control. The first failing step aborts the sequence.
func (s *Scheduler) trigger(ctx context.Context, mc config.MonitorConfig, action image.Point) error {
	target := image.Pt(mc.InputTarget.X, mc.InputTarget.Y)
	steps := []struct {
		name string
		run  func() error
	}{
		{StepFocusInput, func() error { return s.input.Click(target) }},
		{StepFocusInput, func() error { return s.input.Click(target) }},
		{StepSelectAll, func() error { return s.input.KeyTap("a", mc.PasteModifier) }},
		{StepDelete, func() error { return s.input.KeyTap("delete") }},
		{StepSetClipboard, func() error { return s.input.SetClipboard(mc.TriggerText) }},
		{StepPaste, func() error { return s.input.KeyTap("v", mc.PasteModifier) }},
		{StepClickAction, func() error { return s.input.Click(action) }},
	}

	for i, step := range steps {
		if i > 0 {
			if !adaptive.Sleep(ctx, mc.InputDelay, nil) {
				return &ActionError{Step: step.name, Err: ctx.Err()}
			}
		}
		if err := step.run(); err != nil {
			return &ActionError{Step: step.name, Err: err}
		}
	}
	return nil
}

func (s *Scheduler) publish(frame *image.RGBA, annotations []vision.Annotation) {
	if s.preview == nil || !s.preview.Enabled() {
		return
	}
	if err := s.preview.Publish(vision.Annotate(frame, annotations)); err != nil {
		s.log.Debug().Err(err).Msg("Preview publish failed")
	}
}

// finish records the cycle in history, metrics and the error counter.
func (s *Scheduler) finish(res *CycleResult, err error) {
	s.cycles.Add(1)

	s.mu.Lock()
	if err != nil {
		s.errorCount++
	}
	errorCount := s.errorCount
	s.last = res
	s.mu.Unlock()

	if res.Idle.Found {
		s.ring.Add(history.Entry{
			Template:   res.Idle.Template,
			Confidence: res.Idle.Confidence,
			Position:   res.Idle.Center,
			Found:      res.Idle.Accepted(res.Threshold),
			Timestamp:  res.StartedAt,
		})
	}

	outcome := res.Action
	if err != nil {
		outcome = "error"
		s.log.Warn().Err(err).Int("error_count", errorCount).Msg("Cycle failed")
	}
	metrics.Cycles.WithLabelValues(outcome).Inc()
	metrics.CycleDuration.Observe(res.Duration.Seconds())
	metrics.Threshold.Set(s.threshold.Value())
	metrics.Interval.Set(s.sleeper.Interval().Seconds())
	metrics.ErrorCount.Set(float64(errorCount))

	if s.db != nil {
		rec := &history.CycleRecord{
			ID:            res.ID,
			StartedAt:     res.StartedAt,
			DurationMs:    res.Duration.Milliseconds(),
			ConfigVersion: res.ConfigVersion,
			Template:      res.Idle.Template,
			Confidence:    res.Idle.Confidence,
			Threshold:     res.Threshold,
			Found:         res.Detected(),
			Action:        res.Action,
			X:             res.Idle.Center.X,
			Y:             res.Idle.Center.Y,
			Error:         res.Error,
		}
		if res.Busy != nil {
			rec.Template = res.Busy.Template
			rec.Confidence = res.Busy.Confidence
			rec.X, rec.Y = res.Busy.Center.X, res.Busy.Center.Y
		}
		if res.Activation != nil {
			rec.Activation = res.Activation.State.String()
		}
		if err := s.db.Create(rec); err != nil {
			s.log.Warn().Err(err).Msg("Failed to persist cycle")
		}
	}
}

// CheckErrorCeiling resets detection state once the error counter reaches
// the configured ceiling. It returns the cooldown to sleep and whether a
// reset happened.
func (s *Scheduler) CheckErrorCeiling() (time.Duration, bool) {
	mc := s.cfgMgr.Get().Monitor

	s.mu.Lock()
	count := s.errorCount
	if count < mc.ErrorCeiling {
		s.mu.Unlock()
		return 0, false
	}
	s.errorCount = 0
	s.mu.Unlock()

	s.store.Clear()
	s.cache.Invalidate()
	s.threshold.Reset()
	s.sleeper.Reset()
	metrics.ErrorResets.Inc()
	metrics.ErrorCount.Set(0)

	cooldown := time.Duration(count) * mc.ErrorCooldown
	if cooldown > mc.MaxCooldown {
		cooldown = mc.MaxCooldown
	}
	s.log.Warn().Int("errors", count).Dur("cooldown", cooldown).Msg("Error ceiling reached, state reset")
	return cooldown, true
}

// NextSleep returns how long to wait after a cycle that took elapsed.
func (s *Scheduler) NextSleep(elapsed time.Duration) time.Duration {
	return s.sleeper.Remaining(elapsed)
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// ErrorCount returns the accumulated error counter.
func (s *Scheduler) ErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorCount
}

// LastResult returns the most recent cycle result.
func (s *Scheduler) LastResult() *CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Adaptive returns a snapshot of the adaptive controllers.
func (s *Scheduler) Adaptive() adaptive.State {
	return adaptive.Snapshot(s.threshold, s.sleeper, s.ErrorCount())
}

// ArbiterState returns the focus arbiter's phase.
func (s *Scheduler) ArbiterState() arbiter.State {
	return s.arbiter.State()
}

// ConfigVersion returns the version of the config applied by the last cycle.
func (s *Scheduler) ConfigVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// History returns the in-memory detection ring, oldest first.
func (s *Scheduler) History() []history.Entry {
	return s.ring.Entries()
}

// Windows lists the top-level windows with their classification.
func (s *Scheduler) Windows() ([]window.Described, error) {
	s.mu.RLock()
	classifier := s.classifier
	s.mu.RUnlock()
	return window.Describe(s.backend, classifier)
}

// restorePolicy maps the monitor switches onto the arbiter's restore step.
// Saved placements always go back; AutoRestore=false only keeps the target
// in front.
func restorePolicy(mc config.MonitorConfig) arbiter.RestorePolicy {
	return arbiter.RestorePolicy{
		MinimizeTarget: mc.AutoRestore && mc.MinimizeTargetAfterCycle,
		Refocus:        mc.AutoRestore,
	}
}
