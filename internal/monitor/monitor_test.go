package monitor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/history"
	"github.com/bryanchriswhite/Nudger/internal/input/inputtest"
	"github.com/bryanchriswhite/Nudger/internal/preview"
	"github.com/bryanchriswhite/Nudger/internal/window"
	"github.com/bryanchriswhite/Nudger/internal/window/windowtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCapturer struct {
	mu    sync.Mutex
	img   *image.RGBA
	err   error
	panic bool
	calls int
}

func (f *fakeCapturer) Capture(ctx context.Context) (*image.RGBA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("capture exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

func (f *fakeCapturer) Close() error { return nil }
func (f *fakeCapturer) Name() string { return "fake" }

func (f *fakeCapturer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func checker(w, h, cell int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(20)
			if (x/cell+y/cell)%2 == 0 {
				v = 235
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(rng.Intn(256))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

// screenWith returns a noisy frame with src pasted at origin.
func screenWith(src image.Image, origin image.Point) *image.RGBA {
	frame := noise(400, 300, 1)
	draw.Draw(frame, src.Bounds().Add(origin), src, src.Bounds().Min, draw.Src)
	return frame
}

type fixture struct {
	cfg      *config.Config
	mgr      *config.Manager
	backend  *windowtest.Backend
	input    *inputtest.Recorder
	capturer *fakeCapturer
	opts     Options
	checker  string
	noise    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{
		backend:  windowtest.New(),
		input:    inputtest.New(),
		capturer: &fakeCapturer{img: noise(400, 300, 1)},
		checker:  writePNG(t, dir, "checker.png", checker(48, 32, 8)),
		noise:    writePNG(t, dir, "noise.png", noise(40, 40, 7)),
	}

	cfg := config.Defaults()
	cfg.Monitor.Interval = 20 * time.Millisecond
	cfg.Monitor.MaxInterval = 100 * time.Millisecond
	cfg.Monitor.IntervalStep = 10 * time.Millisecond
	cfg.Monitor.MinSleep = 5 * time.Millisecond
	cfg.Monitor.ActionSettle = 0
	cfg.Monitor.InputDelay = 0
	cfg.Monitor.ErrorCooldown = time.Second
	cfg.Monitor.MaxCooldown = 3 * time.Second
	cfg.Arbitration = config.ArbitrationConfig{MaxAttempts: 1, RestoreTimeout: time.Second}
	cfg.Detection.IdleTemplate = f.checker
	cfg.Detection.BusyTemplates = nil
	cfg.Detection.CaptureValidity = 0
	cfg.History.Capacity = 10
	f.cfg = cfg
	return f
}

func (f *fixture) addWindows(target, browser bool) {
	if browser {
		f.backend.Add(windowtest.Window{
			Handle:    1,
			Title:     "Docs - Google Chrome",
			Placement: window.Placement{Rect: window.Rect{X: 10, Y: 10, Width: 600, Height: 400}},
		}, true)
	}
	if target {
		f.backend.Add(windowtest.Window{
			Handle:    2,
			Title:     "main.go - agent - Trae",
			Placement: window.Placement{Rect: window.Rect{Width: 1200, Height: 900}},
		}, false)
	}
}

func (f *fixture) scheduler(t *testing.T) *Scheduler {
	t.Helper()
	f.mgr = config.NewStatic(f.cfg)
	f.opts.Config = f.mgr
	f.opts.Backend = f.backend
	f.opts.Input = f.input
	f.opts.Capturer = f.capturer
	s, err := NewScheduler(f.opts)
	require.NoError(t, err)
	return s
}

func TestNewSchedulerRequiresDependencies(t *testing.T) {
	_, err := NewScheduler(Options{})
	assert.Error(t, err)
}

func TestRunCycleTriggersOnIdlePrompt(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	f.capturer.img = screenWith(checker(48, 32, 8), image.Pt(200, 150))
	s := f.scheduler(t)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, history.ActionTrigger, res.Action)
	assert.GreaterOrEqual(t, res.Idle.Confidence, 0.99)
	assert.Equal(t, image.Pt(224, 166), res.Idle.Center)
	assert.Equal(t, []string{
		"click(1670,844)",
		"click(1670,844)",
		"key(ctrl+a)",
		"key(delete)",
		"clipboard",
		"key(ctrl+v)",
		"click(224,166)",
	}, f.input.Events())
	assert.Equal(t, "Continue your mission", f.input.Clipboard())

	require.NotNil(t, res.Activation)
	assert.Equal(t, "target_active", res.Activation.State.String())
	assert.Len(t, s.History(), 1)
	assert.Equal(t, uint64(1), s.Cycles())
	assert.Same(t, res, s.LastResult())
}

func TestRunCycleDismissesBusyPrompt(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	f.cfg.Detection.IdleTemplate = f.noise
	f.cfg.Detection.BusyTemplates = []string{filepath.Join(t.TempDir(), "missing.png"), f.checker}
	f.capturer.img = screenWith(checker(48, 32, 8), image.Pt(100, 60))
	s := f.scheduler(t)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, history.ActionDismiss, res.Action)
	require.NotNil(t, res.Busy)
	assert.Equal(t, []string{"click(124,76)"}, f.input.Events())
	assert.Less(t, res.Idle.Confidence, 0.5)

	// the idle template was checked and missed
	assert.Equal(t, 1, s.Adaptive().ConsecutiveFailures)
}

func TestRunCycleWithoutTargetSkips(t *testing.T) {
	f := newFixture(t)
	f.addWindows(false, true)
	s := f.scheduler(t)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.input.Events())
	assert.Equal(t, 0, f.capturer.Calls())
	assert.Equal(t, 0, s.ErrorCount())

	fg, _ := f.backend.Foreground()
	assert.Equal(t, window.Handle(1), fg)
}

func TestSkippedCyclesBackOff(t *testing.T) {
	f := newFixture(t)
	f.addWindows(false, true)
	s := f.scheduler(t)

	for i := 0; i < f.cfg.Monitor.IdleCycles; i++ {
		res, err := s.RunCycle(context.Background())
		require.NoError(t, err)
		require.True(t, res.Skipped)
	}
	assert.Equal(t, 30*time.Millisecond, s.Adaptive().Interval)
}

func TestRunCycleWithoutAutoRestoreStillRestores(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, true)
	f.cfg.Monitor.AutoRestore = false
	s := f.scheduler(t)

	_, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "idle", s.ArbiterState().String())
	assert.Empty(t, s.arbiter.Saved())
	assert.Contains(t, f.backend.Calls(), "SetPlacement(1,normal)")
	fg, _ := f.backend.Foreground()
	assert.Equal(t, window.Handle(2), fg)
}

func TestActionErrorAbortsSequence(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, true)
	f.input.FailOn = "clipboard"
	f.capturer.img = screenWith(checker(48, 32, 8), image.Pt(200, 150))
	s := f.scheduler(t)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Error, StepSetClipboard)
	assert.Equal(t, []string{
		"click(1670,844)",
		"click(1670,844)",
		"key(ctrl+a)",
		"key(delete)",
	}, f.input.Events())
	assert.Equal(t, 0, s.ErrorCount())

	// windows were still restored
	fg, _ := f.backend.Foreground()
	assert.Equal(t, window.Handle(1), fg)
}

func TestActionErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ActionError{Step: StepPaste, Err: cause})
	assert.ErrorIs(t, err, cause)

	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StepPaste, ae.Step)
}

func TestCaptureErrorsReachCeiling(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	f.cfg.Monitor.ErrorCeiling = 2
	f.capturer.err = errors.New("no display")
	s := f.scheduler(t)

	_, err := s.RunCycle(context.Background())
	require.Error(t, err)
	_, reset := s.CheckErrorCeiling()
	assert.False(t, reset)

	_, err = s.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, s.ErrorCount())

	cooldown, reset := s.CheckErrorCeiling()
	assert.True(t, reset)
	assert.Equal(t, 2*time.Second, cooldown)
	assert.Equal(t, 0, s.ErrorCount())

	for i := 0; i < 4; i++ {
		_, _ = s.RunCycle(context.Background())
	}
	cooldown, reset = s.CheckErrorCeiling()
	assert.True(t, reset)
	assert.Equal(t, 3*time.Second, cooldown, "capped at max cooldown")
}

func TestPanicIsRecoveredAndWindowsRestored(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, true)
	f.capturer.panic = true
	s := f.scheduler(t)

	res, err := s.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Contains(t, res.Error, "panic")
	assert.Equal(t, 1, s.ErrorCount())

	fg, _ := f.backend.Foreground()
	assert.Equal(t, window.Handle(1), fg)
	assert.Equal(t, "idle", s.ArbiterState().String())
}

func TestConfigChangeIsApplied(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	s := f.scheduler(t)
	before := s.ConfigVersion()

	next := f.mgr.Get().Clone()
	next.Detection.Threshold.Initial = 0.9
	next.Detection.Threshold.Min = 0.9
	next.Detection.Threshold.Max = 0.92
	require.NoError(t, f.mgr.Update(next))

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Greater(t, res.ConfigVersion, before)
	assert.Equal(t, res.ConfigVersion, s.ConfigVersion())
	assert.LessOrEqual(t, s.Adaptive().Threshold, 0.92)
}

func TestCycleIsPersistedAndPreviewed(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	f.cfg.Debug.Preview = true
	f.capturer.img = screenWith(checker(48, 32, 8), image.Pt(200, 150))

	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	stream := preview.NewStream(preview.Config{})
	f.opts.History = db
	f.opts.Preview = stream

	s := f.scheduler(t)
	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	recent, err := db.Recent(5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.ID, recent[0].ID)
	assert.Equal(t, history.ActionTrigger, recent[0].Action)
	assert.True(t, recent[0].Found)

	data, _, err := stream.Latest()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestWindowsListing(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, true)
	s := f.scheduler(t)

	windows, err := s.Windows()
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, window.Interfering, windows[0].Kind)
	assert.Equal(t, window.Target, windows[1].Kind)
}

func TestControllerLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	c := NewController(f.scheduler(t))

	updates := c.Subscribe()
	defer c.Unsubscribe(updates)

	assert.True(t, c.Start().Changed)
	assert.False(t, c.Start().Changed)

	require.Eventually(t, func() bool { return c.Scheduler().Cycles() >= 2 }, 2*time.Second, 5*time.Millisecond)
	select {
	case st := <-updates:
		assert.True(t, st.Running)
	case <-time.After(time.Second):
		t.Fatal("no status broadcast")
	}

	assert.True(t, c.Pause().Changed)
	assert.False(t, c.Pause().Changed)
	assert.True(t, c.Status().Paused)

	assert.True(t, c.Resume().Changed)
	assert.False(t, c.Resume().Changed)

	assert.True(t, c.Stop().Changed)
	assert.False(t, c.Stop().Changed)
	st := c.Status()
	assert.False(t, st.Running)
	assert.False(t, st.LoopAlive)

	assert.True(t, c.Restart().Changed)
	assert.True(t, c.Status().Running)
	c.Stop()
}

func TestControllerPausedDoesNotCycle(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, false)
	c := NewController(f.scheduler(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, true) }()

	require.Eventually(t, func() bool { return c.Status().LoopAlive }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), c.Scheduler().Cycles())

	c.Resume()
	require.Eventually(t, func() bool { return c.Scheduler().Cycles() >= 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, c.Status().Running)
}

func TestProbeMatchesWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.addWindows(true, true)
	f.cfg.Detection.BusyTemplates = []string{f.noise, "missing.png"}
	f.capturer.img = screenWith(checker(48, 32, 8), image.Pt(200, 150))
	f.mgr = config.NewStatic(f.cfg)

	p, err := Probe(context.Background(), f.mgr, f.capturer)
	require.NoError(t, err)

	require.NotNil(t, p.Idle)
	assert.True(t, p.Idle.Accepted(p.Threshold))
	assert.Equal(t, image.Pt(224, 166), p.Idle.Center)
	assert.Len(t, p.Busy, 1)
	assert.Equal(t, []string{"missing.png"}, p.Missing)
	assert.Len(t, p.Results(), 2)
	assert.Greater(t, p.EdgeDensity, 0.0)

	annotated := p.Annotated()
	assert.Equal(t, p.Frame.Bounds(), annotated.Bounds())
	assert.NotSame(t, p.Frame, annotated)

	assert.Empty(t, f.input.Events())
	assert.Empty(t, f.backend.Calls())
}

func TestProbeCaptureError(t *testing.T) {
	f := newFixture(t)
	f.capturer.err = errors.New("no screen")
	f.mgr = config.NewStatic(f.cfg)

	_, err := Probe(context.Background(), f.mgr, f.capturer)
	assert.ErrorContains(t, err, "no screen")
}
