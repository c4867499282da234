package arbiter

import (
	"context"
	"errors"
	"testing"

	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/input/inputtest"
	"github.com/bryanchriswhite/Nudger/internal/window"
	"github.com/bryanchriswhite/Nudger/internal/window/windowtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var browserPlacement = window.Placement{
	State: window.ShowNormal,
	Rect:  window.Rect{X: 40, Y: 30, Width: 800, Height: 600},
}

func newArbiter(t *testing.T, b *windowtest.Backend, rec *inputtest.Recorder, maxAttempts int) *Arbiter {
	t.Helper()
	c, err := window.NewClassifier(config.WindowRules{
		TargetKeywords:      []string{"Trae"},
		TitleSeparators:     []string{" - "},
		ExcludeKeywords:     []string{"Chrome"},
		InterferingKeywords: []string{"Chrome"},
	})
	require.NoError(t, err)
	return New(b, rec, c, config.ArbitrationConfig{MaxAttempts: maxAttempts})
}

func addBrowser(b *windowtest.Backend) {
	b.Add(windowtest.Window{Handle: 1, Title: "Docs - Google Chrome", Placement: browserPlacement}, true)
}

func addTarget(b *windowtest.Backend, state window.ShowState) {
	b.Add(windowtest.Window{
		Handle: 2,
		Title:  "main.go - agent - Trae",
		Placement: window.Placement{
			State: state,
			Rect:  window.Rect{X: 0, Y: 0, Width: 1200, Height: 900},
		},
	}, false)
}

func TestDecide(t *testing.T) {
	start := startActivation(2)

	tests := []struct {
		name     string
		in       activation
		verified bool
		want     activation
	}{
		{"verified", start, true, activation{TargetActive, 1, 2, StepRestoreAndForeground}},
		{"next step", start, false, activation{TargetActivating, 1, 2, StepTopmostKick}},
		{"click after kick", activation{TargetActivating, 1, 2, StepTopmostKick}, false, activation{TargetActivating, 1, 2, StepClickCenter}},
		{"next attempt", activation{TargetActivating, 1, 2, StepClickCenter}, false, activation{TargetActivating, 2, 2, StepRestoreAndForeground}},
		{"exhausted", activation{TargetActivating, 2, 2, StepClickCenter}, false, activation{ActivationFailed, 2, 2, StepClickCenter}},
		{"terminal is sticky", activation{ActivationFailed, 2, 2, StepClickCenter}, true, activation{ActivationFailed, 2, 2, StepClickCenter}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.in, tt.verified))
		})
	}

	assert.Equal(t, 1, startActivation(0).maxAttempts)
}

func TestSecureWithoutTarget(t *testing.T) {
	b := windowtest.New()
	addBrowser(b)
	rec := inputtest.New()
	a := newArbiter(t, b, rec, 3)

	out, err := a.Secure(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActivationFailed))
	assert.True(t, errors.Is(err, window.ErrWindowNotFound))
	assert.Equal(t, ActivationFailed, out.State)
	assert.Nil(t, out.Target)
	assert.Empty(t, rec.Events())

	for _, call := range b.Calls() {
		assert.NotContains(t, call, "SetForeground")
	}
}

func TestSecureAndRestoreInterferingWindow(t *testing.T) {
	b := windowtest.New()
	addBrowser(b)
	addTarget(b, window.ShowMinimized)
	rec := inputtest.New()
	a := newArbiter(t, b, rec, 3)

	out, err := a.Secure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TargetActive, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, StepRestoreAndForeground, out.Step)
	require.Len(t, out.Saved, 1)
	assert.Equal(t, window.Handle(1), out.Saved[0].Handle)

	fg, _ := b.Foreground()
	assert.Equal(t, window.Handle(2), fg)
	target, _ := b.Window(2)
	assert.Equal(t, window.ShowMaximized, target.Placement.State)
	assert.Equal(t, window.Handle(1), b.Stacking()[0])
	assert.Contains(t, b.Calls(), "SendToBack(1)")
	assert.Empty(t, rec.Events())

	errs := a.Restore(context.Background())
	assert.Empty(t, errs)
	assert.Equal(t, Idle, a.State())

	fg, _ = b.Foreground()
	assert.Equal(t, window.Handle(1), fg)
	browser, _ := b.Window(1)
	assert.Equal(t, browserPlacement, browser.Placement)
}

func TestRestoreIsIdempotent(t *testing.T) {
	b := windowtest.New()
	addBrowser(b)
	addTarget(b, window.ShowNormal)
	a := newArbiter(t, b, inputtest.New(), 3)

	_, err := a.Secure(context.Background())
	require.NoError(t, err)
	require.Empty(t, a.Restore(context.Background()))

	first, _ := b.Window(1)
	calls := len(b.Calls())

	assert.Empty(t, a.Restore(context.Background()))
	second, _ := b.Window(1)
	assert.Equal(t, first.Placement, second.Placement)
	assert.Len(t, b.Calls(), calls)
}

func TestTopmostKickBreaksResistance(t *testing.T) {
	b := windowtest.New()
	addTarget(b, window.ShowNormal)
	b.Resistance = 2
	b.KickBreaksResistance = true
	rec := inputtest.New()
	a := newArbiter(t, b, rec, 3)

	out, err := a.Secure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepTopmostKick, out.Step)
	assert.Contains(t, b.Calls(), "SetTopmost(2,true)")
	assert.Contains(t, b.Calls(), "SetTopmost(2,false)")
	assert.Empty(t, rec.Events())
}

func TestClickCenterRestoresPointer(t *testing.T) {
	b := windowtest.New()
	addTarget(b, window.ShowNormal)
	b.Resistance = 2
	rec := inputtest.New()
	a := newArbiter(t, b, rec, 3)

	out, err := a.Secure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepClickCenter, out.Step)
	assert.Equal(t, []string{"click(600,450)", "move(0,0)"}, rec.Events())
}

func TestActivationGivesUpAfterMaxAttempts(t *testing.T) {
	b := windowtest.New()
	addTarget(b, window.ShowNormal)
	b.Resistance = 100
	a := newArbiter(t, b, inputtest.New(), 2)

	out, err := a.Secure(context.Background())
	require.ErrorIs(t, err, ErrActivationFailed)
	assert.Equal(t, ActivationFailed, out.State)
	assert.Equal(t, 2, out.Attempts)

	var focusCalls int
	for _, call := range b.Calls() {
		if call == "SetForeground(2)" {
			focusCalls++
		}
	}
	assert.Equal(t, 6, focusCalls)
}

func TestSecureHonoursCancellation(t *testing.T) {
	b := windowtest.New()
	addTarget(b, window.ShowNormal)
	a := newArbiter(t, b, inputtest.New(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Secure(ctx)
	assert.ErrorIs(t, err, ErrActivationFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRestoreMinimizesTargetAndSkipsVanishedWindows(t *testing.T) {
	b := windowtest.New()
	addBrowser(b)
	addTarget(b, window.ShowNormal)
	a := newArbiter(t, b, inputtest.New(), 3)
	a.SetRestorePolicy(RestorePolicy{MinimizeTarget: true, Refocus: true})

	_, err := a.Secure(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Saved(), 1)

	b.Remove(1)
	assert.Empty(t, a.Restore(context.Background()))

	target, _ := b.Window(2)
	assert.Equal(t, window.ShowMinimized, target.Placement.State)
	assert.Empty(t, a.Saved())
}

func TestRestoreWithoutRefocusKeepsTargetInFront(t *testing.T) {
	b := windowtest.New()
	addBrowser(b)
	addTarget(b, window.ShowNormal)
	a := newArbiter(t, b, inputtest.New(), 3)
	a.SetRestorePolicy(RestorePolicy{})

	_, err := a.Secure(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Saved(), 1)
	calls := len(b.Calls())

	assert.Empty(t, a.Restore(context.Background()))
	assert.Equal(t, Idle, a.State())
	assert.Empty(t, a.Saved())

	fg, _ := b.Foreground()
	assert.Equal(t, window.Handle(2), fg)
	target, _ := b.Window(2)
	assert.NotEqual(t, window.ShowMinimized, target.Placement.State)
	restoreCalls := b.Calls()[calls:]
	assert.Contains(t, restoreCalls, "SetPlacement(1,"+browserPlacement.State.String()+")")
	assert.NotContains(t, restoreCalls, "SetForeground(1)")
	browser, _ := b.Window(1)
	assert.Equal(t, browserPlacement, browser.Placement)
}

func TestSecureDropsUnrestoredState(t *testing.T) {
	b := windowtest.New()
	addBrowser(b)
	addTarget(b, window.ShowNormal)
	a := newArbiter(t, b, inputtest.New(), 3)

	_, err := a.Secure(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Saved(), 1)

	// The browser is no longer in front, so nothing is saved the second time.
	out, err := a.Secure(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Saved)
	assert.Empty(t, a.Saved())
}

func TestRestoreContextSurvivesCancellation(t *testing.T) {
	a := newArbiter(t, windowtest.New(), inputtest.New(), 3)
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	ctx, done := a.RestoreContext(parent)
	defer done()
	assert.NoError(t, ctx.Err())
	_, ok := ctx.Deadline()
	assert.True(t, ok)
}
