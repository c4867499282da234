package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateItemizesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Monitor.Interval = 0
	cfg.Detection.Threshold.Min = 0.9
	cfg.Detection.Threshold.Max = 0.8
	cfg.Windows.TargetPatterns = []string{"("}
	cfg.Detection.CaptureValidity = 2 * time.Second

	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Problems), 4)
	assert.Contains(t, err.Error(), "monitor.interval")
	assert.Contains(t, err.Error(), "capture_validity")
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
monitor:
  interval: 20s
  trigger_text: keep going
windows:
  target_keywords: [Cursor]
`))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "keep going", cfg.Monitor.TriggerText)
	assert.Equal(t, []string{"Cursor"}, cfg.Windows.TargetKeywords)
	// untouched sections keep their defaults
	assert.Equal(t, 0.95, cfg.Detection.Threshold.Initial)
	assert.Equal(t, Point{X: 1670, Y: 844}, cfg.Monitor.InputTarget)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("monitr:\n  interval: 1s\n"))
	require.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Monitor.Interval, cfg.Monitor.Interval)
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	m, err := NewManager(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, uint64(1), m.Get().Version)

	reopened, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, m.Get().Monitor, reopened.Get().Monitor)
}

func TestReloadKeepsPriorSnapshotOnInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	before := m.Get()

	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  interval: -5s\n"), 0644))
	got, err := m.Reload()
	require.Error(t, err)

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Same(t, before, got)
	assert.Same(t, before, m.Get())
}

func TestReloadInstallsNewVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	sub := m.Subscribe()
	v1 := m.Get().Version

	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  interval: 30s\n  max_interval: 90s\n"), 0644))
	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Greater(t, cfg.Version, v1)
	assert.Equal(t, 30*time.Second, m.Get().Monitor.Interval)

	select {
	case got := <-sub:
		assert.Same(t, cfg, got)
	default:
		t.Fatal("subscriber was not notified")
	}
}

func TestReloadIfModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	changed, err := m.ReloadIfModified()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  trigger_text: hi\n"), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	changed, err = m.ReloadIfModified()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "hi", m.Get().Monitor.TriggerText)
}

func TestUpdateRejectsInvalidAndKeepsSnapshot(t *testing.T) {
	m := NewStatic(Defaults())
	before := m.Get()

	bad := before.Clone()
	bad.Arbitration.MaxAttempts = 0
	require.Error(t, m.Update(bad))
	assert.Same(t, before, m.Get())

	good := before.Clone()
	good.Arbitration.MaxAttempts = 5
	require.NoError(t, m.Update(good))
	assert.Equal(t, 5, m.Get().Arbitration.MaxAttempts)
	assert.Equal(t, 3, before.Arbitration.MaxAttempts, "old snapshot must not change")
}

func TestPatterns(t *testing.T) {
	m := NewStatic(Defaults())

	require.NoError(t, m.AddPattern(PatternInterfering, "Safari"))
	require.NoError(t, m.AddPattern(PatternInterfering, "Safari"))
	assert.Equal(t, 1, countOf(m.Patterns(PatternInterfering), "Safari"))

	require.NoError(t, m.RemovePattern(PatternInterfering, "Safari"))
	assert.Zero(t, countOf(m.Patterns(PatternInterfering), "Safari"))
	assert.Error(t, m.RemovePattern(PatternInterfering, "Safari"))

	assert.Error(t, m.AddPattern(PatternRegex, "(unclosed"), "invalid regex must fail validation")

	_, err := ParsePatternKind("bogus")
	assert.Error(t, err)
	kind, err := ParsePatternKind("EXCLUDE")
	require.NoError(t, err)
	assert.Equal(t, PatternExclude, kind)
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "templates", "dd.png"), m.ResolvePath("templates/dd.png"))
	assert.Equal(t, "/abs/dd.png", m.ResolvePath("/abs/dd.png"))
	assert.Equal(t, "templates/dd.png", NewStatic(Defaults()).ResolvePath("templates/dd.png"))
}

func TestGetAndSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	v, err := m.GetKey("server.port")
	require.NoError(t, err)
	assert.EqualValues(t, 5000, v)

	v, err = m.GetKey("monitor.interval")
	require.NoError(t, err)
	assert.Equal(t, "15s", v)

	_, err = m.GetKey("server.nope")
	assert.Error(t, err)

	require.NoError(t, m.SetKey("server.port", "9090"))
	require.NoError(t, m.SetKey("monitor.interval", "30s"))
	require.NoError(t, m.SetKey("monitor.trigger_text", "keep going"))
	require.NoError(t, m.SetKey("windows.target_keywords", "[Trae, Cursor]"))
	assert.Equal(t, 9090, m.Get().Server.Port)
	assert.Equal(t, 30*time.Second, m.Get().Monitor.Interval)
	assert.Equal(t, "keep going", m.Get().Monitor.TriggerText)
	assert.Equal(t, []string{"Trae", "Cursor"}, m.Get().Windows.TargetKeywords)

	version := m.Get().Version
	err = m.SetKey("monitor.idle_cycles", "0")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, version, m.Get().Version)

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, reloaded.Get().Server.Port)

	keys, err := m.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "detection.threshold.initial")
}

func TestOverrideDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	require.NoError(t, m.Override(func(c *Config) { c.Server.Port = 7070 }))
	assert.Equal(t, 7070, m.Get().Server.Port)

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, reloaded.Get().Server.Port)

	err = m.Override(func(c *Config) { c.Server.Port = -1 })
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 7070, m.Get().Server.Port)
}
