package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/Nudger/internal/logger"
	"gopkg.in/yaml.v3"
)

// Manager owns the active configuration snapshot. Readers call Get and
// receive an immutable *Config; writers install a complete new snapshot,
// never a partial one.
type Manager struct {
	configPath string
	current    atomic.Pointer[Config]
	version    atomic.Uint64

	mu        sync.Mutex
	modTime   time.Time
	listeners []chan *Config
}

// DefaultPath returns ~/.config/nudger/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "nudger", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when configFile is empty.
// A missing file is created with defaults. A file that does not parse or
// validate is an error.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{configPath: path}
	log := logger.WithComponent("config")

	cfg, modTime, err := m.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", path).Msg("Config file not found, creating new config")
		m.install(Defaults())
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		m.modTime = modTime
		m.install(cfg)
	}

	log.Info().
		Str("path", path).
		Uint64("version", m.Get().Version).
		Msg("Config loaded")
	return m, nil
}

// NewStatic returns a Manager that serves cfg and has no backing file.
// Save and Reload are no-ops. It is used by tests and one-shot commands.
func NewStatic(cfg *Config) *Manager {
	m := &Manager{}
	m.install(cfg.Clone())
	return m
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) read() (*Config, time.Time, error) {
	info, err := os.Stat(m.configPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	return cfg, info.ModTime(), nil
}

// install assigns the next version to cfg and publishes it.
func (m *Manager) install(cfg *Config) {
	cfg.normalize()
	cfg.Version = m.version.Add(1)
	m.current.Store(cfg)

	for _, ch := range m.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Get returns the active snapshot. The returned value must not be modified.
func (m *Manager) Get() *Config {
	if cfg := m.current.Load(); cfg != nil {
		return cfg
	}
	return Defaults()
}

// Subscribe returns a channel that receives each newly installed snapshot.
// Slow receivers miss intermediate snapshots.
func (m *Manager) Subscribe() <-chan *Config {
	ch := make(chan *Config, 1)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

// Reload re-reads the backing file. On any parse or validation failure the
// active snapshot is kept and the error is returned.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reloadLocked()
}

func (m *Manager) reloadLocked() (*Config, error) {
	if m.configPath == "" {
		return m.Get(), nil
	}

	log := logger.WithComponent("config")
	cfg, modTime, err := m.read()
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			for _, p := range verr.Problems {
				log.Warn().Str("problem", p).Msg("Config rejected")
			}
		} else {
			log.Warn().Err(err).Msg("Config reload failed, keeping previous config")
		}
		return m.Get(), err
	}

	m.modTime = modTime
	m.install(cfg)
	log.Info().
		Str("path", m.configPath).
		Uint64("version", cfg.Version).
		Msg("Config reloaded")
	return cfg, nil
}

// ReloadIfModified reloads only when the file's modification time has
// advanced since the last successful load. It reports whether a new snapshot
// was installed.
func (m *Manager) ReloadIfModified() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configPath == "" {
		return false, nil
	}
	info, err := os.Stat(m.configPath)
	if err != nil {
		return false, err
	}
	if !info.ModTime().After(m.modTime) {
		return false, nil
	}
	// Remember the attempt so an invalid file is not re-parsed every poll.
	m.modTime = info.ModTime()
	if _, err := m.reloadLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// Update validates cfg, installs it and writes it to disk.
func (m *Manager) Update(cfg *Config) error {
	next := cfg.Clone()
	next.normalize()
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.install(next)
	m.mu.Unlock()
	return m.Save()
}

// Override installs an edited copy of the active snapshot without writing
// it to disk. Command-line flags use it; a later reload of the file drops
// the overrides.
func (m *Manager) Override(edit func(*Config)) error {
	next := m.Get().Clone()
	edit(next)
	next.normalize()
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.install(next)
	m.mu.Unlock()
	return nil
}

// Save writes the active snapshot to disk.
func (m *Manager) Save() error {
	if m.configPath == "" {
		return nil
	}
	log := logger.WithComponent("config")
	cfg := m.Get()

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		log.Error().Err(err).Str("config_dir", filepath.Dir(m.configPath)).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	if info, err := os.Stat(m.configPath); err == nil {
		m.mu.Lock()
		m.modTime = info.ModTime()
		m.mu.Unlock()
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// ResolvePath interprets a relative path against the config directory.
// Absolute paths and managers without a file are returned unchanged.
func (m *Manager) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || m.configPath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(m.configPath), p)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
