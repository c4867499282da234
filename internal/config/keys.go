package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// settings loads the active snapshot into a viper instance so values can
// be addressed by dotted key, e.g. "monitor.interval".
func (m *Manager) settings() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config keys: %w", err)
	}
	return v, nil
}

// Keys returns every dotted leaf key, sorted.
func (m *Manager) Keys() ([]string, error) {
	v, err := m.settings()
	if err != nil {
		return nil, err
	}
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys, nil
}

// GetKey returns the value stored at a dotted key.
func (m *Manager) GetKey(key string) (any, error) {
	v, err := m.settings()
	if err != nil {
		return nil, err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return nil, fmt.Errorf("configuration key not found: %s", key)
	}
	return v.Get(key), nil
}

// SetKey parses raw as a YAML scalar or list, stores it at a dotted key and
// installs the result. The whole config is validated before anything is
// applied or saved.
func (m *Manager) SetKey(key, raw string) error {
	v, err := m.settings()
	if err != nil {
		return err
	}
	key = strings.ToLower(key)
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	v.Set(key, value)

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	next, err := Parse(data)
	if err != nil {
		return err
	}
	return m.Update(next)
}
