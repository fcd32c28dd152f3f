// Package config loads and persists user settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full configuration surface.
type Settings struct {
	RepoPath             string `mapstructure:"repo_path" json:"repo_path"`
	RemoteURL            string `mapstructure:"remote_url" json:"remote_url"`
	AutoSyncEnabled      bool   `mapstructure:"auto_sync_enabled" json:"auto_sync_enabled"`
	AutoSyncIntervalMins int    `mapstructure:"auto_sync_interval_minutes" json:"auto_sync_interval_minutes"`
	AutoPushOnChange     bool   `mapstructure:"auto_push_on_change" json:"auto_push_on_change"`
	SyncOnStartup        bool   `mapstructure:"sync_on_startup" json:"sync_on_startup"`
}

var knownKeys = map[string]bool{
	"repo_path":                  true,
	"remote_url":                 true,
	"auto_sync_enabled":          true,
	"auto_sync_interval_minutes": true,
	"auto_push_on_change":        true,
	"sync_on_startup":            true,
}

// Manager wraps a viper instance bound to one config file.
type Manager struct {
	v    *viper.Viper
	path string
}

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tasksmith"), nil
}

// Load reads config.yaml from dir, falling back to defaults for any
// missing key. A missing file is not an error; Save materializes it.
func Load(dir string) (*Manager, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDir()
		if err != nil {
			return nil, err
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("TASKSMITH")
	v.AutomaticEnv()

	v.SetDefault("repo_path", filepath.Join(home, ".tasksmith", "repo"))
	v.SetDefault("remote_url", "")
	v.SetDefault("auto_sync_enabled", true)
	v.SetDefault("auto_sync_interval_minutes", 120)
	v.SetDefault("auto_push_on_change", true)
	v.SetDefault("sync_on_startup", true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return &Manager{v: v, path: filepath.Join(dir, "config.yaml")}, nil
}

// Path returns the file Save writes to.
func (m *Manager) Path() string {
	return m.path
}

// Settings decodes the current state into a Settings value.
func (m *Manager) Settings() (Settings, error) {
	var s Settings
	if err := m.v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return s, nil
}

// Get returns the value for a known key.
func (m *Manager) Get(key string) (any, error) {
	if !knownKeys[key] {
		return nil, fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	return m.v.Get(key), nil
}

// Set updates a known key in memory. Call Save to persist.
func (m *Manager) Set(key string, value any) error {
	if !knownKeys[key] {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	m.v.Set(key, value)
	return nil
}

// Save writes the current state back to the config file, creating the
// directory on first use.
func (m *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := m.v.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// IsConfigured reports whether a remote has been set up.
func (m *Manager) IsConfigured() bool {
	return m.v.GetString("remote_url") != ""
}

// Interval returns the auto-sync interval as a duration, never below
// one minute.
func (m *Manager) Interval() time.Duration {
	mins := m.v.GetInt("auto_sync_interval_minutes")
	if mins < 1 {
		mins = 1
	}
	return time.Duration(mins) * time.Minute
}

// Keys lists the known config keys in stable order.
func Keys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
