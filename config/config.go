// Package config provides configuration management for VPN State.
// It handles loading, saving, and validating application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-state/common"
	"github.com/yllada/vpn-state/vpn"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`

	Retry    RetryConfig    `yaml:"retry"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	History  HistoryConfig  `yaml:"history"`
	EventLog EventLogConfig `yaml:"event_log"`
	DBus     DBusConfig     `yaml:"dbus"`

	path string
}

// RetryConfig tunes the automatic reconnect.
type RetryConfig struct {
	// MaxTimeout caps the reconnect countdown.
	MaxTimeout time.Duration `yaml:"max_timeout"`
	// BaseTimeouts overrides the base timeout per error kind, keyed by
	// names such as "unreachable" or "auth_failed". Zero disables the
	// automatic reconnect for that kind.
	BaseTimeouts map[string]time.Duration `yaml:"base_timeouts,omitempty"`
}

// DaemonConfig describes the command that negotiates the tunnel.
// Args may contain the placeholders {gateway}, {username}, {remote_id},
// {certificate} and {name}.
type DaemonConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// HistoryConfig controls the transition history database.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path defaults to the data directory.
	Path string `yaml:"path,omitempty"`
}

// EventLogConfig controls the binary event trace.
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// DBusConfig controls the session bus integration.
type DBusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		ShowNotifications: true,
		Retry: RetryConfig{
			MaxTimeout: common.MaxRetryTimeout,
		},
		Daemon: DaemonConfig{
			Command: "charon-cmd",
			Args:    []string{"--host", "{gateway}", "--identity", "{username}"},
		},
		History:  HistoryConfig{Enabled: true},
		EventLog: EventLogConfig{Enabled: false},
		DBus:     DBusConfig{Enabled: true},
	}
}

// DefaultPath returns the location of the configuration file.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from the default location.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from path, writing the defaults there if
// the file does not exist yet.
func LoadFrom(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, path, err)
	}
	config.path = path

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	return config, nil
}

// validate verifies that configuration values are valid
func (c *Config) validate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info" // Fallback to default
	}
	if _, err := common.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Retry.MaxTimeout <= 0 {
		c.Retry.MaxTimeout = common.MaxRetryTimeout
	}
	if _, err := c.Retry.Table(); err != nil {
		return err
	}
	if c.Daemon.Command == "" {
		return fmt.Errorf("daemon.command is required")
	}
	return nil
}

// Table builds the retry table: the defaults with the configured overrides
// applied.
func (r RetryConfig) Table() (vpn.RetryTable, error) {
	table := vpn.DefaultRetryTable()
	for name, timeout := range r.BaseTimeouts {
		kind, err := vpn.ParseErrorState(name)
		if err != nil {
			return nil, fmt.Errorf("retry.base_timeouts: %w", err)
		}
		if kind == vpn.ErrorNone {
			return nil, fmt.Errorf("retry.base_timeouts: %q is not an error", name)
		}
		if timeout < 0 {
			return nil, fmt.Errorf("retry.base_timeouts: %s must not be negative", name)
		}
		table[kind] = timeout
	}
	return table, nil
}

// Level returns the configured log level.
func (c *Config) Level() common.LogLevel {
	level, err := common.ParseLogLevel(c.LogLevel)
	if err != nil {
		return common.LevelInfo
	}
	return level
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save saves the configuration to the file it was loaded from, or to the
// default location.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
		}
		c.path = path
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: serializing: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}
	return nil
}
