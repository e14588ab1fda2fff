// Package config loads the ipybridge configuration file and applies
// defaults for anything left unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/ipybridge/ipybridge/pkg/history"
)

// Duration wraps time.Duration so timeouts can be written as Go duration
// strings ("500ms", "10s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full server configuration.
type Config struct {
	Python   PythonConfig  `yaml:"python"`
	History  HistoryConfig `yaml:"history"`
	Store    StoreConfig   `yaml:"store"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// PythonConfig selects the interpreter that hosts the worker.
type PythonConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// HistoryConfig locates the flat command-history file.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig locates the SQLite execution log. An empty path disables the
// store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// TimeoutConfig carries the time budgets of the broker.
type TimeoutConfig struct {
	Ready        Duration `yaml:"ready"`
	Shutdown     Duration `yaml:"shutdown"`
	IOPubOverall Duration `yaml:"iopub_overall"`
	Poll         Duration `yaml:"poll"`
	PollPause    Duration `yaml:"poll_pause"`
	ShellReply   Duration `yaml:"shell_reply"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Python: PythonConfig{
			Command: "python3",
		},
		History: HistoryConfig{
			Path: history.DefaultPath,
		},
		Store: StoreConfig{
			Path: "ipybridge.db",
		},
		Timeouts: TimeoutConfig{
			Ready:        Duration(30 * time.Second),
			Shutdown:     Duration(5 * time.Second),
			IOPubOverall: Duration(10 * time.Second),
			Poll:         Duration(500 * time.Millisecond),
			PollPause:    Duration(100 * time.Millisecond),
			ShellReply:   Duration(10 * time.Second),
		},
	}
}

// Load reads the configuration at path on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would hang or never start.
func (c *Config) Validate() error {
	if c.Python.Command == "" {
		return errors.New("python.command must not be empty")
	}
	for name, d := range map[string]Duration{
		"timeouts.ready":         c.Timeouts.Ready,
		"timeouts.shutdown":      c.Timeouts.Shutdown,
		"timeouts.iopub_overall": c.Timeouts.IOPubOverall,
		"timeouts.poll":          c.Timeouts.Poll,
		"timeouts.poll_pause":    c.Timeouts.PollPause,
		"timeouts.shell_reply":   c.Timeouts.ShellReply,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
