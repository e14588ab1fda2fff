package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "python3", cfg.Python.Command)
	assert.Empty(t, cfg.Python.Args)
	assert.Equal(t, "ipython_auto_history.py", cfg.History.Path)
	assert.Equal(t, "ipybridge.db", cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Ready.Std())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Shutdown.Std())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.IOPubOverall.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Timeouts.Poll.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Timeouts.PollPause.Std())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ShellReply.Std())

	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
python:
  command: /usr/bin/python3.12
  args: ["-u"]
history:
  path: /tmp/history.py
store:
  path: ""
timeouts:
  shell_reply: 30s
  poll: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/python3.12", cfg.Python.Command)
	assert.Equal(t, []string{"-u"}, cfg.Python.Args)
	assert.Equal(t, "/tmp/history.py", cfg.History.Path)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ShellReply.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.Poll.Std())

	// Untouched values keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Timeouts.IOPubOverall.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
timeouts:
  poll: "not a duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "python: [unbalanced")

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty interpreter",
			mutate:  func(c *Config) { c.Python.Command = "" },
			wantErr: "python.command",
		},
		{
			name:    "zero poll timeout",
			mutate:  func(c *Config) { c.Timeouts.Poll = 0 },
			wantErr: "timeouts.poll",
		},
		{
			name:    "negative shell reply timeout",
			mutate:  func(c *Config) { c.Timeouts.ShellReply = Duration(-time.Second) },
			wantErr: "timeouts.shell_reply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(1500 * time.Millisecond)

	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", out)
}
