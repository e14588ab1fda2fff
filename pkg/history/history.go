// Package history appends executed commands to a flat, line-oriented file.
// It is a best-effort side channel: failures are logged and swallowed, never
// surfaced into the execution path.
package history

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// DefaultPath is the history file used when none is configured.
const DefaultPath = "ipython_auto_history.py"

const header = "# Automatic IPython Command History\n"

// skipPrefixes marks meta-commands that never belong in the history file.
var skipPrefixes = []string{"get_ipython", "%"}

// Sink is an append-only command log. Entries are written verbatim, one
// command per line, and never mutated afterwards.
type Sink struct {
	path string
	mu   sync.Mutex
}

// NewSink opens (or creates) the history file at path, writing the header
// comment if the file is new or empty. Initialization failures are logged
// and tolerated; a sink over an unwritable path simply drops entries.
func NewSink(path string) *Sink {
	if path == "" {
		path = DefaultPath
	}
	s := &Sink{path: path}
	s.ensureFile()
	return s
}

func (s *Sink) ensureFile() {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		slog.Warn("Could not initialize history file", "path", s.path, "error", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		slog.Warn("Could not stat history file", "path", s.path, "error", err)
		return
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(header); err != nil {
			slog.Warn("Could not write history header", "path", s.path, "error", err)
		}
	}
}

// Record appends one command. Blank input and meta-commands are skipped;
// everything else is written verbatim.
func (s *Sink) Record(command string) {
	if !Recordable(command) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Could not save command to history", "path", s.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(command + "\n"); err != nil {
		slog.Warn("Could not save command to history", "path", s.path, "error", err)
	}
}

// Recordable reports whether a command belongs in the history file.
func Recordable(command string) bool {
	if strings.TrimSpace(command) == "" {
		return false
	}
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(command, prefix) {
			return false
		}
	}
	return true
}

// Path returns the file the sink writes to.
func (s *Sink) Path() string {
	return s.path
}
