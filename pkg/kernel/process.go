package kernel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// DefaultReadyTimeout bounds how long Start waits for the worker's
	// readiness announcement.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultShutdownTimeout bounds how long a graceful Shutdown waits
	// before escalating to SIGKILL.
	DefaultShutdownTimeout = 5 * time.Second
)

// Manager owns the lifecycle of one worker process: spawn, readiness,
// liveness, and teardown. At most one worker is live per manager.
//
// Manager is safe for concurrent use; the session broker additionally
// serializes executions so the worker only ever sees one in-flight request.
type Manager struct {
	python          string
	args            []string
	readyTimeout    time.Duration
	shutdownTimeout time.Duration

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	client     *Client
	scriptPath string
	waitDone   chan struct{}
}

// NewManager returns a manager that will run the embedded worker program
// under the given Python interpreter. Zero timeouts fall back to defaults.
func NewManager(python string, args []string, readyTimeout, shutdownTimeout time.Duration) *Manager {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Manager{
		python:          python,
		args:            args,
		readyTimeout:    readyTimeout,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start launches the worker process and blocks until it announces readiness.
// If the worker never becomes ready the process is torn down before the
// error is returned. Calling Start on a live manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aliveLocked() {
		slog.Debug("Worker already running")
		return nil
	}
	if m.cmd != nil {
		// Stale handles from a crashed worker; release the stdin pipe and
		// temp script before spawning the replacement.
		m.shutdownLocked(false)
	}

	script, err := os.CreateTemp("", "ipybridge-worker-*.py")
	if err != nil {
		return fmt.Errorf("%w: writing worker program: %v", ErrLaunchFailed, err)
	}
	if _, err := script.WriteString(workerSource); err != nil {
		script.Close()
		os.Remove(script.Name())
		return fmt.Errorf("%w: writing worker program: %v", ErrLaunchFailed, err)
	}
	script.Close()

	args := append(append([]string{}, m.args...), script.Name())
	cmd := exec.Command(m.python, args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	slog.Info("Starting worker", "python", m.python)
	if err := cmd.Start(); err != nil {
		os.Remove(script.Name())
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		if err := cmd.Wait(); err != nil {
			slog.Debug("Worker process exited", "error", err)
		}
	}()
	go logWorkerStderr(stderr)

	m.cmd = cmd
	m.stdin = stdin
	m.client = NewClient(stdin, stdout)
	m.scriptPath = script.Name()
	m.waitDone = waitDone

	readyTimeout := m.readyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < readyTimeout {
			readyTimeout = until
		}
	}
	if err := m.client.WaitReady(readyTimeout); err != nil {
		slog.Error("Worker did not become ready, tearing down", "error", err)
		m.shutdownLocked(false)
		return err
	}

	slog.Info("Worker ready", "pid", cmd.Process.Pid)
	return nil
}

// IsAlive is a non-blocking liveness probe: true only while the process runs
// and its streams are intact.
func (m *Manager) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliveLocked()
}

func (m *Manager) aliveLocked() bool {
	if m.cmd == nil || m.client == nil {
		return false
	}
	select {
	case <-m.waitDone:
		return false
	default:
	}
	return !m.client.Closed()
}

// Transport returns the message transport for the current worker, or nil if
// no worker has been started.
func (m *Manager) Transport() *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Shutdown tears the worker down. When graceful, the worker is asked to exit
// and given the shutdown timeout before escalation to a kill. Shutdown is
// idempotent: repeated calls after teardown are no-ops.
func (m *Manager) Shutdown(graceful bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownLocked(graceful)
}

func (m *Manager) shutdownLocked(graceful bool) error {
	if m.cmd == nil {
		return nil
	}

	if graceful && m.aliveLocked() {
		slog.Info("Shutting down worker", "pid", m.cmd.Process.Pid)
		if err := m.client.SendShutdown(); err != nil {
			slog.Debug("Shutdown request not delivered", "error", err)
		}
		select {
		case <-m.waitDone:
		case <-time.After(m.shutdownTimeout):
			slog.Warn("Timeout waiting for worker to exit, killing process")
		}
	}

	select {
	case <-m.waitDone:
	default:
		if err := m.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Warn("Failed to kill worker process", "error", err)
		}
		<-m.waitDone
	}

	m.client.Stop()
	m.stdin.Close()
	if m.scriptPath != "" {
		os.Remove(m.scriptPath)
	}

	m.cmd = nil
	m.stdin = nil
	m.client = nil
	m.scriptPath = ""
	return nil
}

func logWorkerStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("worker stderr", "line", scanner.Text())
	}
}
