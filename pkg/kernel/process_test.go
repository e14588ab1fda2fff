package kernel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readyLine = `{"channel":"control","type":"ready"}`

// fakeInterpreter builds a Manager whose "python" is a shell one-liner. The
// worker script path the manager appends lands in $0 and is ignored.
func fakeInterpreter(script string, readyTimeout, shutdownTimeout time.Duration) *Manager {
	return NewManager("sh", []string{"-c", script}, readyTimeout, shutdownTimeout)
}

func TestManagerStartAndShutdown(t *testing.T) {
	m := fakeInterpreter("echo '"+readyLine+"'; cat >/dev/null", 5*time.Second, time.Second)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsAlive())
	require.NotNil(t, m.Transport())

	// Start on a live manager is a no-op.
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Shutdown(false))
	assert.False(t, m.IsAlive())
	assert.Nil(t, m.Transport())

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown(false))
}

func TestManagerGracefulShutdownEscalates(t *testing.T) {
	// This worker never exits on its own; graceful shutdown must fall back
	// to killing it after the shutdown timeout.
	m := fakeInterpreter("echo '"+readyLine+"'; cat >/dev/null; sleep 60", 5*time.Second, 100*time.Millisecond)

	require.NoError(t, m.Start(context.Background()))

	start := time.Now()
	require.NoError(t, m.Shutdown(true))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, m.IsAlive())
}

func TestManagerLaunchFailure(t *testing.T) {
	m := NewManager("/nonexistent/interpreter", nil, time.Second, time.Second)

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrLaunchFailed)
	assert.False(t, m.IsAlive())
}

func TestManagerStartupTimeout(t *testing.T) {
	// Never announces readiness.
	m := fakeInterpreter("sleep 60", 150*time.Millisecond, 100*time.Millisecond)

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrStartupTimeout)
	assert.False(t, m.IsAlive(), "worker must be torn down after a startup timeout")
}

func TestManagerStartHonorsContextDeadline(t *testing.T) {
	m := fakeInterpreter("sleep 60", time.Minute, 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.Start(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestManagerRestartReleasesCrashedWorkerResources(t *testing.T) {
	// First run announces readiness and exits, like a crashing worker; the
	// marker file makes the second run stay alive.
	marker := filepath.Join(t.TempDir(), "crashed-once")
	m := fakeInterpreter(
		fmt.Sprintf("echo '%s'; if [ -e %s ]; then cat >/dev/null; else touch %s; fi",
			readyLine, marker, marker),
		5*time.Second, time.Second)

	require.NoError(t, m.Start(context.Background()))
	m.mu.Lock()
	oldScript := m.scriptPath
	m.mu.Unlock()
	require.NotEmpty(t, oldScript)

	require.Eventually(t, func() bool { return !m.IsAlive() }, 5*time.Second, 10*time.Millisecond)

	// Restarting over the crashed worker must clean up its leftovers.
	require.NoError(t, m.Start(context.Background()))
	defer m.Shutdown(false)
	assert.True(t, m.IsAlive())

	_, err := os.Stat(oldScript)
	require.ErrorIs(t, err, os.ErrNotExist, "crashed worker's temp script must be removed on restart")

	m.mu.Lock()
	newScript := m.scriptPath
	m.mu.Unlock()
	assert.NotEqual(t, oldScript, newScript)
}

func TestManagerDetectsDeadWorker(t *testing.T) {
	m := fakeInterpreter("echo '"+readyLine+"'", 5*time.Second, time.Second)

	require.NoError(t, m.Start(context.Background()))

	// The fake exits right after announcing readiness.
	require.Eventually(t, func() bool { return !m.IsAlive() }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Shutdown(true))
}
