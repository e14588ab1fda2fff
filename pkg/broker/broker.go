// Package broker serializes executions against one shared interactive Python
// worker and turns the worker's asynchronous message streams into ordered
// textual transcripts.
package broker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// State is the broker's view of the worker session.
type State int

const (
	StateNotRunning State = iota
	StateStarting
	StateReady
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not-running"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// resetDirective is the worker-recognized directive that clears the session
// environment.
const resetDirective = "%reset -f"

// Broker owns the worker handle and serializes all callers against it: at
// most one execution is in flight at a time. A worker found dead before
// submission gets exactly one restart attempt; the caller is then asked to
// retry rather than having the stale request replayed against a fresh
// environment.
type Broker struct {
	worker   Worker
	timeouts Timeouts

	mu    sync.Mutex
	state State
}

// New returns a broker over the given worker. The worker is not started;
// call Start or let the first Execute trigger a restart.
func New(worker Worker, timeouts Timeouts) *Broker {
	return &Broker{worker: worker, timeouts: timeouts}
}

// Start brings the worker up ahead of the first execution.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateStarting
	if err := b.worker.Start(ctx); err != nil {
		b.state = StateNotRunning
		return err
	}
	b.state = StateReady
	return nil
}

// Shutdown gracefully tears the worker down.
func (b *Broker) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.worker.Shutdown(true)
	b.state = StateNotRunning
	return err
}

// State reports the current session state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs one code string against the shared worker and returns the
// rendered transcript. All failure modes (dead worker, closed channels,
// timeouts, faults in the submitted code) come back as transcript text with
// a distinguishing status token, never as an error.
func (b *Broker) Execute(ctx context.Context, code string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executeLocked(ctx, code)
}

func (b *Broker) executeLocked(ctx context.Context, code string) string {
	if !b.worker.IsAlive() {
		slog.Error("Worker is not running")
		b.state = StateStarting
		if err := b.worker.Start(ctx); err != nil {
			slog.Error("Failed to restart worker", "error", err)
			b.state = StateNotRunning
			return Transcript{
				Status: StatusWorkerUnavailable,
				Lines:  []string{"Worker not available and failed to restart: " + err.Error()},
			}.Render()
		}
		slog.Info("Worker restarted")
		b.state = StateReady
		return Transcript{
			Status: StatusWorkerRestarted,
			Lines:  []string{"Worker was not running. It has been restarted. Please try your command again."},
		}.Render()
	}

	transport := b.worker.Transport()
	if transport == nil {
		b.state = StateNotRunning
		return Transcript{
			Status: StatusWorkerUnavailable,
			Lines:  []string{"Worker transport is not connected."},
		}.Render()
	}
	if !transport.Running() {
		slog.Warn("Worker channels were not running, reopening")
		if err := transport.Reopen(); err != nil {
			slog.Error("Failed to reopen worker channels", "error", err)
			b.state = StateNotRunning
			return Transcript{
				Status: StatusChannelClosed,
				Lines:  []string{"Failed to ensure worker channel readiness: " + err.Error()},
			}.Render()
		}
	}

	b.state = StateBusy
	transcript := NewCollector(transport, b.timeouts).Collect(ctx, code)

	if b.worker.IsAlive() {
		b.state = StateReady
	} else {
		slog.Warn("Worker died during execution")
		b.state = StateNotRunning
	}
	return transcript.Render()
}

// Reset clears the worker's session environment by executing the reset
// directive through the normal execution path, and reduces the resulting
// transcript to a success/failure summary.
func (b *Broker) Reset(ctx context.Context) string {
	slog.Info("Resetting worker environment")
	out := b.Execute(ctx, resetDirective)

	if strings.Contains(out, "Status: "+StatusOK) && !strings.Contains(strings.ToLower(out), "error") {
		return "Worker environment cleared successfully.\nDetails:\n" + out
	}
	return "Worker environment clear finished with potential issues.\nDetails:\n" + out
}
