package kernel

import "errors"

var (
	// ErrLaunchFailed means the worker process could not be spawned.
	ErrLaunchFailed = errors.New("failed to launch worker process")

	// ErrStartupTimeout means the worker process started but never
	// announced readiness within the configured window.
	ErrStartupTimeout = errors.New("timeout waiting for worker to become ready")

	// ErrChannelClosed means the worker's message streams are gone,
	// usually because the process exited.
	ErrChannelClosed = errors.New("worker channels are closed")

	// ErrSubmitFailed means an execution request could not be written
	// to the worker.
	ErrSubmitFailed = errors.New("failed to submit execution request")
)
