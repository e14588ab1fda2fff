package broker

import (
	"context"
	"time"

	"github.com/ipybridge/ipybridge/pkg/kernel"
)

// Transport is the view of the worker's message streams the broker needs:
// non-blocking submission plus bounded-timeout polling of the two channels.
// kernel.Client is the production implementation.
type Transport interface {
	Submit(code string) (string, error)
	PollIOPub(timeout time.Duration) (kernel.Message, bool)
	PollShell(timeout time.Duration) (kernel.Message, bool)
	Running() bool
	Reopen() error
	Err() error
}

// Worker is the lifecycle handle for the one worker process the broker owns.
// kernel.Manager is the production implementation.
type Worker interface {
	Start(ctx context.Context) error
	IsAlive() bool
	Shutdown(graceful bool) error
	Transport() Transport
}

// managerWorker adapts kernel.Manager to the Worker interface, guarding the
// nil-client case so a typed nil never hides behind the interface.
type managerWorker struct {
	m *kernel.Manager
}

// NewWorker wraps a kernel manager for use by the broker.
func NewWorker(m *kernel.Manager) Worker {
	return managerWorker{m: m}
}

func (w managerWorker) Start(ctx context.Context) error { return w.m.Start(ctx) }
func (w managerWorker) IsAlive() bool                   { return w.m.IsAlive() }
func (w managerWorker) Shutdown(graceful bool) error    { return w.m.Shutdown(graceful) }

func (w managerWorker) Transport() Transport {
	if c := w.m.Transport(); c != nil {
		return c
	}
	return nil
}
