package kernel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// iopubBuffer bounds how many undelivered notification messages the
	// pump will hold; once full, newly arriving messages are dropped. A
	// busy request produces at most a handful of messages between polls,
	// so this is generous.
	iopubBuffer = 256
	shellBuffer = 16
)

// Client is the dual-channel transport to one worker process. It demultiplexes
// the worker's stdout into an iopub (notification) stream and a shell (reply)
// stream, and writes requests to the worker's stdin.
//
// Message ids are minted here, monotonic for the lifetime of the client and
// prefixed with a per-client nonce, so ids from before a worker restart can
// never collide with ids minted after it.
type Client struct {
	runID string
	seq   atomic.Uint64

	wmu sync.Mutex
	w   io.Writer

	iopub chan Message
	shell chan Message
	ready chan struct{}

	// stopped pauses delivery without tearing down the reader; Reopen
	// re-arms it. closed is terminal: the underlying pipe is gone.
	stopped atomic.Bool
	closed  chan struct{}

	emu     sync.Mutex
	readErr error
}

// NewClient starts reading worker messages from r and writes requests to w.
// Callers own the lifetime of both ends; the client never closes them.
func NewClient(w io.Writer, r io.Reader) *Client {
	c := &Client{
		runID:  uuid.NewString()[:8],
		w:      w,
		iopub:  make(chan Message, iopubBuffer),
		shell:  make(chan Message, shellBuffer),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	go c.pump(bufio.NewReader(r))
	return c
}

func (c *Client) pump(br *bufio.Reader) {
	defer close(c.closed)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			c.emu.Lock()
			c.readErr = fmt.Errorf("%w: %v", ErrChannelClosed, err)
			c.emu.Unlock()
			return
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Warn("Discarding malformed worker message", "error", err)
			continue
		}

		if msg.Channel == ChannelControl && msg.Type == MsgReady {
			select {
			case <-c.ready:
			default:
				close(c.ready)
			}
			continue
		}

		if c.stopped.Load() {
			continue
		}

		switch msg.Channel {
		case ChannelIOPub:
			select {
			case c.iopub <- msg:
			default:
				slog.Warn("Notification buffer full, dropping message", "type", msg.Type, "parent_id", msg.ParentID)
			}
		case ChannelShell:
			select {
			case c.shell <- msg:
			default:
				slog.Warn("Reply buffer full, dropping message", "parent_id", msg.ParentID)
			}
		default:
			slog.Debug("Ignoring message on unknown channel", "channel", msg.Channel, "type", msg.Type)
		}
	}
}

// WaitReady blocks until the worker announces readiness, the timeout elapses,
// or the underlying stream closes.
func (c *Client) WaitReady(timeout time.Duration) error {
	select {
	case <-c.ready:
		return nil
	case <-c.closed:
		return c.Err()
	case <-time.After(timeout):
		return ErrStartupTimeout
	}
}

// Submit sends one code string for execution and returns its correlation id.
// It never blocks on the worker: the request is written and the id returned
// immediately.
func (c *Client) Submit(code string) (string, error) {
	if !c.Running() {
		return "", ErrChannelClosed
	}

	id := fmt.Sprintf("%s-%d", c.runID, c.seq.Add(1))
	if err := c.send(request{Type: ReqExecute, MsgID: id, Code: code}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	return id, nil
}

// SendShutdown asks the worker to exit on its own. Best effort; the process
// manager escalates if the worker does not comply.
func (c *Client) SendShutdown() error {
	return c.send(request{Type: ReqShutdown})
}

func (c *Client) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(append(data, '\n'))
	return err
}

// PollIOPub waits up to timeout for one notification message. The second
// return value is false when no message arrived in time.
func (c *Client) PollIOPub(timeout time.Duration) (Message, bool) {
	return poll(c.iopub, timeout)
}

// PollShell waits up to timeout for one reply message.
func (c *Client) PollShell(timeout time.Duration) (Message, bool) {
	return poll(c.shell, timeout)
}

func poll(ch <-chan Message, timeout time.Duration) (Message, bool) {
	select {
	case msg := <-ch:
		return msg, true
	case <-time.After(timeout):
		return Message{}, false
	}
}

// Running reports whether the streams are open and delivering.
func (c *Client) Running() bool {
	return !c.stopped.Load() && !c.Closed()
}

// Closed reports whether the underlying pipe has been lost for good.
func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Err returns the terminal read error once the transport has closed.
func (c *Client) Err() error {
	c.emu.Lock()
	defer c.emu.Unlock()
	return c.readErr
}

// Stop pauses message delivery. Buffered and newly arriving messages are
// discarded until Reopen.
func (c *Client) Stop() {
	c.stopped.Store(true)
}

// Reopen re-arms delivery after Stop, dropping anything stale that was
// buffered before the pause. It fails if the underlying pipe is gone;
// reopening never restarts the worker process itself.
func (c *Client) Reopen() error {
	if c.Closed() {
		return c.Err()
	}
	c.drain(c.iopub)
	c.drain(c.shell)
	c.stopped.Store(false)
	return nil
}

func (c *Client) drain(ch <-chan Message) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
