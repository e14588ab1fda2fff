package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ipybridge/ipybridge/pkg/kernel"
)

// Timeouts are the time budgets of one execution. Two independent bounds
// govern the notification loop: a short per-attempt poll that keeps the loop
// responsive, and an overall ceiling that keeps it finite when the worker
// never reports idle.
type Timeouts struct {
	// IOPubOverall is the hard ceiling on the notification loop,
	// measured from submission.
	IOPubOverall time.Duration

	// Poll is the per-attempt notification poll timeout.
	Poll time.Duration

	// PollPause is the backoff slept after an empty poll before idle has
	// been seen, so the loop does not spin against a slow worker.
	PollPause time.Duration

	// ShellReply bounds the single wait for the final reply.
	ShellReply time.Duration
}

// DefaultTimeouts mirrors the worker protocol's conventional budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		IOPubOverall: 10 * time.Second,
		Poll:         500 * time.Millisecond,
		PollPause:    100 * time.Millisecond,
		ShellReply:   10 * time.Second,
	}
}

const timeoutMarker = "  (Overall timeout waiting for all notification messages or worker to go idle for this request)"

// Collector drives one submission through the dual-channel protocol and
// aggregates the result into a Transcript.
type Collector struct {
	transport Transport
	timeouts  Timeouts
}

// NewCollector returns a collector polling the given transport.
func NewCollector(transport Transport, timeouts Timeouts) *Collector {
	return &Collector{transport: transport, timeouts: timeouts}
}

// Collect submits code and gathers the matching notification and reply
// messages into an ordered transcript. It never blocks past
// IOPubOverall + ShellReply.
//
// The notification loop exits early once the worker has reported idle and a
// subsequent poll comes back empty. That idle+quiet rule is a heuristic, not
// a protocol guarantee: a worker emitting trailing output after going idle
// can race the empty poll, so late messages may be dropped or, conversely,
// collected. It matches the worker protocol's established behavior and is
// kept deliberately.
func (c *Collector) Collect(ctx context.Context, code string) Transcript {
	msgID, err := c.transport.Submit(code)
	if err != nil {
		slog.Error("Submission failed", "error", err)
		return Transcript{
			Status: StatusSubmitFailed,
			Lines:  []string{"Failed to submit code to worker: " + err.Error()},
		}
	}
	slog.Debug("Submitted execution request", "msg_id", msgID)

	lines := c.collectNotifications(ctx, msgID)
	return c.awaitReply(msgID, lines)
}

func (c *Collector) collectNotifications(ctx context.Context, msgID string) []string {
	var lines []string
	idleSeen := false
	deadline := time.Now().Add(c.timeouts.IOPubOverall)

	for {
		if time.Now().After(deadline) || ctx.Err() != nil {
			slog.Debug("Overall notification timeout reached", "msg_id", msgID)
			return append(lines, timeoutMarker)
		}

		msg, ok := c.transport.PollIOPub(c.timeouts.Poll)
		if !ok {
			if idleSeen {
				// Worker reported idle and the stream is quiet:
				// treat everything for this request as delivered.
				slog.Debug("Worker idle and stream quiet, ending notification loop", "msg_id", msgID)
				return lines
			}
			if err := c.transport.Err(); err != nil {
				return append(lines, "Exception while processing notification messages: "+err.Error())
			}
			time.Sleep(c.timeouts.PollPause)
			continue
		}

		if msg.ParentID != msgID {
			// Belongs to a stale or overlapping request; it must never
			// leak into this transcript.
			slog.Debug("Ignoring notification for other request", "got", msg.ParentID, "want", msgID, "type", msg.Type)
			continue
		}

		lines = append(lines, notificationLines(msg)...)
		if msg.Type == kernel.MsgStatus && msg.ExecutionState == kernel.StateIdle {
			idleSeen = true
		}
	}
}

func notificationLines(msg kernel.Message) []string {
	switch msg.Type {
	case kernel.MsgStatus:
		return []string{"  Kernel Status: " + msg.ExecutionState}

	case kernel.MsgStream:
		return []string{fmt.Sprintf("  %s: %s", capitalize(msg.Name), strings.TrimSpace(msg.Text))}

	case kernel.MsgExecuteResult:
		if plain, ok := msg.Data["text/plain"]; ok && plain != "" {
			return []string{"  Result: " + strings.TrimSpace(plain)}
		}
		return []string{fmt.Sprintf("  Execute_Result (no text/plain, available data keys: %v)", dataKeys(msg.Data))}

	case kernel.MsgDisplayData:
		plain := msg.Data["text/plain"]
		if plain == "" {
			plain = "No plain text data"
		}
		return []string{"  Display Data: " + strings.TrimSpace(plain)}

	case kernel.MsgError:
		lines := []string{fmt.Sprintf("  IOPub Error: %s - %s", msg.EName, msg.EValue)}
		if len(msg.Traceback) > 0 {
			lines = append(lines, "  IOPub Traceback:")
			for _, tb := range msg.Traceback {
				lines = append(lines, "    "+tb)
			}
		}
		return lines

	default:
		slog.Debug("Ignoring notification of unknown type", "type", msg.Type)
		return nil
	}
}

func (c *Collector) awaitReply(msgID string, lines []string) Transcript {
	reply, ok := c.transport.PollShell(c.timeouts.ShellReply)
	switch {
	case !ok && c.transport.Err() != nil:
		return Transcript{
			Status: StatusReplyException,
			Lines:  append(lines, "Exception while getting shell reply: "+c.transport.Err().Error()),
		}

	case !ok:
		return Transcript{
			Status: StatusReplyTimeout,
			Lines:  append(lines, "Timeout waiting for shell reply from worker."),
		}

	case reply.ParentID != msgID:
		return Transcript{
			Status: StatusReplyMismatch,
			Lines: append(lines, fmt.Sprintf(
				"Shell reply (msg_id %s) was not for the current command (msg_id %s).", reply.ParentID, msgID)),
		}
	}

	switch reply.Status {
	case kernel.ReplyOK:
		lines = append(lines, fmt.Sprintf("  Execution Count: %d", reply.ExecutionCount))
	case kernel.ReplyError:
		lines = append(lines,
			"  Shell Error Name: "+reply.EName,
			"  Shell Error Value: "+reply.EValue)
		if len(reply.Traceback) > 0 {
			lines = append(lines, "  Shell Traceback:")
			for _, tb := range reply.Traceback {
				lines = append(lines, "    "+tb)
			}
		}
	}

	return Transcript{Status: reply.Status, Lines: lines}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func dataKeys(data map[string]string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
