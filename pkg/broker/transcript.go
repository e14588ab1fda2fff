package broker

import "strings"

// Status tokens for transcripts whose failure happened in the plumbing rather
// than in the submitted code. Plumbing faults are reported as transcript text,
// never raised to the tool caller.
//
// A reply's own status is carried through verbatim, so the worker vocabulary
// (ok, error, aborted) can also appear as a transcript status. The worker
// never aborts requests in practice; ok and error are the tokens callers
// dispatch on.
const (
	StatusOK                = "ok"
	StatusError             = "error"
	StatusSubmitFailed      = "error_submission_failure"
	StatusReplyTimeout      = "error_shell_reply_timeout"
	StatusReplyMismatch     = "error_shell_reply_mismatch"
	StatusReplyException    = "error_shell_reply_exception"
	StatusWorkerRestarted   = "error_worker_restarted"
	StatusWorkerUnavailable = "error_worker_unavailable"
	StatusChannelClosed     = "error_channel_closed"
)

// Transcript is the aggregated result of one execution: an overall status and
// the derived lines in arrival order (notification lines first, then reply
// detail lines).
type Transcript struct {
	Status string
	Lines  []string
}

// Render joins the transcript into the text returned to the caller. The
// status line always comes first; empty lines are dropped.
func (t Transcript) Render() string {
	out := make([]string, 0, len(t.Lines)+1)
	out = append(out, "Status: "+t.Status)
	for _, line := range t.Lines {
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// OK reports whether the execution both reached the worker and evaluated
// without error.
func (t Transcript) OK() bool {
	return t.Status == StatusOK
}
