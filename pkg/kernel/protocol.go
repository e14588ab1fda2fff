package kernel

// The worker speaks newline-delimited JSON on its stdio. Every outbound line
// is a Message tagged with the logical channel it belongs to: "iopub" carries
// broadcast execution events, "shell" carries the single final reply for a
// request, and "control" carries lifecycle messages such as the readiness
// announcement. Messages that relate to a submitted request echo its id in
// ParentID.

// Channel identifies which logical stream a message belongs to.
type Channel string

const (
	ChannelIOPub   Channel = "iopub"
	ChannelShell   Channel = "shell"
	ChannelControl Channel = "control"
)

// Message types emitted by the worker.
const (
	MsgReady         = "ready"
	MsgStatus        = "status"
	MsgStream        = "stream"
	MsgExecuteResult = "execute_result"
	MsgDisplayData   = "display_data"
	MsgError         = "error"
	MsgExecuteReply  = "execute_reply"
)

// Execution states carried by status messages.
const (
	StateBusy = "busy"
	StateIdle = "idle"
)

// Reply statuses carried by execute_reply messages.
const (
	ReplyOK      = "ok"
	ReplyError   = "error"
	ReplyAborted = "aborted"
)

// Message is a single protocol message from the worker. Fields are populated
// depending on Type; unused fields stay at their zero value.
type Message struct {
	Channel  Channel `json:"channel"`
	Type     string  `json:"type"`
	ParentID string  `json:"parent_id,omitempty"`

	// status
	ExecutionState string `json:"execution_state,omitempty"`

	// stream
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`

	// execute_result / display_data, keyed by MIME type
	Data map[string]string `json:"data,omitempty"`

	// execute_reply
	Status         string `json:"status,omitempty"`
	ExecutionCount int    `json:"execution_count,omitempty"`

	// error / execute_reply with status "error"
	EName     string   `json:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
}

// Request types written to the worker's stdin.
const (
	ReqExecute  = "execute_request"
	ReqShutdown = "shutdown_request"
)

type request struct {
	Type  string `json:"type"`
	MsgID string `json:"msg_id,omitempty"`
	Code  string `json:"code,omitempty"`
}
