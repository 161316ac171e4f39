package hooks

import (
	"encoding/json"
	"time"
)

const (
	// DefaultHookTimeout is used when a hook does not declare a timeout.
	DefaultHookTimeout = 5 * time.Second
	// DefaultOutputLimit caps how much of each output stream is buffered per
	// hook invocation.
	DefaultOutputLimit = 10 << 20
	// DefaultChainWarnThreshold is the chain length above which a warning is
	// logged when a chain is assembled.
	DefaultChainWarnThreshold = 16

	defaultWaitDelay = 2 * time.Second
)

// Phase is the point of a tool call a hook runs at.
type Phase string

const (
	// PhaseBefore runs prior to the real tool call and can block it.
	PhaseBefore Phase = "before"
	// PhaseAfter runs on the tool's response and cannot block it.
	PhaseAfter Phase = "after"
)

// Key builds the lookup key for a phase and tool, e.g. "before:web_fetch".
func Key(phase Phase, tool string) string {
	return string(phase) + ":" + tool
}

// FailMode is the policy applied when a hook fails, times out or cannot be
// started.
type FailMode string

const (
	// FailModeReject blocks the chain.
	FailModeReject FailMode = "reject"
	// FailModeWarn logs and continues with the previous data.
	FailModeWarn FailMode = "warn"
	// FailModeTransform logs and continues, still offering whatever the hook
	// printed as replacement data.
	FailModeTransform FailMode = "transform"
)

// ParseFailMode returns the FailMode named by s.
func ParseFailMode(s string) (FailMode, bool) {
	switch m := FailMode(s); m {
	case FailModeReject, FailModeWarn, FailModeTransform:
		return m, true
	}
	return "", false
}

// Definition is a validated hook. Values are never mutated once the manager
// has been built.
type Definition struct {
	Name      string        `json:"name"`
	Script    string        `json:"script"`
	FailMode  FailMode      `json:"failMode"`
	Timeout   time.Duration `json:"timeout"`
	Transform bool          `json:"transform,omitempty"`
}

// Request is the document written to a hook's standard input.
type Request struct {
	Tool       string          `json:"tool"`
	Phase      Phase           `json:"phase"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

// NewRequest builds the request for a phase. data is sent as "parameters"
// before the tool runs and as "response" after it.
func NewRequest(phase Phase, tool string, data, hookCtx json.RawMessage) Request {
	req := Request{Tool: tool, Phase: phase, Context: hookCtx}
	if phase == PhaseAfter {
		req.Response = data
	} else {
		req.Parameters = data
	}
	return req
}

// Data returns the payload the hook may transform.
func (r Request) Data() json.RawMessage {
	if r.Phase == PhaseAfter {
		return r.Response
	}
	return r.Parameters
}

// MarshalJSON emits exactly one of "parameters" or "response", depending on
// the phase, with absent values written as null.
func (r Request) MarshalJSON() ([]byte, error) {
	type wire struct {
		Tool       string          `json:"tool"`
		Phase      Phase           `json:"phase"`
		Parameters json.RawMessage `json:"parameters,omitempty"`
		Response   json.RawMessage `json:"response,omitempty"`
		Context    json.RawMessage `json:"context"`
	}
	w := wire{
		Tool:    r.Tool,
		Phase:   r.Phase,
		Context: orNull(r.Context),
	}
	if r.Phase == PhaseAfter {
		w.Response = orNull(r.Response)
	} else {
		w.Parameters = orNull(r.Parameters)
	}
	return json.Marshal(w)
}

func orNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}

// State is the terminal state of a single hook invocation.
type State string

const (
	StateCompleted   State = "completed"
	StateTimedOut    State = "timed_out"
	StateSpawnFailed State = "spawn_failed"
	StateCanceled    State = "canceled"
)

// Result is the normalized outcome of a hook invocation. Exactly one of
// Success and Rejected is set. Output holds the trimmed standard output and
// is empty when the hook printed nothing.
type Result struct {
	Success         bool          `json:"success"`
	Rejected        bool          `json:"rejected"`
	Error           string        `json:"error,omitempty"`
	Output          string        `json:"output,omitempty"`
	State           State         `json:"state"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Event describes one executed hook. The manager publishes it when an event
// publisher is configured.
type Event struct {
	ChainID  string        `json:"chain_id,omitempty"`
	Hook     string        `json:"hook"`
	Tool     string        `json:"tool"`
	Phase    Phase         `json:"phase"`
	State    State         `json:"state"`
	Rejected bool          `json:"rejected,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
