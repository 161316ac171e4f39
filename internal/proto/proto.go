// Package proto holds the wire types shared by the toolguard server and
// client.
package proto

import (
	"encoding/json"

	"github.com/charmbracelet/toolguard/internal/hooks"
)

// CodeRejected is the JSON-RPC error code of a before-chain rejection.
const CodeRejected int64 = -32001

// ServerInfo describes a running server.
type ServerInfo struct {
	Version  string `json:"version"`
	Patterns int    `json:"patterns"`
}

// ChainRequest asks for a before or after chain to run over Data.
type ChainRequest struct {
	Tool    string          `json:"tool"`
	Data    json.RawMessage `json:"data"`
	Context json.RawMessage `json:"context,omitempty"`
}

// ChainResponse carries the data a chain produced.
type ChainResponse struct {
	Data json.RawMessage `json:"data"`
}

// ExecuteRequest runs one registered hook by name.
type ExecuteRequest struct {
	Hook    string          `json:"hook"`
	Phase   hooks.Phase     `json:"phase"`
	Tool    string          `json:"tool"`
	Data    json.RawMessage `json:"data,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

// FindRequest looks up the hooks matching a key.
type FindRequest struct {
	Key string `json:"key"`
}

// Rejection identifies the hook that blocked a tool call.
type Rejection struct {
	Hook   string `json:"hook"`
	Tool   string `json:"tool"`
	Reason string `json:"reason"`
}

// Error represents an error response.
type Error struct {
	Message   string     `json:"message"`
	Rejection *Rejection `json:"rejection,omitempty"`
}

// NewRejection converts a chain rejection to its wire form.
func NewRejection(err *hooks.RejectionError) *Rejection {
	return &Rejection{Hook: err.Hook, Tool: err.Tool, Reason: err.Reason}
}

// Err converts a wire rejection back to the engine's error type.
func (r *Rejection) Err() *hooks.RejectionError {
	return &hooks.RejectionError{Hook: r.Hook, Tool: r.Tool, Reason: r.Reason}
}
