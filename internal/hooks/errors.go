package hooks

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every error New returns for a malformed
	// hook table.
	ErrInvalidConfig = errors.New("invalid hook configuration")
	// ErrRejected is wrapped by the error a before-chain returns when one of
	// its hooks rejects the call.
	ErrRejected = errors.New("hook rejected")
)

// ConfigError reports the first malformed entry of a hook table.
type ConfigError struct {
	Pattern string
	// Index is the position of the hook within the pattern's list, or -1
	// when the list itself is malformed.
	Index  int
	Hook   string
	Reason string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Hook != "":
		return fmt.Sprintf("invalid hook %q (pattern %q, index %d): %s", e.Hook, e.Pattern, e.Index, e.Reason)
	case e.Index >= 0:
		return fmt.Sprintf("invalid hook at index %d for pattern %q: %s", e.Index, e.Pattern, e.Reason)
	default:
		return fmt.Sprintf("invalid hooks for pattern %q: %s", e.Pattern, e.Reason)
	}
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// RejectionError is returned by ExecuteBeforeHooks when a hook blocks the
// tool call.
type RejectionError struct {
	Hook   string
	Tool   string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("Hook %s rejected: %s", e.Hook, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }
