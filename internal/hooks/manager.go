// Package hooks runs external enforcement programs around agent tool calls.
//
// A Manager is built once from a hook table. Each tool call runs the hooks
// whose pattern matches "before:<tool>" ahead of the call and "after:<tool>"
// on its response. Hooks run one at a time in table order; before-hooks can
// block the call, and hooks flagged as transforms can replace the payload
// with the JSON they print.
package hooks

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/charmbracelet/toolguard/internal/pubsub"
)

// HookExecutedEvent is the event type used when publishing hook executions.
const HookExecutedEvent pubsub.EventType = "hook_executed"

// Manager owns a validated, read-only hook registry. It is safe for
// concurrent use by independent chains.
type Manager struct {
	entries     []entry
	logger      *slog.Logger
	outputLimit int
	env         []string
	allowed     []string
	chainWarn   int
	waitDelay   time.Duration
	events      pubsub.Publisher[Event]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger warnings and debug records are written to. The
// default logger discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithOutputLimit caps the bytes buffered from each of a hook's output
// streams.
func WithOutputLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.outputLimit = limit
		}
	}
}

// WithAllowedScripts restricts hook scripts to those matching one of the
// given doublestar patterns, e.g. "/etc/toolguard/hooks/**".
func WithAllowedScripts(patterns ...string) Option {
	return func(m *Manager) {
		m.allowed = append(m.allowed, patterns...)
	}
}

// WithEnv adds variables to the environment every hook inherits.
func WithEnv(env map[string]string) Option {
	return func(m *Manager) {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			m.env = append(m.env, k+"="+env[k])
		}
	}
}

// WithChainWarnThreshold sets the chain length above which a warning is
// logged. Zero disables the warning.
func WithChainWarnThreshold(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.chainWarn = n
		}
	}
}

// WithEvents publishes an Event for every executed hook.
func WithEvents(p pubsub.Publisher[Event]) Option {
	return func(m *Manager) {
		m.events = p
	}
}

// New validates the hook table and builds a Manager. Validation stops at the
// first malformed entry and returns a *ConfigError; no Manager is returned in
// that case. A nil or empty table yields a Manager with no hooks.
func New(table *config.HookTable, opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:      slog.New(slog.DiscardHandler),
		outputLimit: DefaultOutputLimit,
		chainWarn:   DefaultChainWarnThreshold,
		waitDelay:   defaultWaitDelay,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, p := range m.allowed {
		if !doublestar.ValidatePathPattern(p) {
			return nil, fmt.Errorf("%w: invalid allowed script pattern %q", ErrInvalidConfig, p)
		}
	}

	entries, err := validate(table, m.allowed)
	if err != nil {
		return nil, err
	}
	m.entries = entries

	m.logger.Debug("Hook registry loaded", "patterns", len(entries))
	return m, nil
}

// FindHooks returns the hooks of every pattern matching key, concatenated in
// table order.
func (m *Manager) FindHooks(key string) []Definition {
	var found []Definition
	for _, e := range m.entries {
		if e.pattern.match(key) {
			found = append(found, e.hooks...)
		}
	}
	return found
}

// Lookup returns the first hook registered under name.
func (m *Manager) Lookup(name string) (Definition, bool) {
	for _, e := range m.entries {
		for _, h := range e.hooks {
			if h.Name == name {
				return h, true
			}
		}
	}
	return Definition{}, false
}

// PatternHooks is one pattern of the registry with its hooks.
type PatternHooks struct {
	Pattern string       `json:"pattern"`
	Hooks   []Definition `json:"hooks"`
}

// Hooks returns a copy of the registry in table order.
func (m *Manager) Hooks() []PatternHooks {
	out := make([]PatternHooks, len(m.entries))
	for i, e := range m.entries {
		out[i] = PatternHooks{Pattern: e.pattern.raw, Hooks: slices.Clone(e.hooks)}
	}
	return out
}

// Patterns returns the registered patterns in table order.
func (m *Manager) Patterns() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.pattern.raw
	}
	return out
}
