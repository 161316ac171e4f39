package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecuteBeforeHooks runs the "before:<tool>" chain over parameters and
// returns them, possibly replaced by transform hooks. The first rejecting
// hook stops the chain and its rejection is returned as a *RejectionError.
func (m *Manager) ExecuteBeforeHooks(ctx context.Context, tool string, parameters, hookCtx json.RawMessage) (json.RawMessage, error) {
	return m.runChain(ctx, PhaseBefore, tool, parameters, hookCtx)
}

// ExecuteAfterHooks runs the "after:<tool>" chain over a tool response and
// returns it, possibly replaced by transform hooks. After-hooks cannot block:
// a rejecting hook is logged and the response it was given is kept. The only
// error returned is ctx's.
func (m *Manager) ExecuteAfterHooks(ctx context.Context, tool string, response, hookCtx json.RawMessage) (json.RawMessage, error) {
	return m.runChain(ctx, PhaseAfter, tool, response, hookCtx)
}

func (m *Manager) runChain(ctx context.Context, phase Phase, tool string, data, hookCtx json.RawMessage) (json.RawMessage, error) {
	key := Key(phase, tool)
	if len(data) > 0 && !json.Valid(data) {
		return data, fmt.Errorf("hook chain %s: %s payload is not valid JSON", key, phase)
	}
	if len(hookCtx) > 0 && !json.Valid(hookCtx) {
		return data, fmt.Errorf("hook chain %s: context is not valid JSON", key)
	}

	hooks := m.FindHooks(key)
	if len(hooks) == 0 {
		return data, nil
	}

	chainID := uuid.NewString()
	logger := m.logger.With("chain_id", chainID, "tool", tool, "phase", phase)
	if m.chainWarn > 0 && len(hooks) > m.chainWarn {
		var budget time.Duration
		for _, h := range hooks {
			budget += h.Timeout
		}
		logger.Warn("Long hook chain", "hooks", len(hooks), "max_duration", budget)
	}

	for _, hook := range hooks {
		if err := ctx.Err(); err != nil {
			return data, fmt.Errorf("hook chain %s interrupted: %w", key, err)
		}

		req := NewRequest(phase, tool, data, hookCtx)
		res := m.ExecuteHook(ctx, hook, req)
		m.publish(chainID, hook, req, res)

		if res.Rejected {
			if phase == PhaseBefore {
				logger.Warn("Hook rejected tool call", "hook", hook.Name, "error", res.Error)
				return nil, &RejectionError{Hook: hook.Name, Tool: tool, Reason: res.Error}
			}
			logger.Warn("After hook rejected, keeping response", "hook", hook.Name, "error", res.Error)
			continue
		}

		if !hook.Transform || res.Output == "" {
			continue
		}
		if !json.Valid([]byte(res.Output)) {
			logger.Warn("Hook output is not valid JSON, keeping previous value", "hook", hook.Name)
			continue
		}
		data = json.RawMessage(res.Output)
		logger.Debug("Hook transformed payload", "hook", hook.Name)
	}

	return data, nil
}

func (m *Manager) publish(chainID string, hook Definition, req Request, res Result) {
	if m.events == nil {
		return
	}
	m.events.Publish(HookExecutedEvent, Event{
		ChainID:  chainID,
		Hook:     hook.Name,
		Tool:     req.Tool,
		Phase:    req.Phase,
		State:    res.State,
		Rejected: res.Rejected,
		Error:    res.Error,
		Duration: res.Duration,
	})
}
