package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/charmbracelet/toolguard/internal/pubsub"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestExecuteBeforeHooks_NoHooks(t *testing.T) {
	t.Parallel()

	m := newManager(t, nil)
	out, err := m.ExecuteBeforeHooks(t.Context(), "test", json.RawMessage(`{"x":1}`), json.RawMessage(`{}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"x":1}`, string(out))
}

func TestExecuteBeforeHooks_Rejects(t *testing.T) {
	t.Parallel()

	blocker := writeScript(t, "echo 'Blocked by policy' >&2; exit 1")
	m := newManager(t, table(t, "before:*", []config.Hook{
		{Name: "blocker", Script: blocker, FailMode: "reject"},
	}))

	out, err := m.ExecuteBeforeHooks(t.Context(), "dangerous_tool", json.RawMessage(`{}`), nil)
	require.Nil(t, out)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "Hook blocker rejected")
	require.Contains(t, err.Error(), "Blocked by policy")

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, "blocker", rej.Hook)
	require.Equal(t, "dangerous_tool", rej.Tool)
	require.Equal(t, "Blocked by policy", rej.Reason)
}

func TestExecuteBeforeHooks_RejectStopsChain(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "ran")
	first := writeScript(t, "cat")
	second := writeScript(t, "echo no >&2; exit 1")
	third := writeScript(t, "touch "+marker)

	m := newManager(t, table(t, "before:tool", []config.Hook{
		{Name: "first", Script: first, FailMode: "warn"},
		{Name: "second", Script: second, FailMode: "reject"},
		{Name: "third", Script: third, FailMode: "warn"},
	}))

	_, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{}`), nil)
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "Hook second rejected")
	require.NoFileExists(t, marker)
}

func TestExecuteBeforeHooks_TimeoutRejects(t *testing.T) {
	t.Parallel()

	slow := writeScript(t, "sleep 30")
	m := newManager(t, table(t, "before:*", []config.Hook{
		{Name: "slow", Script: slow, FailMode: "reject", Timeout: ptrInt(200)},
	}))

	start := time.Now()
	_, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{}`), nil)
	require.Less(t, time.Since(start), 5*time.Second)
	require.ErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "timed out")
}

func TestExecuteAfterHooks_Transform(t *testing.T) {
	t.Parallel()

	sanitizer := writeScript(t, `echo '{"content":"[REDACTED]"}'`)
	m := newManager(t, table(t, "after:web_fetch", []config.Hook{
		{Name: "sanitizer", Script: sanitizer, FailMode: "warn", Transform: true},
	}))

	out, err := m.ExecuteAfterHooks(t.Context(), "web_fetch", json.RawMessage(`{"content":"secret"}`), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"content":"[REDACTED]"}`, string(out))
}

func TestExecuteAfterHooks_RejectDoesNotBlock(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "ran")
	rejecter := writeScript(t, "echo nope >&2; exit 1")
	later := writeScript(t, "touch "+marker)

	logger, logs := testLogger()
	m := newManager(t, table(t, "after:*", []config.Hook{
		{Name: "rejecter", Script: rejecter, FailMode: "reject"},
		{Name: "later", Script: later, FailMode: "warn"},
	}), WithLogger(logger))

	out, err := m.ExecuteAfterHooks(t.Context(), "tool", json.RawMessage(`{"ok":true}`), nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(out))
	require.FileExists(t, marker)
	require.Contains(t, logs.String(), "After hook rejected")
}

func TestChain_TransformRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		mode      string
		transform bool
		want      string
	}{
		{name: "valid JSON replaces", body: `echo '{"b":2}'`, mode: "warn", transform: true, want: `{"b":2}`},
		{name: "invalid JSON ignored", body: `echo 'not json'`, mode: "warn", transform: true, want: `{"a":1}`},
		{name: "empty output ignored", body: `exit 0`, mode: "warn", transform: true, want: `{"a":1}`},
		{name: "not a transform hook", body: `echo '{"b":2}'`, mode: "warn", transform: false, want: `{"a":1}`},
		{name: "transform mode failure still replaces", body: `echo '{"b":3}'; exit 1`, mode: "transform", transform: true, want: `{"b":3}`},
		{name: "warn mode failure keeps stdout", body: `echo '{"b":4}'; exit 1`, mode: "warn", transform: true, want: `{"b":4}`},
		{name: "timeout keeps data", body: `echo '{"b":5}'; sleep 30`, mode: "transform", transform: true, want: `{"a":1}`},
		{name: "scalar JSON replaces", body: `echo 42`, mode: "warn", transform: true, want: `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			script := writeScript(t, tt.body)
			m := newManager(t, table(t, "before:*", []config.Hook{
				{Name: "h", Script: script, FailMode: tt.mode, Transform: tt.transform, Timeout: ptrInt(300)},
			}))

			out, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{"a":1}`), nil)
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestChain_TransformsFeedLaterHooks(t *testing.T) {
	t.Parallel()

	addB := writeScript(t, `echo '{"a":1,"b":2}'`)
	// Echo back only the parameters the hook received.
	echoParams := writeScript(t, `sed -e 's/.*"parameters":\(.*\),"context".*/\1/'`)
	m := newManager(t, table(t,
		"before:tool", []config.Hook{{Name: "add-b", Script: addB, FailMode: "warn", Transform: true}},
		"before:*", []config.Hook{{Name: "echo", Script: echoParams, FailMode: "warn", Transform: true}},
	))

	out, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{"a":1}`), json.RawMessage(`{"user":"u"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1,"b":2}`, string(out))
}

func TestChain_ContextPassedThrough(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	capture := filepath.Join(dir, "input.json")
	script := writeScript(t, "cat > "+capture)
	m := newManager(t, table(t, "before:*", []config.Hook{{Name: "capture", Script: script, FailMode: "reject"}}))

	_, err := m.ExecuteBeforeHooks(t.Context(), "message.send", json.RawMessage(`{"to":"bob"}`), json.RawMessage(`{"session":"s1"}`))
	require.NoError(t, err)

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	require.JSONEq(t, `{"tool":"message.send","phase":"before","parameters":{"to":"bob"},"context":{"session":"s1"}}`, string(data))
}

func TestChain_InvalidInput(t *testing.T) {
	t.Parallel()

	m := newManager(t, nil)

	_, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{bad`), nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "not valid JSON")

	_, err = m.ExecuteAfterHooks(t.Context(), "tool", json.RawMessage(`{}`), json.RawMessage(`[`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "context is not valid JSON")
}

func TestChain_CanceledBetweenHooks(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "ran")
	first := writeScript(t, "sleep 30")
	second := writeScript(t, "touch "+marker)
	m := newManager(t, table(t, "before:*", []config.Hook{
		{Name: "first", Script: first, FailMode: "warn"},
		{Name: "second", Script: second, FailMode: "warn"},
	}))

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := m.ExecuteBeforeHooks(ctx, "tool", json.RawMessage(`{}`), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrRejected)
	require.Contains(t, err.Error(), "interrupted")
	require.NoFileExists(t, marker)
}

func TestChain_ConcurrentChains(t *testing.T) {
	t.Parallel()

	upper := writeScript(t, `printf '{"tool":"%s"}' "$TOOLGUARD_TOOL_NAME"`)
	m := newManager(t, table(t, "before:*", []config.Hook{
		{Name: "namer", Script: upper, FailMode: "reject", Transform: true},
	}))

	var g errgroup.Group
	for i := range 12 {
		g.Go(func() error {
			tool := fmt.Sprintf("tool-%d", i)
			out, err := m.ExecuteBeforeHooks(t.Context(), tool, json.RawMessage(`{}`), nil)
			if err != nil {
				return err
			}
			var got struct{ Tool string }
			if err := json.Unmarshal(out, &got); err != nil {
				return err
			}
			if got.Tool != tool {
				return fmt.Errorf("chain for %s saw %s", tool, got.Tool)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestChain_PublishesEvents(t *testing.T) {
	t.Parallel()

	ok := writeScript(t, "exit 0")
	bad := writeScript(t, "echo denied >&2; exit 1")

	broker := pubsub.NewBroker[Event]()
	t.Cleanup(broker.Shutdown)
	events := broker.Subscribe(t.Context())

	m := newManager(t, table(t, "before:*", []config.Hook{
		{Name: "ok", Script: ok, FailMode: "warn"},
		{Name: "bad", Script: bad, FailMode: "reject"},
	}), WithEvents(broker))

	_, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{}`), nil)
	require.ErrorIs(t, err, ErrRejected)

	first := <-events
	second := <-events
	require.Equal(t, HookExecutedEvent, first.Type)
	require.Equal(t, "ok", first.Payload.Hook)
	require.False(t, first.Payload.Rejected)
	require.Equal(t, "bad", second.Payload.Hook)
	require.True(t, second.Payload.Rejected)
	require.Equal(t, "denied", second.Payload.Error)
	require.NotEmpty(t, first.Payload.ChainID)
	require.Equal(t, first.Payload.ChainID, second.Payload.ChainID)
	require.Equal(t, PhaseBefore, second.Payload.Phase)
	require.Equal(t, StateCompleted, second.Payload.State)
}

func TestChain_LongChainWarning(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "exit 0")
	hooks := make([]config.Hook, 3)
	for i := range hooks {
		hooks[i] = config.Hook{Name: fmt.Sprintf("h%d", i), Script: script, FailMode: "warn", Timeout: ptrInt(1000)}
	}

	logger, logs := testLogger()
	m := newManager(t, table(t, "before:*", hooks), WithLogger(logger), WithChainWarnThreshold(2))

	_, err := m.ExecuteBeforeHooks(t.Context(), "tool", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	require.Contains(t, logs.String(), "Long hook chain")
	require.Contains(t, logs.String(), "max_duration=3s")
}
