package hooks

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	valid := func() map[string]any {
		return map[string]any{"name": "guard", "script": "/opt/hooks/guard", "failMode": "reject"}
	}
	with := func(key string, value any) []any {
		h := valid()
		h[key] = value
		return []any{h}
	}
	without := func(key string) []any {
		h := valid()
		delete(h, key)
		return []any{h}
	}

	tests := []struct {
		name     string
		hooks    any
		contains []string
	}{
		{name: "not a list", hooks: map[string]any{"name": "x"}, contains: []string{`pattern "before:x"`, "must be a list", "object"}},
		{name: "string instead of list", hooks: "guard.sh", contains: []string{"must be a list", "string"}},
		{name: "null list", hooks: nil, contains: []string{"must be a list", "null"}},
		{name: "entry not an object", hooks: []any{"guard.sh"}, contains: []string{"index 0", "must be an object"}},
		{name: "missing name", hooks: without("name"), contains: []string{"name is required"}},
		{name: "empty name", hooks: with("name", ""), contains: []string{"name is required"}},
		{name: "name not a string", hooks: with("name", 42), contains: []string{"name must be a string", "number"}},
		{name: "missing script", hooks: without("script"), contains: []string{`"guard"`, "script is required"}},
		{name: "empty script", hooks: with("script", ""), contains: []string{"script is required"}},
		{name: "script not a string", hooks: with("script", true), contains: []string{"script must be a string"}},
		{name: "script with traversal", hooks: with("script", "/opt/hooks/../bin/sh"), contains: []string{`".."`}},
		{name: "script with NUL", hooks: with("script", "/opt/hooks/guard\x00.sh"), contains: []string{"NUL"}},
		{name: "missing failMode", hooks: without("failMode"), contains: []string{"failMode must be one of"}},
		{name: "unknown failMode", hooks: with("failMode", "block"), contains: []string{"failMode must be one of", `"block"`}},
		{name: "failMode wrong case", hooks: with("failMode", "Reject"), contains: []string{"failMode must be one of"}},
		{name: "zero timeout", hooks: with("timeout", 0), contains: []string{"timeout must be a positive number"}},
		{name: "negative timeout", hooks: with("timeout", -5.0), contains: []string{"timeout must be a positive number"}},
		{name: "string timeout", hooks: with("timeout", "5000"), contains: []string{"timeout must be a positive number", "string"}},
		{name: "null timeout", hooks: with("timeout", nil), contains: []string{"timeout must be a positive number", "null"}},
		{name: "transform not a boolean", hooks: with("transform", "yes"), contains: []string{"transform must be a boolean"}},
		{name: "typed hook missing script", hooks: []config.Hook{{Name: "typed", FailMode: "warn"}}, contains: []string{`"typed"`, "script is required"}},
		{name: "typed hook zero timeout", hooks: []config.Hook{{Name: "typed", Script: "/x", FailMode: "warn", Timeout: ptrInt(0)}}, contains: []string{"timeout must be a positive number"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := New(table(t, "before:x", tt.hooks))
			require.Nil(t, m)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			require.Equal(t, "before:x", cfgErr.Pattern)
			for _, s := range tt.contains {
				require.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestNew_FailsOnFirstInvalidEntry(t *testing.T) {
	t.Parallel()

	_, err := New(table(t,
		"before:a", []any{map[string]any{"name": "ok", "script": "/x", "failMode": "warn"}},
		"before:b", []any{
			map[string]any{"name": "fine", "script": "/x", "failMode": "warn"},
			map[string]any{"name": "broken", "script": "/x", "failMode": "nope"},
		},
		"before:c", "not even a list",
	))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "before:b", cfgErr.Pattern)
	require.Equal(t, 1, cfgErr.Index)
	require.Equal(t, "broken", cfgErr.Hook)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	m := newManager(t, table(t, "before:x", []any{
		map[string]any{"name": "a", "script": "/x", "failMode": "warn"},
		map[string]any{"name": "b", "script": "/x", "failMode": "transform", "timeout": 250, "transform": true},
		map[string]any{"name": "c", "script": "/x", "failMode": "reject", "timeout": 1.5},
		map[string]any{"name": "d", "script": "/x", "failMode": "reject", "timeout": 1e19},
		map[string]any{"name": "e", "script": "/x", "failMode": "warn", "timeout": 1e-9},
	}))

	defs := m.FindHooks("before:x")
	require.Equal(t, []Definition{
		{Name: "a", Script: "/x", FailMode: FailModeWarn, Timeout: DefaultHookTimeout},
		{Name: "b", Script: "/x", FailMode: FailModeTransform, Timeout: 250 * time.Millisecond, Transform: true},
		{Name: "c", Script: "/x", FailMode: FailModeReject, Timeout: 1500 * time.Microsecond},
		{Name: "d", Script: "/x", FailMode: FailModeReject, Timeout: time.Duration(math.MaxInt64)},
		{Name: "e", Script: "/x", FailMode: FailModeWarn, Timeout: time.Nanosecond},
	}, defs)
}

func TestNew_DecodedTables(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		tbl := config.NewHookTable()
		require.NoError(t, json.Unmarshal([]byte(`{
			"before:z": [{"name": "z", "script": "/z", "failMode": "warn", "timeout": 100}],
			"before:*": [{"name": "all", "script": "/all", "failMode": "reject"}],
			"before:a": [{"name": "a", "script": "/a", "failMode": "transform", "transform": true}]
		}`), tbl))

		m := newManager(t, tbl)
		require.Equal(t, []string{"before:z", "before:*", "before:a"}, m.Patterns())
		require.Len(t, m.FindHooks("before:z"), 2)
		require.Equal(t, "z", m.FindHooks("before:z")[0].Name)
		require.Equal(t, 100*time.Millisecond, m.FindHooks("before:z")[0].Timeout)
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		tbl := config.NewHookTable()
		require.NoError(t, yaml.Unmarshal([]byte(`
after:web_fetch:
  - name: sanitizer
    script: /opt/hooks/sanitize
    failMode: warn
    transform: true
    timeout: 2000
"before:*":
  - name: audit
    script: /opt/hooks/audit
    failMode: reject
`), tbl))

		m := newManager(t, tbl)
		require.Equal(t, []string{"after:web_fetch", "before:*"}, m.Patterns())
		defs := m.FindHooks("after:web_fetch")
		require.Len(t, defs, 1)
		require.True(t, defs[0].Transform)
		require.Equal(t, 2*time.Second, defs[0].Timeout)
	})

	t.Run("yaml list not a sequence", func(t *testing.T) {
		t.Parallel()

		tbl := config.NewHookTable()
		require.NoError(t, yaml.Unmarshal([]byte("before:x:\n  name: oops\n"), tbl))
		_, err := New(tbl)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Contains(t, err.Error(), "must be a list")
	})
}

func TestNew_AllowedScripts(t *testing.T) {
	t.Parallel()

	hooks := func(script string) *config.HookTable {
		return table(t, "before:x", []config.Hook{{Name: "h", Script: script, FailMode: "warn"}})
	}

	_, err := New(hooks("/opt/hooks/sub/guard"), WithAllowedScripts("/opt/hooks/**"))
	require.NoError(t, err)

	_, err = New(hooks("/usr/bin/curl"), WithAllowedScripts("/opt/hooks/**"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "not in the allowed scripts")

	_, err = New(hooks("/opt/hooks/guard"), WithAllowedScripts("/opt/hooks/[unclosed"))
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "invalid allowed script pattern")
}

func TestNew_HooksReturnsCopy(t *testing.T) {
	t.Parallel()

	m := newManager(t, table(t, "before:x", []config.Hook{{Name: "h", Script: "/x", FailMode: "warn"}}))
	got := m.Hooks()
	got[0].Hooks[0].Name = "mutated"
	require.Equal(t, "h", m.FindHooks("before:x")[0].Name)

	def, ok := m.Lookup("h")
	require.True(t, ok)
	require.Equal(t, "/x", def.Script)
	_, ok = m.Lookup("missing")
	require.False(t, ok)
}
