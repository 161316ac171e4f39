package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConfigMerging defines the rules on how configuration merging works.
// Scalars set in a later file replace earlier ones, lists and maps grow, and
// hook lists of a repeated pattern are concatenated in file order.
func TestConfigMerging(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		c := exerciseMerge(t, `{}`, `{}`)
		require.NotNil(t, c)
		require.NotNil(t, c.Hooks)
		require.Zero(t, c.Hooks.Len())
	})

	t.Run("options", func(t *testing.T) {
		c := exerciseMerge(t,
			`{"options":{"debug":true,"log_file":"/var/log/a.log","output_limit":1024,"allowed_scripts":["/opt/a/**"],"env":{"A":"1","B":"1"}}}`,
			`{"options":{"output_limit":2048,"allowed_scripts":["/opt/b/**"],"env":{"B":"2"},"chain_warn_threshold":0}}`,
		)

		require.True(t, c.Options.Debug)
		require.Equal(t, "/var/log/a.log", c.Options.LogFile)
		require.Equal(t, 2048, c.Options.OutputLimit)
		require.Equal(t, []string{"/opt/a/**", "/opt/b/**"}, c.Options.AllowedScripts)
		require.Equal(t, map[string]string{"A": "1", "B": "2"}, c.Options.Env)
		require.NotNil(t, c.Options.ChainWarnThreshold)
		require.Zero(t, *c.Options.ChainWarnThreshold)
	})

	t.Run("unset threshold keeps earlier", func(t *testing.T) {
		c := exerciseMerge(t,
			`{"options":{"chain_warn_threshold":4}}`,
			`{"options":{"debug":false}}`,
		)
		require.Equal(t, 4, *c.Options.ChainWarnThreshold)
	})

	t.Run("hooks appended", func(t *testing.T) {
		c := exerciseMerge(t,
			`{"hooks":{"before:*":[{"name":"global","script":"/g","failMode":"reject"}],"after:web_fetch":[{"name":"clean","script":"/c","failMode":"warn"}]}}`,
			`{"hooks":{"before:bash":[{"name":"bash","script":"/b","failMode":"reject"}],"before:*":[{"name":"project","script":"/p","failMode":"warn"}]}}`,
		)

		require.Equal(t, []string{"before:*", "after:web_fetch", "before:bash"}, keys(c))

		all, ok := c.Hooks.Get("before:*")
		require.True(t, ok)
		list := all.([]any)
		require.Len(t, list, 2)
		require.Equal(t, "global", list[0].(map[string]any)["name"])
		require.Equal(t, "project", list[1].(map[string]any)["name"])
	})

	t.Run("non-list replaced", func(t *testing.T) {
		c := exerciseMerge(t,
			`{"hooks":{"before:x":"oops"}}`,
			`{"hooks":{"before:x":[{"name":"x","script":"/x","failMode":"warn"}]}}`,
		)
		v, _ := c.Hooks.Get("before:x")
		require.Len(t, v.([]any), 1)
	})
}

func exerciseMerge(tb testing.TB, docs ...string) *Config {
	tb.Helper()
	result := &Config{Hooks: NewHookTable()}
	for _, doc := range docs {
		require.True(tb, json.Valid([]byte(doc)))
		c, err := Parse([]byte(doc), ".json")
		require.NoError(tb, err)
		result.merge(c)
	}
	return result
}

func keys(c *Config) []string {
	var out []string
	for pair := c.Hooks.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}
