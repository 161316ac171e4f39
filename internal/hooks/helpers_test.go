package hooks

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/stretchr/testify/require"
)

// writeScript writes an executable shell script into a fresh temp dir and
// returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hook scripts require a unix shell")
	}
	path := filepath.Join(t.TempDir(), "hook.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// table builds a hook table from alternating pattern and hook list values.
func table(t *testing.T, kv ...any) *config.HookTable {
	t.Helper()
	require.Zero(t, len(kv)%2, "table needs pattern/value pairs")
	tbl := config.NewHookTable()
	for i := 0; i < len(kv); i += 2 {
		tbl.Set(kv[i].(string), kv[i+1])
	}
	return tbl
}

func newManager(t *testing.T, tbl *config.HookTable, opts ...Option) *Manager {
	t.Helper()
	m, err := New(tbl, opts...)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func ptrInt(i int) *int {
	return &i
}
