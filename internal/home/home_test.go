package home

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLongShort(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)

	require.Equal(t, dir, Long("~"))
	require.Equal(t, filepath.Join(dir, "hooks", "guard"), Long("~/hooks/guard"))
	require.Equal(t, "~other/hooks", Long("~other/hooks"))
	require.Equal(t, "/opt/hooks/guard", Long("/opt/hooks/guard"))

	require.Equal(t, filepath.Join("~", "hooks", "guard"), Short(filepath.Join(dir, "hooks", "guard")))
	require.Equal(t, "~", Short(dir))
	require.Equal(t, "/opt/hooks/guard", Short("/opt/hooks/guard"))
	require.Equal(t, dir+"-sibling", Short(dir+"-sibling"))
}

func TestConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.Equal(t, filepath.Join(dir, "toolguard"), ConfigDir())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
	require.Equal(t, filepath.Join(dir, ".config", "toolguard"), ConfigDir())
}
