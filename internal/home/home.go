// Package home resolves paths relative to the user's home and config
// directories.
package home

import (
	"os"
	"path/filepath"
	"strings"
)

// Dir returns the user home directory, or "" when it cannot be determined.
func Dir() string {
	home, _ := os.UserHomeDir()
	return home
}

// ConfigDir returns the directory toolguard reads its global configuration
// from, honoring XDG_CONFIG_HOME.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "toolguard")
	}
	if dir := Dir(); dir != "" {
		return filepath.Join(dir, ".config", "toolguard")
	}
	return ""
}

// Short replaces the home directory prefix of p with "~" for display.
func Short(p string) string {
	dir := Dir()
	if dir == "" {
		return p
	}
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	if rel == "." {
		return "~"
	}
	return filepath.Join("~", rel)
}

// Long expands a leading "~" or "~/" in p to the home directory. Other forms,
// such as "~user", are returned unchanged.
func Long(p string) string {
	dir := Dir()
	if dir == "" {
		return p
	}
	switch {
	case p == "~":
		return dir
	case strings.HasPrefix(p, "~/"), strings.HasPrefix(p, "~"+string(filepath.Separator)):
		return filepath.Join(dir, p[2:])
	}
	return p
}
