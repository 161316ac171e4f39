package hooks

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/toolguard/internal/config"
)

// entry is one validated pattern with its hooks, in table order.
type entry struct {
	pattern pattern
	hooks   []Definition
}

// rawHook is a hook entry whose field types have been checked but whose
// values have not.
type rawHook struct {
	name      string
	script    string
	failMode  string
	timeout   *float64
	transform bool
}

// validate turns a hook table into registry entries. It stops at the first
// problem so that no partially valid registry is ever produced.
func validate(table *config.HookTable, allowed []string) ([]entry, error) {
	if table == nil {
		return nil, nil
	}

	entries := make([]entry, 0, table.Len())
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		items, ok := hookList(pair.Value)
		if !ok {
			return nil, &ConfigError{
				Pattern: pair.Key,
				Index:   -1,
				Reason:  fmt.Sprintf("hooks must be a list, got %s", typeName(pair.Value)),
			}
		}

		defs := make([]Definition, 0, len(items))
		for i, item := range items {
			raw, err := parseHook(item)
			if err != nil {
				return nil, &ConfigError{Pattern: pair.Key, Index: i, Hook: raw.name, Reason: err.Error()}
			}
			def, err := raw.definition(allowed)
			if err != nil {
				return nil, &ConfigError{Pattern: pair.Key, Index: i, Hook: raw.name, Reason: err.Error()}
			}
			defs = append(defs, def)
		}

		entries = append(entries, entry{pattern: compilePattern(pair.Key), hooks: defs})
	}
	return entries, nil
}

func hookList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []map[string]any:
		items := make([]any, len(list))
		for i, m := range list {
			items[i] = m
		}
		return items, true
	case []config.Hook:
		items := make([]any, len(list))
		for i, h := range list {
			items[i] = h
		}
		return items, true
	}
	return nil, false
}

func parseHook(item any) (rawHook, error) {
	switch h := item.(type) {
	case config.Hook:
		return fromTyped(h), nil
	case *config.Hook:
		if h == nil {
			return rawHook{}, fmt.Errorf("hook must be an object, got null")
		}
		return fromTyped(*h), nil
	case map[string]any:
		return fromMap(h)
	}
	return rawHook{}, fmt.Errorf("hook must be an object, got %s", typeName(item))
}

func fromTyped(h config.Hook) rawHook {
	raw := rawHook{
		name:      h.Name,
		script:    h.Script,
		failMode:  h.FailMode,
		transform: h.Transform,
	}
	if h.Timeout != nil {
		ms := float64(*h.Timeout)
		raw.timeout = &ms
	}
	return raw
}

func fromMap(m map[string]any) (rawHook, error) {
	var raw rawHook
	var err error

	// The name goes first so later errors can mention it.
	if raw.name, err = stringField(m, "name"); err != nil {
		return raw, err
	}
	if raw.script, err = stringField(m, "script"); err != nil {
		return raw, err
	}
	if raw.failMode, err = stringField(m, "failMode"); err != nil {
		return raw, err
	}
	if v, ok := m["timeout"]; ok {
		ms, ok := number(v)
		if !ok {
			return raw, fmt.Errorf("timeout must be a positive number of milliseconds, got %s", typeName(v))
		}
		raw.timeout = &ms
	}
	if v, ok := m["transform"]; ok {
		b, ok := v.(bool)
		if !ok {
			return raw, fmt.Errorf("transform must be a boolean, got %s", typeName(v))
		}
		raw.transform = b
	}
	return raw, nil
}

func (raw rawHook) definition(allowed []string) (Definition, error) {
	if raw.name == "" {
		return Definition{}, fmt.Errorf("name is required")
	}
	if raw.script == "" {
		return Definition{}, fmt.Errorf("script is required")
	}
	if strings.Contains(raw.script, "..") {
		return Definition{}, fmt.Errorf("script %q must not contain \"..\"", raw.script)
	}
	if strings.ContainsRune(raw.script, 0) {
		return Definition{}, fmt.Errorf("script must not contain NUL bytes")
	}
	if len(allowed) > 0 && !scriptAllowed(raw.script, allowed) {
		return Definition{}, fmt.Errorf("script %q is not in the allowed scripts", raw.script)
	}

	mode, ok := ParseFailMode(raw.failMode)
	if !ok {
		return Definition{}, fmt.Errorf("failMode must be one of reject, warn, transform, got %q", raw.failMode)
	}

	timeout := DefaultHookTimeout
	if raw.timeout != nil {
		ms := *raw.timeout
		if ms <= 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
			return Definition{}, fmt.Errorf("timeout must be a positive number of milliseconds, got %v", ms)
		}
		timeout = time.Duration(math.MaxInt64)
		if ms < float64(math.MaxInt64/int64(time.Millisecond)) {
			timeout = max(time.Duration(ms*float64(time.Millisecond)), time.Nanosecond)
		}
	}

	return Definition{
		Name:      raw.name,
		Script:    raw.script,
		FailMode:  mode,
		Timeout:   timeout,
		Transform: raw.transform,
	}, nil
}

func scriptAllowed(script string, allowed []string) bool {
	clean := filepath.Clean(script)
	for _, p := range allowed {
		if ok, _ := doublestar.PathMatch(p, clean); ok {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", key, typeName(v))
	}
	return s, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	}
	if _, ok := number(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
