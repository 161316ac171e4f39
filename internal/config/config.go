// Package config loads toolguard configuration files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/toolguard/internal/home"
	"gopkg.in/yaml.v3"
)

const appName = "toolguard"

// Options are the engine and process settings that sit beside the hook
// table.
type Options struct {
	Debug              bool              `json:"debug,omitempty" yaml:"debug,omitempty" env:"TOOLGUARD_DEBUG" jsonschema:"description=Enable debug logging,default=false"`
	LogFile            string            `json:"log_file,omitempty" yaml:"log_file,omitempty" env:"TOOLGUARD_LOG_FILE" jsonschema:"description=Write JSON logs to this file instead of stderr,example=~/.local/state/toolguard/toolguard.log"`
	OutputLimit        int               `json:"output_limit,omitempty" yaml:"output_limit,omitempty" env:"TOOLGUARD_OUTPUT_LIMIT" jsonschema:"description=Maximum bytes buffered from each hook output stream,default=10485760,minimum=1"`
	AllowedScripts     []string          `json:"allowed_scripts,omitempty" yaml:"allowed_scripts,omitempty" env:"TOOLGUARD_ALLOWED_SCRIPTS" envSeparator:"," jsonschema:"description=Glob patterns hook scripts must match,example=/etc/toolguard/hooks/**"`
	Env                map[string]string `json:"env,omitempty" yaml:"env,omitempty" jsonschema:"description=Extra environment variables passed to every hook"`
	ChainWarnThreshold *int              `json:"chain_warn_threshold,omitempty" yaml:"chain_warn_threshold,omitempty" env:"TOOLGUARD_CHAIN_WARN_THRESHOLD" jsonschema:"description=Warn when a chain has more hooks than this; 0 disables the warning,default=16,minimum=0"`
}

// Config is a loaded configuration file.
type Config struct {
	Options Options    `json:"options,omitzero" yaml:"options,omitempty"`
	Hooks   *HookTable `json:"hooks,omitempty" yaml:"hooks,omitempty"`
}

// Load reads the given files in order and merges them into one Config,
// then applies environment overrides. Later files override scalar options
// of earlier ones; hooks of a pattern that appears again are appended to
// the earlier list.
func Load(paths ...string) (*Config, error) {
	cfg := &Config{Hooks: NewHookTable()}
	for _, path := range paths {
		c, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.merge(c)
	}
	if err := ApplyEnv(&cfg.Options); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. format is a file extension:
// ".json", ".yaml" or ".yml".
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(format) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if cfg.Hooks == nil {
		cfg.Hooks = NewHookTable()
	}
	return cfg, nil
}

// DefaultPaths returns the configuration files that exist in the global
// config directory and in dir, global first.
func DefaultPaths(dir string) []string {
	var paths []string
	if global := home.ConfigDir(); global != "" {
		paths = append(paths, existing(global, appName)...)
	}
	paths = append(paths, existing(dir, appName, "."+appName)...)
	return paths
}

func existing(dir string, names ...string) []string {
	var found []string
	for _, name := range names {
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			p := filepath.Join(dir, name+ext)
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				found = append(found, p)
			}
		}
	}
	return found
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.resolveScripts(filepath.Dir(abs))
	cfg.Options.LogFile = home.Long(cfg.Options.LogFile)
	return cfg, nil
}

// resolveScripts expands "~/" in hook scripts and makes relative paths that
// name a directory absolute against dir. Bare names are left for PATH
// lookup, and paths containing ".." are left untouched so validation still
// sees them.
func (c *Config) resolveScripts(dir string) {
	for pair := c.Hooks.Oldest(); pair != nil; pair = pair.Next() {
		switch list := pair.Value.(type) {
		case []any:
			for _, item := range list {
				h, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if script, ok := h["script"].(string); ok {
					h["script"] = ResolveScript(dir, script)
				}
			}
		case []Hook:
			for i := range list {
				list[i].Script = ResolveScript(dir, list[i].Script)
			}
		}
	}
}

// ResolveScript applies the config file path rules to a single script.
func ResolveScript(dir, script string) string {
	if script == "" || strings.Contains(script, "..") {
		return script
	}
	script = home.Long(script)
	if filepath.IsAbs(script) || !strings.ContainsAny(script, `/\`) {
		return script
	}
	return filepath.Join(dir, script)
}

func (c *Config) merge(o *Config) {
	if o.Options.Debug {
		c.Options.Debug = true
	}
	if o.Options.LogFile != "" {
		c.Options.LogFile = o.Options.LogFile
	}
	if o.Options.OutputLimit != 0 {
		c.Options.OutputLimit = o.Options.OutputLimit
	}
	if o.Options.ChainWarnThreshold != nil {
		c.Options.ChainWarnThreshold = o.Options.ChainWarnThreshold
	}
	c.Options.AllowedScripts = append(c.Options.AllowedScripts, o.Options.AllowedScripts...)
	if len(o.Options.Env) > 0 {
		if c.Options.Env == nil {
			c.Options.Env = make(map[string]string, len(o.Options.Env))
		}
		maps.Copy(c.Options.Env, o.Options.Env)
	}

	if o.Hooks == nil {
		return
	}
	if c.Hooks == nil {
		c.Hooks = NewHookTable()
	}
	for pair := o.Hooks.Oldest(); pair != nil; pair = pair.Next() {
		prev, ok := c.Hooks.Get(pair.Key)
		if !ok {
			c.Hooks.Set(pair.Key, pair.Value)
			continue
		}
		c.Hooks.Set(pair.Key, concatHooks(prev, pair.Value))
	}
}

// concatHooks joins two hook lists. When either is not a list the later
// value replaces the earlier one.
func concatHooks(prev, next any) any {
	a, okA := prev.([]any)
	b, okB := next.([]any)
	if !okA || !okB {
		return next
	}
	return append(slices.Clip(a), b...)
}
