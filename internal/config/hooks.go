package config

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Hook is the typed form of a single hook entry.
type Hook struct {
	// Name identifies the hook in logs and rejection messages.
	Name string `json:"name" yaml:"name" jsonschema:"required,description=Hook name used in logs and rejection messages,example=sanitizer"`
	// Script is the executable to run. It is started directly, never through
	// a shell.
	Script string `json:"script" yaml:"script" jsonschema:"required,description=Path to the executable to run,example=./hooks/sanitize.sh"`
	// FailMode decides what happens when the hook fails or times out.
	FailMode string `json:"failMode" yaml:"failMode" jsonschema:"required,description=Policy applied when the hook fails or times out,enum=reject,enum=warn,enum=transform"`
	// Timeout is the maximum time in milliseconds to wait for the hook.
	// Default is 5000.
	Timeout *int `json:"timeout,omitempty" yaml:"timeout,omitempty" jsonschema:"description=Maximum time in milliseconds to wait for the hook,default=5000,minimum=1"`
	// Transform makes the hook's JSON output replace the payload it was given.
	Transform bool `json:"transform,omitempty" yaml:"transform,omitempty" jsonschema:"description=Replace the payload with the JSON the hook prints,default=false"`
}

// HookTable maps "<before|after>:<tool-glob>" patterns to their hook lists.
// Values are kept as decoded so the table can be validated in one place;
// they are normally []any of objects, or []Hook when built in code.
// Declaration order is preserved and is the order hooks run in.
type HookTable = orderedmap.OrderedMap[string, any]

// NewHookTable returns an empty table.
func NewHookTable() *HookTable {
	return orderedmap.New[string, any]()
}
