package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// document mirrors Config with a typed hook table for schema generation.
type document struct {
	Options Options           `json:"options,omitempty" jsonschema:"description=Engine and logging settings"`
	Hooks   map[string][]Hook `json:"hooks,omitempty" jsonschema:"description=Hook lists keyed by <before|after>:<tool-glob> pattern"`
}

// Schema returns the JSON Schema of a configuration file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&document{})
	s.ID = "https://charm.land/toolguard.json"
	s.Title = "toolguard configuration"
	return s
}

// SchemaJSON returns the indented JSON encoding of Schema.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
