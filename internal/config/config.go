// Package config loads the declarative control configuration: which fields
// form the chain, which field identifies a record, which field carries the
// result text and how records are fetched.
//
// The file is YAML. It is checked and defaulted against an embedded CUE
// schema before being decoded, so typos in keys and wrongly typed values are
// reported instead of silently ignored.
//
// Records are fetched with active_filter applied, which defaults to
// statecode = "0". Sources whose records carry no statecode field must turn
// it off with `active_filter: {field: ""}`, otherwise every record is
// filtered out.
package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/source"
)

// MaxChainLength bounds the number of chained positions.
const MaxChainLength = 3

// schemaSource is the CUE definition every configuration must satisfy.
const schemaSource = `
#Position: {
	field:        string
	label?:       string
	placeholder?: string
}

#Filter: {
	field: *"statecode" | string
	value: *"0" | string
}

#Config: {
	entity_type:      *"" | string
	identifier_field: *"" | string
	primary_field:    *"" | string
	result_field:     *"" | string
	chain:         *[] | [...#Position]
	max_records:  *1000 | (int & >0 & <=5000)
	active_filter: #Filter
	strict_match:  *false | bool
	disabled:      *false | bool
}
`

// Position configures one chain slot and how the option display labels it.
type Position struct {
	Field       string `yaml:"field" json:"field"`
	Label       string `yaml:"label,omitempty" json:"label,omitempty"`
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
}

// Filter restricts fetched records to those whose Field equals Value.
// An empty Field disables the filter.
type Filter struct {
	Field string `yaml:"field" json:"field"`
	Value string `yaml:"value" json:"value"`
}

// Config is the control configuration.
type Config struct {
	EntityType      string     `yaml:"entity_type" json:"entity_type"`
	IdentifierField string     `yaml:"identifier_field" json:"identifier_field"`
	PrimaryField    string     `yaml:"primary_field" json:"primary_field"`
	ResultField     string     `yaml:"result_field" json:"result_field"`
	Chain           []Position `yaml:"chain" json:"chain"`
	MaxRecords      int        `yaml:"max_records" json:"max_records"`
	ActiveFilter    Filter     `yaml:"active_filter" json:"active_filter"`
	StrictMatch     bool       `yaml:"strict_match" json:"strict_match"`
	Disabled        bool       `yaml:"disabled" json:"disabled"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML bytes against the schema and decodes them with
// defaults applied.
func Parse(b []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if len(cfg.Chain) > MaxChainLength {
		return Config{}, fmt.Errorf("chain has %d positions, at most %d are supported", len(cfg.Chain), MaxChainLength)
	}
	return cfg, nil
}

// FieldChain returns the configured chain fields in order.
func (c Config) FieldChain() cascade.FieldChain {
	chain := make(cascade.FieldChain, len(c.Chain))
	for i, p := range c.Chain {
		chain[i] = p.Field
	}
	return chain
}

// Settings converts the configuration into controller settings.
func (c Config) Settings() cascade.Settings {
	return cascade.Settings{
		Chain:           c.FieldChain(),
		IdentifierField: c.IdentifierField,
		PrimaryField:    c.PrimaryField,
		ResultField:     c.ResultField,
		EntityType:      c.EntityType,
		Strict:          c.StrictMatch,
		Disabled:        c.Disabled,
	}
}

// SourceQuery returns the fetch query implied by the active filter and record cap.
func (c Config) SourceQuery() source.Query {
	return source.Query{
		Filter: cascade.Constraint{Field: c.ActiveFilter.Field, Value: c.ActiveFilter.Value},
		Limit:  c.MaxRecords,
	}
}
