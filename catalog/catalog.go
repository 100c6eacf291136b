// Package catalog describes the entity kinds the core accepts: required
// fields, slug source, unique fields, the JSON schema enforced by the mapped
// access path, placeholder templates, and derived-entity rules.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"storefront"
)

//go:embed default.yaml
var defaultYAML []byte

// Property is the schema of a single field.
type Property struct {
	Type      string   `yaml:"type"`
	Enum      []any    `yaml:"enum,omitempty"`
	Minimum   *float64 `yaml:"minimum,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty"`
}

// KindSpec describes one kind.
type KindSpec struct {
	Name        storefront.Kind     `yaml:"name"`
	Required    []string            `yaml:"required"`
	SlugFrom    string              `yaml:"slug_from,omitempty"`
	Unique      []string            `yaml:"unique,omitempty"`
	Properties  map[string]Property `yaml:"properties,omitempty"`
	Placeholder storefront.Fields   `yaml:"placeholder,omitempty"`
}

// Slugged reports whether entities of this kind carry a slug.
func (k *KindSpec) Slugged() bool {
	return k.SlugFrom != ""
}

// Condition is the predicate of a derived rule: Field's value is one of In.
type Condition struct {
	Field string `yaml:"field"`
	In    []any  `yaml:"in"`
}

// RuleSpec declares a derived-entity rule.
//
// Copy maps target fields to source fields; the source field "$id" stands
// for the source entity's ID. Set holds literal target values.
type RuleSpec struct {
	Name   string            `yaml:"name"`
	Source storefront.Kind   `yaml:"source"`
	When   Condition         `yaml:"when"`
	Target storefront.Kind   `yaml:"target"`
	Key    string            `yaml:"key"`
	Copy   map[string]string `yaml:"copy,omitempty"`
	Set    storefront.Fields `yaml:"set,omitempty"`
}

type document struct {
	Kinds []KindSpec `yaml:"kinds"`
	Rules []RuleSpec `yaml:"rules"`
}

// Catalog is an immutable set of kind specs with compiled schemas.
// It is safe for concurrent use.
type Catalog struct {
	kinds   map[storefront.Kind]*KindSpec
	schemas map[storefront.Kind]*jsonschema.Schema
	rules   []RuleSpec
}

// Default returns the built-in storefront catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return New(doc.Kinds, doc.Rules)
}

// New compiles a catalog from specs and rules.
func New(kinds []KindSpec, rules []RuleSpec) (*Catalog, error) {
	c := &Catalog{
		kinds:   make(map[storefront.Kind]*KindSpec, len(kinds)),
		schemas: make(map[storefront.Kind]*jsonschema.Schema, len(kinds)),
	}
	compiler := jsonschema.NewCompiler()
	for i := range kinds {
		spec := kinds[i]
		if spec.Name == "" {
			return nil, storefront.NewConfigErrorForField("kinds.name", "", "kind name is required")
		}
		if _, dup := c.kinds[spec.Name]; dup {
			return nil, storefront.NewConfigErrorForField("kinds.name", spec.Name, "duplicate kind")
		}
		doc, err := schemaDocument(&spec)
		if err != nil {
			return nil, err
		}
		url := strings.ToLower(spec.Name.String()) + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema for %s: %w", spec.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", spec.Name, err)
		}
		c.kinds[spec.Name] = &spec
		c.schemas[spec.Name] = schema
	}
	for _, rule := range rules {
		if err := c.checkRule(rule); err != nil {
			return nil, err
		}
	}
	c.rules = append([]RuleSpec(nil), rules...)
	return c, nil
}

func (c *Catalog) checkRule(rule RuleSpec) error {
	if rule.Name == "" {
		return storefront.NewConfigErrorForField("rules.name", "", "rule name is required")
	}
	if _, ok := c.kinds[rule.Source]; !ok {
		return storefront.NewConfigErrorForField("rules.source", rule.Source, "unknown source kind")
	}
	target, ok := c.kinds[rule.Target]
	if !ok {
		return storefront.NewConfigErrorForField("rules.target", rule.Target, "unknown target kind")
	}
	if rule.Key == "" || rule.When.Field == "" {
		return storefront.NewConfigErrorForField("rules.key", rule.Name, "rule needs a key and a when.field")
	}
	// The key must be a unique field of the target so the store can reject
	// duplicate derivations.
	if len(target.Unique) != 1 || target.Unique[0] != rule.Key {
		return storefront.NewConfigErrorForField("rules.key", rule.Key,
			fmt.Sprintf("key must be the sole unique field of %s", rule.Target))
	}
	return nil
}

// schemaDocument builds the JSON schema for a kind and decodes it the way
// the validator expects.
func schemaDocument(spec *KindSpec) (any, error) {
	props := make(map[string]any, len(spec.Properties))
	for name, p := range spec.Properties {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.MinLength != nil {
			prop["minLength"] = *p.MinLength
		}
		props[name] = prop
	}
	schema := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(spec.Required) > 0 {
		schema["required"] = spec.Required
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", spec.Name, err)
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// Spec returns the definition of kind.
func (c *Catalog) Spec(kind storefront.Kind) (*KindSpec, error) {
	spec, ok := c.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storefront.ErrUnknownKind, kind)
	}
	return spec, nil
}

// Kinds returns the catalog's kinds in sorted order.
func (c *Catalog) Kinds() []storefront.Kind {
	out := make([]storefront.Kind, 0, len(c.kinds))
	for k := range c.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rules returns the derived-entity rule specs.
func (c *Catalog) Rules() []RuleSpec {
	return append([]RuleSpec(nil), c.rules...)
}

// ValidateRequired checks the required-field set of kind. Missing, null and
// blank-string values are rejected with a ValidationError.
func (c *Catalog) ValidateRequired(kind storefront.Kind, fields storefront.Fields) error {
	spec, err := c.Spec(kind)
	if err != nil {
		return storefront.NewValidationErrorForField("kind", kind, err.Error())
	}
	for _, name := range spec.Required {
		v, ok := fields[name]
		if !ok || v == nil {
			return storefront.NewValidationErrorForField(name, nil, "required field is missing")
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return storefront.NewValidationErrorForField(name, v, "required field is blank")
		}
	}
	return nil
}

// ValidateSchema checks fields against the kind's JSON schema.
func (c *Catalog) ValidateSchema(kind storefront.Kind, fields storefront.Fields) error {
	schema, ok := c.schemas[kind]
	if !ok {
		return &storefront.SchemaError{Kind: kind, Message: "unknown kind", Err: storefront.ErrUnknownKind}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return &storefront.SchemaError{Kind: kind, Message: "fields are not JSON-encodable", Err: err}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &storefront.SchemaError{Kind: kind, Message: "fields are not valid JSON", Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return &storefront.SchemaError{Kind: kind, Message: err.Error(), Err: err}
	}
	return nil
}

// UniqueKey computes the value stored in the unique_key column: the kind's
// unique fields, trimmed, case-folded and joined with "|". It is "" for
// kinds without unique fields or when any unique field is absent.
func (c *Catalog) UniqueKey(kind storefront.Kind, fields storefront.Fields) string {
	spec, ok := c.kinds[kind]
	if !ok || len(spec.Unique) == 0 {
		return ""
	}
	parts := make([]string, 0, len(spec.Unique))
	for _, name := range spec.Unique {
		v, ok := fields[name]
		if !ok || v == nil {
			return ""
		}
		parts = append(parts, strings.ToLower(strings.TrimSpace(fmt.Sprint(v))))
	}
	return strings.Join(parts, "|")
}

// Placeholder returns the placeholder template of kind, or nil.
func (c *Catalog) Placeholder(kind storefront.Kind) storefront.Fields {
	spec, ok := c.kinds[kind]
	if !ok || spec.Placeholder == nil {
		return nil
	}
	return spec.Placeholder.Clone()
}
