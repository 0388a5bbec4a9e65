// Package catalog is the closed set of component types a surface may use,
// with per-type prop schemas and structural rules.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"metaui/internal/protocol"
	"metaui/internal/util/jsonutil"
)

const (
	StandardCatalogID = "https://a2ui.org/specification/v0_10/standard_catalog.json"
	CatalogVersion    = "v0.10"
)

// Component is a validated, normalised component record.
type Component struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"props"`
}

// ValidationError identifies the component, type and field that failed.
type ValidationError struct {
	ComponentID string
	Type        string
	Field       string
	Message     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid component")
	if e.ComponentID != "" {
		fmt.Fprintf(&b, " %q", e.ComponentID)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

type typeDef struct {
	def     Definition
	allowed map[string]struct{}
	schema  *jsonschema.Schema
}

// Catalog validates raw component entries.
type Catalog struct {
	id      string
	version string
	types   map[string]*typeDef
}

// New compiles a catalog from definitions.
func New(id, version string, defs []Definition) (*Catalog, error) {
	c := &Catalog{id: id, version: version, types: make(map[string]*typeDef, len(defs))}
	for _, d := range defs {
		td := &typeDef{def: d, allowed: make(map[string]struct{}, len(d.Props)+len(commonPropNames))}
		for k := range d.Props {
			td.allowed[k] = struct{}{}
		}
		for _, k := range commonPropNames {
			td.allowed[k] = struct{}{}
		}
		schema, err := compileSchema(d)
		if err != nil {
			return nil, err
		}
		td.schema = schema
		c.types[d.Type] = td
	}
	return c, nil
}

func compileSchema(d Definition) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(d.schemaDocument())
	if err != nil {
		return nil, fmt.Errorf("catalog schema %s: %w", d.Type, err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://metaui.schemas.local/catalog/%s.schema.json", d.Type)
	if err := c.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("catalog schema load failed for %s: %w", d.Type, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("catalog schema compile failed for %s: %w", d.Type, err)
	}
	return compiled, nil
}

// Standard returns the built-in v0.10 catalog.
func Standard() *Catalog {
	c, err := New(StandardCatalogID, CatalogVersion, standardDefinitions())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) ID() string      { return c.id }
func (c *Catalog) Version() string { return c.version }

// Types returns the component type names, sorted.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Has reports whether typ is in the catalog.
func (c *Catalog) Has(typ string) bool {
	_, ok := c.types[typ]
	return ok
}

// Snapshot describes the catalog for handshake frames.
func (c *Catalog) Snapshot() protocol.CatalogSnapshot {
	return protocol.CatalogSnapshot{CatalogID: c.id, Version: c.version, ComponentTypes: c.Types()}
}

// Validate resolves an entry's type, checks its props against the allow-list,
// schema and structural rules, and returns the normalised component.
func (c *Catalog) Validate(entry protocol.ComponentEntry) (Component, error) {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return Component{}, &ValidationError{Field: "id", Message: "component id is required"}
	}
	typ, inline, err := splitComponent(entry.Component)
	if err != nil {
		return Component{}, &ValidationError{ComponentID: id, Field: "component", Message: err.Error()}
	}
	td, ok := c.types[typ]
	if !ok {
		return Component{}, &ValidationError{
			ComponentID: id,
			Type:        typ,
			Field:       "component",
			Message:     fmt.Sprintf("unknown component type %q (allowed: %s)", typ, strings.Join(c.Types(), ", ")),
		}
	}

	props := make(map[string]any, len(inline)+len(entry.Props))
	for k, v := range inline {
		props[k] = v
	}
	for k, v := range entry.Props {
		props[k] = v
	}
	for _, k := range sortedKeys(props) {
		if _, ok := td.allowed[k]; !ok {
			return Component{}, &ValidationError{ComponentID: id, Type: typ, Field: k, Message: "prop is not allowed for this component type"}
		}
	}

	normalized, err := jsonutil.Normalize(props)
	if err != nil {
		return Component{}, &ValidationError{ComponentID: id, Type: typ, Message: fmt.Sprintf("props are not JSON: %v", err)}
	}
	props, _ = normalized.(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	if err := td.schema.Validate(props); err != nil {
		return Component{}, &ValidationError{ComponentID: id, Type: typ, Field: schemaField(err), Message: schemaMessage(err)}
	}

	comp := Component{ID: id, Type: typ, Props: props}
	if err := checkStructure(&comp); err != nil {
		return Component{}, err
	}
	return comp, nil
}

// ValidateBatch validates every entry; the first failure rejects the batch.
// Duplicate ids within one batch are rejected.
func (c *Catalog) ValidateBatch(entries []protocol.ComponentEntry) ([]Component, error) {
	out := make([]Component, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		comp, err := c.Validate(entry)
		if err != nil {
			return nil, fmt.Errorf("components[%d]: %w", i, err)
		}
		if _, dup := seen[comp.ID]; dup {
			return nil, fmt.Errorf("components[%d]: %w", i, &ValidationError{ComponentID: comp.ID, Type: comp.Type, Field: "id", Message: "duplicate component id in batch"})
		}
		seen[comp.ID] = struct{}{}
		out = append(out, comp)
	}
	return out, nil
}

// splitComponent accepts "Type" or {"Type": {...props}}.
func splitComponent(raw any) (string, map[string]any, error) {
	switch v := raw.(type) {
	case string:
		typ := strings.TrimSpace(v)
		if typ == "" {
			return "", nil, fmt.Errorf("component type is required")
		}
		return typ, nil, nil
	case map[string]any:
		if len(v) != 1 {
			return "", nil, fmt.Errorf("inline component must have exactly one type key, got %d", len(v))
		}
		for typ, body := range v {
			if body == nil {
				return typ, nil, nil
			}
			props, ok := body.(map[string]any)
			if !ok {
				return "", nil, fmt.Errorf("inline props for %s must be an object", typ)
			}
			return typ, props, nil
		}
	case nil:
		return "", nil, fmt.Errorf("component type is required")
	}
	return "", nil, fmt.Errorf("component must be a type name or {Type: props}, got %T", raw)
}

func schemaField(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return ""
	}
	leaf := deepestCause(ve)
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return ""
	}
	return strings.ReplaceAll(loc, "/", ".")
}

func schemaMessage(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	return deepestCause(ve).Message
}

func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
