// Package expr parses prop value descriptors into an explicit node tree and
// resolves them against a render scope.
package expr

import (
	"regexp"
	"strings"
)

// Node is one parsed descriptor.
type Node interface {
	isNode()
}

// Literal is a concrete value used as-is.
type Literal struct {
	Value any
}

// PathRef reads a value by path, falling back to Default when the path does
// not resolve or resolves to null.
type PathRef struct {
	Path       string
	Default    any
	HasDefault bool
}

// Call invokes a named function. Raw keeps the unparsed args for functions
// that resolve their own arguments.
type Call struct {
	Name string
	Args Node
	Raw  map[string]any
}

// Placeholder is a string that is exactly one ${token} or {{token}}; it
// resolves to the token's native value.
type Placeholder struct {
	Token string
}

// Template is a string mixing text and placeholders; it always resolves to a
// string.
type Template struct {
	Parts []Part
}

// Part is literal text or a token reference inside a Template.
type Part struct {
	Text    string
	Token   string
	IsToken bool
}

// Object resolves every field.
type Object struct {
	Fields map[string]Node
}

// List resolves every item.
type List struct {
	Items []Node
}

func (Literal) isNode()     {}
func (PathRef) isNode()     {}
func (Call) isNode()        {}
func (Placeholder) isNode() {}
func (Template) isNode()    {}
func (Object) isNode()      {}
func (List) isNode()        {}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}|\{\{([^}]+)\}\}`)

var literalKeys = map[string]struct{}{
	"literal":        {},
	"literalString":  {},
	"literalNumber":  {},
	"literalBoolean": {},
	"literalArray":   {},
	"literalObject":  {},
}

// Parse turns a raw prop value into a Node. Mapping shapes are matched in
// order: literal wrapper, path reference, legacy $state/$ref, call+args,
// functionCall; any other mapping is a plain Object.
func Parse(v any) Node {
	switch x := v.(type) {
	case string:
		return parseString(x)
	case []any:
		items := make([]Node, 0, len(x))
		for _, item := range x {
			items = append(items, Parse(item))
		}
		return List{Items: items}
	case map[string]any:
		return parseMap(x)
	default:
		return Literal{Value: v}
	}
}

func parseString(s string) Node {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return Literal{Value: s}
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		return Placeholder{Token: tokenAt(s, matches[0])}
	}
	var parts []Part
	last := 0
	for _, m := range matches {
		if m[0] > last {
			parts = append(parts, Part{Text: s[last:m[0]]})
		}
		parts = append(parts, Part{Token: tokenAt(s, m), IsToken: true})
		last = m[1]
	}
	if last < len(s) {
		parts = append(parts, Part{Text: s[last:]})
	}
	return Template{Parts: parts}
}

func tokenAt(s string, m []int) string {
	if m[2] >= 0 {
		return strings.TrimSpace(s[m[2]:m[3]])
	}
	return strings.TrimSpace(s[m[4]:m[5]])
}

func parseMap(m map[string]any) Node {
	if len(m) == 1 {
		for k, v := range m {
			if _, ok := literalKeys[k]; ok {
				return Literal{Value: v}
			}
		}
	}

	if path, ok := m["path"].(string); ok && keysWithin(m, "path", "default", "fallback") {
		ref := PathRef{Path: path}
		if d, ok := m["default"]; ok {
			ref.Default, ref.HasDefault = d, true
		} else if d, ok := m["fallback"]; ok {
			ref.Default, ref.HasDefault = d, true
		}
		return ref
	}

	for _, alias := range []string{"$state", "$ref"} {
		if path, ok := m[alias].(string); ok && keysWithin(m, alias, "default") {
			ref := PathRef{Path: path}
			if d, ok := m["default"]; ok {
				ref.Default, ref.HasDefault = d, true
			}
			return ref
		}
	}

	if name, ok := m["call"].(string); ok && keysWithin(m, "call", "args", "returnType") {
		return newCall(name, m["args"])
	}

	if fc, ok := m["functionCall"].(map[string]any); ok && len(m) == 1 {
		if name, ok := fc["call"].(string); ok {
			return newCall(name, fc["args"])
		}
	}

	fields := make(map[string]Node, len(m))
	for k, v := range m {
		fields[k] = Parse(v)
	}
	return Object{Fields: fields}
}

func newCall(name string, args any) Call {
	raw, _ := args.(map[string]any)
	if raw == nil {
		raw = map[string]any{}
	}
	return Call{Name: strings.TrimSpace(name), Args: Parse(raw), Raw: raw}
}

func keysWithin(m map[string]any, allowed ...string) bool {
	for k := range m {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
