package surface

import (
	"fmt"
	"sort"

	"metaui/internal/catalog"
	"metaui/internal/expr"
	"metaui/internal/functions"
	"metaui/internal/util/jsonutil"
)

// Node is one render-ready component instance. Props are resolved; the
// action prop is left unresolved for the dispatcher.
type Node struct {
	ID       string
	Type     string
	Props    map[string]any
	Children []*Node
	Item     any
	HasItem  bool
	Index    int
	// Invalid lists the messages of failed checks.
	Invalid []string
}

// RenderSpec is a derived, render-ready surface.
type RenderSpec struct {
	SurfaceID    string
	RootID       string
	RootFallback bool
	Theme        map[string]any
	Root         *Node
}

var structuralProps = map[string]struct{}{
	"children": {},
	"child":    {},
	"trigger":  {},
	"content":  {},
	"action":   {},
	"checks":   {},
	"tabs":     {},
	"options":  {},
}

// Derive resolves a surface into a render tree. Missing references and
// cycles are errors; nothing is skipped silently.
func Derive(s *Surface, r *expr.Resolver, base expr.Scope) (*RenderSpec, error) {
	if s == nil {
		return nil, lifecycleErr("surface is nil")
	}
	if s.RootID == "" {
		return nil, lifecycleErr("surface %q has no root", s.ID)
	}
	if _, ok := s.Components[s.RootID]; !ok {
		return nil, lifecycleErr("surface %q root %q does not exist", s.ID, s.RootID)
	}
	base.State = s.Model.View()
	d := &deriver{surface: s, resolver: r}
	root, err := d.build(s.RootID, &base, nil)
	if err != nil {
		return nil, err
	}
	return &RenderSpec{
		SurfaceID:    s.ID,
		RootID:       s.RootID,
		RootFallback: s.RootFallback,
		Theme:        jsonutil.CloneMap(s.Theme),
		Root:         root,
	}, nil
}

type deriver struct {
	surface  *Surface
	resolver *expr.Resolver
}

// ComponentScope is the scope a component's props resolve in.
func ComponentScope(base *expr.Scope, c catalog.Component) *expr.Scope {
	out := *base
	out.Component = map[string]any{"id": c.ID, "type": c.Type}
	return &out
}

func (d *deriver) build(id string, scope *expr.Scope, stack []string) (*Node, error) {
	for _, seen := range stack {
		if seen == id {
			return nil, lifecycleErr("surface %q has a component cycle through %q", d.surface.ID, id)
		}
	}
	comp, ok := d.surface.Components[id]
	if !ok {
		parent := ""
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		return nil, lifecycleErr("component %q references missing component %q", parent, id)
	}
	stack = append(stack, id)
	cs := ComponentScope(scope, comp)

	node := &Node{ID: comp.ID, Type: comp.Type, Props: make(map[string]any, len(comp.Props)), Item: scope.Item, HasItem: scope.HasItem, Index: scope.Index}
	for _, k := range sortedPropKeys(comp.Props) {
		if _, structural := structuralProps[k]; structural {
			continue
		}
		node.Props[k] = d.resolver.Resolve(cs, comp.Props[k])
	}
	if action, ok := comp.Props["action"]; ok {
		node.Props["action"] = action
	}

	switch comp.Type {
	case "ChoicePicker":
		node.Props["options"] = d.options(cs, comp.Props["options"])
		variant, _ := node.Props["variant"].(string)
		node.Props["value"] = catalog.NormalizeChoice(variant, node.Props["value"])
	case "Slider":
		lo, _ := jsonutil.Finite(node.Props["min"])
		hi, _ := jsonutil.Finite(node.Props["max"])
		if lo > hi {
			lo, hi = hi, lo
		}
		if v, ok := jsonutil.Finite(node.Props["value"]); ok {
			node.Props["value"] = catalog.ClampSlider(lo, hi, v)
		}
	case "Tabs":
		titles, err := d.tabs(node, cs, comp.Props["tabs"], stack)
		if err != nil {
			return nil, err
		}
		node.Props["tabs"] = titles
	}

	if raw, ok := comp.Props["children"]; ok {
		if err := d.children(node, scope, raw, stack); err != nil {
			return nil, err
		}
	}
	for _, key := range []string{"child", "trigger", "content"} {
		ref, ok := comp.Props[key].(string)
		if !ok {
			continue
		}
		child, err := d.build(ref, scope, stack)
		if err != nil {
			return nil, err
		}
		node.Props[key] = ref
		node.Children = append(node.Children, child)
	}
	if raw, ok := comp.Props["checks"].([]any); ok {
		node.Invalid = d.checks(cs, raw)
	}
	return node, nil
}

func (d *deriver) children(node *Node, scope *expr.Scope, raw any, stack []string) error {
	ids, tmpl, ok := catalog.Children(raw)
	if !ok {
		return lifecycleErr("component %q has malformed children", node.ID)
	}
	if tmpl == nil {
		for _, id := range ids {
			child, err := d.build(id, scope, stack)
			if err != nil {
				return err
			}
			node.Children = append(node.Children, child)
		}
		return nil
	}
	items, _ := d.resolver.Resolve(scope, map[string]any{"path": tmpl.Path}).([]any)
	for i, item := range items {
		child, err := d.build(tmpl.ComponentID, scope.WithItem(item, i), stack)
		if err != nil {
			return err
		}
		node.Children = append(node.Children, child)
	}
	return nil
}

func (d *deriver) tabs(node *Node, scope *expr.Scope, raw any, stack []string) ([]any, error) {
	list, _ := raw.([]any)
	titles := make([]any, 0, len(list))
	for _, t := range list {
		tab, _ := t.(map[string]any)
		ref, _ := tab["child"].(string)
		child, err := d.build(ref, scope, stack)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
		titles = append(titles, map[string]any{
			"title": d.resolver.Resolve(scope, tab["title"]),
			"child": ref,
		})
	}
	return titles, nil
}

func (d *deriver) options(scope *expr.Scope, raw any) []any {
	list, _ := raw.([]any)
	out := make([]any, 0, len(list))
	for _, o := range list {
		opt, _ := o.(map[string]any)
		out = append(out, map[string]any{
			"label": d.resolver.Resolve(scope, opt["label"]),
			"value": d.resolver.Resolve(scope, opt["value"]),
		})
	}
	return out
}

func (d *deriver) checks(scope *expr.Scope, rules []any) []string {
	var failedChecks []string
	for i, r := range rules {
		rule, _ := r.(map[string]any)
		call, _ := rule["call"].(string)
		ok := d.resolver.Resolve(scope, map[string]any{"call": call, "args": rule["args"]})
		if functions.Truthy(ok) {
			continue
		}
		msg := jsonutil.Stringify(d.resolver.Resolve(scope, rule["message"]))
		if msg == "" {
			msg = fmt.Sprintf("check %d (%s) failed", i, call)
		}
		failedChecks = append(failedChecks, msg)
	}
	return failedChecks
}

func sortedPropKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
