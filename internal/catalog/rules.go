package catalog

import (
	"fmt"
	"math"
	"strings"

	"metaui/internal/util/jsonutil"
)

// ChildTemplate is the {componentId, path} form of a children prop.
type ChildTemplate struct {
	ComponentID string
	Path        string
}

// Children reads a children prop as either an id list or a template.
func Children(v any) ([]string, *ChildTemplate, bool) {
	switch c := v.(type) {
	case []any:
		ids := make([]string, 0, len(c))
		for _, item := range c {
			id, ok := item.(string)
			if !ok || strings.TrimSpace(id) == "" {
				return nil, nil, false
			}
			ids = append(ids, strings.TrimSpace(id))
		}
		return ids, nil, true
	case []string:
		return c, nil, true
	case map[string]any:
		id, _ := c["componentId"].(string)
		path, _ := c["path"].(string)
		if strings.TrimSpace(id) == "" || strings.TrimSpace(path) == "" {
			return nil, nil, false
		}
		return nil, &ChildTemplate{ComponentID: strings.TrimSpace(id), Path: strings.TrimSpace(path)}, true
	}
	return nil, nil, false
}

// References lists every component id a component's props point at.
func References(c Component) []string {
	var out []string
	if ids, tmpl, ok := Children(c.Props["children"]); ok {
		out = append(out, ids...)
		if tmpl != nil {
			out = append(out, tmpl.ComponentID)
		}
	}
	for _, key := range []string{"child", "trigger", "content"} {
		if id, ok := c.Props[key].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	if tabs, ok := c.Props["tabs"].([]any); ok {
		for _, t := range tabs {
			if tab, ok := t.(map[string]any); ok {
				if id, ok := tab["child"].(string); ok && id != "" {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// IsDescriptor reports whether a prop value is a structured descriptor
// rather than a literal.
func IsDescriptor(v any) bool {
	return jsonutil.IsMapping(v)
}

func checkStructure(c *Component) error {
	fail := func(field, format string, args ...any) error {
		return &ValidationError{ComponentID: c.ID, Type: c.Type, Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if raw, ok := c.Props["children"]; ok {
		if _, _, ok := Children(raw); !ok {
			return fail("children", "must be a list of component ids or {componentId, path}")
		}
	}
	for _, key := range []string{"child", "trigger", "content"} {
		if raw, ok := c.Props[key]; ok {
			if id, _ := raw.(string); strings.TrimSpace(id) == "" {
				return fail(key, "must be a single component id")
			}
		}
	}
	if err := checkSelfReference(c); err != nil {
		return err
	}
	if raw, ok := c.Props["checks"]; ok {
		if err := checkChecks(c, raw); err != nil {
			return err
		}
	}

	switch c.Type {
	case "Tabs":
		tabs, _ := c.Props["tabs"].([]any)
		if len(tabs) == 0 {
			return fail("tabs", "must be a non-empty list of {title, child}")
		}
	case "ChoicePicker":
		return normalizeChoicePicker(c)
	case "Slider":
		return normalizeSlider(c)
	case "Button":
		return checkAction(c, c.Props["action"])
	}
	return nil
}

func checkSelfReference(c *Component) error {
	for _, ref := range References(*c) {
		if ref == c.ID {
			return &ValidationError{ComponentID: c.ID, Type: c.Type, Message: "component references itself"}
		}
	}
	return nil
}

func checkChecks(c *Component, raw any) error {
	list, _ := raw.([]any)
	for i, item := range list {
		rule, _ := item.(map[string]any)
		call, _ := rule["call"].(string)
		owner := fmt.Sprintf("checks[%d]", i)
		fn, ok := LookupFunction(call)
		if ok && fn.Returns != "boolean" {
			return &ValidationError{ComponentID: c.ID, Type: c.Type, Field: owner, Message: fmt.Sprintf("check function %q must return boolean", call)}
		}
		if err := ValidateCall(owner, call, rule["args"]); err != nil {
			return &ValidationError{ComponentID: c.ID, Type: c.Type, Field: owner, Message: err.Error()}
		}
	}
	return nil
}

// checkAction enforces exactly one of event and functionCall.
func checkAction(c *Component, raw any) error {
	fail := func(msg string) error {
		return &ValidationError{ComponentID: c.ID, Type: c.Type, Field: "action", Message: msg}
	}
	action, ok := raw.(map[string]any)
	if !ok {
		return fail("must be an object")
	}
	event, hasEvent := action["event"]
	call, hasCall := action["functionCall"]
	if hasEvent == hasCall {
		return fail("requires exactly one of event or functionCall")
	}
	if hasEvent {
		ev, _ := event.(map[string]any)
		if name, _ := ev["name"].(string); strings.TrimSpace(name) == "" {
			return fail("event.name is required")
		}
		return nil
	}
	fc, _ := call.(map[string]any)
	name, _ := fc["call"].(string)
	if err := ValidateCall("action.functionCall", name, fc["args"]); err != nil {
		return fail(err.Error())
	}
	return nil
}

// ParseAction reads a validated action prop.
func ParseAction(raw any) (event map[string]any, call map[string]any, ok bool) {
	action, isMap := raw.(map[string]any)
	if !isMap {
		return nil, nil, false
	}
	if ev, isMap := action["event"].(map[string]any); isMap {
		return ev, nil, true
	}
	if fc, isMap := action["functionCall"].(map[string]any); isMap {
		return nil, fc, true
	}
	return nil, nil, false
}

func normalizeChoicePicker(c *Component) error {
	fail := func(field, msg string) error {
		return &ValidationError{ComponentID: c.ID, Type: c.Type, Field: field, Message: msg}
	}
	options, _ := c.Props["options"].([]any)
	if len(options) == 0 {
		return fail("options", "must be a non-empty list of {label, value}")
	}
	for i, raw := range options {
		opt, ok := raw.(map[string]any)
		if !ok {
			return fail(fmt.Sprintf("options[%d]", i), "must be {label, value}")
		}
		if _, ok := opt["label"]; !ok {
			return fail(fmt.Sprintf("options[%d].label", i), "is required")
		}
		if _, ok := opt["value"]; !ok {
			return fail(fmt.Sprintf("options[%d].value", i), "is required")
		}
	}
	variant, _ := c.Props["variant"].(string)
	if variant == "" {
		variant = VariantMutuallyExclusive
		c.Props["variant"] = variant
	}
	c.Props["value"] = NormalizeChoice(variant, c.Props["value"])
	return nil
}

// NormalizeChoice shapes a selection to its variant: multipleSelection
// wraps a scalar as [x]; mutuallyExclusive takes the first list element.
// Descriptors pass through.
func NormalizeChoice(variant string, value any) any {
	if IsDescriptor(value) {
		return value
	}
	list, isList := value.([]any)
	switch variant {
	case VariantMultipleSelection:
		if isList {
			return list
		}
		if value == nil {
			return []any{}
		}
		return []any{value}
	default:
		if isList {
			if len(list) == 0 {
				return nil
			}
			return list[0]
		}
		return value
	}
}

func normalizeSlider(c *Component) error {
	fail := func(field, msg string) error {
		return &ValidationError{ComponentID: c.ID, Type: c.Type, Field: field, Message: msg}
	}
	lo, ok := jsonutil.Finite(c.Props["min"])
	if !ok {
		return fail("min", "must be a finite number")
	}
	hi, ok := jsonutil.Finite(c.Props["max"])
	if !ok {
		return fail("max", "must be a finite number")
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	c.Props["min"], c.Props["max"] = lo, hi
	if IsDescriptor(c.Props["value"]) {
		return nil
	}
	v, ok := jsonutil.Finite(c.Props["value"])
	if !ok {
		return fail("value", "must be a finite number or a binding")
	}
	c.Props["value"] = ClampSlider(lo, hi, v)
	return nil
}

// ClampSlider clamps v into [lo, hi].
func ClampSlider(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
