package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// FunctionKind groups named functions by effect.
type FunctionKind string

const (
	KindValidation FunctionKind = "validation"
	KindFormat     FunctionKind = "format"
	KindLogic      FunctionKind = "logic"
	KindState      FunctionKind = "state"
	KindNavigation FunctionKind = "navigation"
	KindSequence   FunctionKind = "sequence"
)

// Function describes one callable name: its kind, return type and the
// argument keys it accepts.
type Function struct {
	Name    string
	Kind    FunctionKind
	Returns string
	Args    []string
}

// Local reports whether a call only has local effects (state writes or
// navigation) and therefore never produces an outbound event.
func (f Function) Local() bool {
	return f.Kind == KindState || f.Kind == KindNavigation || f.Kind == KindSequence
}

var functionTable = []Function{
	{Name: "required", Kind: KindValidation, Returns: "boolean", Args: []string{"value"}},
	{Name: "regex", Kind: KindValidation, Returns: "boolean", Args: []string{"value", "pattern"}},
	{Name: "length", Kind: KindValidation, Returns: "boolean", Args: []string{"value", "min", "max", "eq"}},
	{Name: "numeric", Kind: KindValidation, Returns: "boolean", Args: []string{"value", "min", "max"}},
	{Name: "email", Kind: KindValidation, Returns: "boolean", Args: []string{"value"}},
	{Name: "formatString", Kind: KindFormat, Returns: "string", Args: []string{"value"}},
	{Name: "formatNumber", Kind: KindFormat, Returns: "string", Args: []string{"value", "decimals", "grouping", "locale"}},
	{Name: "formatCurrency", Kind: KindFormat, Returns: "string", Args: []string{"value", "currency", "decimals", "grouping", "locale"}},
	{Name: "formatDate", Kind: KindFormat, Returns: "string", Args: []string{"value", "format"}},
	{Name: "pluralize", Kind: KindFormat, Returns: "string", Args: []string{"value", "zero", "one", "two", "few", "many", "other", "locale"}},
	{Name: "and", Kind: KindLogic, Returns: "boolean", Args: []string{"values"}},
	{Name: "or", Kind: KindLogic, Returns: "boolean", Args: []string{"values"}},
	{Name: "not", Kind: KindLogic, Returns: "boolean", Args: []string{"value"}},
	{Name: "openUrl", Kind: KindNavigation, Returns: "void", Args: []string{"url"}},
	{Name: "setState", Kind: KindState, Returns: "void", Args: []string{"path", "value"}},
	{Name: "deleteState", Kind: KindState, Returns: "void", Args: []string{"path"}},
	{Name: "appendState", Kind: KindState, Returns: "void", Args: []string{"path", "value"}},
	{Name: "prependState", Kind: KindState, Returns: "void", Args: []string{"path", "value"}},
	{Name: "mergeState", Kind: KindState, Returns: "void", Args: []string{"path", "value"}},
	{Name: "runSequence", Kind: KindSequence, Returns: "void", Args: []string{"steps"}},
}

var functionsByName = func() map[string]Function {
	out := make(map[string]Function, len(functionTable))
	for _, f := range functionTable {
		out[f.Name] = f
	}
	return out
}()

// LookupFunction returns the definition of a named function.
func LookupFunction(name string) (Function, bool) {
	f, ok := functionsByName[strings.TrimSpace(name)]
	return f, ok
}

// FunctionNames returns every known function name, sorted.
func FunctionNames() []string {
	out := make([]string, 0, len(functionTable))
	for _, f := range functionTable {
		out = append(out, f.Name)
	}
	sort.Strings(out)
	return out
}

// ValidateCall checks a function call's name and argument keys. owner names
// the field being validated and prefixes every message.
func ValidateCall(owner, call string, args any) error {
	name := strings.TrimSpace(call)
	if name == "" {
		return fmt.Errorf("%s.call is required", owner)
	}
	fn, ok := functionsByName[name]
	if !ok {
		return fmt.Errorf("%s.call has unsupported function %q (allowed: %s)", owner, name, strings.Join(FunctionNames(), ", "))
	}
	if args == nil {
		args = map[string]any{}
	}
	argMap, ok := args.(map[string]any)
	if !ok {
		return fmt.Errorf("%s.args must be an object", owner)
	}

	allowed := make(map[string]struct{}, len(fn.Args))
	for _, a := range fn.Args {
		allowed[a] = struct{}{}
	}
	var unknown []string
	for k := range argMap {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%s.args has unsupported keys for %q: %v (allowed: %v)", owner, name, unknown, fn.Args)
	}

	has := func(k string) bool { _, ok := argMap[k]; return ok }
	switch name {
	case "required", "email", "formatString", "formatNumber", "formatDate", "pluralize", "not":
		if !has("value") {
			return fmt.Errorf("%s.args.value is required for %q", owner, name)
		}
	case "regex":
		if !has("value") || !has("pattern") {
			return fmt.Errorf("%s.args must include value and pattern for \"regex\"", owner)
		}
	case "length", "numeric":
		if !has("value") {
			return fmt.Errorf("%s.args.value is required for %q", owner, name)
		}
		if !has("min") && !has("max") && !has("eq") {
			return fmt.Errorf("%s.args must include at least one bound for %q", owner, name)
		}
	case "formatCurrency":
		if !has("value") || !has("currency") {
			return fmt.Errorf("%s.args must include value and currency for \"formatCurrency\"", owner)
		}
	case "openUrl":
		if !has("url") {
			return fmt.Errorf("%s.args.url is required for \"openUrl\"", owner)
		}
	case "and", "or":
		values, ok := argMap["values"].([]any)
		if !ok || len(values) < 2 {
			return fmt.Errorf("%s.args.values must be a list with at least 2 entries for %q", owner, name)
		}
	case "setState", "appendState", "prependState", "mergeState":
		if !has("path") || !has("value") {
			return fmt.Errorf("%s.args must include path and value for %q", owner, name)
		}
	case "deleteState":
		if !has("path") {
			return fmt.Errorf("%s.args.path is required for \"deleteState\"", owner)
		}
	case "runSequence":
		return validateSteps(owner, argMap["steps"])
	}
	if name == "formatDate" && !has("format") {
		return fmt.Errorf("%s.args.format is required for \"formatDate\"", owner)
	}
	if name == "pluralize" && !has("other") {
		return fmt.Errorf("%s.args.other is required for \"pluralize\"", owner)
	}
	return nil
}

// Nested runSequence steps are accepted here and skipped when executed.
func validateSteps(owner string, raw any) error {
	steps, ok := raw.([]any)
	if !ok || len(steps) == 0 {
		return fmt.Errorf("%s.args.steps must be a non-empty list for \"runSequence\"", owner)
	}
	for i, rawStep := range steps {
		stepOwner := fmt.Sprintf("%s.args.steps[%d]", owner, i)
		step, ok := rawStep.(map[string]any)
		if !ok {
			return fmt.Errorf("%s must be an object with call and args", stepOwner)
		}
		call, _ := step["call"].(string)
		fn, ok := functionsByName[strings.TrimSpace(call)]
		if !ok {
			return fmt.Errorf("%s.call %q is not a known function", stepOwner, call)
		}
		if !fn.Local() {
			return fmt.Errorf("%s.call %q is not allowed in \"runSequence\"", stepOwner, call)
		}
		if fn.Kind == KindSequence {
			continue
		}
		if err := ValidateCall(stepOwner, call, step["args"]); err != nil {
			return err
		}
	}
	return nil
}
