package functions

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"metaui/internal/expr"
	"metaui/internal/util/jsonutil"
)

const (
	maxPatternBytes = 512
	maxRegexInput   = 2048
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Truthy follows loose JSON truthiness: nil, false, 0, NaN and empty
// strings, lists and mappings are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	if f, ok := jsonutil.Number(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func fnRequired(_ *binding, _ expr.CallContext, args map[string]any) any {
	switch x := args["value"].(type) {
	case string:
		return strings.TrimSpace(x) != ""
	default:
		return Truthy(x)
	}
}

func fnEmail(_ *binding, _ expr.CallContext, args map[string]any) any {
	s, ok := args["value"].(string)
	return ok && emailPattern.MatchString(strings.TrimSpace(s))
}

func fnRegex(_ *binding, _ expr.CallContext, args map[string]any) any {
	pattern, ok := args["pattern"].(string)
	if !ok || len(pattern) > maxPatternBytes {
		return false
	}
	value := jsonutil.Stringify(args["value"])
	if len(value) > maxRegexInput {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func size(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return utf8.RuneCountInString(x), true
	case []any:
		return len(x), true
	case map[string]any:
		return len(x), true
	}
	return 0, false
}

func fnLength(_ *binding, _ expr.CallContext, args map[string]any) any {
	n, ok := size(args["value"])
	if !ok {
		return false
	}
	return withinBounds(float64(n), args)
}

func fnNumeric(_ *binding, _ expr.CallContext, args map[string]any) any {
	v, ok := jsonutil.Finite(args["value"])
	if !ok {
		return false
	}
	return withinBounds(v, args)
}

func withinBounds(v float64, args map[string]any) bool {
	if eq, ok := jsonutil.Finite(args["eq"]); ok && v != eq {
		return false
	}
	if lo, ok := jsonutil.Finite(args["min"]); ok && v < lo {
		return false
	}
	if hi, ok := jsonutil.Finite(args["max"]); ok && v > hi {
		return false
	}
	return true
}

func fnAnd(_ *binding, _ expr.CallContext, args map[string]any) any {
	values, ok := args["values"].([]any)
	if !ok || len(values) < 2 {
		return false
	}
	for _, v := range values {
		if !Truthy(v) {
			return false
		}
	}
	return true
}

func fnOr(_ *binding, _ expr.CallContext, args map[string]any) any {
	values, ok := args["values"].([]any)
	if !ok || len(values) < 2 {
		return false
	}
	for _, v := range values {
		if Truthy(v) {
			return true
		}
	}
	return false
}

func fnNot(_ *binding, _ expr.CallContext, args map[string]any) any {
	return !Truthy(args["value"])
}
