package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Limits applied by Sanitize.
const (
	MaxPayloadDepth = 8
	MaxListItems    = 64
	MaxTextChars    = 4000
)

var redactedKeys = map[string]struct{}{
	"content_base64": {},
	"base64":         {},
	"data_base64":    {},
	"binary":         {},
	"bytes":          {},
	"blob":           {},
	"arraybuffer":    {},
}

// Sanitize bounds an interaction payload before it leaves the runtime:
// binary-looking fields are redacted and deep, long or wide values are
// truncated.
func Sanitize(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if depth >= MaxPayloadDepth {
		return "<truncated_depth>"
	}
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			if _, redact := redactedKeys[strings.ToLower(strings.TrimSpace(k))]; redact {
				if s, ok := item.(string); ok {
					out[k] = fmt.Sprintf("<redacted:%d chars>", len(s))
				} else {
					out[k] = "<redacted>"
				}
				continue
			}
			out[k] = sanitize(item, depth+1)
		}
		return out
	case []any:
		n := len(x)
		if n > MaxListItems {
			n = MaxListItems
		}
		out := make([]any, 0, n+1)
		for _, item := range x[:n] {
			out = append(out, sanitize(item, depth+1))
		}
		if overflow := len(x) - n; overflow > 0 {
			out = append(out, map[string]any{"_truncated_items": overflow})
		}
		return out
	case string:
		if utf8.RuneCountInString(x) <= MaxTextChars {
			return x
		}
		return string([]rune(x)[:MaxTextChars]) + "...<truncated>"
	default:
		return v
	}
}
