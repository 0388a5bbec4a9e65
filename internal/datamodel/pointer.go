package datamodel

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePointer splits a slash-delimited pointer into unescaped segments.
// "" and "/" address the document root and yield no segments.
func ParsePointer(path string) ([]string, error) {
	text := strings.TrimSpace(path)
	if text == "" || text == "/" {
		return nil, nil
	}
	if !strings.HasPrefix(text, "/") {
		return nil, fmt.Errorf("pointer must start with '/': %q", path)
	}
	parts := strings.Split(text[1:], "/")
	for i, p := range parts {
		parts[i] = decodeToken(p)
	}
	return parts, nil
}

// FormatPointer is the inverse of ParsePointer.
func FormatPointer(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(encodeToken(s))
	}
	return b.String()
}

// DottedToPointer converts a legacy dotted path ("a.b.c") into a pointer.
// Pointers pass through unchanged.
func DottedToPointer(path string) string {
	text := strings.TrimSpace(path)
	if strings.HasPrefix(text, "/") {
		return text
	}
	var segs []string
	for _, tok := range strings.Split(text, ".") {
		if tok = strings.TrimSpace(tok); tok != "" {
			segs = append(segs, tok)
		}
	}
	return FormatPointer(segs)
}

// PointerToDotted converts a pointer into the dotted form.
func PointerToDotted(path string) (string, error) {
	segs, err := ParsePointer(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "."), nil
}

func decodeToken(tok string) string {
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
}

func encodeToken(tok string) string {
	return strings.ReplaceAll(strings.ReplaceAll(tok, "~", "~0"), "/", "~1")
}

// Walk follows segments through maps and lists. It reports false when any
// segment is missing.
func Walk(root any, segments []string) (any, bool) {
	cur := root
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, ok := listIndex(node, seg)
			if !ok {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func listIndex(list []any, seg string) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 || idx >= len(list) {
		return 0, false
	}
	return idx, true
}
