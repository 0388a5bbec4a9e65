// Package datamodel holds the per-surface JSON document that drives bound
// prop values. Paths are slash-delimited pointers.
package datamodel

import (
	"fmt"

	"metaui/internal/util/jsonutil"
)

// Store is one surface's data model. It is owned by the runtime loop and is
// not safe for concurrent use.
type Store struct {
	doc map[string]any
}

// New returns an empty document.
func New() *Store {
	return &Store{doc: map[string]any{}}
}

// Get returns the value at path.
func (s *Store) Get(path string) (any, bool) {
	segs, err := ParsePointer(path)
	if err != nil {
		return nil, false
	}
	if len(segs) == 0 {
		return s.doc, true
	}
	return Walk(s.doc, segs)
}

// Set writes value at path, creating intermediate mappings. When both the
// previous leaf and value are non-array mappings the two are shallow-merged;
// otherwise the leaf is replaced.
func (s *Store) Set(path string, value any) error {
	return s.write(path, value, true)
}

// Replace writes value at path without merging.
func (s *Store) Replace(path string, value any) error {
	return s.write(path, value, false)
}

// Remove deletes the leaf at path. Missing parents make it a no-op.
// Removing the root clears the document.
func (s *Store) Remove(path string) error {
	segs, err := ParsePointer(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		s.doc = map[string]any{}
		return nil
	}
	if next, changed := removeIn(s.doc, segs); changed {
		s.doc = next.(map[string]any)
	}
	return nil
}

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot() map[string]any {
	return jsonutil.CloneMap(s.doc)
}

// Reset replaces the whole document.
func (s *Store) Reset(doc map[string]any) {
	s.doc = jsonutil.CloneMap(doc)
}

// View exposes the live document for read-only resolution. Callers must not
// mutate it.
func (s *Store) View() map[string]any {
	return s.doc
}

func (s *Store) write(path string, value any, merge bool) error {
	segs, err := ParsePointer(path)
	if err != nil {
		return err
	}
	value = jsonutil.Clone(value)
	if len(segs) == 0 {
		incoming, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("document root must be a mapping, got %T", value)
		}
		if merge {
			for k, v := range incoming {
				s.doc[k] = v
			}
		} else {
			s.doc = incoming
		}
		return nil
	}
	next, err := setIn(s.doc, segs, value, merge)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.doc = next.(map[string]any)
	return nil
}

func setIn(node any, segs []string, value any, merge bool) (any, error) {
	seg := segs[0]
	last := len(segs) == 1
	switch cur := node.(type) {
	case map[string]any:
		if last {
			cur[seg] = combine(cur[seg], value, merge)
			return cur, nil
		}
		child, ok := cur[seg]
		if !ok || !isContainer(child) {
			child = map[string]any{}
		}
		next, err := setIn(child, segs[1:], value, merge)
		if err != nil {
			return nil, err
		}
		cur[seg] = next
		return cur, nil
	case []any:
		idx, ok := listIndex(cur, seg)
		if !ok {
			return nil, fmt.Errorf("list index %q out of range", seg)
		}
		if last {
			cur[idx] = combine(cur[idx], value, merge)
			return cur, nil
		}
		child := cur[idx]
		if !isContainer(child) {
			child = map[string]any{}
		}
		next, err := setIn(child, segs[1:], value, merge)
		if err != nil {
			return nil, err
		}
		cur[idx] = next
		return cur, nil
	default:
		return nil, fmt.Errorf("cannot descend into %T", node)
	}
}

func combine(prev, value any, merge bool) any {
	if !merge {
		return value
	}
	old, okOld := prev.(map[string]any)
	incoming, okNew := value.(map[string]any)
	if !okOld || !okNew {
		return value
	}
	out := make(map[string]any, len(old)+len(incoming))
	for k, v := range old {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func removeIn(node any, segs []string) (any, bool) {
	seg := segs[0]
	switch cur := node.(type) {
	case map[string]any:
		if len(segs) == 1 {
			if _, ok := cur[seg]; !ok {
				return cur, false
			}
			delete(cur, seg)
			return cur, true
		}
		child, ok := cur[seg]
		if !ok {
			return cur, false
		}
		next, changed := removeIn(child, segs[1:])
		if changed {
			cur[seg] = next
		}
		return cur, changed
	case []any:
		idx, ok := listIndex(cur, seg)
		if !ok {
			return cur, false
		}
		if len(segs) == 1 {
			out := make([]any, 0, len(cur)-1)
			out = append(out, cur[:idx]...)
			out = append(out, cur[idx+1:]...)
			return out, true
		}
		next, changed := removeIn(cur[idx], segs[1:])
		if changed {
			cur[idx] = next
		}
		return cur, changed
	default:
		return node, false
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
