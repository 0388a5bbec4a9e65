package expr

import (
	"strings"

	"metaui/internal/datamodel"
	"metaui/internal/util/jsonutil"
)

// MaxDepth bounds nested function-call evaluation. A call nested deeper
// resolves to nil.
const MaxDepth = 8

// Scope is the render context a descriptor is resolved against.
type Scope struct {
	State     map[string]any
	Payload   any
	Event     map[string]any
	Component map[string]any
	Item      any
	HasItem   bool
	Index     int
	Extra     map[string]any
}

// WithItem returns a copy of the scope bound to one template item.
func (s *Scope) WithItem(item any, index int) *Scope {
	out := *s
	out.Item, out.HasItem, out.Index = item, true, index
	return &out
}

func (s *Scope) context() map[string]any {
	ctx := make(map[string]any, len(s.Extra)+6)
	for k, v := range s.Extra {
		ctx[k] = v
	}
	ctx["state"] = s.State
	ctx["payload"] = s.Payload
	ctx["event"] = s.Event
	ctx["component"] = s.Component
	if s.HasItem {
		ctx["item"] = s.Item
		ctx["index"] = s.Index
	}
	return ctx
}

// CallContext is handed to an Invoker for every call.
type CallContext struct {
	Scope    *Scope
	Depth    int
	Resolver *Resolver
}

// Invoker runs named functions.
type Invoker interface {
	Invoke(ctx CallContext, name string, args map[string]any) any
	// RawArgs reports functions whose args are passed through unresolved.
	RawArgs(name string) bool
}

// Resolver evaluates nodes. A nil Funcs makes every call resolve to nil.
type Resolver struct {
	Funcs Invoker
}

// Resolve parses and evaluates a raw prop value.
func (r *Resolver) Resolve(scope *Scope, v any) any {
	return r.Eval(scope, Parse(v), 0)
}

// Eval evaluates a node at the given call depth.
func (r *Resolver) Eval(scope *Scope, n Node, depth int) any {
	switch x := n.(type) {
	case Literal:
		return x.Value
	case PathRef:
		v, ok := r.lookupPath(scope, x.Path)
		if (!ok || v == nil) && x.HasDefault {
			return x.Default
		}
		return v
	case Placeholder:
		v, _ := Lookup(scope, x.Token)
		return v
	case Template:
		var b strings.Builder
		for _, p := range x.Parts {
			if !p.IsToken {
				b.WriteString(p.Text)
				continue
			}
			v, _ := Lookup(scope, p.Token)
			b.WriteString(jsonutil.Stringify(v))
		}
		return b.String()
	case Object:
		out := make(map[string]any, len(x.Fields))
		for k, f := range x.Fields {
			out[k] = r.Eval(scope, f, depth)
		}
		return out
	case List:
		out := make([]any, 0, len(x.Items))
		for _, item := range x.Items {
			out = append(out, r.Eval(scope, item, depth))
		}
		return out
	case Call:
		return r.call(scope, x, depth)
	}
	return nil
}

func (r *Resolver) call(scope *Scope, c Call, depth int) any {
	if depth > MaxDepth || r.Funcs == nil || c.Name == "" {
		return nil
	}
	var args map[string]any
	if r.Funcs.RawArgs(c.Name) {
		args = c.Raw
	} else {
		args, _ = r.Eval(scope, c.Args, depth+1).(map[string]any)
	}
	if args == nil {
		args = map[string]any{}
	}
	return r.Funcs.Invoke(CallContext{Scope: scope, Depth: depth, Resolver: r}, c.Name, args)
}

// Interpolate resolves every placeholder in s. A string that is exactly one
// placeholder keeps the referenced value's type.
func (r *Resolver) Interpolate(scope *Scope, s string) any {
	return r.Eval(scope, parseString(s), 0)
}

// Inside a template instance a relative path binds to the item first.
func (r *Resolver) lookupPath(scope *Scope, path string) (any, bool) {
	p := strings.TrimSpace(path)
	if scope.HasItem && p != "" && !strings.HasPrefix(p, "/") && !hasScopePrefix(p) {
		if p == "." {
			return scope.Item, true
		}
		if v, ok := walkDotted(scope.Item, p); ok {
			return v, true
		}
	}
	return Lookup(scope, p)
}

func hasScopePrefix(p string) bool {
	for _, prefix := range []string{"item", "state", "$state", "payload", "event", "index"} {
		if p == prefix || strings.HasPrefix(p, prefix+".") {
			return true
		}
	}
	return false
}

// Lookup resolves one path token:
//
//	.             current item, else payload, else state
//	item.a.b      dotted path into the template item
//	/a/b          pointer into state
//	state.a       dotted path into state ($state. also accepted)
//	payload.a     dotted path into the event payload
//	event.a       dotted path into the event, then the payload
//	a.b           whole context, then payload, then state
func Lookup(scope *Scope, token string) (any, bool) {
	if scope == nil {
		return nil, false
	}
	tok := strings.TrimSpace(token)
	switch {
	case tok == "":
		return nil, false
	case tok == ".":
		if scope.HasItem {
			return scope.Item, true
		}
		if scope.Payload != nil {
			return scope.Payload, true
		}
		return scope.State, true
	case tok == "item":
		return scope.Item, scope.HasItem
	case strings.HasPrefix(tok, "item."):
		if !scope.HasItem {
			return nil, false
		}
		return walkDotted(scope.Item, tok[len("item."):])
	case strings.HasPrefix(tok, "/"):
		segs, err := datamodel.ParsePointer(tok)
		if err != nil {
			return nil, false
		}
		return datamodel.Walk(scope.State, segs)
	case tok == "state" || tok == "$state":
		return scope.State, true
	case strings.HasPrefix(tok, "state."):
		return walkDotted(scope.State, tok[len("state."):])
	case strings.HasPrefix(tok, "$state."):
		return walkDotted(scope.State, tok[len("$state."):])
	case tok == "payload":
		return scope.Payload, scope.Payload != nil
	case strings.HasPrefix(tok, "payload."):
		return walkDotted(scope.Payload, tok[len("payload."):])
	case strings.HasPrefix(tok, "event."):
		rest := tok[len("event."):]
		if v, ok := walkDotted(scope.Event, rest); ok {
			return v, true
		}
		return walkDotted(scope.Payload, rest)
	}
	if v, ok := walkDotted(scope.context(), tok); ok {
		return v, true
	}
	if v, ok := walkDotted(scope.Payload, tok); ok {
		return v, true
	}
	return walkDotted(scope.State, tok)
}

func walkDotted(root any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	var segs []string
	for _, s := range strings.Split(path, ".") {
		if s = strings.TrimSpace(s); s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return root, true
	}
	return datamodel.Walk(root, segs)
}
