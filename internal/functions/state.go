package functions

import (
	"fmt"
	"net/url"
	"strings"

	"metaui/internal/datamodel"
	"metaui/internal/expr"
)

const codeStateWrite = "STATE_WRITE_FAILED"

// statePath accepts a pointer or a legacy dotted path.
func statePath(args map[string]any) (string, bool) {
	raw, ok := args["path"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}
	return datamodel.DottedToPointer(raw), true
}

func (b *binding) mutate(name string, args map[string]any, apply func(s *datamodel.Store, path string) error) any {
	s := b.store()
	if s == nil {
		b.warn(codeStateWrite, fmt.Sprintf("%s: no active surface", name))
		return nil
	}
	path, ok := statePath(args)
	if !ok {
		b.warn(codeStateWrite, fmt.Sprintf("%s: path is required", name))
		return nil
	}
	if err := apply(s, path); err != nil {
		b.warn(codeStateWrite, fmt.Sprintf("%s: %v", name, err))
		return nil
	}
	b.host.RequestRender()
	return nil
}

func fnSetState(b *binding, _ expr.CallContext, args map[string]any) any {
	return b.mutate("setState", args, func(s *datamodel.Store, path string) error {
		return s.Replace(path, args["value"])
	})
}

func fnDeleteState(b *binding, _ expr.CallContext, args map[string]any) any {
	return b.mutate("deleteState", args, func(s *datamodel.Store, path string) error {
		return s.Remove(path)
	})
}

func fnMergeState(b *binding, _ expr.CallContext, args map[string]any) any {
	return b.mutate("mergeState", args, func(s *datamodel.Store, path string) error {
		if _, ok := args["value"].(map[string]any); !ok {
			return fmt.Errorf("value must be a mapping, got %T", args["value"])
		}
		return s.Set(path, args["value"])
	})
}

func fnAppendState(b *binding, _ expr.CallContext, args map[string]any) any {
	return b.mutate("appendState", args, func(s *datamodel.Store, path string) error {
		return insertAt(s, path, args["value"], false)
	})
}

func fnPrependState(b *binding, _ expr.CallContext, args map[string]any) any {
	return b.mutate("prependState", args, func(s *datamodel.Store, path string) error {
		return insertAt(s, path, args["value"], true)
	})
}

func insertAt(s *datamodel.Store, path string, value any, front bool) error {
	current, ok := s.Get(path)
	var list []any
	if ok && current != nil {
		existing, isList := current.([]any)
		if !isList {
			return fmt.Errorf("%s holds %T, not a list", path, current)
		}
		list = existing
	}
	out := make([]any, 0, len(list)+1)
	if front {
		out = append(out, value)
		out = append(out, list...)
	} else {
		out = append(out, list...)
		out = append(out, value)
	}
	return s.Replace(path, out)
}

var allowedSchemes = map[string]struct{}{"http": {}, "https": {}, "mailto": {}}

func fnOpenURL(b *binding, _ expr.CallContext, args map[string]any) any {
	raw, _ := args["url"].(string)
	target := strings.TrimSpace(raw)
	u, err := url.Parse(target)
	if err != nil || target == "" {
		b.warn("INVALID_URL", fmt.Sprintf("openUrl: invalid url %q", raw))
		return nil
	}
	if _, ok := allowedSchemes[strings.ToLower(u.Scheme)]; !ok {
		b.warn("INVALID_URL", fmt.Sprintf("openUrl: scheme %q is not allowed", u.Scheme))
		return nil
	}
	if b.host == nil {
		return nil
	}
	if err := b.host.Open(u.String()); err != nil {
		b.warn("OPEN_URL_FAILED", err.Error())
	}
	return nil
}

// fnRunSequence runs each step in order with its own freshly resolved args.
// Nested runSequence steps are skipped.
func fnRunSequence(b *binding, ctx expr.CallContext, args map[string]any) any {
	steps, _ := args["steps"].([]any)
	results := make([]any, 0, len(steps))
	for i, raw := range steps {
		step, ok := raw.(map[string]any)
		if !ok {
			b.warn("INVALID_STEP", fmt.Sprintf("runSequence: step %d is not an object", i))
			continue
		}
		name, _ := step["call"].(string)
		name = strings.TrimSpace(name)
		if name == "runSequence" {
			b.engine.log.Debug("skipping nested runSequence", "step", i)
			continue
		}
		if ctx.Depth+1 > expr.MaxDepth {
			break
		}
		next := ctx
		next.Depth = ctx.Depth + 1
		if s := b.store(); s != nil && ctx.Scope != nil {
			scope := *ctx.Scope
			scope.State = s.View()
			next.Scope = &scope
		}
		stepArgs := map[string]any{}
		if ctx.Resolver != nil {
			stepArgs, _ = ctx.Resolver.Eval(next.Scope, expr.Parse(step["args"]), next.Depth).(map[string]any)
		} else if m, ok := step["args"].(map[string]any); ok {
			stepArgs = m
		}
		if stepArgs == nil {
			stepArgs = map[string]any{}
		}
		results = append(results, b.Invoke(next, name, stepArgs))
	}
	return results
}
