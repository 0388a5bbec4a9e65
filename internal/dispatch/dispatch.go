// Package dispatch turns a user interaction on a rendered component into an
// outbound action envelope or a local function call.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"metaui/internal/catalog"
	"metaui/internal/datamodel"
	"metaui/internal/expr"
	"metaui/internal/functions"
	"metaui/internal/protocol"
	"metaui/internal/surface"
	"metaui/internal/util/jsonutil"
)

// FunctionResultEvent names the event reporting a non-local function call.
const FunctionResultEvent = "function_result"

// ErrUnknownComponent is returned for interactions on ids the surface does
// not contain.
var ErrUnknownComponent = errors.New("unknown component")

// Interaction is one user interaction reported by a renderer.
type Interaction struct {
	SurfaceID   string
	ComponentID string
	// Type is the interaction kind: "click", "change", "submit", ...
	Type    string
	Payload any
	// Item and Index are set when the component is a template instance.
	Item    any
	HasItem bool
	Index   int
	// SuppressFallback stops the literal event sent for components without
	// an action.
	SuppressFallback bool
}

// Outcome reports what a dispatch did.
type Outcome struct {
	// Envelope is the outbound frame, nil when the effect was local only.
	Envelope *protocol.ClientEnvelope
	Call     string
	Result   any
	Local    bool
	// Rerender is set when a bound input value was written.
	Rerender bool
	// Invalid holds failed check messages; nothing is sent when set.
	Invalid []string
}

// Dispatcher resolves component actions. It reads the surface store owned by
// the runtime loop and must only be called from that loop.
type Dispatcher struct {
	surfaces *surface.Store
	engine   *functions.Engine
	log      *slog.Logger
	now      func() time.Time
}

// New returns a dispatcher.
func New(surfaces *surface.Store, engine *functions.Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{surfaces: surfaces, engine: engine, log: logger, now: time.Now}
}

var inputInteractions = map[string]struct{}{
	"change": {},
	"input":  {},
	"toggle": {},
	"select": {},
}

// Dispatch handles one interaction. host receives state writes, navigation
// and warnings for the interaction's surface.
func (d *Dispatcher) Dispatch(in Interaction, host functions.Host) (Outcome, error) {
	s, ok := d.surfaces.Get(in.SurfaceID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: surface %q is not live", surface.ErrLifecycle, in.SurfaceID)
	}
	comp, ok := s.Component(in.ComponentID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q on surface %q", ErrUnknownComponent, in.ComponentID, in.SurfaceID)
	}
	kind := strings.TrimSpace(in.Type)
	if kind == "" {
		kind = "action"
	}
	payload := Sanitize(in.Payload)

	var out Outcome
	if _, isInput := inputInteractions[kind]; isInput {
		out.Rerender = d.writeBinding(s, comp, in, payload)
	}

	scope := d.scope(s, comp, in, kind, payload)
	r := &expr.Resolver{Funcs: d.engine.With(host)}

	if rules, ok := comp.Props["checks"].([]any); ok && kind != "change" && kind != "input" {
		if failed := failedChecks(r, scope, rules); len(failed) > 0 {
			out.Invalid = failed
			return out, nil
		}
	}

	event, call, hasAction := catalog.ParseAction(comp.Props["action"])
	switch {
	case event != nil:
		name := jsonutil.Stringify(r.Resolve(scope, event["name"]))
		ctx, _ := r.Resolve(scope, event["context"]).(map[string]any)
		out.Envelope = d.actionEnvelope(s, comp, name, ctx)
	case call != nil:
		d.invoke(&out, r, scope, s, comp, call)
	case !hasAction && !in.SuppressFallback:
		ctx, isMap := payload.(map[string]any)
		if !isMap {
			ctx = map[string]any{}
			if payload != nil {
				ctx["value"] = payload
			}
		}
		out.Envelope = d.actionEnvelope(s, comp, kind, ctx)
	}
	return out, nil
}

func (d *Dispatcher) scope(s *surface.Surface, comp catalog.Component, in Interaction, kind string, payload any) *expr.Scope {
	scope := &expr.Scope{
		State:   s.Model.View(),
		Payload: payload,
		Event: map[string]any{
			"type":        kind,
			"surfaceId":   s.ID,
			"componentId": comp.ID,
			"payload":     payload,
		},
	}
	if in.HasItem {
		scope = scope.WithItem(in.Item, in.Index)
	}
	return surface.ComponentScope(scope, comp)
}

func (d *Dispatcher) invoke(out *Outcome, r *expr.Resolver, scope *expr.Scope, s *surface.Surface, comp catalog.Component, call map[string]any) {
	name, _ := call["call"].(string)
	name = strings.TrimSpace(name)
	rawArgs, _ := call["args"].(map[string]any)
	if rawArgs == nil {
		rawArgs = map[string]any{}
	}
	args := rawArgs
	if !r.Funcs.RawArgs(name) {
		args, _ = r.Resolve(scope, rawArgs).(map[string]any)
	}
	out.Call = name
	out.Result = r.Funcs.Invoke(expr.CallContext{Scope: scope, Resolver: r}, name, args)

	fn, known := catalog.LookupFunction(name)
	if !known || fn.Local() {
		out.Local = true
		return
	}
	out.Envelope = d.actionEnvelope(s, comp, FunctionResultEvent, map[string]any{
		"call":   name,
		"args":   args,
		"result": out.Result,
	})
}

func (d *Dispatcher) actionEnvelope(s *surface.Surface, comp catalog.Component, name string, ctx map[string]any) *protocol.ClientEnvelope {
	a := protocol.Action{
		Name:              name,
		SurfaceID:         s.ID,
		SourceComponentID: comp.ID,
		Context:           jsonutil.CloneMap(ctx),
	}
	if s.SendDataModel {
		a.DataModel = s.Model.Snapshot()
	}
	env := protocol.NewActionEnvelope(a, d.now())
	d.log.Debug("dispatch action", "surface", s.ID, "component", comp.ID, "name", name)
	return &env
}

// writeBinding stores an input's new value at the path its value prop is
// bound to. Item-relative bindings are left to the action.
func (d *Dispatcher) writeBinding(s *surface.Surface, comp catalog.Component, in Interaction, payload any) bool {
	ref, ok := expr.Parse(comp.Props["value"]).(expr.PathRef)
	if !ok {
		return false
	}
	path := strings.TrimSpace(ref.Path)
	switch {
	case strings.HasPrefix(path, "/"):
	case strings.HasPrefix(path, "state."):
		path = datamodel.DottedToPointer(strings.TrimPrefix(path, "state."))
	case strings.HasPrefix(path, "$state."):
		path = datamodel.DottedToPointer(strings.TrimPrefix(path, "$state."))
	case in.HasItem || path == "" || path == ".":
		return false
	default:
		path = datamodel.DottedToPointer(path)
	}
	if err := s.Model.Replace(path, inputValue(payload)); err != nil {
		d.log.Warn("binding write failed", "surface", s.ID, "component", comp.ID, "path", path, "err", err)
		return false
	}
	return true
}

func inputValue(payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	if v, ok := m["value"]; ok {
		return v
	}
	if v, ok := m["checked"]; ok {
		return v
	}
	return payload
}

func failedChecks(r *expr.Resolver, scope *expr.Scope, rules []any) []string {
	var out []string
	for _, raw := range rules {
		rule, _ := raw.(map[string]any)
		call, _ := rule["call"].(string)
		if functions.Truthy(r.Resolve(scope, map[string]any{"call": call, "args": rule["args"]})) {
			continue
		}
		msg := jsonutil.Stringify(r.Resolve(scope, rule["message"]))
		if msg == "" {
			msg = call + " check failed"
		}
		out = append(out, msg)
	}
	return out
}
