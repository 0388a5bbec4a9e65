// Package runtime is the single owner of every surface, data model and
// connection-facing state. All mutation happens on the goroutine running
// Run; other goroutines talk to it through Post.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"metaui/internal/catalog"
	"metaui/internal/conn"
	"metaui/internal/dispatch"
	"metaui/internal/expr"
	"metaui/internal/functions"
	"metaui/internal/metrics"
	"metaui/internal/protocol"
	"metaui/internal/retention"
	"metaui/internal/surface"
	"metaui/internal/ui"
)

// Sender delivers outbound envelopes. *conn.Manager satisfies it.
type Sender interface {
	Send(env protocol.ClientEnvelope)
}

// Options configures a Runtime.
type Options struct {
	Catalog           *catalog.Catalog
	AllowRootFallback bool
	MaxSurfaces       int
	Emitter           ui.Emitter
	Sender            Sender
	Logger            *slog.Logger
}

// Runtime is the explicit runtime context: one per session.
type Runtime struct {
	log        *slog.Logger
	catalog    *catalog.Catalog
	surfaces   *surface.Store
	retention  *retention.Tracker
	engine     *functions.Engine
	dispatcher *dispatch.Dispatcher
	// uictx carries the emitter.
	uictx  context.Context
	sender Sender

	active   string
	clientID string
	pending  map[string]struct{}
	inbox    chan request
	done     chan struct{}
}

type request struct {
	interaction *dispatch.Interaction
	activate    string
	reply       chan any
}

// New builds a runtime. A nil emitter falls back to the one bound to the
// context passed to Run.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Standard()
	}
	store := surface.NewStore(cat, surface.Options{AllowRootFallback: opts.AllowRootFallback}, logger)
	engine := functions.New(logger)
	return &Runtime{
		log:        logger,
		catalog:    cat,
		surfaces:   store,
		retention:  retention.New(opts.MaxSurfaces),
		engine:     engine,
		dispatcher: dispatch.New(store, engine, logger),
		uictx:      ui.WithEmitter(context.Background(), opts.Emitter),
		sender:     opts.Sender,
		pending:    make(map[string]struct{}),
		inbox:      make(chan request, 64),
		done:       make(chan struct{}),
	}
}

// Active returns the displayed surface id.
func (r *Runtime) Active() string { return r.active }

// ClientID returns the id assigned by the last hello_ack.
func (r *Runtime) ClientID() string { return r.clientID }

// Surfaces exposes the surface store for read access from the loop.
func (r *Runtime) Surfaces() *surface.Store { return r.surfaces }

// Run serialises inbound frames and posted requests until ctx is done.
func (r *Runtime) Run(ctx context.Context, inbound <-chan conn.Inbound) error {
	if ui.EmitterFrom(r.uictx) == nil {
		r.uictx = ui.WithEmitter(context.Background(), ui.EmitterFrom(ctx))
	}
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			r.HandleInbound(in)
		case req := <-r.inbox:
			r.serve(req)
		}
	}
}

// Post submits an interaction from another goroutine.
func (r *Runtime) Post(in dispatch.Interaction) {
	select {
	case r.inbox <- request{interaction: &in}:
	case <-r.done:
	}
}

// Activate asks the loop to display another surface.
func (r *Runtime) Activate(surfaceID string) {
	select {
	case r.inbox <- request{activate: surfaceID}:
	case <-r.done:
	}
}

func (r *Runtime) serve(req request) {
	switch {
	case req.interaction != nil:
		if _, err := r.Interact(*req.interaction); err != nil {
			r.log.Warn("interaction failed", "surface", req.interaction.SurfaceID, "component", req.interaction.ComponentID, "err", err)
		}
	case req.activate != "":
		r.SetActive(req.activate)
	}
}

// HandleInbound processes one item from the connection manager.
func (r *Runtime) HandleInbound(in conn.Inbound) {
	switch {
	case in.Message != nil:
		r.Apply(in.Message)
	case in.Ack != nil:
		r.clientID = in.Ack.ClientID
		if in.Ack.Catalog != nil && in.Ack.Catalog.CatalogID != "" && in.Ack.Catalog.CatalogID != r.catalog.ID() {
			r.toast("", ui.LevelWarning, fmt.Sprintf("gateway expects catalog %s; this runtime renders %s", in.Ack.Catalog.CatalogID, r.catalog.ID()))
		}
		r.log.Info("handshake acknowledged", "client_id", in.Ack.ClientID, "protocol", in.Ack.Protocol)
	case in.Status != nil:
		if in.Status.State == conn.StateReconnecting {
			metrics.RecordReconnect()
		}
		r.emit(ui.Event{Type: ui.EventTypeStatus, Message: in.Status.String()})
	case in.Err != nil:
		r.reportFailure("", in.Err)
	}
}

// Apply applies one lifecycle message and updates the display.
func (r *Runtime) Apply(msg protocol.Message) surface.Result {
	res := r.surfaces.Apply(msg)
	kind := ""
	if msg != nil {
		kind = string(msg.Kind())
	}
	metrics.RecordApply(kind, res.Success)
	defer func() { metrics.SetSurfacesLive(r.surfaces.Len()) }()

	if !res.Success {
		r.reportFailure(res.SurfaceID, res.Error)
		return res
	}
	for _, w := range res.Warnings {
		r.toast(res.SurfaceID, ui.LevelWarning, w)
		r.send(protocol.NewErrorEnvelope(protocol.CodeLifecycle, w, res.SurfaceID, protocol.SeverityWarning))
	}

	switch res.Kind {
	case protocol.KindCreateSurface:
		r.touch(res.SurfaceID)
		if r.active == "" || r.active == res.SurfaceID {
			r.SetActive(res.SurfaceID)
		}
	case protocol.KindUpdateComponents:
		r.touch(res.SurfaceID)
		if r.active == "" {
			r.active = res.SurfaceID
		}
		if r.active == res.SurfaceID {
			r.render(res.SurfaceID)
		}
	case protocol.KindUpdateDataModel:
		r.touch(res.SurfaceID)
		if res.Rerender && r.active == res.SurfaceID {
			r.render(res.SurfaceID)
		}
	case protocol.KindDeleteSurface:
		r.retention.Forget(res.SurfaceID)
		delete(r.pending, res.SurfaceID)
		if r.active == res.SurfaceID {
			r.emit(ui.Event{Type: ui.EventTypeClosed, SurfaceID: res.SurfaceID})
			r.active = ""
		}
	}
	return res
}

// SetActive displays surfaceID, rendering it when it has components.
func (r *Runtime) SetActive(surfaceID string) {
	s, ok := r.surfaces.Get(surfaceID)
	if !ok {
		r.toast("", ui.LevelWarning, fmt.Sprintf("surface %q is not available", surfaceID))
		return
	}
	r.active = surfaceID
	r.touch(surfaceID)
	if s.Phase >= surface.PhasePopulated {
		r.render(surfaceID)
	}
}

func (r *Runtime) touch(id string) {
	for _, victim := range r.retention.Touch(id, r.active) {
		if r.surfaces.Evict(victim) {
			delete(r.pending, victim)
			r.log.Info("surface evicted", "surface", victim, "max", r.retention.Max())
		}
	}
}

func (r *Runtime) render(surfaceID string) {
	s, ok := r.surfaces.Get(surfaceID)
	if !ok {
		return
	}
	resolver := &expr.Resolver{Funcs: r.engine.With(r.host(surfaceID))}
	spec, err := surface.Derive(s, resolver, expr.Scope{})
	metrics.RecordRender(err == nil)
	if err != nil {
		r.reportFailure(surfaceID, err)
		return
	}
	r.emit(ui.Event{Type: ui.EventTypeRender, SurfaceID: surfaceID, Spec: spec})
	r.surfaces.MarkRendered(surfaceID)
}

// Interact dispatches one user interaction and applies its local effects.
func (r *Runtime) Interact(in dispatch.Interaction) (dispatch.Outcome, error) {
	h := r.host(in.SurfaceID)
	out, err := r.dispatcher.Dispatch(in, h)
	if err != nil {
		r.reportFailure(in.SurfaceID, err)
		return out, err
	}
	for _, msg := range out.Invalid {
		r.toast(in.SurfaceID, ui.LevelWarning, msg)
	}
	if out.Envelope != nil {
		r.send(*out.Envelope)
	}
	if out.Rerender {
		r.pending[in.SurfaceID] = struct{}{}
	}
	r.flushRenders()
	return out, nil
}

func (r *Runtime) flushRenders() {
	for id := range r.pending {
		delete(r.pending, id)
		if id == r.active {
			r.render(id)
		}
	}
}

// reportFailure shows a failure to the user and the author. Unsupported
// messages are warnings; validation, lifecycle and render failures replace
// the affected surface with an explicit error.
func (r *Runtime) reportFailure(surfaceID string, err error) {
	code, severity := classify(err)
	msg := err.Error()
	if severity == protocol.SeverityWarning {
		r.toast(surfaceID, ui.LevelWarning, msg)
	} else {
		r.toast(surfaceID, ui.LevelError, msg)
		if surfaceID != "" && (r.active == "" || r.active == surfaceID) {
			r.emit(ui.Event{Type: ui.EventTypeError, SurfaceID: surfaceID, Level: ui.LevelError, Message: msg})
		}
	}
	r.send(protocol.NewErrorEnvelope(code, msg, surfaceID, severity))
}

func classify(err error) (code, severity string) {
	var ve *catalog.ValidationError
	switch {
	case errors.Is(err, protocol.ErrUnsupportedMessage):
		return protocol.CodeUnsupportedMessage, protocol.SeverityWarning
	case errors.As(err, &ve):
		return protocol.CodeValidationFailed, protocol.SeverityError
	case errors.Is(err, surface.ErrLifecycle):
		return protocol.CodeLifecycle, protocol.SeverityError
	case errors.Is(err, dispatch.ErrUnknownComponent):
		return protocol.CodeLifecycle, protocol.SeverityWarning
	case errors.Is(err, protocol.ErrMissingSurfaceID):
		return protocol.CodeLifecycle, protocol.SeverityError
	}
	return protocol.CodeRenderFailed, protocol.SeverityError
}

func (r *Runtime) send(env protocol.ClientEnvelope) {
	typ := "action"
	if env.Error != nil {
		typ = "error"
	}
	if r.sender == nil {
		r.log.Debug("no sender; dropping envelope", "type", typ, "name", env.Name())
		return
	}
	metrics.RecordEventSent(typ)
	r.sender.Send(env)
}

// toast shows a transient message, attributed to surfaceID when set.
func (r *Runtime) toast(surfaceID string, level ui.Level, msg string) {
	ui.SendToast(ui.WithSurface(r.uictx, surfaceID), level, msg)
}

func (r *Runtime) emit(ev ui.Event) {
	ui.Send(r.uictx, ev)
}

// Reset drops every surface for a new session.
func (r *Runtime) Reset() {
	if r.active != "" {
		r.emit(ui.Event{Type: ui.EventTypeClosed, SurfaceID: r.active})
	}
	r.surfaces.Reset()
	r.retention.Reset()
	r.pending = make(map[string]struct{})
	r.active = ""
	metrics.SetSurfacesLive(0)
}
