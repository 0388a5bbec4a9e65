package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaui/internal/conn"
	"metaui/internal/dispatch"
	"metaui/internal/protocol"
	"metaui/internal/surface"
	"metaui/internal/ui"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.ClientEnvelope
}

func (s *recordingSender) Send(env protocol.ClientEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
}

func (s *recordingSender) envelopes() []protocol.ClientEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ClientEnvelope(nil), s.sent...)
}

func (s *recordingSender) errorCodes() []string {
	var out []string
	for _, env := range s.envelopes() {
		if env.Error != nil {
			out = append(out, env.Error.Code)
		}
	}
	return out
}

func newRuntime(t *testing.T, opts Options) (*Runtime, *ui.Recorder, *recordingSender) {
	t.Helper()
	rec := &ui.Recorder{}
	sender := &recordingSender{}
	opts.Emitter = rec
	opts.Sender = sender
	return New(opts), rec, sender
}

func apply(t *testing.T, rt *Runtime, raw string) surface.Result {
	t.Helper()
	msg, err := protocol.Decode([]byte(raw))
	require.NoError(t, err, raw)
	return rt.Apply(msg)
}

const (
	createMain = `{"createSurface":{"surfaceId":"main","catalogId":"https://a2ui.org/specification/v0_10/standard_catalog.json"}}`
	helloRoot  = `{"updateComponents":{"surfaceId":"main","components":[{"id":"root","component":"Text","text":"hi"}]}}`
)

func TestRendersRootScenario(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{AllowRootFallback: true})
	require.True(t, apply(t, rt, createMain).Success)
	require.True(t, apply(t, rt, helloRoot).Success)

	assert.Equal(t, "main", rt.Active())
	ev, ok := rec.Last(ui.EventTypeRender)
	require.True(t, ok)
	assert.Equal(t, "root", ev.Spec.RootID)
	assert.Equal(t, "hi", ev.Spec.Root.Props["text"])
	assert.Equal(t, surface.PhaseRendered, rt.Surfaces().Phase("main"))
	assert.Empty(t, sender.envelopes())
}

func TestValidationFailureShowsErrorSurface(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{AllowRootFallback: true})
	apply(t, rt, createMain)
	apply(t, rt, helloRoot)

	res := apply(t, rt, `{"updateComponents":{"surfaceId":"main","components":[{"id":"root","component":"Marquee","text":"x"}]}}`)
	require.False(t, res.Success)

	ev, ok := rec.Last(ui.EventTypeError)
	require.True(t, ok)
	assert.Equal(t, "main", ev.SurfaceID)
	assert.Contains(t, ev.Message, "Marquee")
	assert.Len(t, rec.Toasts(ui.LevelError), 1)
	assert.Equal(t, []string{protocol.CodeValidationFailed}, sender.errorCodes())
	toasts := rec.Of(ui.EventTypeToast)
	require.Len(t, toasts, 1)
	assert.Equal(t, "main", toasts[0].SurfaceID, "failure toast is attributed to its surface")

	s, _ := rt.Surfaces().Get("main")
	assert.Equal(t, "Text", s.Components["root"].Type)
}

func TestUnsupportedFrameIsAWarning(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{})
	_, err := protocol.Decode([]byte(`{"launchRocket":{"surfaceId":"main"}}`))
	require.Error(t, err)
	rt.HandleInbound(conn.Inbound{Err: err})

	assert.Len(t, rec.Toasts(ui.LevelWarning), 1)
	assert.Empty(t, rec.Of(ui.EventTypeError))
	assert.Empty(t, rec.Of(ui.EventTypeToast)[0].SurfaceID)
	envs := sender.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, protocol.CodeUnsupportedMessage, envs[0].Error.Code)
	assert.Equal(t, protocol.SeverityWarning, envs[0].Error.Severity)
}

func TestMissingRootFailsLoudly(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{AllowRootFallback: false})
	apply(t, rt, createMain)
	res := apply(t, rt, `{"updateComponents":{"surfaceId":"main","components":[{"id":"page","component":"Text","text":"x"}]}}`)
	require.False(t, res.Success)
	assert.Empty(t, rec.Of(ui.EventTypeRender))
	require.Len(t, rec.Of(ui.EventTypeError), 1)
	assert.Equal(t, []string{protocol.CodeLifecycle}, sender.errorCodes())
}

func TestRootFallbackWarns(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{AllowRootFallback: true})
	apply(t, rt, createMain)
	res := apply(t, rt, `{"updateComponents":{"surfaceId":"main","components":[{"id":"page","component":"Text","text":"x"}]}}`)
	require.True(t, res.Success)
	ev, ok := rec.Last(ui.EventTypeRender)
	require.True(t, ok)
	assert.True(t, ev.Spec.RootFallback)
	assert.Len(t, rec.Toasts(ui.LevelWarning), 1)
	require.Len(t, sender.envelopes(), 1)
	assert.Equal(t, protocol.SeverityWarning, sender.envelopes()[0].Error.Severity)
}

func TestDanglingReferenceShowsError(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{})
	apply(t, rt, createMain)
	apply(t, rt, `{"updateComponents":{"surfaceId":"main","components":[{"id":"root","component":"Card","child":"body"}]}}`)
	require.Len(t, rec.Of(ui.EventTypeError), 1)
	assert.Equal(t, []string{protocol.CodeLifecycle}, sender.errorCodes())

	apply(t, rt, `{"updateComponents":{"surfaceId":"main","components":[{"id":"body","component":"Text","text":"ok"}]}}`)
	ev, ok := rec.Last(ui.EventTypeRender)
	require.True(t, ok)
	require.Len(t, ev.Spec.Root.Children, 1)
	assert.Equal(t, "ok", ev.Spec.Root.Children[0].Props["text"])
}

func TestDeleteActiveShowsClosed(t *testing.T) {
	rt, rec, _ := newRuntime(t, Options{})
	apply(t, rt, createMain)
	apply(t, rt, helloRoot)
	require.True(t, apply(t, rt, `{"deleteSurface":{"surfaceId":"main"}}`).Success)

	ev, ok := rec.Last(ui.EventTypeClosed)
	require.True(t, ok)
	assert.Equal(t, "main", ev.SurfaceID)
	assert.Empty(t, rt.Active())

	res := apply(t, rt, helloRoot)
	assert.False(t, res.Success)
}

func TestOnlyActiveSurfaceRerenders(t *testing.T) {
	rt, rec, _ := newRuntime(t, Options{})
	apply(t, rt, createMain)
	apply(t, rt, `{"updateComponents":{"surfaceId":"main","components":[{"id":"root","component":"Text","text":{"path":"/greeting"}}]}}`)
	apply(t, rt, `{"createSurface":{"surfaceId":"side","catalogId":""}}`)
	apply(t, rt, `{"updateComponents":{"surfaceId":"side","components":[{"id":"root","component":"Text","text":"side"}]}}`)
	assert.Equal(t, "main", rt.Active())
	for _, ev := range rec.Of(ui.EventTypeRender) {
		assert.Equal(t, "main", ev.SurfaceID)
	}

	before := len(rec.Of(ui.EventTypeRender))
	apply(t, rt, `{"updateDataModel":{"surfaceId":"side","path":"/x","value":1}}`)
	assert.Len(t, rec.Of(ui.EventTypeRender), before)

	apply(t, rt, `{"updateDataModel":{"surfaceId":"main","path":"/greeting","value":"hello"}}`)
	ev, _ := rec.Last(ui.EventTypeRender)
	assert.Equal(t, "hello", ev.Spec.Root.Props["text"])
	assert.Equal(t, surface.PhaseRendered, rt.Surfaces().Phase("main"))
	assert.Equal(t, surface.PhasePopulated, rt.Surfaces().Phase("side"))

	rt.SetActive("side")
	ev, _ = rec.Last(ui.EventTypeRender)
	assert.Equal(t, "side", ev.SurfaceID)
}

const form = `{"updateComponents":{"surfaceId":"main","components":[
	{"id":"root","component":"Column","children":["count","inc","send","label"]},
	{"id":"count","component":"Text","text":"${/count}"},
	{"id":"label","component":"Text","text":"Go"},
	{"id":"inc","component":"Button","child":"label","action":{"functionCall":{"call":"setState","args":{"path":"/count","value":2}}}},
	{"id":"send","component":"Button","child":"label","action":{"event":{"name":"submit","context":{"count":{"path":"/count"}}}}}
]}}`

func TestInteractionsApplyLocallyOrSend(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{})
	apply(t, rt, createMain)
	apply(t, rt, form)
	apply(t, rt, `{"updateDataModel":{"surfaceId":"main","path":"/count","value":1}}`)

	out, err := rt.Interact(dispatch.Interaction{SurfaceID: "main", ComponentID: "inc", Type: "click"})
	require.NoError(t, err)
	assert.True(t, out.Local)
	assert.Empty(t, sender.envelopes())
	ev, _ := rec.Last(ui.EventTypeRender)
	assert.Equal(t, 2.0, ev.Spec.Root.Children[0].Props["text"])

	_, err = rt.Interact(dispatch.Interaction{SurfaceID: "main", ComponentID: "send", Type: "click"})
	require.NoError(t, err)
	envs := sender.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "submit", envs[0].Action.Name)
	assert.Equal(t, map[string]any{"count": 2.0}, envs[0].Action.Context)
}

func TestRetentionEvictsOldestInactive(t *testing.T) {
	rt, _, _ := newRuntime(t, Options{MaxSurfaces: 2})
	apply(t, rt, createMain)
	apply(t, rt, `{"createSurface":{"surfaceId":"b","catalogId":""}}`)
	apply(t, rt, `{"createSurface":{"surfaceId":"c","catalogId":""}}`)

	assert.Equal(t, "main", rt.Active())
	assert.Equal(t, []string{"c", "main"}, rt.Surfaces().IDs())
	assert.Equal(t, surface.PhaseUnknown, rt.Surfaces().Phase("b"))
	assert.True(t, apply(t, rt, `{"createSurface":{"surfaceId":"b","catalogId":""}}`).Success)
}

func TestRunLoopSerialisesInboundAndPosts(t *testing.T) {
	rt, rec, sender := newRuntime(t, Options{})
	inbound := make(chan conn.Inbound, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx, inbound) }()

	for _, raw := range []string{createMain, form} {
		msg, err := protocol.Decode([]byte(raw))
		require.NoError(t, err)
		inbound <- conn.Inbound{Message: msg}
	}
	inbound <- conn.Inbound{Ack: &protocol.HelloAck{Type: protocol.FrameHelloAck, ClientID: "c9"}}
	inbound <- conn.Inbound{Status: &conn.Status{State: conn.StateConnected}}
	require.Eventually(t, func() bool {
		_, rendered := rec.Last(ui.EventTypeRender)
		_, status := rec.Last(ui.EventTypeStatus)
		return rendered && status
	}, 2*time.Second, 10*time.Millisecond)

	rt.Post(dispatch.Interaction{SurfaceID: "main", ComponentID: "send", Type: "click"})
	require.Eventually(t, func() bool { return len(sender.envelopes()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "submit", sender.envelopes()[0].Action.Name)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, "c9", rt.ClientID())
	status, ok := rec.Last(ui.EventTypeStatus)
	require.True(t, ok)
	assert.Equal(t, "connected", status.Message)
}

func TestResetClearsEverything(t *testing.T) {
	rt, rec, _ := newRuntime(t, Options{})
	apply(t, rt, createMain)
	apply(t, rt, helloRoot)
	rt.Reset()
	assert.Zero(t, rt.Surfaces().Len())
	assert.Empty(t, rt.Active())
	_, ok := rec.Last(ui.EventTypeClosed)
	assert.True(t, ok)
	assert.True(t, apply(t, rt, createMain).Success)
}
