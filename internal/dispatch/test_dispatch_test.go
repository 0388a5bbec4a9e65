package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaui/internal/catalog"
	"metaui/internal/datamodel"
	"metaui/internal/functions"
	"metaui/internal/protocol"
	"metaui/internal/surface"
)

type surfaceHost struct {
	model    *datamodel.Store
	renders  int
	opened   []string
	warnings []string
}

func (h *surfaceHost) DataModel() *datamodel.Store { return h.model }
func (h *surfaceHost) RequestRender()              { h.renders++ }
func (h *surfaceHost) Open(url string) error {
	h.opened = append(h.opened, url)
	return nil
}
func (h *surfaceHost) Warn(code, _ string) { h.warnings = append(h.warnings, code) }

func setup(t *testing.T, sendDataModel bool, components string) (*Dispatcher, *surface.Store, *surfaceHost) {
	t.Helper()
	st := surface.NewStore(catalog.Standard(), surface.Options{AllowRootFallback: true}, nil)
	create := `{"createSurface":{"surfaceId":"main","catalogId":""}}`
	if sendDataModel {
		create = `{"createSurface":{"surfaceId":"main","catalogId":"","sendDataModel":true}}`
	}
	for _, raw := range []string{create, `{"updateComponents":{"surfaceId":"main","components":` + components + `}}`} {
		msg, err := protocol.Decode([]byte(raw))
		require.NoError(t, err)
		res := st.Apply(msg)
		require.True(t, res.Success, "apply: %v", res.Error)
	}
	s, _ := st.Get("main")
	require.NoError(t, s.Model.Set("/user", map[string]any{"name": "Ada"}))
	return New(st, functions.New(nil), nil), st, &surfaceHost{model: s.Model}
}

const buttonWith = `[
	{"id":"root","component":"Column","children":["go","label","email"]},
	{"id":"label","component":"Text","text":"Go"},
	{"id":"email","component":"TextField","label":"Email","value":{"path":"/form/email"},
	 "checks":[{"call":"required","args":{"value":{"path":"/form/email"}},"message":"Email is required"}]},
	{"id":"go","component":"Button","child":"label","action":%s}
]`

func button(action string) string {
	return strings.Replace(buttonWith, "%s", action, 1)
}

func TestEventActionSendsResolvedContext(t *testing.T) {
	d, _, host := setup(t, false, button(`{"event":{"name":"submit","context":{"who":{"path":"/user/name"},"clicked":"${payload.n}"}}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "go", Type: "click", Payload: map[string]any{"n": 2.0}}, host)
	require.NoError(t, err)
	require.NotNil(t, out.Envelope)
	require.NoError(t, out.Envelope.Validate())

	a := out.Envelope.Action
	assert.Equal(t, "submit", a.Name)
	assert.Equal(t, "main", a.SurfaceID)
	assert.Equal(t, "go", a.SourceComponentID)
	assert.Equal(t, map[string]any{"who": "Ada", "clicked": 2.0}, a.Context)
	assert.Nil(t, a.DataModel)
	assert.NotEmpty(t, a.Timestamp)
}

func TestEventCarriesDataModelWhenRequested(t *testing.T) {
	d, _, host := setup(t, true, button(`{"event":{"name":"submit"}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "go", Type: "click"}, host)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": map[string]any{"name": "Ada"}}, out.Envelope.Action.DataModel)
	assert.Equal(t, map[string]any{}, out.Envelope.Action.Context)
}

func TestStateCallIsLocal(t *testing.T) {
	d, st, host := setup(t, false, button(`{"functionCall":{"call":"setState","args":{"path":"/user/name","value":"Linus"}}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "go", Type: "click"}, host)
	require.NoError(t, err)
	assert.True(t, out.Local)
	assert.Nil(t, out.Envelope)
	assert.Equal(t, 1, host.renders)

	s, _ := st.Get("main")
	name, _ := s.Model.Get("/user/name")
	assert.Equal(t, "Linus", name)
}

func TestRunSequenceSkipsNestedSequence(t *testing.T) {
	d, st, host := setup(t, false, button(`{"functionCall":{"call":"runSequence","args":{"steps":[
		{"call":"appendState","args":{"path":"/log","value":"one"}},
		{"call":"runSequence","args":{"steps":[{"call":"appendState","args":{"path":"/log","value":"nested"}}]}},
		{"call":"appendState","args":{"path":"/log","value":"three"}}
	]}}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "go", Type: "click"}, host)
	require.NoError(t, err)
	assert.True(t, out.Local)
	assert.Nil(t, out.Envelope)

	s, _ := st.Get("main")
	log, _ := s.Model.Get("/log")
	assert.Equal(t, []any{"one", "three"}, log)
	assert.Equal(t, 2, host.renders)
}

func TestNonLocalCallReportsResult(t *testing.T) {
	d, _, host := setup(t, false, button(`{"functionCall":{"call":"formatString","args":{"value":"hello ${/user/name}"}}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "go", Type: "click"}, host)
	require.NoError(t, err)
	assert.False(t, out.Local)
	require.NotNil(t, out.Envelope)
	a := out.Envelope.Action
	assert.Equal(t, FunctionResultEvent, a.Name)
	assert.Equal(t, "formatString", a.Context["call"])
	assert.Equal(t, "hello Ada", a.Context["result"])
	assert.Equal(t, map[string]any{"value": "hello Ada"}, a.Context["args"])
}

func TestOpenURLIsLocal(t *testing.T) {
	d, _, host := setup(t, false, button(`{"functionCall":{"call":"openUrl","args":{"url":"https://example.com"}}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "go", Type: "click"}, host)
	require.NoError(t, err)
	assert.True(t, out.Local)
	assert.Equal(t, []string{"https://example.com"}, host.opened)
}

func TestFallbackEventAndSuppression(t *testing.T) {
	d, _, host := setup(t, false, button(`{"event":{"name":"noop"}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "label", Type: "click", Payload: "x"}, host)
	require.NoError(t, err)
	require.NotNil(t, out.Envelope)
	assert.Equal(t, "click", out.Envelope.Action.Name)
	assert.Equal(t, map[string]any{"value": "x"}, out.Envelope.Action.Context)

	out, err = d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "label", Type: "click", SuppressFallback: true}, host)
	require.NoError(t, err)
	assert.Nil(t, out.Envelope)
}

func TestInputChangeWritesBinding(t *testing.T) {
	d, st, host := setup(t, false, button(`{"event":{"name":"noop"}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "email", Type: "change", Payload: map[string]any{"value": "a@b.co"}, SuppressFallback: true}, host)
	require.NoError(t, err)
	assert.True(t, out.Rerender)
	assert.Nil(t, out.Envelope)

	s, _ := st.Get("main")
	v, _ := s.Model.Get("/form/email")
	assert.Equal(t, "a@b.co", v)
}

func TestFailingChecksBlockSubmit(t *testing.T) {
	d, _, host := setup(t, false, button(`{"event":{"name":"noop"}}`))
	out, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "email", Type: "submit"}, host)
	require.NoError(t, err)
	assert.Equal(t, []string{"Email is required"}, out.Invalid)
	assert.Nil(t, out.Envelope)
}

func TestUnknownTargets(t *testing.T) {
	d, _, host := setup(t, false, button(`{"event":{"name":"noop"}}`))
	_, err := d.Dispatch(Interaction{SurfaceID: "main", ComponentID: "ghost", Type: "click"}, host)
	assert.True(t, errors.Is(err, ErrUnknownComponent))
	_, err = d.Dispatch(Interaction{SurfaceID: "other", ComponentID: "go", Type: "click"}, host)
	assert.True(t, errors.Is(err, surface.ErrLifecycle))
}

func TestSanitize(t *testing.T) {
	long := strings.Repeat("é", MaxTextChars+5)
	items := make([]any, MaxListItems+3)
	got := Sanitize(map[string]any{
		"Base64": "abcd",
		"blob":   []any{1},
		"text":   long,
		"items":  items,
	}).(map[string]any)

	assert.Equal(t, "<redacted:4 chars>", got["Base64"])
	assert.Equal(t, "<redacted>", got["blob"])
	assert.True(t, strings.HasSuffix(got["text"].(string), "...<truncated>"))
	list := got["items"].([]any)
	assert.Len(t, list, MaxListItems+1)
	assert.Equal(t, map[string]any{"_truncated_items": 3}, list[MaxListItems])

	var deep any = "leaf"
	for i := 0; i < MaxPayloadDepth+2; i++ {
		deep = map[string]any{"n": deep}
	}
	walked := Sanitize(deep)
	for i := 0; i < MaxPayloadDepth; i++ {
		walked = walked.(map[string]any)["n"]
	}
	assert.Equal(t, "<truncated_depth>", walked)
}
