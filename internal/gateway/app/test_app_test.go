package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaui/internal/config"
	"metaui/internal/conn"
	"metaui/internal/dispatch"
	"metaui/internal/gateway/hub"
	"metaui/internal/protocol"
	"metaui/internal/runtime"
	"metaui/internal/ui"
)

const surfaceBatch = `[
	{"version":"v0.10","createSurface":{"surfaceId":"main","catalogId":""}},
	{"version":"v0.10","updateComponents":{"surfaceId":"main","components":[
		{"id":"root","component":"Column","children":["title","send"]},
		{"id":"title","component":"Text","text":"${/greeting}"},
		{"id":"label","component":"Text","text":"Send"},
		{"id":"send","component":"Button","child":"label","action":{"event":{"name":"submit","context":{"greeting":{"path":"/greeting"}}}}}
	]}},
	{"version":"v0.10","updateDataModel":{"surfaceId":"main","path":"/greeting","value":"hello"}}
]`

func newGateway(t *testing.T, token string) (*App, *httptest.Server) {
	t.Helper()
	a, err := New(context.Background(), &config.Gateway{
		Port:          ":0",
		Token:         token,
		MaxSurfaces:   16,
		EventCapacity: 64,
		EventRate:     100,
		EventBurst:    100,
	}, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func post(t *testing.T, srv *httptest.Server, path, token, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func get(t *testing.T, srv *httptest.Server, path, token string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func dialHello(t *testing.T, srv *httptest.Server, hello protocol.Hello) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	hello.Type = protocol.FrameHello
	require.NoError(t, c.WriteJSON(hello))
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.DecodeServerFrame(data)
	require.NoError(t, err)
	return frame
}

func TestHelloAckThenBroadcast(t *testing.T) {
	_, srv := newGateway(t, "")
	c := dialHello(t, srv, protocol.Hello{
		ProtocolVersions:    []string{"v9", protocol.Version},
		SupportedComponents: []string{"Text", "Marquee"},
		Features:            []string{"a2ui_stream_v1", "telepathy"},
	})

	ack := readFrame(t, c).Ack
	require.NotNil(t, ack)
	assert.True(t, strings.HasPrefix(ack.ClientID, "metaui-client-"))
	assert.Equal(t, protocol.Version, ack.Protocol)
	assert.Equal(t, []string{"a2ui_stream_v1"}, ack.NegotiatedFeatures)
	require.NotNil(t, ack.Catalog)

	status, body := post(t, srv, "/v1/messages", "", surfaceBatch)
	require.Equal(t, http.StatusOK, status, "%v", body)
	assert.Equal(t, 3.0, body["accepted"])
	assert.Equal(t, 1.0, body["delivered"])

	var got []protocol.Kind
	for i := 0; i < 3; i++ {
		got = append(got, readFrame(t, c).Message.Kind())
	}
	assert.Equal(t, []protocol.Kind{protocol.KindCreateSurface, protocol.KindUpdateComponents, protocol.KindUpdateDataModel}, got)
}

func TestLateClientReceivesReplay(t *testing.T) {
	_, srv := newGateway(t, "")
	status, _ := post(t, srv, "/v1/messages", "", surfaceBatch)
	require.Equal(t, http.StatusOK, status)

	c := dialHello(t, srv, protocol.Hello{ClientID: "late"})
	ack := readFrame(t, c).Ack
	require.NotNil(t, ack)
	assert.Equal(t, "late", ack.ClientID)
	assert.Equal(t, 1, ack.ActiveSessions)

	create := readFrame(t, c).Message
	comps := readFrame(t, c).Message
	dm, ok := readFrame(t, c).Message.(*protocol.UpdateDataModel)
	require.True(t, ok)
	assert.Equal(t, protocol.KindCreateSurface, create.Kind())
	assert.Len(t, comps.(*protocol.UpdateComponents).Components, 4)
	doc, err := protocol.DecodeContents(dm.Contents)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hello"}, doc)
}

func TestTokenIsEnforced(t *testing.T) {
	_, srv := newGateway(t, "s3cret")

	c := dialHello(t, srv, protocol.Hello{Token: "wrong"})
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, hub.CloseUnauthorized, ce.Code)

	status, _ := post(t, srv, "/v1/messages", "", surfaceBatch)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = post(t, srv, "/v1/messages", "s3cret", surfaceBatch)
	assert.Equal(t, http.StatusOK, status)

	ok := dialHello(t, srv, protocol.Hello{Token: "s3cret"})
	require.NotNil(t, readFrame(t, ok).Ack)
}

func TestPublishErrors(t *testing.T) {
	_, srv := newGateway(t, "")
	status, body := post(t, srv, "/v1/messages", "", `{"version":"v0.10","updateComponents":{"surfaceId":"ghost","components":[]}}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 0.0, body["index"])

	status, _ = post(t, srv, "/v1/messages", "", `{"version":"v0.10","createSurface":{"surfaceId":"a"},"deleteSurface":{"surfaceId":"a"}}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = post(t, srv, "/v1/messages", "", `{"messages":[
		{"version":"v0.10","createSurface":{"surfaceId":"a"}},
		{"version":"v0.10","updateComponents":{"surfaceId":"a","components":[{"id":"root","component":"Text","color":"red"}]}}
	]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 1.0, body["index"])
	assert.Equal(t, 1.0, body["accepted"])

	status, body = get(t, srv, "/v1/surfaces", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["surfaces"], 1)

	status, _ = post(t, srv, "/v1/messages", "", `{"version":"v0.10","deleteSurface":{"surfaceId":"a"}}`)
	require.Equal(t, http.StatusOK, status)
	status, body = post(t, srv, "/v1/messages", "", `{"version":"v0.10","createSurface":{"surfaceId":"a"}}`)
	assert.Equal(t, http.StatusConflict, status, "deleted ids stay deleted, as in the runtime")
	assert.Equal(t, 0.0, body["index"])
}

func TestClientEventsAreStoredOnce(t *testing.T) {
	a, srv := newGateway(t, "")
	c := dialHello(t, srv, protocol.Hello{ClientID: "c1"})
	require.NotNil(t, readFrame(t, c).Ack)

	env := protocol.NewActionEnvelope(protocol.Action{Name: "submit", SurfaceID: "main", SourceComponentID: "send"}, time.Now())
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, raw))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, raw))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"version":"v0.10"}`)))

	status, body := get(t, srv, "/v1/events?name=submit&wait=2s&consume=true", "")
	require.Equal(t, http.StatusOK, status)
	evs := body["events"].([]any)
	require.Len(t, evs, 1)
	assert.Equal(t, "c1", evs[0].(map[string]any)["clientId"])
	assert.Equal(t, true, body["consumed"])

	require.Eventually(t, func() bool { return a.Events.Health().DuplicateIDs == 1 }, 2*time.Second, 10*time.Millisecond)
	status, body = get(t, srv, "/healthz", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["clients"], 1)
}

func TestRuntimeRoundTrip(t *testing.T) {
	a, srv := newGateway(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &ui.Recorder{}
	mgr := conn.New(conn.Config{URL: wsURL(srv), Hello: protocol.Hello{ClientID: "runtime-1"}}, nil)
	rt := runtime.New(runtime.Options{Sender: mgr, Emitter: rec, AllowRootFallback: true})
	go func() { _ = mgr.Run(ctx) }()
	go func() { _ = rt.Run(ctx, mgr.Inbound()) }()

	require.Eventually(t, func() bool { return a.Hub.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	status, _ := post(t, srv, "/v1/messages", "", surfaceBatch)
	require.Equal(t, http.StatusOK, status)

	require.Eventually(t, func() bool {
		ev, ok := rec.Last(ui.EventTypeRender)
		return ok && len(ev.Spec.Root.Children) == 2 && ev.Spec.Root.Children[0].Props["text"] == "hello"
	}, 3*time.Second, 10*time.Millisecond)

	rt.Post(dispatch.Interaction{SurfaceID: "main", ComponentID: "send", Type: "click"})
	status, body := get(t, srv, "/v1/events?name=submit&wait=3s", "")
	require.Equal(t, http.StatusOK, status)
	evs := body["events"].([]any)
	require.Len(t, evs, 1)
	ev := evs[0].(map[string]any)
	assert.Equal(t, "runtime-1", ev["clientId"])
	action := ev["envelope"].(map[string]any)["action"].(map[string]any)
	assert.Equal(t, map[string]any{"greeting": "hello"}, action["context"])

	status, _ = post(t, srv, "/v1/messages", "", `{"version":"v0.10","deleteSurface":{"surfaceId":"main"}}`)
	require.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool {
		_, closed := rec.Last(ui.EventTypeClosed)
		return closed
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newGateway(t, "")
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, buf.String(), "metaui_")
}
