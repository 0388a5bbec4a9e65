package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	hello := Hello{
		Type:                FrameHello,
		ProtocolVersions:    []string{"v0.9", " v0.10 ", "v0.10"},
		SupportedComponents: []string{"Text", "Button", "Chart"},
		SupportedCommands:   Commands(),
		Features:            []string{"a2ui_stream_v1", "voice"},
	}
	caps := Negotiate(hello, []string{"Button", "Column", "Text"})
	assert.Equal(t, "v0.10", caps.Protocol)
	assert.Equal(t, []string{"Button", "Text"}, caps.Components)
	assert.Equal(t, []string{"a2ui_stream_v1"}, caps.Features)
	assert.Len(t, caps.Commands, 4)
}

func TestNegotiateEmptyComponentsAcceptsCatalog(t *testing.T) {
	caps := Negotiate(Hello{Type: FrameHello}, []string{"Text", "Card"})
	assert.Equal(t, Version, caps.Protocol)
	assert.Equal(t, []string{"Card", "Text"}, caps.Components)
}

func TestDecodeServerFrame(t *testing.T) {
	frame, err := DecodeServerFrame([]byte(`{"type":"hello_ack","client_id":"c1","auto_ui":true}`))
	require.NoError(t, err)
	require.NotNil(t, frame.Ack)
	assert.Equal(t, "c1", frame.Ack.ClientID)
	assert.True(t, frame.Ack.AutoUI)

	frame, err = DecodeServerFrame([]byte(`{"deleteSurface":{"surfaceId":"x"}}`))
	require.NoError(t, err)
	require.NotNil(t, frame.Message)
	assert.Equal(t, KindDeleteSurface, frame.Message.Kind())

	_, err = DecodeServerFrame([]byte(`{"type":"ping"}`))
	assert.True(t, errors.Is(err, ErrUnsupportedMessage))
}

func TestDecodeClientFrame(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"hello","client_id":"c","protocol_versions":["v0.10"]}`))
	require.NoError(t, err)
	require.NotNil(t, frame.Hello)
	assert.Equal(t, []string{"v0.10"}, frame.Hello.ProtocolVersions)

	env := NewActionEnvelope(Action{Name: "submit", SurfaceID: "main", SourceComponentID: "btn"}, time.Unix(0, 0))
	data, err := json.Marshal(env)
	require.NoError(t, err)
	frame, err = DecodeClientFrame(data)
	require.NoError(t, err)
	require.NotNil(t, frame.Envelope)
	assert.Equal(t, "submit", frame.Envelope.Name())
	assert.Equal(t, "main", frame.Envelope.SurfaceID())
	assert.NotEmpty(t, frame.Envelope.EventID)
	assert.Equal(t, "1970-01-01T00:00:00Z", frame.Envelope.Action.Timestamp)
}

func TestEnvelopeOneOf(t *testing.T) {
	both := ClientEnvelope{Version: Version, Action: &Action{Name: "a"}, Error: &ErrorDetail{Code: "X"}}
	assert.Error(t, both.Validate())
	assert.Error(t, ClientEnvelope{Version: Version}.Validate())
	assert.NoError(t, NewErrorEnvelope(CodeLifecycle, "boom", "s", "").Validate())
	assert.Equal(t, SeverityError, NewErrorEnvelope(CodeLifecycle, "boom", "", "").Error.Severity)
}
