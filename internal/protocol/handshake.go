package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	FrameHello    = "hello"
	FrameHelloAck = "hello_ack"
)

// Features advertised by this runtime and accepted by the gateway.
var SupportedFeatures = []string{
	"a2ui_stream_v1",
	"json_pointer_bindings_v1",
}

// Commands lists the lifecycle command names a runtime can apply.
func Commands() []string {
	out := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		out = append(out, string(k))
	}
	return out
}

// Hello is the first frame a client sends on every connection.
type Hello struct {
	Type                string   `json:"type"`
	ClientID            string   `json:"client_id,omitempty"`
	Token               string   `json:"token,omitempty"`
	ProtocolVersions    []string `json:"protocol_versions"`
	SupportedComponents []string `json:"supported_components"`
	SupportedCommands   []string `json:"supported_commands"`
	Features            []string `json:"features"`
}

// CatalogSnapshot describes the catalog a gateway expects clients to render.
type CatalogSnapshot struct {
	CatalogID      string   `json:"catalogId"`
	Version        string   `json:"version"`
	ComponentTypes []string `json:"componentTypes"`
}

// HelloAck is the gateway's reply; queued client events flush only after it.
type HelloAck struct {
	Type               string           `json:"type"`
	ClientID           string           `json:"client_id"`
	Protocol           string           `json:"protocol,omitempty"`
	AutoUI             bool             `json:"auto_ui"`
	ActiveSessions     int              `json:"active_sessions,omitempty"`
	Catalog            *CatalogSnapshot `json:"catalog,omitempty"`
	NegotiatedFeatures []string         `json:"negotiated_features,omitempty"`
}

// Capabilities is the outcome of negotiating a Hello against a gateway.
type Capabilities struct {
	Protocol   string
	Components []string
	Commands   []string
	Features   []string
}

// Negotiate picks the first mutually supported protocol version, intersects
// the advertised components with the gateway catalog, and keeps only known
// features.
func Negotiate(hello Hello, catalogTypes []string) Capabilities {
	caps := Capabilities{Protocol: SupportedVersions[0]}
	for _, v := range cleanList(hello.ProtocolVersions) {
		if supportedVersion(v) {
			caps.Protocol = v
			break
		}
	}

	known := make(map[string]struct{}, len(catalogTypes))
	for _, t := range catalogTypes {
		known[t] = struct{}{}
	}
	requested := cleanList(hello.SupportedComponents)
	if len(requested) == 0 {
		caps.Components = append([]string(nil), catalogTypes...)
	} else {
		for _, c := range requested {
			if _, ok := known[c]; ok {
				caps.Components = append(caps.Components, c)
			}
		}
	}
	sort.Strings(caps.Components)

	caps.Commands = cleanList(hello.SupportedCommands)
	for _, f := range cleanList(hello.Features) {
		for _, s := range SupportedFeatures {
			if f == s {
				caps.Features = append(caps.Features, f)
				break
			}
		}
	}
	return caps
}

func cleanList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ServerFrame is one decoded gateway-to-client frame: either a HelloAck or a
// lifecycle Message.
type ServerFrame struct {
	Ack     *HelloAck
	Message Message
}

// DecodeServerFrame distinguishes hello_ack from lifecycle envelopes.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ServerFrame{}, fmt.Errorf("%w: %v", ErrUnsupportedMessage, err)
	}
	if t, ok := raw["type"]; ok {
		var frameType string
		_ = json.Unmarshal(t, &frameType)
		if frameType != FrameHelloAck {
			return ServerFrame{}, fmt.Errorf("%w: frame type %q", ErrUnsupportedMessage, frameType)
		}
		var ack HelloAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return ServerFrame{}, fmt.Errorf("%w: hello_ack: %v", ErrUnsupportedMessage, err)
		}
		return ServerFrame{Ack: &ack}, nil
	}
	msg, err := decodeFields(raw)
	if err != nil {
		return ServerFrame{}, err
	}
	return ServerFrame{Message: msg}, nil
}

// ClientFrame is one decoded client-to-gateway frame.
type ClientFrame struct {
	Hello    *Hello
	Envelope *ClientEnvelope
}

// DecodeClientFrame distinguishes hello from action/error envelopes.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var shape struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrUnsupportedMessage, err)
	}
	if shape.Type != "" {
		if shape.Type != FrameHello {
			return ClientFrame{}, fmt.Errorf("%w: frame type %q", ErrUnsupportedMessage, shape.Type)
		}
		var hello Hello
		if err := json.Unmarshal(data, &hello); err != nil {
			return ClientFrame{}, fmt.Errorf("%w: hello: %v", ErrUnsupportedMessage, err)
		}
		return ClientFrame{Hello: &hello}, nil
	}
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrUnsupportedMessage, err)
	}
	if err := env.Validate(); err != nil {
		return ClientFrame{}, err
	}
	return ClientFrame{Envelope: &env}, nil
}
