// Package protocol defines the wire format exchanged between an authoring
// gateway and the local runtime.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Version is the lifecycle/action envelope version this module speaks.
const Version = "v0.10"

// SupportedVersions lists every envelope version accepted on decode.
var SupportedVersions = []string{Version}

// ErrUnsupportedMessage marks frames that match no known message kind.
var ErrUnsupportedMessage = errors.New("unsupported message")

// ErrMissingSurfaceID marks lifecycle messages without a surface id.
var ErrMissingSurfaceID = errors.New("surface id is required")

// Kind names one lifecycle message variant.
type Kind string

const (
	KindCreateSurface    Kind = "createSurface"
	KindUpdateComponents Kind = "updateComponents"
	KindUpdateDataModel  Kind = "updateDataModel"
	KindDeleteSurface    Kind = "deleteSurface"
)

// Kinds lists the lifecycle kinds in protocol order.
var Kinds = []Kind{KindCreateSurface, KindUpdateComponents, KindUpdateDataModel, KindDeleteSurface}

// Message is the closed set of lifecycle messages. Use a type switch over
// *CreateSurface, *UpdateComponents, *UpdateDataModel and *DeleteSurface.
type Message interface {
	Kind() Kind
	Surface() string
	isMessage()
}

type CreateSurface struct {
	SurfaceID     string         `json:"surfaceId"`
	CatalogID     string         `json:"catalogId"`
	SendDataModel bool           `json:"sendDataModel,omitempty"`
	Theme         map[string]any `json:"theme,omitempty"`
}

type UpdateComponents struct {
	SurfaceID  string           `json:"surfaceId"`
	Components []ComponentEntry `json:"components"`
}

// UpdateDataModel mutates a surface's data model at Path. A present non-null
// Value is written; a null or absent Value with no Contents removes the path;
// Contents are decoded into a mapping patch.
type UpdateDataModel struct {
	SurfaceID string
	Path      string
	Value     any
	HasValue  bool
	Contents  []ContentEntry
}

type DeleteSurface struct {
	SurfaceID string `json:"surfaceId"`
}

func (*CreateSurface) Kind() Kind    { return KindCreateSurface }
func (*UpdateComponents) Kind() Kind { return KindUpdateComponents }
func (*UpdateDataModel) Kind() Kind  { return KindUpdateDataModel }
func (*DeleteSurface) Kind() Kind    { return KindDeleteSurface }

func (m *CreateSurface) Surface() string    { return m.SurfaceID }
func (m *UpdateComponents) Surface() string { return m.SurfaceID }
func (m *UpdateDataModel) Surface() string  { return m.SurfaceID }
func (m *DeleteSurface) Surface() string    { return m.SurfaceID }

func (*CreateSurface) isMessage()    {}
func (*UpdateComponents) isMessage() {}
func (*UpdateDataModel) isMessage()  {}
func (*DeleteSurface) isMessage()    {}

// ComponentEntry is one updateComponents entry:
// {id, component: "<Type>" | {"<Type>": {...props}}, ...extraProps}.
type ComponentEntry struct {
	ID        string
	Component any
	Props     map[string]any
}

func (e *ComponentEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw["id"].(string)
	e.ID = strings.TrimSpace(id)
	e.Component = raw["component"]
	delete(raw, "id")
	delete(raw, "component")
	e.Props = raw
	return nil
}

func (e ComponentEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Props)+2)
	for k, v := range e.Props {
		out[k] = v
	}
	out["id"] = e.ID
	out["component"] = e.Component
	return json.Marshal(out)
}

func (m *UpdateDataModel) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		switch key {
		case "surfaceId", "path", "value", "contents":
		default:
			return fmt.Errorf("updateDataModel: unknown field %q", key)
		}
	}
	if v, ok := raw["surfaceId"]; ok {
		if err := json.Unmarshal(v, &m.SurfaceID); err != nil {
			return fmt.Errorf("updateDataModel.surfaceId: %w", err)
		}
	}
	m.Path = "/"
	if v, ok := raw["path"]; ok {
		if err := json.Unmarshal(v, &m.Path); err != nil {
			return fmt.Errorf("updateDataModel.path: %w", err)
		}
	}
	if v, ok := raw["value"]; ok {
		if err := json.Unmarshal(v, &m.Value); err != nil {
			return fmt.Errorf("updateDataModel.value: %w", err)
		}
		m.HasValue = m.Value != nil
	}
	if v, ok := raw["contents"]; ok {
		if err := json.Unmarshal(v, &m.Contents); err != nil {
			return fmt.Errorf("updateDataModel.contents: %w", err)
		}
	}
	return nil
}

func (m UpdateDataModel) MarshalJSON() ([]byte, error) {
	out := map[string]any{"surfaceId": m.SurfaceID}
	if m.Path != "" {
		out["path"] = m.Path
	}
	if m.HasValue {
		out["value"] = m.Value
	}
	if len(m.Contents) > 0 {
		out["contents"] = m.Contents
	}
	return json.Marshal(out)
}

// Decode parses one server-to-client lifecycle envelope. Exactly one message
// key must be present; anything else is ErrUnsupportedMessage.
func Decode(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMessage, err)
	}
	return decodeFields(raw)
}

func decodeFields(raw map[string]json.RawMessage) (Message, error) {
	version := Version
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("%w: version: %v", ErrUnsupportedMessage, err)
		}
	}
	if !supportedVersion(version) {
		return nil, fmt.Errorf("%w: protocol version %q (supported: %s)", ErrUnsupportedMessage, version, strings.Join(SupportedVersions, ", "))
	}

	var present []string
	for key := range raw {
		if key == "version" {
			continue
		}
		present = append(present, key)
	}
	sort.Strings(present)
	if len(present) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one message kind, got %v", ErrUnsupportedMessage, present)
	}

	body := raw[present[0]]
	var msg Message
	switch Kind(present[0]) {
	case KindCreateSurface:
		msg = &CreateSurface{}
	case KindUpdateComponents:
		msg = &UpdateComponents{}
	case KindUpdateDataModel:
		msg = &UpdateDataModel{}
	case KindDeleteSurface:
		msg = &DeleteSurface{}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnsupportedMessage, present[0])
	}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedMessage, present[0], err)
	}
	if strings.TrimSpace(msg.Surface()) == "" {
		return nil, fmt.Errorf("%s: %w", present[0], ErrMissingSurfaceID)
	}
	return msg, nil
}

// Encode wraps msg in a versioned envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	return json.Marshal(map[string]any{
		"version":         Version,
		string(msg.Kind()): msg,
	})
}

func supportedVersion(v string) bool {
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}
