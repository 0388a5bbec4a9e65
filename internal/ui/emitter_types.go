// Package ui is the renderer side of the runtime: the events a runtime
// emits and a text renderer that draws them.
package ui

import "metaui/internal/surface"

type EventType string

const (
	EventTypeRender  EventType = "render"
	EventTypeClosed  EventType = "closed"
	EventTypeError   EventType = "error"
	EventTypeToast   EventType = "toast"
	EventTypeStatus  EventType = "status"
	EventTypeOpenURL EventType = "open_url"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one instruction to the renderer.
type Event struct {
	Type      EventType
	SurfaceID string
	// Spec is set for EventTypeRender.
	Spec    *surface.RenderSpec
	Level   Level
	Message string
	URL     string
}

// Emitter receives runtime events. Calls come from the runtime loop only.
type Emitter interface {
	EmitUIEvent(event Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) EmitUIEvent(event Event) { f(event) }
