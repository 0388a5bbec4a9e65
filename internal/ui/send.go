package ui

import "context"

// Send emits event through the context-bound emitter, attributing it to the
// context's surface when it names none. It reports whether an emitter was
// present.
func Send(ctx context.Context, event Event) bool {
	emitter := EmitterFrom(ctx)
	if emitter == nil {
		return false
	}
	if event.SurfaceID == "" {
		event.SurfaceID = SurfaceFrom(ctx)
	}
	emitter.EmitUIEvent(event)
	return true
}

// SendToast emits a toast through the context-bound emitter.
func SendToast(ctx context.Context, level Level, message string) bool {
	return Send(ctx, Event{Type: EventTypeToast, Level: level, Message: message})
}
