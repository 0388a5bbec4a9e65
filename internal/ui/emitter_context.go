package ui

import "context"

type ctxKey int

const (
	emitterKey ctxKey = iota
	surfaceKey
)

// WithEmitter binds an emitter to ctx.
func WithEmitter(ctx context.Context, emitter Emitter) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, emitterKey, emitter)
}

// EmitterFrom returns the emitter bound to ctx, or nil.
func EmitterFrom(ctx context.Context) Emitter {
	if ctx == nil {
		return nil
	}
	e, _ := ctx.Value(emitterKey).(Emitter)
	return e
}

// WithSurface scopes ctx to one surface. Events sent through the scoped
// context without a surface id are attributed to it; an empty id clears the
// scope.
func WithSurface(ctx context.Context, surfaceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, surfaceKey, surfaceID)
}

// SurfaceFrom returns the surface ctx is scoped to.
func SurfaceFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(surfaceKey).(string)
	return id
}
