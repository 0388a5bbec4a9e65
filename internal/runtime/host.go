package runtime

import (
	"metaui/internal/datamodel"
	"metaui/internal/functions"
	"metaui/internal/protocol"
	"metaui/internal/ui"
)

// surfaceHost binds function calls to one surface.
type surfaceHost struct {
	rt        *Runtime
	surfaceID string
}

var _ functions.Host = (*surfaceHost)(nil)

func (r *Runtime) host(surfaceID string) *surfaceHost {
	return &surfaceHost{rt: r, surfaceID: surfaceID}
}

func (h *surfaceHost) DataModel() *datamodel.Store {
	s, ok := h.rt.surfaces.Get(h.surfaceID)
	if !ok {
		return nil
	}
	return s.Model
}

func (h *surfaceHost) RequestRender() {
	h.rt.pending[h.surfaceID] = struct{}{}
}

func (h *surfaceHost) Open(url string) error {
	h.rt.emit(ui.Event{Type: ui.EventTypeOpenURL, SurfaceID: h.surfaceID, URL: url})
	return nil
}

func (h *surfaceHost) Warn(code, message string) {
	h.rt.toast(h.surfaceID, ui.LevelWarning, message)
	h.rt.send(protocol.NewErrorEnvelope(code, message, h.surfaceID, protocol.SeverityWarning))
}
