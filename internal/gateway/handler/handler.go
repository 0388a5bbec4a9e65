package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"metaui/internal/gateway/events"
	"metaui/internal/gateway/hub"
	"metaui/internal/gateway/service/surfaces"
)

const maxBodyBytes = 4 << 20

// Handler serves the authoring-side HTTP API.
type Handler struct {
	surfaces *surfaces.Service
	events   *events.Store
	hub      *hub.Hub
	log      *slog.Logger
}

func New(svc *surfaces.Service, store *events.Store, h *hub.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{surfaces: svc, events: store, hub: h, log: logger}
}

// HandleSurfaces lists live surfaces.
func (h *Handler) HandleSurfaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"surfaces": h.surfaces.Surfaces(),
	})
}

// HandleHealth reports client, surface and event store state.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"clients":  h.hub.Clients(),
		"surfaces": h.surfaces.Len(),
		"events":   h.events.Health(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
