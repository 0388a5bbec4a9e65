package server

import (
	"net/http"

	"metaui/internal/gateway/handler"
	"metaui/internal/gateway/middleware"
	"metaui/internal/metrics"
)

// NewMux routes the HTTP API, the runtime websocket and metrics. The HTTP
// API requires token when it is set; the websocket checks it in hello.
func NewMux(h *handler.Handler, ws http.Handler, token string) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/v1/messages", middleware.BearerToken(token, http.HandlerFunc(h.HandleMessages)))
	mux.Handle("/v1/events", middleware.BearerToken(token, http.HandlerFunc(h.HandleEvents)))
	mux.Handle("/v1/surfaces", middleware.BearerToken(token, http.HandlerFunc(h.HandleSurfaces)))
	mux.HandleFunc("/healthz", h.HandleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", ws)

	return middleware.CORS(metrics.InstrumentHandler(mux))
}
