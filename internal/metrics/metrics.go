// Package metrics holds the Prometheus collectors shared by the runtime and
// the gateway.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the metaui collectors.
	Registry = prometheus.NewRegistry()

	messagesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "runtime",
			Name:      "messages_applied_total",
			Help:      "Lifecycle messages applied, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	surfacesLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "metaui",
			Subsystem: "runtime",
			Name:      "surfaces_live",
			Help:      "Surfaces currently held by the runtime.",
		},
	)

	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "runtime",
			Name:      "renders_total",
			Help:      "Render derivations, by result.",
		},
		[]string{"result"},
	)

	eventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "runtime",
			Name:      "events_sent_total",
			Help:      "Outbound envelopes handed to the connection, by type.",
		},
		[]string{"type"},
	)

	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "conn",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts scheduled.",
		},
	)

	gatewayClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "metaui",
			Subsystem: "gateway",
			Name:      "clients",
			Help:      "Acknowledged websocket clients.",
		},
	)

	gatewayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "gateway",
			Name:      "events_total",
			Help:      "Client events received, by outcome.",
		},
		[]string{"outcome"},
	)

	gatewayBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "gateway",
			Name:      "messages_broadcast_total",
			Help:      "Lifecycle messages pushed to clients, by kind.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "metaui",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "metaui",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		messagesApplied,
		surfacesLive,
		renders,
		eventsSent,
		reconnects,
		gatewayClients,
		gatewayEvents,
		gatewayBroadcasts,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordApply counts one applied lifecycle message.
func RecordApply(kind string, ok bool) {
	if kind == "" {
		kind = "unknown"
	}
	messagesApplied.WithLabelValues(kind, result(ok)).Inc()
}

// SetSurfacesLive reports the live surface count.
func SetSurfacesLive(n int) { surfacesLive.Set(float64(n)) }

// RecordRender counts one render derivation.
func RecordRender(ok bool) { renders.WithLabelValues(result(ok)).Inc() }

// RecordEventSent counts one outbound envelope; typ is "action" or "error".
func RecordEventSent(typ string) { eventsSent.WithLabelValues(typ).Inc() }

// RecordReconnect counts one scheduled reconnect.
func RecordReconnect() { reconnects.Inc() }

// SetGatewayClients reports connected clients.
func SetGatewayClients(n int) { gatewayClients.Set(float64(n)) }

// RecordGatewayEvent counts a received client event by outcome.
func RecordGatewayEvent(outcome string) { gatewayEvents.WithLabelValues(outcome).Inc() }

// RecordBroadcast counts a lifecycle message pushed to clients.
func RecordBroadcast(kind string) { gatewayBroadcasts.WithLabelValues(kind).Inc() }

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// InstrumentHandler wraps next with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return "/v1/" + parts[1]
	}
	return "/" + parts[0]
}
