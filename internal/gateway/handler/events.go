package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"metaui/internal/gateway/events"
)

const maxWait = 30 * time.Second

// HandleEvents returns buffered client events. Query parameters: surfaceId,
// clientId, name (repeatable or comma separated), since (RFC 3339), limit,
// consume, and wait (a duration to long-poll for the first match).
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q, wait, err := parseEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		out      []events.Event
		consumed bool
	)
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		out, consumed, _ = h.events.Wait(ctx, q)
	} else {
		out, consumed = h.events.Query(q)
	}
	if out == nil {
		out = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"events":   out,
		"consumed": consumed,
		"health":   h.events.Health(),
	})
}

func parseEventQuery(r *http.Request) (events.Query, time.Duration, error) {
	v := r.URL.Query()
	q := events.Query{
		SurfaceID: strings.TrimSpace(v.Get("surfaceId")),
		ClientID:  strings.TrimSpace(v.Get("clientId")),
	}
	for _, n := range v["name"] {
		for _, part := range strings.Split(n, ",") {
			if part = strings.TrimSpace(part); part != "" {
				q.Names = append(q.Names, part)
			}
		}
	}
	if raw := strings.TrimSpace(v.Get("since")); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, 0, err
		}
		q.Since = ts
	}
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, 0, err
		}
		q.Limit = n
	}
	if raw := strings.TrimSpace(v.Get("consume")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, 0, err
		}
		q.Consume = b
	}
	var wait time.Duration
	if raw := strings.TrimSpace(v.Get("wait")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return q, 0, err
		}
		wait = min(d, maxWait)
	}
	return q, wait, nil
}
