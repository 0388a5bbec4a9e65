package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"metaui/internal/gateway/service/surfaces"
	"metaui/internal/gateway/session"
	"metaui/internal/protocol"
)

// HandleMessages publishes lifecycle envelopes. The body is one envelope, a
// JSON array of envelopes, or {"messages": [...]}.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	msgs, err := decodeBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.surfaces.Publish(r.Context(), msgs)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrUnknownSurface) || errors.Is(err, session.ErrDeletedSurface) {
			status = http.StatusConflict
		}
		var pe *surfaces.PublishError
		index := -1
		if errors.As(err, &pe) {
			index = pe.Index
		}
		h.log.Warn("publish rejected", "index", index, "err", err)
		writeJSON(w, status, map[string]any{
			"ok":       false,
			"error":    err.Error(),
			"index":    index,
			"accepted": res.Accepted,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"accepted":  res.Accepted,
		"delivered": res.Delivered,
		"surfaces":  res.Surfaces,
	})
}

func decodeBatch(body []byte) ([]protocol.Message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	var raws []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
	} else {
		var shape map[string]json.RawMessage
		if err := json.Unmarshal(body, &shape); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		if list, ok := shape["messages"]; ok {
			if err := json.Unmarshal(list, &raws); err != nil {
				return nil, fmt.Errorf("messages: %w", err)
			}
		} else {
			raws = []json.RawMessage{body}
		}
	}
	if len(raws) == 0 {
		return nil, errors.New("no messages")
	}
	out := make([]protocol.Message, 0, len(raws))
	for i, raw := range raws {
		msg, err := protocol.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
