// Package events buffers client action and error envelopes for the authoring
// side to read.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"metaui/internal/cache/memory"
	"metaui/internal/protocol"
)

const (
	minCapacity = 64
	maxQueryLen = 500
)

// Event is one received client envelope.
type Event struct {
	ID         string                  `json:"eventId"`
	ClientID   string                  `json:"clientId"`
	SurfaceID  string                  `json:"surfaceId,omitempty"`
	Name       string                  `json:"name"`
	Envelope   protocol.ClientEnvelope `json:"envelope"`
	ReceivedAt time.Time               `json:"receivedAt"`
}

// Query selects events. Zero fields match everything.
type Query struct {
	SurfaceID string
	ClientID  string
	Names     []string
	Since     time.Time
	Limit     int
	// Consume removes the selected events from the store.
	Consume bool
}

// Health is a point-in-time view of store pressure.
type Health struct {
	Size            int     `json:"size"`
	Capacity        int     `json:"capacity"`
	OccupancyRatio  float64 `json:"occupancy_ratio"`
	PressureLevel   string  `json:"pressure_level"`
	DroppedEvents   int     `json:"dropped_events"`
	DuplicateIDs    int     `json:"duplicate_event_ids"`
	AcceptedIDs     int     `json:"accepted_event_ids"`
	QueriedEvents   int     `json:"queried_events"`
	ConsumedEvents  int     `json:"consumed_events"`
	MaxObservedSize int     `json:"max_observed_size"`
}

// Store keeps the newest capacity events; appending to a full store drops the
// oldest. Repeated event ids are ignored. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	ids      *memory.RecentIDs
	changed  chan struct{}
	now      func() time.Time

	dropped, queried, consumed, maxSize int
}

// New returns a store holding at least 64 events.
func New(capacity int) *Store {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Store{
		capacity: capacity,
		ids:      memory.NewRecentIDs(capacity, 0),
		changed:  make(chan struct{}),
		now:      time.Now,
	}
}

// Append records env from clientID. It returns false for duplicate ids.
func (s *Store) Append(clientID string, env protocol.ClientEnvelope) bool {
	if strings.TrimSpace(env.EventID) == "" {
		env.EventID = uuid.NewString()
	}
	if !s.ids.Accept(env.EventID) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == s.capacity {
		s.events = append(s.events[:0], s.events[1:]...)
		s.dropped++
	}
	s.events = append(s.events, Event{
		ID:         env.EventID,
		ClientID:   clientID,
		SurfaceID:  env.SurfaceID(),
		Name:       env.Name(),
		Envelope:   env,
		ReceivedAt: s.now().UTC(),
	})
	if len(s.events) > s.maxSize {
		s.maxSize = len(s.events)
	}
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// Query returns matching events oldest first, at most Limit (1..500,
// default 100). It reports whether the events were consumed.
func (s *Store) Query(q Query) ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(q)
}

func (s *Store) queryLocked(q Query) ([]Event, bool) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > maxQueryLen {
		limit = maxQueryLen
	}
	names := make(map[string]struct{}, len(q.Names))
	for _, n := range q.Names {
		if n = strings.TrimSpace(n); n != "" {
			names[n] = struct{}{}
		}
	}

	var selected []Event
	kept := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if len(selected) >= limit || !q.matches(ev, names) {
			kept = append(kept, ev)
			continue
		}
		selected = append(selected, ev)
	}
	consumed := q.Consume && len(selected) > 0
	if consumed {
		s.events = kept
		s.consumed += len(selected)
	}
	s.queried += len(selected)
	return selected, consumed
}

func (q Query) matches(ev Event, names map[string]struct{}) bool {
	if q.SurfaceID != "" && ev.SurfaceID != q.SurfaceID {
		return false
	}
	if q.ClientID != "" && ev.ClientID != q.ClientID {
		return false
	}
	if !q.Since.IsZero() && !ev.ReceivedAt.After(q.Since) {
		return false
	}
	if len(names) > 0 {
		if _, ok := names[ev.Name]; !ok {
			return false
		}
	}
	return true
}

// Wait blocks until at least one event matches q or ctx is done.
func (s *Store) Wait(ctx context.Context, q Query) ([]Event, bool, error) {
	for {
		s.mu.Lock()
		out, consumed := s.queryLocked(q)
		changed := s.changed
		s.mu.Unlock()
		if len(out) > 0 {
			return out, consumed, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-changed:
		}
	}
}

// Health reports size and pressure. Pressure is high once anything was
// dropped or occupancy reaches 90%, elevated from 70%.
func (s *Store) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	accepted, duplicates := s.ids.Stats()
	ratio := float64(len(s.events)) / float64(s.capacity)
	level := "normal"
	switch {
	case s.dropped > 0 || ratio >= 0.9:
		level = "high"
	case ratio >= 0.7:
		level = "elevated"
	}
	return Health{
		Size:            len(s.events),
		Capacity:        s.capacity,
		OccupancyRatio:  ratio,
		PressureLevel:   level,
		DroppedEvents:   s.dropped,
		DuplicateIDs:    duplicates,
		AcceptedIDs:     accepted,
		QueriedEvents:   s.queried,
		ConsumedEvents:  s.consumed,
		MaxObservedSize: s.maxSize,
	}
}

// Reset empties the store and zeroes every counter.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.ids.Reset()
	s.dropped, s.queried, s.consumed, s.maxSize = 0, 0, 0, 0
}
