package surfacestore

import (
	"context"
	"sort"
	"sync"

	"metaui/internal/gateway/session"
)

// Memory keeps snapshots in process.
type Memory struct {
	mu   sync.RWMutex
	byID map[string]session.Snapshot
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]session.Snapshot)}
}

func (m *Memory) Save(_ context.Context, snap session.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[snap.SurfaceID] = snap
	return nil
}

func (m *Memory) Delete(_ context.Context, surfaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, surfaceID)
	return nil
}

func (m *Memory) LoadAll(context.Context) ([]session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]session.Snapshot, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
