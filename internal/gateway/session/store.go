// Package session keeps the gateway's view of every live surface so a newly
// connected client can be brought up to date.
package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"metaui/internal/datamodel"
	"metaui/internal/protocol"
	"metaui/internal/util/jsonutil"
)

var (
	// ErrUnknownSurface is returned for updates to a surface that was never
	// created.
	ErrUnknownSurface = errors.New("unknown surface")
	// ErrDeletedSurface is returned for any message naming a deleted surface.
	// Runtimes reject a re-created id too, so the gateway does the same.
	ErrDeletedSurface = errors.New("surface was deleted")
)

const tombstones = 1024

// Snapshot is the persisted form of one surface.
type Snapshot struct {
	SurfaceID  string                    `json:"surfaceId"`
	Create     protocol.CreateSurface    `json:"create"`
	Components []protocol.ComponentEntry `json:"components"`
	DataModel  map[string]any            `json:"dataModel"`
	UpdatedAt  time.Time                 `json:"updatedAt"`
}

// Summary describes a surface for listing.
type Summary struct {
	SurfaceID  string    `json:"surfaceId"`
	CatalogID  string    `json:"catalogId"`
	Components int       `json:"components"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type entry struct {
	create     protocol.CreateSurface
	components map[string]protocol.ComponentEntry
	order      []string
	model      *datamodel.Store
	updatedAt  time.Time
	seq        uint64
}

// Store is safe for concurrent use. When more than max surfaces are live the
// least recently updated one is dropped.
type Store struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	deleted *lru.Cache[string, struct{}]
	seq     uint64
	now     func() time.Time
}

// New returns a store holding at most max surfaces.
func New(max int) *Store {
	if max <= 0 {
		max = 256
	}
	entries, err := lru.New[string, *entry](max)
	if err != nil {
		panic(err)
	}
	deleted, err := lru.New[string, struct{}](tombstones)
	if err != nil {
		panic(err)
	}
	return &Store{entries: entries, deleted: deleted, now: time.Now}
}

// Record folds one lifecycle message into the store and returns the id of
// the surface it touched.
func (s *Store) Record(msg protocol.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(msg.Surface())
	if s.deleted.Contains(id) {
		return id, fmt.Errorf("%w: %q", ErrDeletedSurface, id)
	}
	switch m := msg.(type) {
	case *protocol.CreateSurface:
		e, ok := s.entries.Get(id)
		if !ok {
			e = &entry{components: map[string]protocol.ComponentEntry{}, model: datamodel.New()}
		}
		e.create = *m
		e.create.SurfaceID = id
		e.create.Theme = jsonutil.CloneMap(m.Theme)
		s.touch(id, e)
	case *protocol.UpdateComponents:
		e, ok := s.entries.Get(id)
		if !ok {
			return id, fmt.Errorf("%w: %q", ErrUnknownSurface, id)
		}
		for _, c := range m.Components {
			if _, seen := e.components[c.ID]; !seen {
				e.order = append(e.order, c.ID)
			}
			e.components[c.ID] = c
		}
		s.touch(id, e)
	case *protocol.UpdateDataModel:
		e, ok := s.entries.Get(id)
		if !ok {
			return id, fmt.Errorf("%w: %q", ErrUnknownSurface, id)
		}
		if err := applyDataModel(e.model, m); err != nil {
			return id, err
		}
		s.touch(id, e)
	case *protocol.DeleteSurface:
		if !s.entries.Remove(id) {
			return id, fmt.Errorf("%w: %q", ErrUnknownSurface, id)
		}
		s.deleted.Add(id, struct{}{})
	default:
		return id, fmt.Errorf("%w: %T", protocol.ErrUnsupportedMessage, msg)
	}
	return id, nil
}

func applyDataModel(model *datamodel.Store, m *protocol.UpdateDataModel) error {
	path := m.Path
	if strings.TrimSpace(path) == "" {
		path = "/"
	}
	switch {
	case len(m.Contents) > 0:
		patch, err := protocol.DecodeContents(m.Contents)
		if err != nil {
			return err
		}
		return model.Set(path, patch)
	case m.HasValue:
		return model.Set(path, m.Value)
	default:
		return model.Remove(path)
	}
}

func (s *Store) touch(id string, e *entry) {
	s.seq++
	e.seq = s.seq
	e.updatedAt = s.now().UTC()
	s.entries.Add(id, e)
}

// Replay returns, oldest surface first, the messages that rebuild every live
// surface: createSurface, updateComponents and a typed-contents
// updateDataModel when the model is not empty.
func (s *Store) Replay() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Message
	for _, id := range s.orderedLocked() {
		e, _ := s.entries.Peek(id)
		create := e.create
		out = append(out, &create)
		if len(e.order) > 0 {
			comps := make([]protocol.ComponentEntry, 0, len(e.order))
			for _, cid := range e.order {
				comps = append(comps, e.components[cid])
			}
			out = append(out, &protocol.UpdateComponents{SurfaceID: id, Components: comps})
		}
		if doc := e.model.Snapshot(); len(doc) > 0 {
			out = append(out, &protocol.UpdateDataModel{SurfaceID: id, Path: "/", Contents: protocol.EncodeContents(doc)})
		}
	}
	return out
}

func (s *Store) orderedLocked() []string {
	ids := s.entries.Keys()
	sort.Slice(ids, func(i, j int) bool {
		a, _ := s.entries.Peek(ids[i])
		b, _ := s.entries.Peek(ids[j])
		return a.seq < b.seq
	})
	return ids
}

// Snapshot returns the persisted form of id.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(id)
	if !ok {
		return Snapshot{}, false
	}
	comps := make([]protocol.ComponentEntry, 0, len(e.order))
	for _, cid := range e.order {
		comps = append(comps, e.components[cid])
	}
	return Snapshot{
		SurfaceID:  id,
		Create:     e.create,
		Components: comps,
		DataModel:  e.model.Snapshot(),
		UpdatedAt:  e.updatedAt,
	}, true
}

// Restore loads snapshots, oldest first, replacing any surface with the same
// id.
func (s *Store) Restore(snaps []Snapshot) {
	sorted := append([]Snapshot(nil), snaps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range sorted {
		id := strings.TrimSpace(snap.SurfaceID)
		if id == "" {
			continue
		}
		e := &entry{create: snap.Create, components: map[string]protocol.ComponentEntry{}, model: datamodel.New()}
		e.create.SurfaceID = id
		for _, c := range snap.Components {
			if _, seen := e.components[c.ID]; !seen {
				e.order = append(e.order, c.ID)
			}
			e.components[c.ID] = c
		}
		e.model.Reset(snap.DataModel)
		s.seq++
		e.seq = s.seq
		e.updatedAt = snap.UpdatedAt
		s.entries.Add(id, e)
	}
}

// List summarises live surfaces, oldest update first.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.orderedLocked()
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		e, _ := s.entries.Peek(id)
		out = append(out, Summary{SurfaceID: id, CatalogID: e.create.CatalogID, Components: len(e.components), UpdatedAt: e.updatedAt})
	}
	return out
}

// Len is the number of live surfaces.
func (s *Store) Len() int { return s.entries.Len() }
