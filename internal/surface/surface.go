// Package surface owns every surface's components, root and data model, and
// applies lifecycle messages to them.
package surface

import (
	"errors"
	"log/slog"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"metaui/internal/catalog"
	"metaui/internal/datamodel"
	"metaui/internal/util/jsonutil"
)

// Phase is a surface's lifecycle state. There is no transition out of
// PhaseDeleted.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseCreated
	PhasePopulated
	PhaseRendered
	PhaseDeleted
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhasePopulated:
		return "populated"
	case PhaseRendered:
		return "rendered"
	case PhaseDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ErrLifecycle marks messages that are invalid for the surface's current
// phase: unknown surface, apply after delete, or no usable root.
var ErrLifecycle = errors.New("lifecycle error")

// RootID is the canonical root component id.
const RootID = "root"

// Surface is one independently addressable UI subtree.
type Surface struct {
	ID            string
	CatalogID     string
	RootID        string
	RootFallback  bool
	Components    map[string]catalog.Component
	Order         []string
	SendDataModel bool
	Theme         map[string]any
	Phase         Phase
	Model         *datamodel.Store
}

// Component returns a component by id.
func (s *Surface) Component(id string) (catalog.Component, bool) {
	c, ok := s.Components[id]
	return c, ok
}

// Snapshot is a detached copy of a surface, used for persistence and tests.
type Snapshot struct {
	ID            string                       `json:"surfaceId"`
	CatalogID     string                       `json:"catalogId"`
	RootID        string                       `json:"rootId"`
	RootFallback  bool                         `json:"rootFallback,omitempty"`
	Components    map[string]catalog.Component `json:"components"`
	Order         []string                     `json:"order"`
	SendDataModel bool                         `json:"sendDataModel,omitempty"`
	Theme         map[string]any               `json:"theme,omitempty"`
	Phase         string                       `json:"phase"`
	DataModel     map[string]any               `json:"dataModel"`
}

// Snapshot copies the surface.
func (s *Surface) Snapshot() Snapshot {
	comps := make(map[string]catalog.Component, len(s.Components))
	for id, c := range s.Components {
		comps[id] = catalog.Component{ID: c.ID, Type: c.Type, Props: jsonutil.CloneMap(c.Props)}
	}
	return Snapshot{
		ID:            s.ID,
		CatalogID:     s.CatalogID,
		RootID:        s.RootID,
		RootFallback:  s.RootFallback,
		Components:    comps,
		Order:         append([]string(nil), s.Order...),
		SendDataModel: s.SendDataModel,
		Theme:         jsonutil.CloneMap(s.Theme),
		Phase:         s.Phase.String(),
		DataModel:     s.Model.Snapshot(),
	}
}

// Options tunes the store.
type Options struct {
	// AllowRootFallback uses the first component of a batch as root when no
	// component is named "root". Every fallback is reported as a warning.
	AllowRootFallback bool
	// Tombstones bounds how many deleted ids are remembered.
	Tombstones int
}

// Store holds all live surfaces. It is owned by the runtime loop and is not
// safe for concurrent use.
type Store struct {
	catalog  *catalog.Catalog
	opts     Options
	log      *slog.Logger
	surfaces map[string]*Surface
	deleted  *lru.Cache[string, struct{}]
}

// NewStore returns an empty store validating against cat.
func NewStore(cat *catalog.Catalog, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Tombstones <= 0 {
		opts.Tombstones = 1024
	}
	deleted, err := lru.New[string, struct{}](opts.Tombstones)
	if err != nil {
		panic(err)
	}
	return &Store{
		catalog:  cat,
		opts:     opts,
		log:      logger,
		surfaces: make(map[string]*Surface),
		deleted:  deleted,
	}
}

// Catalog returns the catalog components are validated against.
func (st *Store) Catalog() *catalog.Catalog { return st.catalog }

// Get returns a live surface.
func (st *Store) Get(id string) (*Surface, bool) {
	s, ok := st.surfaces[id]
	return s, ok
}

// Phase reports the lifecycle phase of id, including deleted ids.
func (st *Store) Phase(id string) Phase {
	if s, ok := st.surfaces[id]; ok {
		return s.Phase
	}
	if st.deleted.Contains(id) {
		return PhaseDeleted
	}
	return PhaseUnknown
}

// IDs returns the live surface ids, sorted.
func (st *Store) IDs() []string {
	out := make([]string, 0, len(st.surfaces))
	for id := range st.surfaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live surfaces.
func (st *Store) Len() int { return len(st.surfaces) }

// MarkRendered records a successful render.
func (st *Store) MarkRendered(id string) {
	if s, ok := st.surfaces[id]; ok && s.Phase == PhasePopulated {
		s.Phase = PhaseRendered
	}
}

// Evict drops a surface without recording a tombstone; a later
// createSurface for the same id starts over.
func (st *Store) Evict(id string) bool {
	if _, ok := st.surfaces[id]; !ok {
		return false
	}
	delete(st.surfaces, id)
	return true
}

// Reset drops every surface and tombstone.
func (st *Store) Reset() {
	st.surfaces = make(map[string]*Surface)
	st.deleted.Purge()
}
