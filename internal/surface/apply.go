package surface

import (
	"fmt"
	"strings"

	"metaui/internal/catalog"
	"metaui/internal/datamodel"
	"metaui/internal/protocol"
	"metaui/internal/util/jsonutil"
)

// Result reports the outcome of one Apply. A failed Apply leaves the store
// unchanged.
type Result struct {
	Success   bool
	Kind      protocol.Kind
	SurfaceID string
	Error     error
	Warnings  []string
	// Rerender is set when the surface's render output may have changed.
	Rerender bool
	Deleted  bool
}

func failed(msg protocol.Message, err error) Result {
	return Result{Kind: msg.Kind(), SurfaceID: msg.Surface(), Error: err}
}

func lifecycleErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLifecycle, fmt.Sprintf(format, args...))
}

// Apply applies one lifecycle message.
func (st *Store) Apply(msg protocol.Message) Result {
	if msg == nil {
		return Result{Error: fmt.Errorf("%w: nil message", protocol.ErrUnsupportedMessage)}
	}
	var res Result
	switch m := msg.(type) {
	case *protocol.CreateSurface:
		res = st.create(m)
	case *protocol.UpdateComponents:
		res = st.updateComponents(m)
	case *protocol.UpdateDataModel:
		res = st.updateDataModel(m)
	case *protocol.DeleteSurface:
		res = st.remove(m)
	default:
		res = failed(msg, fmt.Errorf("%w: %T", protocol.ErrUnsupportedMessage, msg))
	}
	if res.Error != nil {
		st.log.Warn("apply failed", "kind", msg.Kind(), "surface", msg.Surface(), "err", res.Error)
	} else {
		for _, w := range res.Warnings {
			st.log.Warn("apply warning", "kind", msg.Kind(), "surface", msg.Surface(), "warning", w)
		}
	}
	return res
}

func (st *Store) live(msg protocol.Message) (*Surface, error) {
	id := msg.Surface()
	if st.deleted.Contains(id) {
		return nil, lifecycleErr("surface %q was deleted", id)
	}
	s, ok := st.surfaces[id]
	if !ok {
		return nil, lifecycleErr("surface %q has not been created", id)
	}
	return s, nil
}

// create records metadata only. Re-creating a live surface updates its
// metadata and keeps components and data model, so replay is idempotent.
func (st *Store) create(m *protocol.CreateSurface) Result {
	id := strings.TrimSpace(m.SurfaceID)
	if st.deleted.Contains(id) {
		return failed(m, lifecycleErr("surface %q was deleted", id))
	}
	catalogID := strings.TrimSpace(m.CatalogID)
	if catalogID == "" {
		catalogID = st.catalog.ID()
	}
	if catalogID != st.catalog.ID() {
		return failed(m, &catalog.ValidationError{Field: "catalogId", Message: fmt.Sprintf("unsupported catalog %q (supported: %s)", catalogID, st.catalog.ID())})
	}

	s, ok := st.surfaces[id]
	if !ok {
		s = &Surface{
			ID:         id,
			Components: make(map[string]catalog.Component),
			Phase:      PhaseCreated,
			Model:      datamodel.New(),
		}
		st.surfaces[id] = s
	}
	s.CatalogID = catalogID
	s.SendDataModel = m.SendDataModel
	s.Theme = jsonutil.CloneMap(m.Theme)
	return Result{Success: true, Kind: m.Kind(), SurfaceID: id, Rerender: ok && s.Phase >= PhasePopulated}
}

// updateComponents validates the whole batch before touching the surface.
func (st *Store) updateComponents(m *protocol.UpdateComponents) Result {
	s, err := st.live(m)
	if err != nil {
		return failed(m, err)
	}
	batch, err := st.catalog.ValidateBatch(m.Components)
	if err != nil {
		return failed(m, err)
	}

	merged := make(map[string]catalog.Component, len(s.Components)+len(batch))
	for id, c := range s.Components {
		merged[id] = c
	}
	order := append([]string(nil), s.Order...)
	for _, c := range batch {
		if _, exists := merged[c.ID]; !exists {
			order = append(order, c.ID)
		}
		merged[c.ID] = c
	}

	var warnings []string
	rootID, fallback := s.RootID, s.RootFallback
	switch {
	case hasComponent(merged, RootID):
		rootID, fallback = RootID, false
	case rootID != "" && hasComponent(merged, rootID):
	case st.opts.AllowRootFallback && len(batch) > 0:
		rootID, fallback = batch[0].ID, true
		warnings = append(warnings, fmt.Sprintf("no component named %q; using %q as root (compatibility fallback)", RootID, rootID))
	default:
		return failed(m, lifecycleErr("surface %q has no component named %q", s.ID, RootID))
	}

	s.Components = merged
	s.Order = order
	s.RootID, s.RootFallback = rootID, fallback
	if s.Phase < PhasePopulated || s.Phase == PhaseRendered {
		s.Phase = PhasePopulated
	}
	return Result{Success: true, Kind: m.Kind(), SurfaceID: s.ID, Warnings: warnings, Rerender: true}
}

func hasComponent(m map[string]catalog.Component, id string) bool {
	_, ok := m[id]
	return ok
}

// updateDataModel writes, merges or removes at a path. The lifecycle phase
// is unchanged.
func (st *Store) updateDataModel(m *protocol.UpdateDataModel) Result {
	s, err := st.live(m)
	if err != nil {
		return failed(m, err)
	}
	path := m.Path
	if strings.TrimSpace(path) == "" {
		path = "/"
	}
	if _, err := datamodel.ParsePointer(path); err != nil {
		return failed(m, &catalog.ValidationError{Field: "path", Message: err.Error()})
	}

	switch {
	case len(m.Contents) > 0:
		patch, err := protocol.DecodeContents(m.Contents)
		if err != nil {
			return failed(m, &catalog.ValidationError{Field: "contents", Message: err.Error()})
		}
		err = s.Model.Set(path, patch)
	case m.HasValue:
		err = s.Model.Set(path, m.Value)
	default:
		err = s.Model.Remove(path)
	}
	if err != nil {
		return failed(m, &catalog.ValidationError{Field: "path", Message: err.Error()})
	}
	return Result{Success: true, Kind: m.Kind(), SurfaceID: s.ID, Rerender: s.Phase >= PhasePopulated}
}

func (st *Store) remove(m *protocol.DeleteSurface) Result {
	s, err := st.live(m)
	if err != nil {
		return failed(m, err)
	}
	delete(st.surfaces, s.ID)
	st.deleted.Add(s.ID, struct{}{})
	return Result{Success: true, Kind: m.Kind(), SurfaceID: s.ID, Deleted: true}
}
