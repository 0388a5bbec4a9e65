package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"metaui/internal/protocol"
)

func mustRecord(t *testing.T, s *Store, msg protocol.Message) {
	t.Helper()
	if _, err := s.Record(msg); err != nil {
		t.Fatalf("record %s: %v", msg.Kind(), err)
	}
}

func kinds(msgs []protocol.Message) []protocol.Kind {
	out := make([]protocol.Kind, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Kind())
	}
	return out
}

func TestReplayRebuildsSurfaces(t *testing.T) {
	s := New(8)
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "main", CatalogID: "cat"})
	mustRecord(t, s, &protocol.UpdateComponents{SurfaceID: "main", Components: []protocol.ComponentEntry{
		{ID: "root", Component: "Column", Props: map[string]any{"children": []any{"title"}}},
		{ID: "title", Component: "Text", Props: map[string]any{"text": "old"}},
	}})
	mustRecord(t, s, &protocol.UpdateComponents{SurfaceID: "main", Components: []protocol.ComponentEntry{
		{ID: "title", Component: "Text", Props: map[string]any{"text": "new"}},
	}})
	mustRecord(t, s, &protocol.UpdateDataModel{SurfaceID: "main", Path: "/user", Value: map[string]any{"name": "Ada"}, HasValue: true})
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "side", CatalogID: "cat"})

	replay := s.Replay()
	if diff := cmp.Diff([]protocol.Kind{
		protocol.KindCreateSurface,
		protocol.KindUpdateComponents,
		protocol.KindUpdateDataModel,
		protocol.KindCreateSurface,
	}, kinds(replay)); diff != "" {
		t.Fatalf("replay kinds (-want +got):\n%s", diff)
	}

	comps := replay[1].(*protocol.UpdateComponents).Components
	require.Len(t, comps, 2)
	require.Equal(t, "root", comps[0].ID)
	require.Equal(t, "new", comps[1].Props["text"])

	dm := replay[2].(*protocol.UpdateDataModel)
	doc, err := protocol.DecodeContents(dm.Contents)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"user": map[string]any{"name": "Ada"}}, doc)
	require.Equal(t, "side", replay[3].Surface())
}

func TestUpdatesNeedACreatedSurface(t *testing.T) {
	s := New(8)
	_, err := s.Record(&protocol.UpdateComponents{SurfaceID: "ghost"})
	if !errors.Is(err, ErrUnknownSurface) {
		t.Fatalf("expected ErrUnknownSurface, got %v", err)
	}
	_, err = s.Record(&protocol.DeleteSurface{SurfaceID: "ghost"})
	if !errors.Is(err, ErrUnknownSurface) {
		t.Fatalf("expected ErrUnknownSurface for delete, got %v", err)
	}
}

func TestDeleteDropsFromReplay(t *testing.T) {
	s := New(8)
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "a"})
	mustRecord(t, s, &protocol.DeleteSurface{SurfaceID: "a"})
	if got := s.Replay(); len(got) != 0 {
		t.Fatalf("deleted surface replayed: %v", kinds(got))
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestDeletedSurfaceCannotBeRecreated(t *testing.T) {
	s := New(8)
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "a"})
	mustRecord(t, s, &protocol.DeleteSurface{SurfaceID: "a"})

	for _, msg := range []protocol.Message{
		&protocol.CreateSurface{SurfaceID: "a"},
		&protocol.UpdateComponents{SurfaceID: "a"},
		&protocol.UpdateDataModel{SurfaceID: "a", Path: "/x", Value: 1, HasValue: true},
		&protocol.DeleteSurface{SurfaceID: "a"},
	} {
		if _, err := s.Record(msg); !errors.Is(err, ErrDeletedSurface) {
			t.Fatalf("%s after delete: expected ErrDeletedSurface, got %v", msg.Kind(), err)
		}
	}
	if got := s.Replay(); len(got) != 0 {
		t.Fatalf("deleted surface replayed: %v", kinds(got))
	}
}

func TestDataModelRemoval(t *testing.T) {
	s := New(8)
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "a"})
	mustRecord(t, s, &protocol.UpdateDataModel{SurfaceID: "a", Path: "/x", Value: 1.0, HasValue: true})
	mustRecord(t, s, &protocol.UpdateDataModel{SurfaceID: "a", Path: "/x"})
	snap, ok := s.Snapshot("a")
	require.True(t, ok)
	require.Empty(t, snap.DataModel)
	require.Len(t, s.Replay(), 1)
}

func TestCapacityDropsLeastRecentlyUpdated(t *testing.T) {
	s := New(2)
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "a"})
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "b"})
	mustRecord(t, s, &protocol.UpdateDataModel{SurfaceID: "a", Path: "/n", Value: 1.0, HasValue: true})
	mustRecord(t, s, &protocol.CreateSurface{SurfaceID: "c"})

	var ids []string
	for _, sum := range s.List() {
		ids = append(ids, sum.SurfaceID)
	}
	require.Equal(t, []string{"a", "c"}, ids)
}

func TestRestoreOrdersByUpdateTime(t *testing.T) {
	s := New(8)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Restore([]Snapshot{
		{SurfaceID: "late", UpdatedAt: base.Add(time.Minute)},
		{SurfaceID: "early", UpdatedAt: base, DataModel: map[string]any{"k": "v"},
			Components: []protocol.ComponentEntry{{ID: "root", Component: "Text", Props: map[string]any{"text": "hi"}}}},
		{SurfaceID: " "},
	})
	replay := s.Replay()
	require.Equal(t, []protocol.Kind{
		protocol.KindCreateSurface, protocol.KindUpdateComponents, protocol.KindUpdateDataModel,
		protocol.KindCreateSurface,
	}, kinds(replay))
	require.Equal(t, "early", replay[0].Surface())
	require.Equal(t, "late", replay[3].Surface())
}
