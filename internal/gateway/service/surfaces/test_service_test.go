package surfaces

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"metaui/internal/catalog"
	"metaui/internal/gateway/repository/surfacestore"
	"metaui/internal/gateway/session"
	"metaui/internal/protocol"
)

type recorder struct {
	frames [][]byte
	peers  int
}

func (r *recorder) Broadcast(frame []byte) int {
	r.frames = append(r.frames, frame)
	return r.peers
}

func rootText(surfaceID, text string) *protocol.UpdateComponents {
	return &protocol.UpdateComponents{SurfaceID: surfaceID, Components: []protocol.ComponentEntry{
		{ID: "root", Component: "Text", Props: map[string]any{"text": text}},
	}}
}

func newService(t *testing.T) (*Service, *recorder, *surfacestore.Memory) {
	t.Helper()
	repo := surfacestore.NewMemory()
	svc := New(catalog.Standard(), session.New(16), repo, nil)
	rec := &recorder{peers: 2}
	svc.UseBroadcaster(rec)
	return svc, rec, repo
}

func TestPublishBroadcastsAndPersists(t *testing.T) {
	svc, rec, repo := newService(t)
	ctx := context.Background()

	res, err := svc.Publish(ctx, []protocol.Message{
		&protocol.CreateSurface{SurfaceID: "main", CatalogID: catalog.StandardCatalogID},
		rootText("main", "hello"),
		&protocol.UpdateDataModel{SurfaceID: "main", Path: "/n", Value: 1.0, HasValue: true},
	})
	require.NoError(t, err)
	require.Equal(t, Result{Accepted: 3, Delivered: 2, Surfaces: []string{"main"}}, res)
	require.Len(t, rec.frames, 3)

	msg, err := protocol.Decode(rec.frames[1])
	require.NoError(t, err)
	require.Equal(t, protocol.KindUpdateComponents, msg.Kind())

	snaps, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, map[string]any{"n": 1.0}, snaps[0].DataModel)

	_, err = svc.Publish(ctx, []protocol.Message{&protocol.DeleteSurface{SurfaceID: "main"}})
	require.NoError(t, err)
	snaps, _ = repo.LoadAll(ctx)
	require.Empty(t, snaps)
}

func TestPublishStopsAtFirstRejection(t *testing.T) {
	svc, rec, _ := newService(t)
	res, err := svc.Publish(context.Background(), []protocol.Message{
		&protocol.CreateSurface{SurfaceID: "main"},
		&protocol.UpdateComponents{SurfaceID: "main", Components: []protocol.ComponentEntry{
			{ID: "root", Component: "Marquee"},
		}},
		rootText("main", "never"),
	})
	var pe *PublishError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, 1, pe.Index)
	var ve *catalog.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, 1, res.Accepted)
	require.Len(t, rec.frames, 1)
}

func TestPublishRejectsForeignCatalogAndUnknownSurface(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Publish(context.Background(), []protocol.Message{
		&protocol.CreateSurface{SurfaceID: "main", CatalogID: "https://example.com/other.json"},
	})
	var ve *catalog.ValidationError
	require.True(t, errors.As(err, &ve))

	_, err = svc.Publish(context.Background(), []protocol.Message{rootText("ghost", "x")})
	require.ErrorIs(t, err, session.ErrUnknownSurface)
}

func TestReplayEncodesFrames(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Publish(context.Background(), []protocol.Message{
		&protocol.CreateSurface{SurfaceID: "main"},
		rootText("main", "hello"),
	})
	require.NoError(t, err)

	var got [][]byte
	svc.Replay(func(frames [][]byte) { got = frames })
	require.Len(t, got, 2)
	for _, f := range got {
		_, err := protocol.Decode(f)
		require.NoError(t, err)
	}
}

func TestRestoreLoadsSnapshots(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Publish(ctx, []protocol.Message{&protocol.CreateSurface{SurfaceID: "kept"}})
	require.NoError(t, err)

	fresh := New(catalog.Standard(), session.New(16), svc.repo, nil)
	require.NoError(t, fresh.Restore(ctx))
	require.Equal(t, 1, fresh.Len())
	require.Equal(t, "kept", fresh.Surfaces()[0].SurfaceID)
}
