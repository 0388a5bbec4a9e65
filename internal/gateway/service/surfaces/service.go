// Package surfaces publishes lifecycle messages from the authoring side:
// validate, record for replay, persist, and broadcast to runtimes.
package surfaces

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"metaui/internal/catalog"
	"metaui/internal/gateway/repository/surfacestore"
	"metaui/internal/gateway/session"
	"metaui/internal/metrics"
	"metaui/internal/protocol"
)

// Broadcaster delivers an encoded frame to every connected runtime.
type Broadcaster interface {
	Broadcast(frame []byte) int
}

// PublishError reports which message of a batch was rejected. Messages
// before Index were published.
type PublishError struct {
	Index int
	Err   error
}

func (e *PublishError) Error() string { return fmt.Sprintf("messages[%d]: %v", e.Index, e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// Result summarises one Publish call.
type Result struct {
	Accepted  int      `json:"accepted"`
	Delivered int      `json:"delivered"`
	Surfaces  []string `json:"surfaces"`
}

// Service serialises publishes against client attach so replay and
// broadcast never overlap.
type Service struct {
	mu       sync.Mutex
	catalog  *catalog.Catalog
	sessions *session.Store
	repo     surfacestore.Repository
	out      Broadcaster
	log      *slog.Logger
}

func New(cat *catalog.Catalog, sessions *session.Store, repo surfacestore.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil {
		cat = catalog.Standard()
	}
	if repo == nil {
		repo = surfacestore.NewMemory()
	}
	return &Service{catalog: cat, sessions: sessions, repo: repo, log: logger}
}

// UseBroadcaster sets where published frames go.
func (s *Service) UseBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = b
}

// Restore loads persisted snapshots into the replay store.
func (s *Service) Restore(ctx context.Context) error {
	snaps, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load surface snapshots: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Restore(snaps)
	s.log.Info("restored surfaces", "count", len(snaps))
	return nil
}

// Publish applies msgs in order and stops at the first rejected one.
func (s *Service) Publish(ctx context.Context, msgs []protocol.Message) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	seen := map[string]struct{}{}
	for i, msg := range msgs {
		if err := s.validate(msg); err != nil {
			return res, &PublishError{Index: i, Err: err}
		}
		id, err := s.sessions.Record(msg)
		if err != nil {
			return res, &PublishError{Index: i, Err: err}
		}
		frame, err := protocol.Encode(msg)
		if err != nil {
			return res, &PublishError{Index: i, Err: err}
		}
		if s.out != nil {
			res.Delivered = s.out.Broadcast(frame)
		}
		metrics.RecordBroadcast(string(msg.Kind()))
		s.persist(ctx, msg, id)

		res.Accepted++
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			res.Surfaces = append(res.Surfaces, id)
		}
	}
	return res, nil
}

func (s *Service) validate(msg protocol.Message) error {
	if strings.TrimSpace(msg.Surface()) == "" {
		return protocol.ErrMissingSurfaceID
	}
	switch m := msg.(type) {
	case *protocol.CreateSurface:
		if id := strings.TrimSpace(m.CatalogID); id != "" && id != s.catalog.ID() {
			return &catalog.ValidationError{Field: "catalogId", Message: fmt.Sprintf("unsupported catalog %q", id)}
		}
	case *protocol.UpdateComponents:
		if _, err := s.catalog.ValidateBatch(m.Components); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) persist(ctx context.Context, msg protocol.Message, id string) {
	var err error
	if _, deleted := msg.(*protocol.DeleteSurface); deleted {
		err = s.repo.Delete(ctx, id)
	} else if snap, ok := s.sessions.Snapshot(id); ok {
		err = s.repo.Save(ctx, snap)
	}
	if err != nil {
		s.log.Warn("persist surface failed", "surface", id, "err", err)
	}
}

// Replay encodes the replay messages and hands them to attach while holding
// off publishes.
func (s *Service) Replay(attach func(frames [][]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.sessions.Replay()
	frames := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		frame, err := protocol.Encode(m)
		if err != nil {
			s.log.Warn("replay encode failed", "surface", m.Surface(), "kind", m.Kind(), "err", err)
			continue
		}
		frames = append(frames, frame)
	}
	attach(frames)
}

// Surfaces lists live surfaces.
func (s *Service) Surfaces() []session.Summary { return s.sessions.List() }

// Len is the live surface count.
func (s *Service) Len() int { return s.sessions.Len() }
