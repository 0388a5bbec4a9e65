// Package surfacestore persists gateway surface snapshots.
package surfacestore

import (
	"context"
	"log/slog"
	"strings"

	"metaui/internal/gateway/session"
)

// Repository saves and restores surface snapshots.
type Repository interface {
	Save(ctx context.Context, snap session.Snapshot) error
	Delete(ctx context.Context, surfaceID string) error
	LoadAll(ctx context.Context) ([]session.Snapshot, error)
	Close() error
}

// NewFromURL returns a Postgres repository when dsn is set, and falls back to
// memory when it is empty or unreachable.
func NewFromURL(ctx context.Context, dsn string, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemory()
	}
	repo, err := NewPostgres(ctx, dsn)
	if err != nil {
		logger.Warn("postgres snapshot store unavailable, using memory", "err", err)
		return NewMemory()
	}
	return repo
}
