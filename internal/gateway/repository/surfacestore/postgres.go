package surfacestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"metaui/internal/gateway/session"
)

// Postgres stores one JSON snapshot per surface in metaui_surfaces.
type Postgres struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS metaui_surfaces (
  surface_id TEXT PRIMARY KEY,
  snapshot JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_metaui_surfaces_updated_at ON metaui_surfaces (updated_at);
`)
	})
	return p.schemaErr
}

func (p *Postgres) Save(ctx context.Context, snap session.Snapshot) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", snap.SurfaceID, err)
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO metaui_surfaces (surface_id, snapshot, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (surface_id)
DO UPDATE SET snapshot=EXCLUDED.snapshot, updated_at=EXCLUDED.updated_at`,
		snap.SurfaceID, raw, snap.UpdatedAt)
	return err
}

func (p *Postgres) Delete(ctx context.Context, surfaceID string) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `DELETE FROM metaui_surfaces WHERE surface_id = $1`, surfaceID)
	return err
}

func (p *Postgres) LoadAll(ctx context.Context) ([]session.Snapshot, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT surface_id, snapshot FROM metaui_surfaces ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Snapshot
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var snap session.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %q: %w", id, err)
		}
		snap.SurfaceID = id
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
