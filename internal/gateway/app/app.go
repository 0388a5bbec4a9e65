package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/time/rate"

	"metaui/internal/catalog"
	"metaui/internal/config"
	"metaui/internal/gateway/events"
	"metaui/internal/gateway/handler"
	"metaui/internal/gateway/hub"
	"metaui/internal/gateway/repository/surfacestore"
	"metaui/internal/gateway/server"
	"metaui/internal/gateway/service/surfaces"
	"metaui/internal/gateway/session"
)

type App struct {
	server  *server.Server
	repo    surfacestore.Repository
	handler http.Handler

	Surfaces *surfaces.Service
	Events   *events.Store
	Hub      *hub.Hub
}

func New(ctx context.Context, cfg *config.Gateway, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gateway config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cat := catalog.Standard()

	// Dependencies
	repo := surfacestore.NewFromURL(ctx, cfg.DatabaseURL, logger)
	svc := surfaces.New(cat, session.New(cfg.MaxSurfaces), repo, logger)
	if err := svc.Restore(ctx); err != nil {
		logger.Warn("surface restore failed", "err", err)
	}
	store := events.New(cfg.EventCapacity)
	ws := hub.New(hub.Config{
		Token:      cfg.Token,
		Catalog:    cat,
		EventRate:  rate.Limit(cfg.EventRate),
		EventBurst: cfg.EventBurst,
		Surfaces:   svc.Len,
	}, svc, store, logger)
	svc.UseBroadcaster(ws)

	// Routing & Server
	mux := server.NewMux(handler.New(svc, store, ws, logger), ws, cfg.Token)
	return &App{
		server:   server.New(cfg.Port, mux, logger),
		repo:     repo,
		handler:  mux,
		Surfaces: svc,
		Events:   store,
		Hub:      ws,
	}, nil
}

// Handler is the routed HTTP handler, for tests.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Serve(l net.Listener) error {
	return a.server.Serve(l)
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.repo.Close())
}
