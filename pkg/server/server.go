// Package server provides the public entry point for initializing the
// ActionChat broker.
//
// This package exists in pkg/ (not internal/) so embedders can compose
// the broker with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/adapters"
	"github.com/actionchat/actionchat/internal/api"
	"github.com/actionchat/actionchat/internal/api/handlers"
	"github.com/actionchat/actionchat/internal/catalog"
	"github.com/actionchat/actionchat/internal/chat"
	"github.com/actionchat/actionchat/internal/config"
	"github.com/actionchat/actionchat/internal/embeddings"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/internal/gate"
	"github.com/actionchat/actionchat/internal/mcppool"
	"github.com/actionchat/actionchat/internal/paginate"
	"github.com/actionchat/actionchat/internal/resolver"
	"github.com/actionchat/actionchat/internal/router"
	"github.com/actionchat/actionchat/internal/selector"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/internal/telemetry"
	"github.com/actionchat/actionchat/pkg/models"
)

// Server holds the initialized broker.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store backing the broker.
	Store store.Store

	// Pool holds the shared MCP connections; close it on shutdown.
	Pool *mcppool.Pool

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the broker from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the broker with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := catalog.Seed(ctx, dataStore); err != nil {
		log.Warn().Err(err).Msg("Template catalog seed failed")
	}
	seedDefaultOrg(ctx, dataStore)

	indexer := buildIndexer(cfg, dataStore)

	pool := mcppool.NewPool(cfg.Executor.UpstreamTimeout)
	exec := executor.New(dataStore, adapters.NewRegistry(), pool, cfg.Executor.UpstreamTimeout)
	pages := paginate.NewEngine(exec)
	approvals := gate.New()
	creds := resolver.New(dataStore, 0)
	sel := selector.New(dataStore, indexer)

	model := router.New(router.Config{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Model,
	})

	runner := chat.NewRunner(dataStore, sel, creds, exec, pages, approvals, model)
	runner.SetTurnDeadline(cfg.Executor.TurnDeadline)

	h := handlers.New(dataStore, runner, sel, exec, pages, creds, indexer, pool)

	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Store:        dataStore,
		Pool:         pool,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// buildStore picks Postgres when a database URL is configured, the
// embedded store otherwise.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Postgres store initialized")
		return pg, nil
	}
	log.Info().Msg("Embedded store initialized")
	return store.NewMemoryStore(), nil
}

// buildIndexer wires the embedding driver, or returns nil when none is
// configured; selection then degrades to lexical ordering.
func buildIndexer(cfg *config.Config, s store.Store) *embeddings.Indexer {
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider != "ollama" {
		log.Info().Msg("No embedding driver configured; tool selection is lexical")
		return nil
	}
	driver := embeddings.FromConfig(cfg.Embedding)
	log.Info().Str("provider", driver.Kind()).Int("dimensions", driver.Dimensions()).Msg("Embedding driver initialized")
	return embeddings.NewIndexer(driver, s)
}

func seedDefaultOrg(ctx context.Context, s store.Store) {
	if _, err := s.GetOrg(ctx, "default"); err == nil {
		return
	}
	org := &models.Org{
		ID:        "default",
		Name:      "Default Workspace",
		Owner:     "system",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateOrg(ctx, org); err != nil {
		log.Warn().Err(err).Msg("Failed to seed default workspace")
	}
}
