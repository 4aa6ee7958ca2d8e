// Package handlers implements the HTTP handlers for the ActionChat
// broker API. Every handler resolves the caller's org from the request
// identity; no cross-org reads or writes are possible through this
// surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/actionchat/actionchat/internal/api/middleware"
	"github.com/actionchat/actionchat/internal/broker"
	"github.com/actionchat/actionchat/internal/chat"
	"github.com/actionchat/actionchat/internal/embeddings"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/internal/mcppool"
	"github.com/actionchat/actionchat/internal/paginate"
	"github.com/actionchat/actionchat/internal/resolver"
	"github.com/actionchat/actionchat/internal/selector"
	"github.com/actionchat/actionchat/internal/store"
	"github.com/actionchat/actionchat/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Runner   *chat.Runner
	Selector *selector.Selector
	Executor *executor.Executor
	Pages    *paginate.Engine
	Resolver *resolver.Resolver
	Indexer  *embeddings.Indexer // nil disables re-indexing on ingest
	Pool     *mcppool.Pool
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, runner *chat.Runner, sel *selector.Selector, exec *executor.Executor, pages *paginate.Engine, res *resolver.Resolver, ix *embeddings.Indexer, pool *mcppool.Pool) *Handlers {
	return &Handlers{
		Store:    s,
		Runner:   runner,
		Selector: sel,
		Executor: exec,
		Pages:    pages,
		Resolver: res,
		Indexer:  ix,
		Pool:     pool,
	}
}

// identity pulls the authenticated caller, responding 401 when absent.
func identity(w http.ResponseWriter, r *http.Request) (*models.Identity, bool) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps domain errors onto HTTP statuses: not-found from
// the store becomes 404, tagged broker errors use their own mapping,
// everything else is a 500.
func respondFailure(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, broker.HTTPStatus(err), err.Error())
}
