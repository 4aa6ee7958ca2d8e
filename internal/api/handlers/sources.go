package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/mcppool"
	"github.com/actionchat/actionchat/internal/specparse"
	"github.com/actionchat/actionchat/pkg/models"
)

// maxSpecSize bounds uploaded OpenAPI documents.
const maxSpecSize = 8 * 1024 * 1024

// ListSources returns the org's bound sources.
// GET /api/v1/sources
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	sources, err := h.Store.ListSources(r.Context(), id.OrgID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	respondJSON(w, http.StatusOK, sources)
}

// CreateSource binds a new upstream. MCP server URIs are validated at
// bind time so unsupported transports fail here, not mid-chat.
// POST /api/v1/sources
func (h *Handlers) CreateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var src models.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if src.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if src.SourceKind == "" {
		src.SourceKind = models.SourceOpenAPI
	}
	if src.AuthKind == "" {
		src.AuthKind = models.AuthNone
	}
	if src.SourceKind == models.SourceMCP {
		if err := mcppool.ValidateServerURI(src.ServerURI); err != nil {
			respondFailure(w, err)
			return
		}
	}

	src.ID = uuid.NewString()
	src.OrgID = id.OrgID
	src.CreatedAt = time.Now().UTC()
	src.UpdatedAt = src.CreatedAt

	if err := h.Store.CreateSource(r.Context(), &src); err != nil {
		respondFailure(w, err)
		return
	}

	log.Info().Str("source", src.Name).Str("id", src.ID).Str("kind", string(src.SourceKind)).Msg("Source bound")
	respondJSON(w, http.StatusCreated, src)
}

// GetSource returns one source.
// GET /api/v1/sources/{sourceID}
func (h *Handlers) GetSource(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	src, err := h.Store.GetSource(r.Context(), id.OrgID, chi.URLParam(r, "sourceID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, src)
}

// UpdateSource mutates a source's connection settings.
// PUT /api/v1/sources/{sourceID}
func (h *Handlers) UpdateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	src, err := h.Store.GetSource(r.Context(), id.OrgID, chi.URLParam(r, "sourceID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	var patch models.Source
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.Name != "" {
		src.Name = patch.Name
	}
	if patch.Description != "" {
		src.Description = patch.Description
	}
	if patch.BaseURL != "" {
		src.BaseURL = patch.BaseURL
	}
	if patch.ServerURI != "" {
		if err := mcppool.ValidateServerURI(patch.ServerURI); err != nil {
			respondFailure(w, err)
			return
		}
		src.ServerURI = patch.ServerURI
	}
	if patch.AuthKind != "" {
		src.AuthKind = patch.AuthKind
	}
	if patch.AuthConfig != nil {
		src.AuthConfig = patch.AuthConfig
	}
	if patch.TemplateRef != "" {
		src.TemplateRef = patch.TemplateRef
	}
	src.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateSource(r.Context(), src); err != nil {
		respondFailure(w, err)
		return
	}

	// Connection settings changed; drop pooled MCP sessions.
	h.Pool.CloseSource(src.ID)
	respondJSON(w, http.StatusOK, src)
}

// DeleteSource removes a source, its operations and any pooled
// connections.
// DELETE /api/v1/sources/{sourceID}
func (h *Handlers) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	sourceID := chi.URLParam(r, "sourceID")

	if err := h.Store.DeleteSource(r.Context(), id.OrgID, sourceID); err != nil {
		respondFailure(w, err)
		return
	}
	h.Pool.CloseSource(sourceID)
	h.Resolver.Invalidate(sourceID)

	log.Info().Str("source_id", sourceID).Msg("Source deleted")
	w.WriteHeader(http.StatusNoContent)
}

// IngestSource (re-)derives the source's operation set. OpenAPI
// sources take the document in the request body; MCP sources list
// tools over the live connection; manual sources start empty.
// POST /api/v1/sources/{sourceID}/ingest
func (h *Handlers) IngestSource(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	src, err := h.Store.GetSource(r.Context(), id.OrgID, chi.URLParam(r, "sourceID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	var ops []models.Operation
	switch src.SourceKind {
	case models.SourceOpenAPI:
		doc, err := io.ReadAll(io.LimitReader(r.Body, maxSpecSize))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Failed to read document")
			return
		}
		ops, err = specparse.ParseOpenAPI(src.ID, doc)
		if err != nil {
			respondFailure(w, err)
			return
		}
	case models.SourceMCP:
		cred, err := h.Resolver.Resolve(r.Context(), src, id.OrgID, id.UserID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		tools, err := h.Pool.ListTools(r.Context(), src, cred)
		if err != nil {
			respondFailure(w, err)
			return
		}
		ops, err = specparse.ParseMCPTools(src.ID, tools)
		if err != nil {
			respondFailure(w, err)
			return
		}
	case models.SourceManual:
		ops, err = specparse.ParseManual(src.ID)
		if err != nil {
			respondFailure(w, err)
			return
		}
	default:
		respondError(w, http.StatusBadRequest, "Unknown source kind")
		return
	}

	if err := h.Store.ReplaceOperations(r.Context(), src.ID, ops); err != nil {
		respondFailure(w, err)
		return
	}

	indexed := 0
	if h.Indexer != nil {
		indexed, err = h.Indexer.IndexSource(r.Context(), src.ID)
		if err != nil {
			log.Warn().Err(err).Str("source_id", src.ID).Msg("Embedding index failed; lexical selection only")
		}
	}

	log.Info().Str("source", src.Name).Int("operations", len(ops)).Int("indexed", indexed).Msg("Source ingested")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": len(ops),
		"indexed":    indexed,
	})
}

// ListSourceOperations returns the source's derived operations.
// GET /api/v1/sources/{sourceID}/operations
func (h *Handlers) ListSourceOperations(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	src, err := h.Store.GetSource(r.Context(), id.OrgID, chi.URLParam(r, "sourceID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	ops, err := h.Store.ListOperations(r.Context(), src.ID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	respondJSON(w, http.StatusOK, ops)
}
