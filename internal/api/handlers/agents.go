package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/pkg/models"
)

// ListAgents returns the org's agents.
// GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	agents, err := h.Store.ListAgents(r.Context(), id.OrgID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

// CreateAgent registers an agent configuration.
// POST /api/v1/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var agent models.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if agent.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	agent.ID = uuid.NewString()
	agent.OrgID = id.OrgID
	agent.CreatedBy = id.UserID
	agent.CreatedAt = time.Now().UTC()
	agent.UpdatedAt = agent.CreatedAt

	if err := h.Store.CreateAgent(r.Context(), &agent); err != nil {
		respondFailure(w, err)
		return
	}

	log.Info().Str("agent", agent.Name).Str("id", agent.ID).Msg("Agent created")
	respondJSON(w, http.StatusCreated, agent)
}

// GetAgent returns one agent.
// GET /api/v1/agents/{agentID}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// UpdateAgent mutates an agent configuration.
// PUT /api/v1/agents/{agentID}
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	agent, err := h.Store.GetAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	var patch models.Agent
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.Name != "" {
		agent.Name = patch.Name
	}
	if patch.Description != "" {
		agent.Description = patch.Description
	}
	if patch.SystemPrompt != "" {
		agent.SystemPrompt = patch.SystemPrompt
	}
	if patch.Model != "" {
		agent.Model = patch.Model
	}
	if patch.MaxSteps > 0 {
		agent.MaxSteps = patch.MaxSteps
	}
	agent.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateAgent(r.Context(), agent); err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// DeleteAgent removes an agent and its source links.
// DELETE /api/v1/agents/{agentID}
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLinks returns the agent's source links.
// GET /api/v1/agents/{agentID}/links
func (h *Handlers) ListLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	links, err := h.Store.ListLinks(r.Context(), agent.ID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if links == nil {
		links = []models.AgentSourceLink{}
	}
	respondJSON(w, http.StatusOK, links)
}

type linkRequest struct {
	SourceID   string            `json:"source_id"`
	Permission models.Permission `json:"permission,omitempty"`
}

// CreateLink exposes a source to an agent. permission=read restricts
// the agent to the source's read-only operations.
// POST /api/v1/agents/{agentID}/links
func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	agent, err := h.Store.GetAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// The source must live in the caller's org.
	src, err := h.Store.GetSource(r.Context(), id.OrgID, req.SourceID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if req.Permission == "" {
		req.Permission = models.PermissionRead
	}

	link := &models.AgentSourceLink{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		SourceID:   src.ID,
		Permission: req.Permission,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.CreateLink(r.Context(), link); err != nil {
		respondFailure(w, err)
		return
	}

	log.Info().Str("agent", agent.Name).Str("source", src.Name).Str("permission", string(link.Permission)).Msg("Source linked")
	respondJSON(w, http.StatusCreated, link)
}

// DeleteLink detaches a source from an agent.
// DELETE /api/v1/agents/{agentID}/links/{sourceID}
func (h *Handlers) DeleteLink(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	if err := h.Store.DeleteLink(r.Context(), agent.ID, chi.URLParam(r, "sourceID")); err != nil {
		respondFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAgentTools returns the candidate set an agent would expose for a
// turn, useful for debugging selection.
// GET /api/v1/agents/{agentID}/tools
func (h *Handlers) ListAgentTools(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), id.OrgID, chi.URLParam(r, "agentID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	candidates, err := h.Selector.Select(r.Context(), id.OrgID, agent, r.URL.Query().Get("q"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	type tool struct {
		Name        string           `json:"name"`
		Description string           `json:"description,omitempty"`
		Method      string           `json:"method"`
		Path        string           `json:"path,omitempty"`
		Source      string           `json:"source"`
		RiskLevel   models.RiskLevel `json:"risk_level"`
	}
	out := make([]tool, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, tool{
			Name:        c.WireName,
			Description: c.Operation.Description,
			Method:      c.Operation.Method,
			Path:        c.Operation.Path,
			Source:      c.Source.Name,
			RiskLevel:   c.Operation.RiskLevel,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
