package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/catalog"
	"github.com/actionchat/actionchat/internal/executor"
	"github.com/actionchat/actionchat/pkg/models"
)

type executeRequest struct {
	AgentID   string                 `json:"agent_id"`
	Tool      string                 `json:"tool"` // wire name (name_shortid)
	Params    map[string]interface{} `json:"params,omitempty"`
	Confirmed bool                   `json:"confirmed,omitempty"`
}

// ExecuteTool dispatches one operation outside a chat turn.
// POST /api/v1/tools/execute
//
// Confirmation-gated operations are not executed until the caller
// repeats the request with confirmed=true; the first attempt returns
// the operation's summary so a client can render the confirmation.
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AgentID == "" || req.Tool == "" {
		respondError(w, http.StatusBadRequest, "agent_id and tool are required")
		return
	}

	execReq, op, err := h.buildExecRequest(r, id, req)
	if err != nil {
		respondFailure(w, err)
		return
	}

	if (op.RequiresConfirmation || op.RiskLevel == models.RiskDangerous) && !req.Confirmed {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"ok":                    false,
			"requires_confirmation": true,
			"tool":                  req.Tool,
			"operation":             op.Name,
			"risk_level":            op.RiskLevel,
		})
		return
	}

	env, err := h.Executor.Execute(r.Context(), execReq)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     env.Meta.ResponseStatus >= 200 && env.Meta.ResponseStatus < 300,
		"result": env,
	})
}

type paginateRequest struct {
	AgentID    string                 `json:"agent_id,omitempty"`
	Tool       string                 `json:"tool,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Op         string                 `json:"op,omitempty"`   // next, page, all, drop
	Page       int                    `json:"page,omitempty"` // 1-based, op=page
}

// PaginateTool drives the pagination engine. With agent_id and tool it
// starts a tracked dispatch; with tool_call_id it operates on an
// existing window: op=next fetches silently, op=page and op=all view
// cached pages without touching the upstream, op=drop releases the
// window once the client is done viewing it.
// POST /api/v1/tools/paginate
func (h *Handlers) PaginateTool(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req paginateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ToolCallID == "" {
		if req.AgentID == "" || req.Tool == "" {
			respondError(w, http.StatusBadRequest, "agent_id and tool are required to start pagination")
			return
		}
		execReq, _, err := h.buildExecRequest(r, id, executeRequest{
			AgentID: req.AgentID,
			Tool:    req.Tool,
			Params:  req.Params,
		})
		if err != nil {
			respondFailure(w, err)
			return
		}
		env, info, err := h.Pages.Paginate(r.Context(), execReq)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"tool_call_id": execReq.ToolCallID,
			"envelope":     env,
			"pages":        info,
		})
		return
	}

	switch req.Op {
	case "", "next":
		info, err := h.Pages.FetchNextPage(r.Context(), req.ToolCallID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, http.StatusOK, info)
	case "page":
		data, err := h.Pages.ViewPage(req.ToolCallID, req.Page)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"page": req.Page, "data": data})
	case "all":
		data, err := h.Pages.ViewAll(req.ToolCallID)
		if err != nil {
			respondFailure(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"data": data})
	case "drop":
		h.Pages.Drop(req.ToolCallID)
		respondJSON(w, http.StatusOK, map[string]interface{}{"dropped": true})
	default:
		respondError(w, http.StatusBadRequest, "op must be next, page, all, or drop")
	}
}

// buildExecRequest resolves a wire tool name into a ready executor
// request scoped to the caller's agent links and credentials.
func (h *Handlers) buildExecRequest(r *http.Request, id *models.Identity, req executeRequest) (*executor.Request, *models.Operation, error) {
	ctx := r.Context()

	agent, err := h.Store.GetAgent(ctx, id.OrgID, req.AgentID)
	if err != nil {
		return nil, nil, err
	}
	op, src, err := h.Selector.Resolve(ctx, id.OrgID, agent, req.Tool)
	if err != nil {
		return nil, nil, err
	}
	cred, err := h.Resolver.Resolve(ctx, src, id.OrgID, id.UserID)
	if err != nil {
		return nil, nil, err
	}

	log.Debug().Str("tool", req.Tool).Str("source", src.Name).Msg("Direct tool dispatch")

	return &executor.Request{
		Op:         op,
		Source:     src,
		Cred:       cred,
		Hints:      catalog.HintsFor(ctx, h.Store, src),
		OrgID:      id.OrgID,
		UserID:     id.UserID,
		AgentID:    agent.ID,
		ToolCallID: uuid.NewString(),
		ToolName:   req.Tool,
		Args:       req.Params,
	}, op, nil
}
