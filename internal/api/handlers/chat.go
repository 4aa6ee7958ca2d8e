package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/actionchat/actionchat/internal/chat"
	"github.com/actionchat/actionchat/pkg/models"
)

const maxChatTitle = 80

type turnRequest struct {
	ChatID  string `json:"chat_id,omitempty"`
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

// StreamChat runs one user turn and streams frames as SSE.
// POST /api/v1/chat
//
// The chat id goes out in the X-Chat-Id header before the first frame,
// so clients can address approvals and follow-up turns immediately.
func (h *Handlers) StreamChat(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AgentID == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "agent_id and message are required")
		return
	}

	chatID := req.ChatID
	if chatID == "" {
		title := req.Message
		if len(title) > maxChatTitle {
			title = title[:maxChatTitle]
		}
		c := &models.Chat{
			ID:      uuid.NewString(),
			OrgID:   id.OrgID,
			UserID:  id.UserID,
			AgentID: req.AgentID,
			Title:   title,
		}
		if err := h.Store.CreateChat(r.Context(), c); err != nil {
			respondFailure(w, err)
			return
		}
		chatID = c.ID
	} else if _, err := h.Store.GetChat(r.Context(), id.OrgID, chatID); err != nil {
		respondFailure(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Chat-Id", chatID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Parallel tool dispatches emit concurrently; serialize writes.
	var mu sync.Mutex
	emit := func(chunk models.StreamChunk) {
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	_, err := h.Runner.Run(r.Context(), &chat.TurnRequest{
		ChatID:  chatID,
		AgentID: req.AgentID,
		OrgID:   id.OrgID,
		UserID:  id.UserID,
		Message: req.Message,
	}, emit)
	if err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("Turn failed")
		emit(models.StreamChunk{Error: err.Error(), Done: true})
	}
}

// ResolveApproval feeds a pending confirmation decision back into the
// running turn.
// POST /api/v1/approvals
func (h *Handlers) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}

	var decision models.ApprovalDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if decision.ApprovalID == "" {
		respondError(w, http.StatusBadRequest, "approvalId is required")
		return
	}

	if !h.Runner.Gate().Resolve(decision.ApprovalID, decision.Approved) {
		respondError(w, http.StatusNotFound, "No pending approval with that id")
		return
	}

	log.Info().Str("approval_id", decision.ApprovalID).Bool("approved", decision.Approved).Msg("Approval resolved")
	respondJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

// ListChats returns the caller's chats, newest first.
// GET /api/v1/chats
func (h *Handlers) ListChats(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	limit := intQuery(r, "limit", 50)
	chats, err := h.Store.ListChats(r.Context(), id.OrgID, id.UserID, limit)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	respondJSON(w, http.StatusOK, chats)
}

// GetChat returns one chat with its full message history, tool call
// traces included.
// GET /api/v1/chats/{chatID}
func (h *Handlers) GetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	chatID := chi.URLParam(r, "chatID")
	c, err := h.Store.GetChat(r.Context(), id.OrgID, chatID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	msgs, err := h.Store.ListMessages(r.Context(), chatID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"chat":     c,
		"messages": msgs,
	})
}
