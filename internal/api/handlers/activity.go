package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/actionchat/actionchat/pkg/models"
)

// ListActivity returns the org's action records, newest first.
// GET /api/v1/activity?status=&user=&limit=&offset=
func (h *Handlers) ListActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	filter := models.ActionFilter{
		OrgID:  id.OrgID,
		UserID: r.URL.Query().Get("user"),
		Status: r.URL.Query().Get("status"),
		Limit:  intQuery(r, "limit", 50),
		Offset: intQuery(r, "offset", 0),
	}

	records, err := h.Store.ListActions(r.Context(), filter)
	if err != nil {
		respondFailure(w, err)
		return
	}
	total, err := h.Store.CountActions(r.Context(), filter)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if records == nil {
		records = []models.ActionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// GetAction returns one action record.
// GET /api/v1/activity/{actionID}
func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.GetAction(r.Context(), id.OrgID, chi.URLParam(r, "actionID"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
