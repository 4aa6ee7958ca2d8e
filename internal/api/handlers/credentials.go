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

// credentialView is the redacted shape returned by the API. Secrets
// never leave the store; only the tail is shown for recognition.
type credentialView struct {
	ID        string     `json:"id"`
	SourceID  string     `json:"source_id"`
	Tail      string     `json:"tail,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

func redact(c *models.Credential) credentialView {
	return credentialView{
		ID:        c.ID,
		SourceID:  c.SourceID,
		Tail:      c.Tail(),
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		RotatedAt: c.RotatedAt,
	}
}

// ListCredentials returns the caller's credentials, redacted.
// GET /api/v1/credentials
func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	creds, err := h.Store.ListCredentials(r.Context(), id.OrgID, id.UserID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	out := make([]credentialView, 0, len(creds))
	for i := range creds {
		out = append(out, redact(&creds[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// BindCredential stores a credential for the caller against a source.
// Any previously active credential for the pair is deactivated.
// POST /api/v1/sources/{sourceID}/credentials
func (h *Handlers) BindCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	src, err := h.Store.GetSource(r.Context(), id.OrgID, chi.URLParam(r, "sourceID"))
	if err != nil {
		respondFailure(w, err)
		return
	}

	var cred models.Credential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if cred.Tail() == "" {
		respondError(w, http.StatusBadRequest, "credential has no secret material")
		return
	}

	cred.ID = uuid.NewString()
	cred.OrgID = id.OrgID
	cred.UserID = id.UserID
	cred.SourceID = src.ID
	cred.Active = true
	cred.CreatedAt = time.Now().UTC()

	if err := h.Store.CreateCredential(r.Context(), &cred); err != nil {
		respondFailure(w, err)
		return
	}

	// The cached lookup and any pooled connections hold the old secret.
	h.Resolver.Invalidate(src.ID)
	h.Pool.CloseSource(src.ID)

	log.Info().Str("source", src.Name).Str("tail", cred.Tail()).Msg("Credential bound")
	respondJSON(w, http.StatusCreated, redact(&cred))
}

// RotateCredential swaps the secret material on an existing credential
// in place, keeping its identity.
// POST /api/v1/credentials/{credentialID}/rotate
func (h *Handlers) RotateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var patch models.Credential
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.Tail() == "" {
		respondError(w, http.StatusBadRequest, "credential has no secret material")
		return
	}

	patch.ID = chi.URLParam(r, "credentialID")
	patch.OrgID = id.OrgID
	patch.UserID = id.UserID

	if err := h.Store.RotateCredential(r.Context(), &patch); err != nil {
		respondFailure(w, err)
		return
	}

	if patch.SourceID != "" {
		h.Resolver.Invalidate(patch.SourceID)
		h.Pool.CloseSource(patch.SourceID)
	}

	log.Info().Str("credential_id", patch.ID).Msg("Credential rotated")
	respondJSON(w, http.StatusOK, map[string]bool{"rotated": true})
}

// DeactivateCredential retires a credential without deleting its row.
// DELETE /api/v1/credentials/{credentialID}
func (h *Handlers) DeactivateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	credID := chi.URLParam(r, "credentialID")

	if err := h.Store.DeactivateCredential(r.Context(), id.OrgID, id.UserID, credID); err != nil {
		respondFailure(w, err)
		return
	}

	// Without the source id on hand, flush everything this user could
	// have warmed.
	creds, err := h.Store.ListCredentials(r.Context(), id.OrgID, id.UserID)
	if err == nil {
		for i := range creds {
			if creds[i].ID == credID {
				h.Resolver.Invalidate(creds[i].SourceID)
				h.Pool.CloseSource(creds[i].SourceID)
			}
		}
	}

	log.Info().Str("credential_id", credID).Msg("Credential deactivated")
	w.WriteHeader(http.StatusNoContent)
}

// ListTemplates returns the shared vendor template catalog.
// GET /api/v1/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}
	templates, err := h.Store.ListTemplates(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	if templates == nil {
		templates = []models.SourceTemplate{}
	}
	respondJSON(w, http.StatusOK, templates)
}
