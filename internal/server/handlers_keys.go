package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListKeys lists an org's API keys (metadata only).
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	orgID := chi.URLParam(r, "orgID")
	if err := s.perimeter.RequireOrgAccess(r.Context(), caller, orgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	keys, err := s.keys.List(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCreateKey mints a key. The plaintext appears in this response and
// nowhere else.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	orgID := chi.URLParam(r, "orgID")
	if err := s.perimeter.RequireOrgAccess(r.Context(), caller, orgID); err != nil {
		s.writeError(w, r, err)
		return
	}

	var body struct {
		Name          string `json:"name"`
		ExpiresInDays int    `json:"expires_in_days,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.keys.Create(r.Context(), orgID, body.Name, body.ExpiresInDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleRevokeKey revokes a key. Org admins only.
func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	orgID := chi.URLParam(r, "orgID")
	keyID := chi.URLParam(r, "keyID")
	if err := s.perimeter.RequireOrgAdmin(r.Context(), caller, orgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.keys.Revoke(r.Context(), orgID, keyID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
