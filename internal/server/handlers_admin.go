package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/contextcache/contextcache/internal/invite"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// handleWaitlistJoin is the public self-service signup. Duplicate emails
// succeed silently so the endpoint does not reveal who has signed up.
func (s *Server) handleWaitlistJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email   string `json:"email"`
		Name    string `json:"name,omitempty"`
		Company string `json:"company,omitempty"`
		UseCase string `json:"use_case,omitempty"`
		Source  string `json:"source,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry := &types.WaitlistEntry{
		Email:   body.Email,
		Name:    body.Name,
		Company: body.Company,
		UseCase: body.UseCase,
		Source:  body.Source,
	}
	if err := s.invites.JoinWaitlist(r.Context(), entry); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// handleCreateInvite mints an invite for an email.
func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Notes string `json:"notes,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	caller := callerFrom(r.Context())
	issued, err := s.invites.Issue(r.Context(), body.Email, body.Notes, caller.SubjectID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.issuedResponse(issued))
}

// issuedResponse renders an invite-creation result. The debug link only
// appears in dev mode.
func (s *Server) issuedResponse(issued *invite.Issued) map[string]any {
	resp := map[string]any{
		"id":         issued.Invite.ID,
		"email":      issued.Invite.Email,
		"expires_at": issued.Invite.ExpiresAt,
	}
	if s.cfg.Dev && issued.DebugLink != "" {
		resp["debug_link"] = issued.DebugLink
	}
	return resp
}

// handleListInvites lists invites with optional status/email filters.
func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	filter := storage.InviteFilter{
		Status: r.URL.Query().Get("status"),
		EmailQ: r.URL.Query().Get("email_q"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	invites, err := s.invites.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if invites == nil {
		invites = []*types.Invite{}
	}
	writeJSON(w, http.StatusOK, invites)
}

// handleRevokeInvite revokes an invite. Idempotent.
func (s *Server) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	if err := s.invites.Revoke(r.Context(), chi.URLParam(r, "inviteID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleListWaitlist lists waitlist entries, pending first by default.
func (s *Server) handleListWaitlist(w http.ResponseWriter, r *http.Request) {
	status := types.WaitlistStatus(r.URL.Query().Get("status"))
	entries, err := s.store.ListWaitlist(r.Context(), status, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*types.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleApproveWaitlist promotes a pending entry into an invite.
func (s *Server) handleApproveWaitlist(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	issued, err := s.invites.ApproveWaitlist(r.Context(), chi.URLParam(r, "entryID"), caller.SubjectID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.issuedResponse(issued))
}

// handleRejectWaitlist marks a pending entry rejected.
func (s *Server) handleRejectWaitlist(w http.ResponseWriter, r *http.Request) {
	if err := s.invites.RejectWaitlist(r.Context(), chi.URLParam(r, "entryID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleListUsers pages through accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []*types.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// handleSetUnlimited toggles a user's quota exemption.
func (s *Server) handleSetUnlimited(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Unlimited bool `json:"unlimited"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := s.store.SetUserUnlimited(r.Context(), userID, body.Unlimited); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "unlimited": body.Unlimited})
}

// handleDisableUser disables (or re-enables) an account. Disabled users fail
// session resolution on their next request.
func (s *Server) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Disabled *bool `json:"disabled,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	disabled := true
	if body.Disabled != nil {
		disabled = *body.Disabled
	}
	userID := chi.URLParam(r, "userID")
	if err := s.store.SetUserDisabled(r.Context(), userID, disabled); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "disabled": disabled})
}

// handleStats returns the row-count summary.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStatistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRecallLogs returns recent recall usage rows.
func (s *Server) handleRecallLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.RecentRecallLogs(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []storage.RecallLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleJobFailures returns background jobs that exhausted retries.
func (s *Server) handleJobFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := s.store.ListJobFailures(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if failures == nil {
		failures = []*storage.JobFailure{}
	}
	writeJSON(w, http.StatusOK, failures)
}
