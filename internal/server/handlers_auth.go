package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// handleHealth reports dependency status. 503 when the store is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeOK := s.store.Ping(r.Context()) == nil
	queueOK := s.dispatcher == nil || s.dispatcher.Healthy(r.Context())

	checks := map[string]string{
		"store":  statusWord(storeOK),
		"queue":  statusWord(queueOK),
		"mailer": statusWord(s.mailerUp),
	}
	if !storeOK {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}

func statusWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "down"
}

// handleRequestLink issues a magic link for an existing account. The
// response never reveals whether the email exists.
func (s *Server) handleRequestLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		s.writeError(w, r, types.Invalidf("email", "must not be empty"))
		return
	}

	resp := map[string]any{"sent": true}
	user, err := s.store.GetUserByEmail(r.Context(), email)
	if err == nil && !user.IsDisabled {
		issued, err := s.invites.Issue(r.Context(), email, "login link", "system")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if s.cfg.Dev && issued.DebugLink != "" {
			resp["debug_link"] = issued.DebugLink
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVerify consumes a magic-link token, sets the session cookie, and
// redirects into the app.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := s.invites.Consume(r.Context(), token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, r, storage.ErrInviteNotConsumable)
			return
		}
		s.writeError(w, r, err)
		return
	}

	sessionToken, err := s.perimeter.IssueSession(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.RecordLoginEvent(r.Context(), user.ID, r.RemoteAddr, time.Now().UTC()); err != nil {
		s.log.Warn("failed to record login event", "user_id", user.ID, "error", err)
	}

	http.SetCookie(w, s.sessionCookie(sessionToken, time.Now().Add(auth.SessionTTL)))
	http.Redirect(w, r, "/app", http.StatusFound)
}

func (s *Server) sessionCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.cfg.CookieSecure,
	}
}

// handleLogout revokes the current session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookieName); err == nil {
		if err := s.perimeter.RevokeSession(r.Context(), c.Value); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	http.SetCookie(w, s.sessionCookie("", time.Unix(0, 0)))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMe describes the authenticated caller.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	resp := map[string]any{
		"auth_kind":    caller.AuthKind,
		"is_admin":     caller.IsAdmin,
		"is_unlimited": caller.IsUnlimited,
	}
	if caller.User != nil {
		resp["user"] = caller.User
	}
	if caller.OrgID != "" {
		resp["org_id"] = caller.OrgID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMyOrgs lists the caller's organizations with roles.
func (s *Server) handleMyOrgs(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if caller.AuthKind == auth.KindAPIKey {
		org, err := s.store.GetOrg(r.Context(), caller.OrgID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{{"id": org.ID, "name": org.Name, "role": "member"}})
		return
	}
	orgs, roles, err := s.store.ListOrgsForUser(r.Context(), caller.User.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(orgs))
	for i, org := range orgs {
		out = append(out, map[string]any{"id": org.ID, "name": org.Name, "role": roles[i]})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMyUsage reports today's counters and the configured limits.
func (s *Server) handleMyUsage(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	usage, err := s.ledger.Usage(r.Context(), caller.SubjectID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limits := map[string]int{}
	for event, limit := range s.ledger.Limits() {
		limits[string(event)] = limit
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memories_created": usage[types.UsageMemoryCreated],
		"recall_queries":   usage[types.UsageRecallQuery],
		"projects_created": usage[types.UsageProjectCreated],
		"limits":           limits,
	})
}
