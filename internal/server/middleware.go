package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/contextcache/contextcache/internal/auth"
)

type ctxKey int

const callerKey ctxKey = iota

// callerFrom returns the authenticated caller, or nil for anonymous
// requests.
func callerFrom(ctx context.Context) *auth.Caller {
	caller, _ := ctx.Value(callerKey).(*auth.Caller)
	return caller
}

// SessionCookieName is the session cookie set on login.
const SessionCookieName = "contextcache_session"

// extractCredentials pulls the API key secret or session token off the
// request. Header beats cookie; Authorization beats X-Api-Key.
func extractCredentials(r *http.Request) (apiKey, sessionToken string) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), ""
	}
	if h := r.Header.Get("X-Api-Key"); h != "" {
		return strings.TrimSpace(h), ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return "", c.Value
	}
	return "", ""
}

// authMiddleware resolves credentials when present and stores the caller in
// the request context. Absent or invalid credentials pass through as
// anonymous; per-route guards decide whether that is acceptable, so public
// endpoints stay reachable while bad credentials on guarded routes fail
// with auth_invalid there.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, sessionToken := extractCredentials(r)
		var caller *auth.Caller
		var err error
		switch {
		case apiKey != "":
			caller, err = s.perimeter.ResolveAPIKey(r.Context(), apiKey)
		case sessionToken != "":
			caller, err = s.perimeter.ResolveSession(r.Context(), sessionToken)
		}
		if err == nil && caller != nil {
			r = r.WithContext(context.WithValue(r.Context(), callerKey, caller))
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth guards a route: any authenticated caller passes.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r.Context())
		if caller == nil {
			apiKey, sessionToken := extractCredentials(r)
			if apiKey == "" && sessionToken == "" {
				s.writeError(w, r, auth.ErrAuthMissing)
			} else {
				s.writeError(w, r, auth.ErrAuthInvalid)
			}
			return
		}
		next(w, r)
	}
}

// requireSession guards routes that need a human session (org creation,
// logout).
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if callerFrom(r.Context()).AuthKind != auth.KindSession {
			s.writeError(w, r, auth.ErrForbidden)
			return
		}
		next(w, r)
	})
}

// requireAdmin guards the /admin surface.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r.Context()).IsAdmin {
			s.writeError(w, r, auth.ErrForbidden)
			return
		}
		next(w, r)
	})
}

// apiVersionMiddleware echoes the advisory client version header back.
// Unknown versions are ignored by design.
func apiVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get("X-Api-Version"); v != "" {
			w.Header().Set("X-Api-Version", v)
		}
		next.ServeHTTP(w, r)
	})
}

// logMiddleware emits one structured line per request.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
