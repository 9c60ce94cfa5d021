// Package server is the HTTP facade: routing, body parsing, error mapping,
// and the auth / rate-limit / quota middleware pipeline.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contextcache/contextcache/internal/apikey"
	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/config"
	"github.com/contextcache/contextcache/internal/invite"
	"github.com/contextcache/contextcache/internal/jobs"
	"github.com/contextcache/contextcache/internal/memorysvc"
	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/recall"
	"github.com/contextcache/contextcache/internal/storage"
)

// Server wires the service components behind the REST surface.
type Server struct {
	cfg        *config.Config
	store      storage.Storage
	perimeter  *auth.Perimeter
	ledger     *quota.Ledger
	memories   *memorysvc.Service
	engine     *recall.Engine
	invites    *invite.Flow
	keys       *apikey.Manager
	dispatcher *jobs.Dispatcher
	limiter    *rateLimiter
	mailerUp   bool
	log        *slog.Logger

	httpServer *http.Server
}

// Deps carries the constructed components into the server.
type Deps struct {
	Store      storage.Storage
	Perimeter  *auth.Perimeter
	Ledger     *quota.Ledger
	Memories   *memorysvc.Service
	Engine     *recall.Engine
	Invites    *invite.Flow
	Keys       *apikey.Manager
	Dispatcher *jobs.Dispatcher
	MailerUp   bool
	Log        *slog.Logger
}

// New builds the server.
func New(cfg *config.Config, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		perimeter:  deps.Perimeter,
		ledger:     deps.Ledger,
		memories:   deps.Memories,
		engine:     deps.Engine,
		invites:    deps.Invites,
		keys:       deps.Keys,
		dispatcher: deps.Dispatcher,
		limiter:    newRateLimiter(cfg.RatePerMinute, cfg.RatePerHour),
		mailerUp:   deps.MailerUp,
		log:        log,
	}
}

// Router builds the chi route tree. Middleware order is deliberate:
// request id -> real ip -> log -> recover -> version -> auth -> rate limit.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(apiVersionMiddleware)
	r.Use(s.authMiddleware)
	r.Use(s.rateLimitMiddleware)

	// Public
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/request-link", s.handleRequestLink)
	r.Get("/auth/verify", s.handleVerify)
	r.Post("/waitlist/join", s.handleWaitlistJoin)

	// Authenticated
	r.Post("/auth/logout", s.requireSession(s.handleLogout))
	r.Get("/auth/me", s.requireAuth(s.handleMe))
	r.Get("/me/orgs", s.requireAuth(s.handleMyOrgs))
	r.Get("/me/usage", s.requireAuth(s.handleMyUsage))
	r.Post("/orgs", s.requireSession(s.handleCreateOrg))

	r.Get("/projects", s.requireAuth(s.handleListProjects))
	r.Post("/projects", s.requireAuth(s.handleCreateProject))
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Get("/memories", s.requireAuth(s.handleListMemories))
		r.Post("/memories", s.requireAuth(s.handleCreateMemory))
		r.Get("/recall", s.requireAuth(s.handleRecall))
		r.Get("/audit", s.requireAuth(s.handleListAudit))
		r.Post("/audit/verify", s.requireAuth(s.handleVerifyAudit))
	})

	r.Route("/orgs/{orgID}/api-keys", func(r chi.Router) {
		r.Get("/", s.requireAuth(s.handleListKeys))
		r.Post("/", s.requireAuth(s.handleCreateKey))
		r.Post("/{keyID}/revoke", s.requireAuth(s.handleRevokeKey))
	})

	// Admin
	r.Route("/admin", func(r chi.Router) {
		r.Post("/invites", s.requireAdmin(s.handleCreateInvite))
		r.Get("/invites", s.requireAdmin(s.handleListInvites))
		r.Post("/invites/{inviteID}/revoke", s.requireAdmin(s.handleRevokeInvite))
		r.Get("/waitlist", s.requireAdmin(s.handleListWaitlist))
		r.Post("/waitlist/{entryID}/approve", s.requireAdmin(s.handleApproveWaitlist))
		r.Post("/waitlist/{entryID}/reject", s.requireAdmin(s.handleRejectWaitlist))
		r.Get("/users", s.requireAdmin(s.handleListUsers))
		r.Post("/users/{userID}/set-unlimited", s.requireAdmin(s.handleSetUnlimited))
		r.Post("/users/{userID}/disable", s.requireAdmin(s.handleDisableUser))
		r.Get("/stats", s.requireAdmin(s.handleStats))
		r.Get("/recall-logs", s.requireAdmin(s.handleRecallLogs))
		r.Get("/job-failures", s.requireAdmin(s.handleJobFailures))
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
