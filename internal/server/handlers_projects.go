package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/pack"
	"github.com/contextcache/contextcache/internal/types"
)

// handleCreateOrg creates an organization owned by the session user.
func (s *Server) handleCreateOrg(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" || len(name) > types.MaxNameLen {
		s.writeError(w, r, types.Invalidf("name", "must be 1..%d characters", types.MaxNameLen))
		return
	}
	caller := callerFrom(r.Context())
	org := &types.Organization{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateOrg(r.Context(), org, caller.User.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": org.ID, "name": org.Name})
}

// handleListProjects lists the caller's visible projects with memory counts.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	var (
		projects []*types.Project
		err      error
	)
	if caller.AuthKind == auth.KindAPIKey {
		projects, err = s.store.ListProjectsForOrg(r.Context(), caller.OrgID)
	} else {
		projects, err = s.store.ListProjectsForUser(r.Context(), caller.User.ID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*types.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleCreateProject creates a project in the caller's org, counting
// against the project_created quota.
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		OrgID string `json:"org_id,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" || len(name) > types.MaxNameLen {
		s.writeError(w, r, types.Invalidf("name", "must be 1..%d characters", types.MaxNameLen))
		return
	}

	caller := callerFrom(r.Context())
	orgID := body.OrgID
	if caller.AuthKind == auth.KindAPIKey {
		orgID = caller.OrgID
	}
	if orgID == "" {
		// Sessions with exactly one org default to it.
		orgs, _, err := s.store.ListOrgsForUser(r.Context(), caller.User.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(orgs) != 1 {
			s.writeError(w, r, types.Invalidf("org_id", "must be provided when the user belongs to multiple orgs"))
			return
		}
		orgID = orgs[0].ID
	}
	if err := s.perimeter.RequireOrgAccess(r.Context(), caller, orgID); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.ledger.Reserve(r.Context(), caller.SubjectID(), types.UsageProjectCreated, caller.IsUnlimited)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	project := &types.Project{ID: uuid.NewString(), OrgID: orgID, Name: name}
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		res.Rollback(r.Context())
		s.writeError(w, r, err)
		return
	}
	res.Commit()

	if _, err := s.store.AppendAuditEvent(r.Context(), project.ID, types.AuditProjectCreated,
		caller.SubjectID(), map[string]string{"name": project.Name}); err != nil {
		s.log.Warn("failed to append audit event", "project_id", project.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id": project.ID, "name": project.Name, "created_at": project.CreatedAt,
	})
}

// handleListMemories lists a project's memories by recency.
func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	projectID := chi.URLParam(r, "projectID")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	memories, err := s.memories.List(r.Context(), caller, projectID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	writeJSON(w, http.StatusOK, memories)
}

// handleCreateMemory ingests a memory card. Duplicate content returns the
// existing row with 200 and an idempotent flag; fresh inserts return 201.
func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	projectID := chi.URLParam(r, "projectID")

	var card types.MemoryCard
	if err := decodeJSON(r, &card); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.memories.Create(r.Context(), caller, projectID, &card)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Created {
		writeJSON(w, http.StatusCreated, result.Memory)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"memory":     result.Memory,
		"idempotent": true,
	})
}

// handleRecall runs the recall pipeline and returns items plus the
// assembled pack.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	projectID := chi.URLParam(r, "projectID")
	query := r.URL.Query().Get("query")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, types.Invalidf("limit", "must be an integer"))
			return
		}
		limit = n
	}
	format := pack.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = pack.FormatText
	}
	if !format.IsValid() {
		s.writeError(w, r, types.Invalidf("format", "must be text or toon"))
		return
	}

	if _, err := s.perimeter.RequireProjectAccess(r.Context(), caller, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.ledger.Reserve(r.Context(), caller.SubjectID(), types.UsageRecallQuery, caller.IsUnlimited)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.engine.Recall(r.Context(), projectID, query, limit, format)
	if err != nil {
		res.Rollback(r.Context())
		s.writeError(w, r, err)
		return
	}
	res.Commit()

	items := result.Items
	if items == nil {
		items = []*types.Memory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":            items,
		"memory_pack_text": result.Pack,
		"truncated":        result.Truncated,
	})
}

// handleListAudit returns the project's audit chain.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.perimeter.RequireProjectAccess(r.Context(), caller, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.store.ListAuditEvents(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*types.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleVerifyAudit runs chain verification and reports the first break.
func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.perimeter.RequireProjectAccess(r.Context(), caller, projectID); err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.store.ListAuditEvents(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report := auditVerify(events)
	writeJSON(w, http.StatusOK, report)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
