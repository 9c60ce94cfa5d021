package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextcache/contextcache/internal/apikey"
	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/config"
	"github.com/contextcache/contextcache/internal/invite"
	"github.com/contextcache/contextcache/internal/memorysvc"
	"github.com/contextcache/contextcache/internal/pack"
	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/recall"
	"github.com/contextcache/contextcache/internal/server"
	"github.com/contextcache/contextcache/internal/storage/sqlite"
	"github.com/contextcache/contextcache/internal/types"
)

type fixture struct {
	t       *testing.T
	store   *sqlite.Store
	router  chi.Router
	cfg     *config.Config
	user    *types.User
	admin   *types.User
	org     *types.Organization
	project *types.Project
	keys    *apikey.Manager

	userSession  string
	adminSession string
	apiKey       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.MemoriesPerDay = 200
	cfg.RecallsPerDay = 500
	cfg.ProjectsPerDay = 10
	cfg.RatePerMinute = 1000
	cfg.RatePerHour = 10000

	user := &types.User{ID: uuid.NewString(), Email: "user@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))
	admin := &types.User{ID: uuid.NewString(), Email: "admin@example.com", IsAdmin: true, IsUnlimited: true}
	require.NoError(t, store.CreateUser(ctx, admin))
	org := &types.Organization{ID: uuid.NewString(), Name: "acme"}
	require.NoError(t, store.CreateOrg(ctx, org, user.ID))
	project := &types.Project{ID: uuid.NewString(), OrgID: org.ID, Name: "widget"}
	require.NoError(t, store.CreateProject(ctx, project))

	perimeter := auth.NewPerimeter(store, nil)
	ledger := quota.NewLedger(store, cfg.QuotaLimits(), nil)
	keys := apikey.NewManager(store)
	srv := server.New(cfg, server.Deps{
		Store:     store,
		Perimeter: perimeter,
		Ledger:    ledger,
		Memories:  memorysvc.New(store, perimeter, ledger, nil, nil),
		Engine:    recall.NewEngine(store, pack.New(0)),
		Invites:   invite.NewFlow(store, nil, cfg.BaseURL, nil),
		Keys:      keys,
		MailerUp:  true,
	})

	userSession, err := perimeter.IssueSession(ctx, user.ID)
	require.NoError(t, err)
	adminSession, err := perimeter.IssueSession(ctx, admin.ID)
	require.NoError(t, err)
	created, err := keys.Create(ctx, org.ID, "test key", 0)
	require.NoError(t, err)

	return &fixture{
		t:            t,
		store:        store,
		router:       srv.Router(),
		cfg:          cfg,
		user:         user,
		admin:        admin,
		org:          org,
		project:      project,
		keys:         keys,
		userSession:  userSession,
		adminSession: adminSession,
		apiKey:       created.Plaintext,
	}
}

type cred struct {
	session string
	apiKey  string
}

func (f *fixture) do(method, path string, body any, c cred) *httptest.ResponseRecorder {
	f.t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: server.SessionCookieName, Value: c.session})
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", nil, cred{})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthGuards(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/projects", nil, cred{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_missing", decode[map[string]any](t, rec)["error"])

	rec = f.do(http.MethodGet, "/projects", nil, cred{apiKey: "cc_bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "auth_invalid", decode[map[string]any](t, rec)["error"])
}

func TestCreateMemoryAndIdempotentRepeat(t *testing.T) {
	f := newFixture(t)
	path := "/projects/" + f.project.ID + "/memories"
	card := map[string]any{"type": "decision", "content": "we ship on fridays"}

	rec := f.do(http.MethodPost, path, card, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[types.Memory](t, rec)
	assert.NotEmpty(t, created.ID)

	rec = f.do(http.MethodPost, path, card, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	repeat := decode[map[string]any](t, rec)
	assert.Equal(t, true, repeat["idempotent"])
}

func TestCreateMemoryValidation(t *testing.T) {
	f := newFixture(t)
	path := "/projects/" + f.project.ID + "/memories"

	rec := f.do(http.MethodPost, path, map[string]any{"type": "poem", "content": "x"}, cred{apiKey: f.apiKey})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[map[string]any](t, rec)["error"])

	// Unknown body fields are rejected.
	rec = f.do(http.MethodPost, path, map[string]any{"type": "note", "content": "x", "mood": "great"}, cred{apiKey: f.apiKey})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrossTenantProjectIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stranger := &types.User{ID: uuid.NewString(), Email: "stranger@example.com"}
	require.NoError(t, f.store.CreateUser(ctx, stranger))
	foreignOrg := &types.Organization{ID: uuid.NewString(), Name: "rival"}
	require.NoError(t, f.store.CreateOrg(ctx, foreignOrg, stranger.ID))
	foreignProject := &types.Project{ID: uuid.NewString(), OrgID: foreignOrg.ID, Name: "secret"}
	require.NoError(t, f.store.CreateProject(ctx, foreignProject))

	// Another tenant's real project and a nonexistent one look identical.
	for _, id := range []string{foreignProject.ID, uuid.NewString()} {
		rec := f.do(http.MethodGet, "/projects/"+id+"/memories", nil, cred{apiKey: f.apiKey})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestRecallFlow(t *testing.T) {
	f := newFixture(t)
	memPath := "/projects/" + f.project.ID + "/memories"
	for _, content := range []string{"sqlite uses WAL", "unrelated shopping list"} {
		rec := f.do(http.MethodPost, memPath, map[string]any{"type": "note", "content": content}, cred{apiKey: f.apiKey})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(http.MethodGet, "/projects/"+f.project.ID+"/recall?query=sqlite&limit=1", nil, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Items     []types.Memory `json:"items"`
		Pack      string         `json:"memory_pack_text"`
		Truncated bool           `json:"truncated"`
	}](t, rec)
	require.Len(t, body.Items, 1)
	assert.Contains(t, body.Items[0].Content, "sqlite")
	assert.Contains(t, body.Pack, "sqlite uses WAL")
}

func TestRecallBadFormat(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/projects/"+f.project.ID+"/recall?format=xml", nil, cred{apiKey: f.apiKey})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaExceededResponse(t *testing.T) {
	f := newCappedFixture(t, 1)
	path := "/projects/" + f.project.ID + "/memories"
	rec := f.do(http.MethodPost, path, map[string]any{"type": "note", "content": "first"}, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, path, map[string]any{"type": "note", "content": "second"}, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "quota_exceeded", body["error"])
	assert.Equal(t, "memory_created", body["resource"])
}

func TestAdminSurfaceGuarded(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/admin/users", nil, cred{session: f.userSession})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/admin/users", nil, cred{session: f.adminSession})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditListAndVerify(t *testing.T) {
	f := newFixture(t)
	memPath := "/projects/" + f.project.ID + "/memories"
	rec := f.do(http.MethodPost, memPath, map[string]any{"type": "note", "content": "audited"}, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/projects/"+f.project.ID+"/audit", nil, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]types.AuditEvent](t, rec)
	require.Len(t, events, 1)

	rec = f.do(http.MethodPost, "/projects/"+f.project.ID+"/audit/verify", nil, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[map[string]any](t, rec)
	assert.Equal(t, true, report["valid"])
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	f := newFixture(t)
	memPath := "/projects/" + f.project.ID + "/memories"
	for _, content := range []string{"first decision", "second decision"} {
		rec := f.do(http.MethodPost, memPath, map[string]any{"type": "note", "content": content}, cred{apiKey: f.apiKey})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(http.MethodGet, "/projects/"+f.project.ID+"/audit", nil, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]types.AuditEvent](t, rec)
	require.Len(t, events, 2)

	// Rewrite the second event's payload behind the chain's back.
	_, err := f.store.UnderlyingDB().ExecContext(context.Background(),
		`UPDATE audit_events SET event_data = '{"altered":true}' WHERE id = ?`, events[1].ID)
	require.NoError(t, err)

	rec = f.do(http.MethodPost, "/projects/"+f.project.ID+"/audit/verify", nil, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[map[string]any](t, rec)
	assert.Equal(t, false, report["valid"])

	brk, ok := report["first_break"].(map[string]any)
	require.True(t, ok, "verify body: %v", report)
	assert.Equal(t, float64(1), brk["index"])
	assert.Equal(t, events[1].ID, brk["event_id"])
	assert.Contains(t, brk["reason"], "hash")
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	base := "/orgs/" + f.org.ID + "/api-keys/"

	rec := f.do(http.MethodPost, base, map[string]any{"name": "ci"}, cred{session: f.userSession})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	keyID, _ := created["id"].(string)
	secret, _ := created["api_key"].(string)
	require.NotEmpty(t, secret)

	// The fresh key authenticates.
	rec = f.do(http.MethodGet, "/projects", nil, cred{apiKey: secret})
	assert.Equal(t, http.StatusOK, rec.Code)

	// API-key callers may not revoke; that takes an org-admin session.
	rec = f.do(http.MethodPost, base+keyID+"/revoke", nil, cred{apiKey: f.apiKey})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, base+keyID+"/revoke", nil, cred{session: f.userSession})
	require.Equal(t, http.StatusOK, rec.Code)

	// Revocation takes effect on the next request.
	rec = f.do(http.MethodGet, "/projects", nil, cred{apiKey: secret})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWaitlistAndInviteFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/waitlist/join", map[string]any{"email": "hopeful@example.com"}, cred{})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(http.MethodGet, "/admin/waitlist?status=pending", nil, cred{session: f.adminSession})
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]types.WaitlistEntry](t, rec)
	require.Len(t, entries, 1)

	rec = f.do(http.MethodPost, "/admin/waitlist/"+entries[0].ID+"/approve", nil, cred{session: f.adminSession})
	require.Equal(t, http.StatusOK, rec.Code)
	approved := decode[map[string]any](t, rec)
	link, _ := approved["debug_link"].(string)
	require.NotEmpty(t, link, "dev mode echoes the magic link")

	// Duplicate joins stay silent.
	rec = f.do(http.MethodPost, "/waitlist/join", map[string]any{"email": "hopeful@example.com"}, cred{})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMagicLinkLoginFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/auth/request-link", map[string]any{"email": f.user.Email}, cred{})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	link, _ := body["debug_link"].(string)
	require.NotEmpty(t, link)

	// Unknown emails get the same response without a link.
	rec = f.do(http.MethodPost, "/auth/request-link", map[string]any{"email": "nobody@example.com"}, cred{})
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[map[string]any](t, rec)
	assert.Equal(t, true, anon["sent"])
	assert.Nil(t, anon["debug_link"])
}

func TestCreateProjectOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/projects", map[string]any{"name": "gadget"}, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/projects", nil, cred{apiKey: f.apiKey})
	require.Equal(t, http.StatusOK, rec.Code)
	projects := decode[[]types.Project](t, rec)
	assert.Len(t, projects, 2)

	// Blank names are rejected.
	rec = f.do(http.MethodPost, "/projects", map[string]any{"name": "  "}, cred{apiKey: f.apiKey})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// newCappedFixture builds a fixture whose memory quota cap is limit.
func newCappedFixture(t *testing.T, limit int) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "test.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.MemoriesPerDay = limit
	cfg.RatePerMinute = 1000
	cfg.RatePerHour = 10000

	user := &types.User{ID: uuid.NewString(), Email: "capped@example.com"}
	require.NoError(t, store.CreateUser(ctx, user))
	org := &types.Organization{ID: uuid.NewString(), Name: "capped"}
	require.NoError(t, store.CreateOrg(ctx, org, user.ID))
	project := &types.Project{ID: uuid.NewString(), OrgID: org.ID, Name: "p"}
	require.NoError(t, store.CreateProject(ctx, project))

	perimeter := auth.NewPerimeter(store, nil)
	ledger := quota.NewLedger(store, cfg.QuotaLimits(), nil)
	keys := apikey.NewManager(store)
	srv := server.New(cfg, server.Deps{
		Store:     store,
		Perimeter: perimeter,
		Ledger:    ledger,
		Memories:  memorysvc.New(store, perimeter, ledger, nil, nil),
		Engine:    recall.NewEngine(store, pack.New(0)),
		Invites:   invite.NewFlow(store, nil, cfg.BaseURL, nil),
		Keys:      keys,
		MailerUp:  true,
	})
	created, err := keys.Create(ctx, org.ID, "k", 0)
	require.NoError(t, err)

	return &fixture{
		t:       t,
		store:   store,
		router:  srv.Router(),
		cfg:     cfg,
		user:    user,
		org:     org,
		project: project,
		keys:    keys,
		apiKey:  created.Plaintext,
	}
}
