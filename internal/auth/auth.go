// Package auth resolves incoming credentials to an authenticated caller.
//
// Two credential kinds are accepted: org-scoped API keys (Authorization
// bearer or X-Api-Key header) and session cookies. Secrets are compared by
// sha256 digest; the plaintext never touches storage.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// ErrAuthMissing means credentials are required but absent.
var ErrAuthMissing = errors.New("authentication required")

// ErrAuthInvalid means a credential is present but malformed, revoked,
// expired, or belongs to a disabled user.
var ErrAuthInvalid = errors.New("invalid credentials")

// ErrForbidden means the caller is authenticated but lacks authority.
var ErrForbidden = errors.New("forbidden")

// Kind distinguishes how a caller authenticated.
type Kind string

const (
	KindSession Kind = "session"
	KindAPIKey  Kind = "api_key"
)

// Caller is the resolved identity attached to a request.
type Caller struct {
	User        *types.User // nil for api_key callers
	KeyID       string      // set for api_key callers
	OrgID       string      // org scope for api_key callers; empty for sessions
	AuthKind    Kind
	IsAdmin     bool
	IsUnlimited bool
}

// SubjectID is the quota and audit subject for the caller: the user id for
// sessions, or a key-scoped synthetic id for API keys.
func (c *Caller) SubjectID() string {
	if c.User != nil {
		return c.User.ID
	}
	return "key:" + c.KeyID
}

// SessionTTL is how long a freshly issued session lives.
const SessionTTL = 30 * 24 * time.Hour

// NewSecret returns 32 bytes of entropy rendered as unpadded base64url.
func NewSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// HashSecret digests a presented secret for storage lookup.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", h)
}

// Perimeter validates credentials against the store.
type Perimeter struct {
	store storage.Storage
	log   *slog.Logger
}

// NewPerimeter builds the identity perimeter.
func NewPerimeter(store storage.Storage, log *slog.Logger) *Perimeter {
	if log == nil {
		log = slog.Default()
	}
	return &Perimeter{store: store, log: log}
}

// ResolveAPIKey authenticates an API key secret. The key must exist, be
// unrevoked and unexpired, and its org must exist. last_used_at is updated
// off the critical path, best-effort.
func (p *Perimeter) ResolveAPIKey(ctx context.Context, secret string) (*Caller, error) {
	if secret == "" {
		return nil, ErrAuthMissing
	}
	key, err := p.store.GetAPIKeyByHash(ctx, HashSecret(secret))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAuthInvalid
	}
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if key.Revoked() || key.Expired(now) {
		return nil, ErrAuthInvalid
	}

	go p.touchKey(key.ID)

	return &Caller{
		KeyID:    key.ID,
		OrgID:    key.OrgID,
		AuthKind: KindAPIKey,
	}, nil
}

func (p *Perimeter) touchKey(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.TouchAPIKeyUsed(ctx, id, time.Now().UTC()); err != nil {
		p.log.Warn("failed to update api key last_used_at", "key_id", id, "error", err)
	}
}

// ResolveSession authenticates a session cookie token. The session must be
// unrevoked and unexpired and its user not disabled.
func (p *Perimeter) ResolveSession(ctx context.Context, token string) (*Caller, error) {
	if token == "" {
		return nil, ErrAuthMissing
	}
	sess, err := p.store.GetSession(ctx, HashSecret(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAuthInvalid
	}
	if err != nil {
		return nil, err
	}
	if !sess.Valid(time.Now().UTC()) {
		return nil, ErrAuthInvalid
	}
	user, err := p.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAuthInvalid
	}
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, ErrAuthInvalid
	}

	go p.touchLogin(user.ID)

	return &Caller{
		User:        user,
		AuthKind:    KindSession,
		IsAdmin:     user.IsAdmin,
		IsUnlimited: user.IsUnlimited,
	}, nil
}

func (p *Perimeter) touchLogin(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.TouchLastLogin(ctx, userID, time.Now().UTC()); err != nil {
		p.log.Warn("failed to refresh last_login_at", "user_id", userID, "error", err)
	}
}

// IssueSession mints a session for a user and returns the opaque token to
// set as the cookie value. Only the digest is stored.
func (p *Perimeter) IssueSession(ctx context.Context, userID string) (token string, err error) {
	token = NewSecret()
	sess := &types.Session{
		ID:        HashSecret(token),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(SessionTTL),
	}
	if err := p.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	return token, nil
}

// RevokeSession invalidates the session for a presented token.
func (p *Perimeter) RevokeSession(ctx context.Context, token string) error {
	return p.store.RevokeSession(ctx, HashSecret(token), time.Now().UTC())
}

// RequireProjectAccess checks that the caller may act on the project:
// session callers must be members of the project's org; api_key callers
// must be scoped to it. Returns the project on success. Cross-tenant
// access surfaces as NotFound to avoid leaking project existence.
func (p *Perimeter) RequireProjectAccess(ctx context.Context, caller *Caller, projectID string) (*types.Project, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := p.RequireOrgAccess(ctx, caller, project.OrgID); err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// RequireOrgAccess checks that the caller belongs to the org.
func (p *Perimeter) RequireOrgAccess(ctx context.Context, caller *Caller, orgID string) error {
	if caller.AuthKind == KindAPIKey {
		if caller.OrgID != orgID {
			return ErrForbidden
		}
		return nil
	}
	_, err := p.store.GetMembership(ctx, caller.User.ID, orgID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrForbidden
	}
	return err
}

// RequireOrgAdmin checks that the caller is an org admin (api_key callers
// never are; key management needs a human session).
func (p *Perimeter) RequireOrgAdmin(ctx context.Context, caller *Caller, orgID string) error {
	if caller.AuthKind == KindAPIKey {
		return ErrForbidden
	}
	m, err := p.store.GetMembership(ctx, caller.User.ID, orgID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if m.Role != types.RoleAdmin {
		return ErrForbidden
	}
	return nil
}
