// Package types defines core data structures for the ContextCache service.
package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// MemoryType categorizes a memory card.
type MemoryType string

const (
	TypeDecision   MemoryType = "decision"
	TypeFinding    MemoryType = "finding"
	TypeDefinition MemoryType = "definition"
	TypeNote       MemoryType = "note"
	TypeLink       MemoryType = "link"
	TypeTodo       MemoryType = "todo"
	TypeChat       MemoryType = "chat"
	TypeDoc        MemoryType = "doc"
	TypeCode       MemoryType = "code"
)

// MemoryTypeOrder is the canonical ordering used for grouped pack output.
var MemoryTypeOrder = []MemoryType{
	TypeDecision, TypeFinding, TypeDefinition, TypeNote,
	TypeLink, TypeTodo, TypeChat, TypeDoc, TypeCode,
}

// IsValid reports whether t is a recognized memory type.
func (t MemoryType) IsValid() bool {
	switch t {
	case TypeDecision, TypeFinding, TypeDefinition, TypeNote,
		TypeLink, TypeTodo, TypeChat, TypeDoc, TypeCode:
		return true
	}
	return false
}

// Title returns the capitalized display name for pack headers ("Decision").
func (t MemoryType) Title() string {
	if t == "" {
		return ""
	}
	s := string(t)
	return strings.ToUpper(s[:1]) + s[1:]
}

// MemorySource identifies which tool captured a memory.
type MemorySource string

const (
	SourceManual  MemorySource = "manual"
	SourceChatGPT MemorySource = "chatgpt"
	SourceClaude  MemorySource = "claude"
	SourceCursor  MemorySource = "cursor"
	SourceCodex   MemorySource = "codex"
	SourceAPI     MemorySource = "api"
)

// IsValid reports whether s is a recognized memory source.
func (s MemorySource) IsValid() bool {
	switch s {
	case SourceManual, SourceChatGPT, SourceClaude, SourceCursor, SourceCodex, SourceAPI:
		return true
	}
	return false
}

// Validation limits for memory cards.
const (
	MaxTitleLen    = 500
	MaxContentLen  = 10_000
	MaxTagLen      = 32
	MaxTagsPerCard = 16
	MaxNameLen     = 200
	MaxKeyNameLen  = 100
)

// RecognizedMetadataKeys are the only metadata keys accepted on a card.
// Unknown keys are rejected to prevent silent schema drift.
var RecognizedMetadataKeys = map[string]bool{
	"url":       true,
	"file_path": true,
	"language":  true,
	"model":     true,
}

// User is an authenticated account. Disabled users fail all authenticated calls.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	IsAdmin     bool       `json:"is_admin,omitempty"`
	IsUnlimited bool       `json:"is_unlimited,omitempty"`
	IsDisabled  bool       `json:"is_disabled,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// Organization is the outer tenant boundary.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// OrgRole is a user's role within an organization.
type OrgRole string

const (
	RoleMember OrgRole = "member"
	RoleAdmin  OrgRole = "admin"
)

// OrgMembership links a user to an organization with a role.
type OrgMembership struct {
	UserID string  `json:"user_id"`
	OrgID  string  `json:"org_id"`
	Role   OrgRole `json:"role"`
}

// Project is the inner scope within a tenant; the unit of recall and audit.
type Project struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	// MemoryCount is populated only by listing queries.
	MemoryCount int `json:"memory_count,omitempty"`
}

// Memory is a single typed knowledge item captured in a project.
type Memory struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	Type        MemoryType        `json:"type"`
	Source      MemorySource      `json:"source"`
	Title       string            `json:"title,omitempty"`
	Content     string            `json:"content"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ContentHash string            `json:"-"` // internal dedup key, never exported
	CreatedAt   time.Time         `json:"created_at"`
	CreatedBy   string            `json:"created_by,omitempty"`

	// RankScore is populated only on recall responses. Nil means the row
	// came from the recency fallback rather than full-text ranking.
	RankScore *float64 `json:"rank_score,omitempty"`
}

// CanonicalizeContent trims and NFKC-normalizes content for hashing.
func CanonicalizeContent(content string) string {
	return norm.NFKC.String(strings.TrimSpace(content))
}

// ComputeContentHash creates the deterministic dedup digest of a memory's
// content. The digest covers only the canonicalized content so that
// re-submission of the same text is a no-op regardless of title or tags.
func ComputeContentHash(content string) string {
	h := sha256.Sum256([]byte(CanonicalizeContent(content)))
	return fmt.Sprintf("%x", h)
}

// APIKey is an org-scoped credential. Only the digest of the secret is stored.
type APIKey struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Hash       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool { return k.RevokedAt != nil }

// Expired reports whether the key is past its expiry at the given instant.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Session is a server-issued login. The id column stores the token digest,
// never the token itself.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the session is usable at the given instant.
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// LoginEvent records a successful login IP for a user. At most the last 10
// are retained per user; entries older than 90 days are purged by the
// housekeeping job.
type LoginEvent struct {
	UserID    string    `json:"user_id"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// Login event retention policy.
const (
	MaxLoginEventsPerUser = 10
	LoginEventMaxAge      = 90 * 24 * time.Hour
)

// Invite is a single-use magic-link grant created by an admin.
type Invite struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	TokenHash  string     `json:"-"`
	CreatedBy  string     `json:"created_by"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Consumable reports whether the invite can still be accepted.
func (i *Invite) Consumable(now time.Time) bool {
	return i.AcceptedAt == nil && i.RevokedAt == nil && now.Before(i.ExpiresAt)
}

// Status derives the display status of an invite.
func (i *Invite) Status(now time.Time) string {
	switch {
	case i.RevokedAt != nil:
		return "revoked"
	case i.AcceptedAt != nil:
		return "accepted"
	case now.After(i.ExpiresAt):
		return "expired"
	default:
		return "pending"
	}
}

// WaitlistStatus is the review state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistPending  WaitlistStatus = "pending"
	WaitlistApproved WaitlistStatus = "approved"
	WaitlistRejected WaitlistStatus = "rejected"
)

// WaitlistEntry is a self-service signup awaiting admin review.
type WaitlistEntry struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Name      string         `json:"name,omitempty"`
	Company   string         `json:"company,omitempty"`
	UseCase   string         `json:"use_case,omitempty"`
	Source    string         `json:"source,omitempty"`
	Status    WaitlistStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// UsageEvent is a quota-counted event class.
type UsageEvent string

const (
	UsageMemoryCreated  UsageEvent = "memory_created"
	UsageRecallQuery    UsageEvent = "recall_query"
	UsageProjectCreated UsageEvent = "project_created"
)

// IsValid reports whether e is a recognized usage event.
func (e UsageEvent) IsValid() bool {
	switch e {
	case UsageMemoryCreated, UsageRecallQuery, UsageProjectCreated:
		return true
	}
	return false
}

// UsageDay is one per-user per-day counter row.
type UsageDay struct {
	UserID    string     `json:"user_id"`
	Day       string     `json:"day"` // YYYY-MM-DD in the ledger's timezone
	EventType UsageEvent `json:"event_type"`
	Count     int        `json:"count"`
}

// AuditEvent is one link in a project's tamper-evident log. Append-only.
type AuditEvent struct {
	ID          string            `json:"id"`
	ProjectID   string            `json:"project_id"`
	EventType   string            `json:"event_type"`
	CreatedAt   time.Time         `json:"created_at"`
	Actor       string            `json:"actor"` // user id or "system"
	EventData   map[string]string `json:"event_data,omitempty"`
	PrevHash    string            `json:"prev_hash"`
	CurrentHash string            `json:"current_hash"`
}

// Audit event types emitted by the core.
const (
	AuditMemoryCreated  = "memory_created"
	AuditProjectCreated = "project_created"
)
