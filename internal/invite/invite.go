// Package invite implements magic-link issuance and consumption, plus the
// waitlist promotion flow.
//
// Invite lifecycle: pending -> accepted | expired | revoked. Acceptance is
// single-use; concurrent consumers are serialized by the store and only the
// first succeeds.
package invite

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/mailer"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// DefaultTTL is how long an invite link stays consumable.
const DefaultTTL = 7 * 24 * time.Hour

// Flow orchestrates invites and the waitlist.
type Flow struct {
	store   storage.Storage
	mail    mailer.Mailer // nil = dev mode, links logged and echoed
	baseURL string
	log     *slog.Logger
}

// NewFlow builds the invite flow. mail may be nil; baseURL is the public
// server address used to render links.
func NewFlow(store storage.Storage, mail mailer.Mailer, baseURL string, log *slog.Logger) *Flow {
	if log == nil {
		log = slog.Default()
	}
	return &Flow{store: store, mail: mail, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// Issued is the admin-facing creation result. DebugLink is populated only
// in dev mode (no mailer configured).
type Issued struct {
	Invite    *types.Invite
	DebugLink string
}

// Issue creates an invite for an email and delivers (or logs) the link.
func (f *Flow) Issue(ctx context.Context, email, notes, createdBy string) (*Issued, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, types.Invalidf("email", "not a valid address")
	}

	token := auth.NewSecret()
	inv := &types.Invite{
		ID:        uuid.NewString(),
		Email:     email,
		TokenHash: auth.HashSecret(token),
		CreatedBy: createdBy,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(DefaultTTL),
	}
	if err := f.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s/auth/verify?token=%s", f.baseURL, token)
	issued := &Issued{Invite: inv}
	if f.mail == nil {
		f.log.Info("magic link issued (dev mode)", "email", email, "link", link)
		issued.DebugLink = link
		return issued, nil
	}
	body := "You have been invited to ContextCache. Open this link to sign in:\n\n" + link + "\n"
	if err := f.mail.Send(ctx, email, "Your ContextCache invite", body); err != nil {
		// Delivery failure does not invalidate the invite; admins can
		// re-send from the invite list.
		f.log.Warn("failed to send invite mail", "email", email, "error", err)
	}
	return issued, nil
}

// Consume accepts a magic-link token exactly once, returning the user it
// resolves to. Expired, revoked, or already-accepted tokens fail with
// storage.ErrInviteNotConsumable.
func (f *Flow) Consume(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, storage.ErrNotFound
	}
	return f.store.ConsumeInvite(ctx, auth.HashSecret(token), time.Now().UTC())
}

// Revoke marks an invite revoked. Idempotent admin action.
func (f *Flow) Revoke(ctx context.Context, id string) error {
	return f.store.RevokeInvite(ctx, id, time.Now().UTC())
}

// List returns invites for the admin surface.
func (f *Flow) List(ctx context.Context, filter storage.InviteFilter) ([]*types.Invite, error) {
	return f.store.ListInvites(ctx, filter)
}

// JoinWaitlist records a self-service signup. Duplicate emails are a no-op.
func (f *Flow) JoinWaitlist(ctx context.Context, entry *types.WaitlistEntry) error {
	entry.Email = strings.ToLower(strings.TrimSpace(entry.Email))
	if _, err := mail.ParseAddress(entry.Email); err != nil {
		return types.Invalidf("email", "not a valid address")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Status = types.WaitlistPending
	return f.store.CreateWaitlistEntry(ctx, entry)
}

// ApproveWaitlist promotes a pending entry into an active invite.
func (f *Flow) ApproveWaitlist(ctx context.Context, entryID, approvedBy string) (*Issued, error) {
	entry, err := f.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != types.WaitlistPending {
		return nil, types.Invalidf("status", "entry is already %s", entry.Status)
	}
	issued, err := f.Issue(ctx, entry.Email, "waitlist approval", approvedBy)
	if err != nil {
		return nil, err
	}
	if err := f.store.SetWaitlistStatus(ctx, entryID, types.WaitlistApproved); err != nil {
		return nil, err
	}
	return issued, nil
}

// RejectWaitlist marks a pending entry rejected.
func (f *Flow) RejectWaitlist(ctx context.Context, entryID string) error {
	entry, err := f.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != types.WaitlistPending {
		return types.Invalidf("status", "entry is already %s", entry.Status)
	}
	return f.store.SetWaitlistStatus(ctx, entryID, types.WaitlistRejected)
}
