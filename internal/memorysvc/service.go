// Package memorysvc validates and inserts memory cards.
package memorysvc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/auth"
	"github.com/contextcache/contextcache/internal/jobs"
	"github.com/contextcache/contextcache/internal/quota"
	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// Service owns the memory ingest pipeline: access check, validation,
// canonicalization, quota, idempotent insert, audit, reindex hint.
type Service struct {
	store      storage.Storage
	perimeter  *auth.Perimeter
	ledger     *quota.Ledger
	dispatcher *jobs.Dispatcher
	log        *slog.Logger
}

// New builds the memory service.
func New(store storage.Storage, perimeter *auth.Perimeter, ledger *quota.Ledger, dispatcher *jobs.Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, perimeter: perimeter, ledger: ledger, dispatcher: dispatcher, log: log}
}

// CreateResult reports the stored memory and whether this call created it.
// Idempotent repeats return the prior row with Created false.
type CreateResult struct {
	Memory  *types.Memory
	Created bool
}

// Create validates the card, reserves quota, and inserts. A duplicate
// content hash returns the existing row and rolls the reservation back so
// the counter advances exactly once per distinct memory.
func (s *Service) Create(ctx context.Context, caller *auth.Caller, projectID string, card *types.MemoryCard) (*CreateResult, error) {
	if _, err := s.perimeter.RequireProjectAccess(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if err := card.Canonicalize(); err != nil {
		return nil, err
	}

	res, err := s.ledger.Reserve(ctx, caller.SubjectID(), types.UsageMemoryCreated, caller.IsUnlimited)
	if err != nil {
		return nil, err
	}
	defer res.Rollback(ctx)

	memory := &types.Memory{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Type:        card.Type,
		Source:      card.Source,
		Title:       card.Title,
		Content:     card.Content,
		Tags:        card.Tags,
		Metadata:    card.Metadata,
		ContentHash: types.ComputeContentHash(card.Content),
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   caller.SubjectID(),
	}

	existing, err := s.store.InsertMemory(ctx, memory)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Idempotent repeat: the reservation is rolled back by the
		// deferred compensation, so quota counts the memory once.
		return &CreateResult{Memory: existing, Created: false}, nil
	}
	res.Commit()

	// The audit log is the source of truth; the reindex hint is best-effort.
	if _, err := s.store.AppendAuditEvent(ctx, projectID, types.AuditMemoryCreated, caller.SubjectID(), map[string]string{
		"memory_id":    memory.ID,
		"memory_type":  string(memory.Type),
		"content_hash": memory.ContentHash,
	}); err != nil {
		s.log.Warn("failed to append audit event", "project_id", projectID, "error", err)
	}
	if s.dispatcher != nil {
		if _, err := s.dispatcher.Enqueue(ctx, jobs.TaskReindexProject, projectID); err != nil {
			s.log.Warn("failed to enqueue reindex hint", "project_id", projectID, "error", err)
		}
	}

	return &CreateResult{Memory: memory, Created: true}, nil
}

// List returns a project's memories after an access check.
func (s *Service) List(ctx context.Context, caller *auth.Caller, projectID string, limit, offset int) ([]*types.Memory, error) {
	if _, err := s.perimeter.RequireProjectAccess(ctx, caller, projectID); err != nil {
		return nil, err
	}
	return s.store.ListMemories(ctx, projectID, limit, offset)
}
