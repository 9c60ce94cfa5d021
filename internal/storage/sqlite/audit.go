package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/contextcache/contextcache/internal/types"
)

// AppendAuditEvent links a new event onto the project's audit chain. The
// chain head read and the insert share one transaction, so the prev_hash
// linkage holds under concurrent appends.
func (s *Store) AppendAuditEvent(ctx context.Context, projectID, eventType, actor string, data map[string]string) (*types.AuditEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin audit tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	prevHash := types.ZeroHash
	err = tx.QueryRowContext(ctx, `
		SELECT current_hash FROM audit_events
		WHERE project_id = ? ORDER BY rowid DESC LIMIT 1
	`, projectID).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, wrapDBError("read audit chain head", err)
	}

	// Truncated to whole seconds so the stored timestamp round-trips
	// exactly and chain verification over re-read rows stays stable.
	event := &types.AuditEvent{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		EventType: eventType,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Actor:     actor,
		EventData: data,
		PrevHash:  prevHash,
	}
	event.CurrentHash = types.ComputeAuditHash(prevHash, data, event.CreatedAt, eventType)

	encoded := types.CanonicalEventData(data)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (id, project_id, event_type, created_at, actor, event_data, prev_hash, current_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.ProjectID, event.EventType, event.CreatedAt, event.Actor,
		encoded, event.PrevHash, event.CurrentHash); err != nil {
		return nil, wrapDBError("append audit event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBError("commit audit event", err)
	}
	return event, nil
}

// ListAuditEvents returns a project's chain in append order.
func (s *Store) ListAuditEvents(ctx context.Context, projectID string) ([]*types.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, event_type, created_at, actor, event_data, prev_hash, current_hash
		FROM audit_events WHERE project_id = ? ORDER BY rowid ASC
	`, projectID)
	if err != nil {
		return nil, wrapDBError("list audit events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.AuditEvent
	for rows.Next() {
		var e types.AuditEvent
		var data string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.CreatedAt,
			&e.Actor, &data, &e.PrevHash, &e.CurrentHash); err != nil {
			return nil, wrapDBError("scan audit event", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if e.EventData, err = decodeMetadata(data); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
