package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

const memoryColumns = `id, project_id, type, source, title, content, tags, metadata, content_hash, created_at, created_by`

func scanMemory(row interface{ Scan(...any) error }) (*types.Memory, error) {
	var m types.Memory
	var tags, meta string
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Type, &m.Source, &m.Title, &m.Content,
		&tags, &meta, &m.ContentHash, &m.CreatedAt, &m.CreatedBy); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	var err error
	if m.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if m.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMemory attempts the insert. On a (project_id, content_hash)
// collision it returns the existing canonical row instead; the caller's
// memory is not stored. Concurrent identical inserts are resolved by the
// unique constraint: exactly one row persists.
func (s *Store) InsertMemory(ctx context.Context, memory *types.Memory) (*types.Memory, error) {
	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now().UTC()
	}
	tags, err := encodeTags(memory.Tags)
	if err != nil {
		return nil, err
	}
	meta, err := encodeMetadata(memory.Metadata)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, content_hash) DO NOTHING
	`, memory.ID, memory.ProjectID, memory.Type, memory.Source, memory.Title,
		memory.Content, tags, meta, memory.ContentHash, memory.CreatedAt, memory.CreatedBy)
	if err != nil {
		return nil, wrapDBError("insert memory", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE project_id = ? AND content_hash = ?`,
		memory.ProjectID, memory.ContentHash)
	existing, err := scanMemory(row)
	if err == sql.ErrNoRows {
		// Row vanished between the conflict and the read; treat as a
		// lost race and surface not-found so the caller retries.
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("load existing memory", err)
	}
	return existing, nil
}

// ListMemories returns a project's memories ordered by created_at desc.
// limit is clamped to [1,100].
func (s *Store) ListMemories(ctx context.Context, projectID string, limit, offset int) ([]*types.Memory, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE project_id = ?
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, projectID, limit, offset)
	if err != nil {
		return nil, wrapDBError("list memories", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrapDBError("scan memory", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// RecentMemories returns up to limit memories by recency, skipping any ids
// already present in the caller's result set. Used for the recall top-up.
func (s *Store) RecentMemories(ctx context.Context, projectID string, limit int, excludeIDs []string) ([]*types.Memory, error) {
	if limit < 1 {
		return nil, nil
	}
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE project_id = ?`
	args := []any{projectID}
	if len(excludeIDs) > 0 {
		placeholders := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query recent memories", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrapDBError("scan memory", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
