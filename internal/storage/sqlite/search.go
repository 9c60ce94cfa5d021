package sqlite

import (
	"context"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// RankMemories runs the FTS5 ranking query for a project. matchExpr must be
// a valid FTS5 match expression (the recall engine builds a disjunction of
// quoted tokens). Results are ordered rank desc, created_at desc, id asc.
//
// bm25() returns negative scores where smaller is better; the negation
// turns it into a positive higher-is-better rank. Rows that do not match
// never appear in the FTS result, which satisfies the zero-rank exclusion.
func (s *Store) RankMemories(ctx context.Context, projectID, matchExpr string, limit int) ([]storage.ScoredMemory, error) {
	if limit < 1 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.type, m.source, m.title, m.content,
		       m.tags, m.metadata, m.content_hash, m.created_at, m.created_by,
		       -bm25(memories_fts) AS rank
		FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ? AND m.project_id = ?
		ORDER BY rank DESC, m.created_at DESC, m.id ASC
		LIMIT ?
	`, matchExpr, projectID, limit)
	if err != nil {
		return nil, wrapDBError("run ranking query", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []storage.ScoredMemory
	for rows.Next() {
		var m types.Memory
		var tags, meta string
		var rank float64
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Type, &m.Source, &m.Title, &m.Content,
			&tags, &meta, &m.ContentHash, &m.CreatedAt, &m.CreatedBy, &rank); err != nil {
			return nil, wrapDBError("scan ranked memory", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		if m.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		if m.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		score := rank
		scored = append(scored, storage.ScoredMemory{Memory: &m, Score: &score})
	}
	return scored, rows.Err()
}

// RebuildSearchIndex rebuilds the FTS index from the content table. Run by
// the reindex job when triggers and index are suspected to have diverged.
func (s *Store) RebuildSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories_fts(memories_fts) VALUES('rebuild')`); err != nil {
		return wrapDBError("rebuild search index", err)
	}
	return nil
}

// OptimizeSearchIndex merges FTS b-tree segments. Cheap enough to run after
// bulk ingest; keeps bm25 queries fast.
func (s *Store) OptimizeSearchIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories_fts(memories_fts) VALUES('optimize')`); err != nil {
		return wrapDBError("optimize search index", err)
	}
	return nil
}
