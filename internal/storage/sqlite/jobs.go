package sqlite

import (
	"context"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
)

// RecordJobFailure stores a job that exhausted its retries.
func (s *Store) RecordJobFailure(ctx context.Context, failure *storage.JobFailure) error {
	if failure.FailedAt.IsZero() {
		failure.FailedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_failures (id, task, payload, attempts, last_error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, failure.ID, failure.Task, failure.Payload, failure.Attempts,
		failure.LastError, failure.FailedAt.UTC())
	if err != nil {
		return wrapDBError("record job failure", err)
	}
	return nil
}

// ListJobFailures returns the most recent failures.
func (s *Store) ListJobFailures(ctx context.Context, limit int) ([]*storage.JobFailure, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task, payload, attempts, last_error, failed_at
		FROM job_failures ORDER BY failed_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapDBError("list job failures", err)
	}
	defer func() { _ = rows.Close() }()

	var failures []*storage.JobFailure
	for rows.Next() {
		var f storage.JobFailure
		if err := rows.Scan(&f.ID, &f.Task, &f.Payload, &f.Attempts, &f.LastError, &f.FailedAt); err != nil {
			return nil, wrapDBError("scan job failure", err)
		}
		f.FailedAt = f.FailedAt.UTC()
		failures = append(failures, &f)
	}
	return failures, rows.Err()
}
