package sqlite

import (
	"context"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// GetStatistics returns admin-facing row counts.
func (s *Store) GetStatistics(ctx context.Context) (*storage.Statistics, error) {
	var stats storage.Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM orgs),
			(SELECT COUNT(*) FROM projects),
			(SELECT COUNT(*) FROM memories),
			(SELECT COUNT(*) FROM waitlist WHERE status = ?)
	`, types.WaitlistPending).Scan(&stats.Users, &stats.Orgs, &stats.Projects,
		&stats.Memories, &stats.Waitlist)
	if err != nil {
		return nil, wrapDBError("get statistics", err)
	}
	return &stats, nil
}
