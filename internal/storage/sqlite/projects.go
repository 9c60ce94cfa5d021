package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/contextcache/contextcache/internal/storage"
	"github.com/contextcache/contextcache/internal/types"
)

// CreateProject inserts a project. Project names are unique within an org;
// a name collision surfaces as a ValidationError, not a driver error.
func (s *Store) CreateProject(ctx context.Context, project *types.Project) error {
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, org_id, name, created_at) VALUES (?, ?, ?, ?)`,
		project.ID, project.OrgID, project.Name, project.CreatedAt)
	if isUniqueConstraintError(err) {
		return types.Invalidf("name", "a project named %q already exists in this organization", project.Name)
	}
	if err != nil {
		return wrapDBError("create project", err)
	}
	return nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.OrgID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrapDBError("get project", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// ListProjectsForUser returns every project in every org the user belongs
// to, with memory counts, newest first.
func (s *Store) ListProjectsForUser(ctx context.Context, userID string) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.org_id, p.name, p.created_at,
		       (SELECT COUNT(*) FROM memories WHERE project_id = p.id) AS memory_count
		FROM projects p
		JOIN org_members m ON m.org_id = p.org_id
		WHERE m.user_id = ?
		ORDER BY p.created_at DESC, p.id
	`, userID)
	if err != nil {
		return nil, wrapDBError("list projects", err)
	}
	defer func() { _ = rows.Close() }()

	return scanProjects(rows)
}

// ListProjectsForOrg returns one org's projects with memory counts, newest
// first. API-key callers are scoped to a single org.
func (s *Store) ListProjectsForOrg(ctx context.Context, orgID string) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.org_id, p.name, p.created_at,
		       (SELECT COUNT(*) FROM memories WHERE project_id = p.id) AS memory_count
		FROM projects p
		WHERE p.org_id = ?
		ORDER BY p.created_at DESC, p.id
	`, orgID)
	if err != nil {
		return nil, wrapDBError("list projects", err)
	}
	defer func() { _ = rows.Close() }()

	return scanProjects(rows)
}

func scanProjects(rows *sql.Rows) ([]*types.Project, error) {
	var projects []*types.Project
	for rows.Next() {
		var p types.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.CreatedAt, &p.MemoryCount); err != nil {
			return nil, wrapDBError("scan project", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}
