package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samarth3282/trello-api/internal/membership"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/softdelete"
)

const projectColumns = `p.id, p.name, p.description, p.owner_id, p.color, p.is_archived, p.deleted_at, p.created_at, p.updated_at`

func scanProject(row rowScanner) (Project, error) {
	var (
		p         Project
		deletedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.Color, &p.IsArchived, &deletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Project{}, err
	}
	p.DeletedAt = timePtr(deletedAt)
	return p, nil
}

// InsertProject writes the project row and its member list in one
// transaction.
func (s *SQLStore) InsertProject(ctx context.Context, p Project) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO projects (id, name, description, owner_id, color, is_archived, deleted_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), p.ID, p.Name, p.Description, p.OwnerID, p.Color, p.IsArchived, nullTime(p.DeletedAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return s.replaceMembers(ctx, tx, p.ID, p.Members)
	})
}

// SaveProject persists every mutable project field together with the member
// list as a single atomic write.
func (s *SQLStore) SaveProject(ctx context.Context, p Project) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE projects
			SET name=?, description=?, color=?, is_archived=?, deleted_at=?, updated_at=?
			WHERE id=?
		`), p.Name, p.Description, p.Color, p.IsArchived, nullTime(p.DeletedAt), p.UpdatedAt.UTC(), p.ID)
		if err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return s.replaceMembers(ctx, tx, p.ID, p.Members)
	})
}

func (s *SQLStore) replaceMembers(ctx context.Context, tx *sql.Tx, projectID string, members []membership.Member) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM project_members WHERE project_id=?`), projectID); err != nil {
		return fmt.Errorf("clear project members: %w", err)
	}
	for i, m := range members {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO project_members (project_id, user_id, role, joined_at, position)
			VALUES (?, ?, ?, ?, ?)
		`), projectID, m.UserID, string(m.Role), m.JoinedAt.UTC(), i)
		if err != nil {
			return fmt.Errorf("insert project member: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) loadMembers(ctx context.Context, projects []Project) error {
	if len(projects) == 0 {
		return nil
	}
	index := make(map[string]int, len(projects))
	args := make([]any, len(projects))
	for i, p := range projects {
		index[p.ID] = i
		args[i] = p.ID
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT project_id, user_id, role, joined_at
		FROM project_members
		WHERE project_id IN (`+placeholders(len(projects))+`)
		ORDER BY project_id, position
	`), args...)
	if err != nil {
		return fmt.Errorf("load project members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			projectID string
			m         membership.Member
			role      string
		)
		if err := rows.Scan(&projectID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return fmt.Errorf("scan project member: %w", err)
		}
		m.Role = rbac.Role(role)
		m.JoinedAt = m.JoinedAt.UTC()
		i := index[projectID]
		projects[i].Members = append(projects[i].Members, m)
	}
	return rows.Err()
}

func (s *SQLStore) GetProject(ctx context.Context, projectID string, vis softdelete.Visibility) (Project, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+projectColumns+` FROM projects p WHERE p.id=? AND `+vis.Clause("p")), projectID)
	p, err := scanProject(row)
	if err != nil {
		return Project{}, wrapNotFound(err, "get project")
	}
	list := []Project{p}
	if err := s.loadMembers(ctx, list); err != nil {
		return Project{}, err
	}
	return list[0], nil
}

// ListProjects returns active projects q.UserID is a member of, newest
// first.
func (s *SQLStore) ListProjects(ctx context.Context, q ProjectQuery) (Page[Project], error) {
	page, limit := normalizePage(q.Page, q.Limit)

	where := []string{"p.deleted_at IS NULL", "EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)"}
	args := []any{q.UserID}
	if q.Archived != nil {
		where = append(where, "p.is_archived = ?")
		args = append(args, *q.Archived)
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		clause, termArgs := s.dialect.TextMatch(term, "p.name", "p.description")
		where = append(where, clause)
		args = append(args, termArgs...)
	}
	filter := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM projects p WHERE `+filter), args...).Scan(&total); err != nil {
		return Page[Project]{}, fmt.Errorf("count projects: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+projectColumns+` FROM projects p WHERE `+filter+` ORDER BY p.created_at DESC, p.id LIMIT ? OFFSET ?`), append(args, limit, (page-1)*limit)...)
	if err != nil {
		return Page[Project]{}, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var items []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return Page[Project]{}, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return Page[Project]{}, err
	}
	if err := s.loadMembers(ctx, items); err != nil {
		return Page[Project]{}, err
	}
	return newPage(items, total, page, limit), nil
}

// ProjectIDsForUser lists active projects the user belongs to.
func (s *SQLStore) ProjectIDsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT p.id FROM projects p
		JOIN project_members pm ON pm.project_id = p.id
		WHERE pm.user_id = ? AND p.deleted_at IS NULL
		ORDER BY p.id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("list project ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
