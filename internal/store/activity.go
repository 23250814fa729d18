package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const activityColumns = `id, user_id, action, entity, entity_id, entity_name, project_id, changes, ip_address, user_agent, created_at`

func scanActivity(row rowScanner) (ActivityLog, error) {
	var (
		a         ActivityLog
		projectID sql.NullString
		changes   string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Action, &a.Entity, &a.EntityID, &a.EntityName, &projectID, &changes, &a.IPAddress, &a.UserAgent, &a.CreatedAt); err != nil {
		return ActivityLog{}, err
	}
	a.ProjectID = projectID.String
	if err := decodeJSON(changes, &a.Changes); err != nil {
		return ActivityLog{}, fmt.Errorf("decode changes: %w", err)
	}
	return a, nil
}

func (s *SQLStore) InsertActivity(ctx context.Context, a ActivityLog) error {
	changes, err := encodeJSON(a.Changes, "{}")
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	var projectID any
	if a.ProjectID != "" {
		projectID = a.ProjectID
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO activity_logs (id, user_id, action, entity, entity_id, entity_name, project_id, changes, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.UserID, a.Action, a.Entity, a.EntityID, a.EntityName, projectID, changes, a.IPAddress, a.UserAgent, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *SQLStore) ListProjectActivity(ctx context.Context, projectID string, limit int) ([]ActivityLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.listActivity(ctx, `WHERE project_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, projectID, limit)
}

// ListActivitySince returns activity in the given projects newer than since.
func (s *SQLStore) ListActivitySince(ctx context.Context, projectIDs []string, since time.Time, limit int) ([]ActivityLog, error) {
	if len(projectIDs) == 0 {
		return []ActivityLog{}, nil
	}
	args := make([]any, 0, len(projectIDs)+2)
	for _, id := range projectIDs {
		args = append(args, id)
	}
	args = append(args, since.UTC(), limit)
	return s.listActivity(ctx, `WHERE project_id IN (`+placeholders(len(projectIDs))+`) AND created_at > ? ORDER BY created_at DESC LIMIT ?`, args...)
}

func (s *SQLStore) listActivity(ctx context.Context, tail string, args ...any) ([]ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+activityColumns+` FROM activity_logs `+tail), args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	out := []ActivityLog{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
