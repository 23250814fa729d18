package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samarth3282/trello-api/internal/ordering"
	"github.com/samarth3282/trello-api/internal/softdelete"
)

const taskColumns = `t.id, t.board_id, t.title, t.description, t.status, t.priority, t.assigned_to, t.created_by, t.due_date,
	t.estimated_hours, t.actual_hours, t.tags, t.attachments, t.sort_order, t.is_archived, t.deleted_at, t.created_at, t.updated_at`

// activeChain restricts tasks to those whose board and project are active.
const activeChain = `JOIN boards b ON b.id = t.board_id AND b.deleted_at IS NULL
	JOIN projects p ON p.id = b.project_id AND p.deleted_at IS NULL`

func scanTask(row rowScanner) (Task, error) {
	var (
		t           Task
		assignedTo  sql.NullString
		dueDate     sql.NullTime
		estimated   sql.NullFloat64
		actual      sql.NullFloat64
		tags        string
		attachments string
		deletedAt   sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.BoardID, &t.Title, &t.Description, &t.Status, &t.Priority, &assignedTo, &t.CreatedBy, &dueDate,
		&estimated, &actual, &tags, &attachments, &t.Order, &t.IsArchived, &deletedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	t.AssignedTo = stringPtr(assignedTo)
	t.DueDate = timePtr(dueDate)
	t.EstimatedHours = floatPtr(estimated)
	t.ActualHours = floatPtr(actual)
	t.DeletedAt = timePtr(deletedAt)
	if err := decodeJSON(tags, &t.Tags); err != nil {
		return Task{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeJSON(attachments, &t.Attachments); err != nil {
		return Task{}, fmt.Errorf("decode attachments: %w", err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	defer rows.Close()
	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func encodeTaskJSON(t Task) (string, string, error) {
	tags, err := encodeJSON(t.Tags, "[]")
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	attachments, err := encodeJSON(t.Attachments, "[]")
	if err != nil {
		return "", "", fmt.Errorf("encode attachments: %w", err)
	}
	return tags, attachments, nil
}

// CreateTask assigns the task's order within its board when unset and
// inserts it in the same transaction.
func (s *SQLStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	tags, attachments, err := encodeTaskJSON(t)
	if err != nil {
		return Task{}, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		order, err := ordering.Assign(ctx, t.Order, s.maxOrder(tx, "tasks", "board_id", t.BoardID))
		if err != nil {
			return err
		}
		t.Order = order
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO tasks (id, board_id, title, description, status, priority, assigned_to, created_by, due_date,
				estimated_hours, actual_hours, tags, attachments, sort_order, is_archived, deleted_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), t.ID, t.BoardID, t.Title, t.Description, t.Status, t.Priority, nullString(t.AssignedTo), t.CreatedBy, nullTime(t.DueDate),
			nullFloat(t.EstimatedHours), nullFloat(t.ActualHours), tags, attachments, t.Order, t.IsArchived, nullTime(t.DeletedAt), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *SQLStore) GetTask(ctx context.Context, taskID string, vis softdelete.Visibility) (Task, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks t WHERE t.id=? AND `+vis.Clause("t")), taskID)
	t, err := scanTask(row)
	if err != nil {
		return Task{}, wrapNotFound(err, "get task")
	}
	return t, nil
}

func (s *SQLStore) SaveTask(ctx context.Context, t Task) error {
	tags, attachments, err := encodeTaskJSON(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE tasks
		SET title=?, description=?, status=?, priority=?, assigned_to=?, due_date=?, estimated_hours=?, actual_hours=?,
			tags=?, attachments=?, sort_order=?, is_archived=?, deleted_at=?, updated_at=?
		WHERE id=?
	`), t.Title, t.Description, t.Status, t.Priority, nullString(t.AssignedTo), nullTime(t.DueDate), nullFloat(t.EstimatedHours), nullFloat(t.ActualHours),
		tags, attachments, t.Order, t.IsArchived, nullTime(t.DeletedAt), t.UpdatedAt.UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListBoardTasks(ctx context.Context, boardID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks t WHERE t.board_id=? AND t.deleted_at IS NULL ORDER BY t.sort_order, t.created_at`), boardID)
	if err != nil {
		return nil, fmt.Errorf("list board tasks: %w", err)
	}
	return scanTasks(rows)
}

// ListTasks returns active tasks in active boards of active projects that
// q.UserID belongs to.
func (s *SQLStore) ListTasks(ctx context.Context, q TaskQuery) (Page[Task], error) {
	page, limit := normalizePage(q.Page, q.Limit)

	where := []string{
		"t.deleted_at IS NULL",
		"EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)",
	}
	args := []any{q.UserID}
	add := func(clause string, values ...any) {
		where = append(where, clause)
		args = append(args, values...)
	}
	if q.BoardID != "" {
		add("t.board_id = ?", q.BoardID)
	}
	if q.Status != "" {
		add("t.status = ?", q.Status)
	}
	if q.Priority != "" {
		add("t.priority = ?", q.Priority)
	}
	if q.AssignedTo != "" {
		add("t.assigned_to = ?", q.AssignedTo)
	}
	if q.Tag != "" {
		quoted, _ := json.Marshal(q.Tag)
		add("t.tags LIKE ?", "%"+string(quoted)+"%")
	}
	if q.DueOn != nil {
		day := q.DueOn.UTC()
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		add("t.due_date >= ? AND t.due_date < ?", start, start.AddDate(0, 0, 1))
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		clause, termArgs := s.dialect.TextMatch(term, "t.title", "t.description")
		add(clause, termArgs...)
	}
	filter := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM tasks t `+activeChain+` WHERE `+filter), args...).Scan(&total); err != nil {
		return Page[Task]{}, fmt.Errorf("count tasks: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+taskColumns+` FROM tasks t `+activeChain+` WHERE `+filter+` ORDER BY t.sort_order, t.created_at DESC LIMIT ? OFFSET ?`),
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return Page[Task]{}, fmt.Errorf("list tasks: %w", err)
	}
	items, err := scanTasks(rows)
	if err != nil {
		return Page[Task]{}, err
	}
	return newPage(items, total, page, limit), nil
}

// SearchTasks is the SQL text-search path used when the search engine is
// unavailable.
func (s *SQLStore) SearchTasks(ctx context.Context, projectIDs []string, term string, limit int) ([]TaskHit, error) {
	if len(projectIDs) == 0 || strings.TrimSpace(term) == "" {
		return []TaskHit{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	clause, termArgs := s.dialect.TextMatch(strings.TrimSpace(term), "t.title", "t.description")
	args := make([]any, 0, len(projectIDs)+len(termArgs)+1)
	for _, id := range projectIDs {
		args = append(args, id)
	}
	args = append(args, termArgs...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+taskColumns+`, p.id FROM tasks t `+activeChain+`
		WHERE t.deleted_at IS NULL AND p.id IN (`+placeholders(len(projectIDs))+`) AND `+clause+`
		ORDER BY t.updated_at DESC LIMIT ?
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()
	hits := []TaskHit{}
	for rows.Next() {
		var projectID string
		t, err := scanTask(projectRowScanner{rows: rows, extra: &projectID})
		if err != nil {
			return nil, fmt.Errorf("scan task hit: %w", err)
		}
		hits = append(hits, TaskHit{Task: t, ProjectID: projectID})
	}
	return hits, rows.Err()
}

// ListSearchableTasks returns every task along an active chain with its
// project id, for rebuilding the search index.
func (s *SQLStore) ListSearchableTasks(ctx context.Context) ([]TaskHit, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+taskColumns+`, p.id FROM tasks t `+activeChain+`
		WHERE t.deleted_at IS NULL
		ORDER BY t.created_at
	`))
	if err != nil {
		return nil, fmt.Errorf("list searchable tasks: %w", err)
	}
	defer rows.Close()
	hits := []TaskHit{}
	for rows.Next() {
		var projectID string
		t, err := scanTask(projectRowScanner{rows: rows, extra: &projectID})
		if err != nil {
			return nil, fmt.Errorf("scan searchable task: %w", err)
		}
		hits = append(hits, TaskHit{Task: t, ProjectID: projectID})
	}
	return hits, rows.Err()
}

// ActiveTaskIDs returns the subset of taskIDs that are live tasks on an
// active board of an active project among projectIDs.
func (s *SQLStore) ActiveTaskIDs(ctx context.Context, projectIDs, taskIDs []string) ([]string, error) {
	if len(projectIDs) == 0 || len(taskIDs) == 0 {
		return []string{}, nil
	}
	args := make([]any, 0, len(taskIDs)+len(projectIDs))
	for _, id := range taskIDs {
		args = append(args, id)
	}
	for _, id := range projectIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT t.id FROM tasks t `+activeChain+`
		WHERE t.deleted_at IS NULL AND t.id IN (`+placeholders(len(taskIDs))+`)
		AND p.id IN (`+placeholders(len(projectIDs))+`)
	`), args...)
	if err != nil {
		return nil, fmt.Errorf("active task ids: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListOpenTasksAssignedTo returns non-done tasks assigned to userID along an
// active chain.
func (s *SQLStore) ListOpenTasksAssignedTo(ctx context.Context, userID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+taskColumns+` FROM tasks t `+activeChain+`
		WHERE t.deleted_at IS NULL AND t.assigned_to = ? AND t.status <> ?
		ORDER BY t.due_date, t.created_at
	`), userID, StatusDone)
	if err != nil {
		return nil, fmt.Errorf("list assigned tasks: %w", err)
	}
	return scanTasks(rows)
}

// TaskHit is a task together with the project it belongs to.
type TaskHit struct {
	Task      Task   `json:"task"`
	ProjectID string `json:"projectId"`
}

// projectRowScanner appends one trailing column to a task scan.
type projectRowScanner struct {
	rows  *sql.Rows
	extra *string
}

func (p projectRowScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(dest, p.extra)...)
}
