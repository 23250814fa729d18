package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samarth3282/trello-api/internal/softdelete"
)

const commentColumns = `c.id, c.task_id, c.author_id, c.content, c.mentions, c.is_edited, c.edited_at, c.deleted_at, c.created_at, c.updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var (
		c         Comment
		mentions  string
		editedAt  sql.NullTime
		deletedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &mentions, &c.IsEdited, &editedAt, &deletedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Comment{}, err
	}
	if err := decodeJSON(mentions, &c.Mentions); err != nil {
		return Comment{}, fmt.Errorf("decode mentions: %w", err)
	}
	if c.Mentions == nil {
		c.Mentions = []string{}
	}
	c.EditedAt = timePtr(editedAt)
	c.DeletedAt = timePtr(deletedAt)
	return c, nil
}

func (s *SQLStore) InsertComment(ctx context.Context, c Comment) error {
	mentions, err := encodeJSON(c.Mentions, "[]")
	if err != nil {
		return fmt.Errorf("encode mentions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO comments (id, task_id, author_id, content, mentions, is_edited, edited_at, deleted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.TaskID, c.AuthorID, c.Content, mentions, c.IsEdited, nullTime(c.EditedAt), nullTime(c.DeletedAt), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *SQLStore) GetComment(ctx context.Context, commentID string, vis softdelete.Visibility) (Comment, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+commentColumns+` FROM comments c WHERE c.id=? AND `+vis.Clause("c")), commentID)
	c, err := scanComment(row)
	if err != nil {
		return Comment{}, wrapNotFound(err, "get comment")
	}
	return c, nil
}

func (s *SQLStore) SaveComment(ctx context.Context, c Comment) error {
	mentions, err := encodeJSON(c.Mentions, "[]")
	if err != nil {
		return fmt.Errorf("encode mentions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE comments SET content=?, mentions=?, is_edited=?, edited_at=?, deleted_at=?, updated_at=? WHERE id=?
	`), c.Content, mentions, c.IsEdited, nullTime(c.EditedAt), nullTime(c.DeletedAt), c.UpdatedAt.UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListComments returns a task's comments in the order they were written.
func (s *SQLStore) ListComments(ctx context.Context, taskID string, vis softdelete.Visibility) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+commentColumns+` FROM comments c WHERE c.task_id=? AND `+vis.Clause("c")+` ORDER BY c.created_at, c.id`), taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	comments := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
