package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samarth3282/trello-api/internal/ordering"
	"github.com/samarth3282/trello-api/internal/softdelete"
)

const boardColumns = `b.id, b.project_id, b.name, b.description, b.sort_order, b.color, b.is_archived, b.deleted_at, b.created_at, b.updated_at`

func scanBoard(row rowScanner) (Board, error) {
	var (
		b         Board
		deletedAt sql.NullTime
	)
	if err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Description, &b.Order, &b.Color, &b.IsArchived, &deletedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Board{}, err
	}
	b.DeletedAt = timePtr(deletedAt)
	return b, nil
}

// maxOrder reads the largest sort_order under a parent, counting
// soft-deleted siblings so positions never repeat after a delete.
func (s *SQLStore) maxOrder(q querier, table, parentColumn, parentID string) ordering.MaxFunc {
	return func(ctx context.Context) (int, bool, error) {
		var max sql.NullInt64
		err := q.QueryRowContext(ctx, s.q(`SELECT MAX(sort_order) FROM `+table+` WHERE `+parentColumn+`=?`), parentID).Scan(&max)
		if err != nil {
			return 0, false, fmt.Errorf("max %s order: %w", table, err)
		}
		return int(max.Int64), max.Valid, nil
	}
}

// CreateBoard assigns the board's order when unset and inserts it in the
// same transaction.
func (s *SQLStore) CreateBoard(ctx context.Context, b Board) (Board, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		order, err := ordering.Assign(ctx, b.Order, s.maxOrder(tx, "boards", "project_id", b.ProjectID))
		if err != nil {
			return err
		}
		b.Order = order
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO boards (id, project_id, name, description, sort_order, color, is_archived, deleted_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), b.ID, b.ProjectID, b.Name, b.Description, b.Order, b.Color, b.IsArchived, nullTime(b.DeletedAt), b.CreatedAt.UTC(), b.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert board: %w", err)
		}
		return nil
	})
	if err != nil {
		return Board{}, err
	}
	return b, nil
}

func (s *SQLStore) GetBoard(ctx context.Context, boardID string, vis softdelete.Visibility) (Board, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+boardColumns+` FROM boards b WHERE b.id=? AND `+vis.Clause("b")), boardID)
	b, err := scanBoard(row)
	if err != nil {
		return Board{}, wrapNotFound(err, "get board")
	}
	return b, nil
}

func (s *SQLStore) SaveBoard(ctx context.Context, b Board) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE boards
		SET name=?, description=?, sort_order=?, color=?, is_archived=?, deleted_at=?, updated_at=?
		WHERE id=?
	`), b.Name, b.Description, b.Order, b.Color, b.IsArchived, nullTime(b.DeletedAt), b.UpdatedAt.UTC(), b.ID)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListBoards(ctx context.Context, projectID string, vis softdelete.Visibility) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+boardColumns+` FROM boards b WHERE b.project_id=? AND `+vis.Clause("b")+` ORDER BY b.sort_order, b.created_at`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()
	boards := []Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}
