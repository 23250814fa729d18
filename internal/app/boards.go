package app

import (
	"context"

	"github.com/samber/lo"

	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/search"
	"github.com/samarth3282/trello-api/internal/softdelete"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

const (
	EventBoardCreated  = "board:created"
	EventBoardUpdated  = "board:updated"
	EventBoardDeleted  = "board:deleted"
	EventBoardRestored = "board:restored"
)

type CreateBoardInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	// Order 0 means append after the last sibling.
	Order int `json:"order"`
}

type UpdateBoardInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	Order       *int    `json:"order"`
	IsArchived  *bool   `json:"isArchived"`
}

// BoardDetail is a board with its active tasks in order.
type BoardDetail struct {
	store.Board
	Tasks []TaskView `json:"tasks"`
}

// boardWritePrefixes covers board lists and task lists, which join through
// boards.
func boardWritePrefixes() []string {
	return []string{cache.Prefix(cache.Boards), cache.Prefix(cache.Tasks)}
}

func (s *Service) ListBoards(ctx context.Context, actor Actor, projectID string) ([]store.Board, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.Boards, cache.Key(cache.Boards, projectID), func() ([]store.Board, error) {
		return s.store.ListBoards(ctx, projectID, softdelete.Active)
	})
}

func (s *Service) GetBoard(ctx context.Context, actor Actor, boardID string) (BoardDetail, error) {
	b, sc, err := s.resolveBoard(ctx, boardID, softdelete.Active)
	if err != nil {
		return BoardDetail{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return BoardDetail{}, err
	}
	tasks, err := s.store.ListBoardTasks(ctx, boardID)
	if err != nil {
		return BoardDetail{}, err
	}
	now := s.now()
	return BoardDetail{Board: b, Tasks: lo.Map(tasks, func(t store.Task, _ int) TaskView { return viewTask(t, now) })}, nil
}

func (s *Service) CreateBoard(ctx context.Context, actor Actor, projectID string, in CreateBoardInput) (store.Board, Effects, error) {
	name, err := requireLength("name", in.Name, 2, 100)
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	description, err := maxLength("description", in.Description, 500)
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	color, err := colorOr(in.Color, store.DefaultBoardColor)
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	if in.Order < 0 {
		return store.Board{}, Effects{}, validationError("order", "must not be negative")
	}
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionWriteBoard); err != nil {
		return store.Board{}, Effects{}, err
	}
	now := s.now()
	b, err := s.store.CreateBoard(ctx, store.Board{
		ID:          util.NewID("brd"),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		Order:       in.Order,
		Color:       color,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "board",
		action:     "create",
		entityID:   b.ID,
		projectID:  projectID,
		invalidate: boardWritePrefixes(),
		activity:   s.activity(actor, "create", "board", b.ID, b.Name, projectID, nil),
		event:      EventBoardCreated,
		payload:    b,
	})
	return b, eff, nil
}

func (s *Service) UpdateBoard(ctx context.Context, actor Actor, boardID string, in UpdateBoardInput) (store.Board, Effects, error) {
	b, sc, err := s.resolveBoard(ctx, boardID, softdelete.Active)
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionWriteBoard); err != nil {
		return store.Board{}, Effects{}, err
	}
	changes := map[string]any{}
	if in.Name != nil {
		name, err := requireLength("name", *in.Name, 2, 100)
		if err != nil {
			return store.Board{}, Effects{}, err
		}
		recordChange(changes, "name", b.Name, name)
		b.Name = name
	}
	if in.Description != nil {
		description, err := maxLength("description", *in.Description, 500)
		if err != nil {
			return store.Board{}, Effects{}, err
		}
		recordChange(changes, "description", b.Description, description)
		b.Description = description
	}
	if in.Color != nil {
		color, err := colorOr(*in.Color, b.Color)
		if err != nil {
			return store.Board{}, Effects{}, err
		}
		recordChange(changes, "color", b.Color, color)
		b.Color = color
	}
	if in.Order != nil {
		if *in.Order < 0 {
			return store.Board{}, Effects{}, validationError("order", "must not be negative")
		}
		recordChange(changes, "order", b.Order, *in.Order)
		b.Order = *in.Order
	}
	if in.IsArchived != nil {
		recordChange(changes, "isArchived", b.IsArchived, *in.IsArchived)
		b.IsArchived = *in.IsArchived
	}
	b.UpdatedAt = s.now()
	if err := s.store.SaveBoard(ctx, b); err != nil {
		return store.Board{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "board",
		action:     "update",
		entityID:   b.ID,
		projectID:  b.ProjectID,
		invalidate: boardWritePrefixes(),
		activity:   s.activity(actor, "update", "board", b.ID, b.Name, b.ProjectID, changes),
		event:      EventBoardUpdated,
		payload:    b,
	})
	return b, eff, nil
}

// DeleteBoard soft-deletes the board; its tasks stay untouched and drop out
// of every listing through the board. They also leave the search index.
func (s *Service) DeleteBoard(ctx context.Context, actor Actor, boardID string) (Effects, error) {
	b, sc, err := s.resolveBoard(ctx, boardID, softdelete.Active)
	if err != nil {
		return Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionDeleteBoard); err != nil {
		return Effects{}, err
	}
	tasks, err := s.store.ListBoardTasks(ctx, boardID)
	if err != nil {
		return Effects{}, err
	}
	now := s.now()
	b.SoftDelete(now)
	b.UpdatedAt = now
	if err := s.store.SaveBoard(ctx, b); err != nil {
		return Effects{}, err
	}
	return s.commit(ctx, mutation{
		entity:     "board",
		action:     "delete",
		entityID:   b.ID,
		projectID:  b.ProjectID,
		invalidate: boardWritePrefixes(),
		activity:   s.activity(actor, "delete", "board", b.ID, b.Name, b.ProjectID, nil),
		event:      EventBoardDeleted,
		payload:    map[string]string{"boardId": b.ID},
		unindex:    lo.Map(tasks, func(t store.Task, _ int) string { return t.ID }),
	}), nil
}

func (s *Service) RestoreBoard(ctx context.Context, actor Actor, boardID string) (store.Board, Effects, error) {
	b, sc, err := s.resolveBoard(ctx, boardID, softdelete.All)
	if err != nil {
		return store.Board{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionDeleteBoard); err != nil {
		return store.Board{}, Effects{}, err
	}
	if err := b.Restore(); err != nil {
		return store.Board{}, Effects{}, badRequest("Board is not deleted")
	}
	b.UpdatedAt = s.now()
	if err := s.store.SaveBoard(ctx, b); err != nil {
		return store.Board{}, Effects{}, err
	}
	tasks, err := s.store.ListBoardTasks(ctx, boardID)
	if err != nil {
		s.log.Error(err, "list tasks for reindex", "board", boardID)
	}
	eff := s.commit(ctx, mutation{
		entity:     "board",
		action:     "restore",
		entityID:   b.ID,
		projectID:  b.ProjectID,
		invalidate: boardWritePrefixes(),
		activity:   s.activity(actor, "restore", "board", b.ID, b.Name, b.ProjectID, nil),
		event:      EventBoardRestored,
		payload:    b,
		index:      lo.Map(tasks, func(t store.Task, _ int) search.TaskRecord { return taskRecord(t, b.ProjectID) }),
	})
	return b, eff, nil
}
