package app

import (
	"context"
	"errors"
	"strconv"

	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/membership"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/softdelete"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

const (
	EventProjectCreated  = "project:created"
	EventProjectUpdated  = "project:updated"
	EventProjectDeleted  = "project:deleted"
	EventProjectRestored = "project:restored"
)

type MemberInput struct {
	UserID string `json:"user"`
	Role   string `json:"role"`
}

type CreateProjectInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Color       string        `json:"color"`
	Members     []MemberInput `json:"members"`
}

type UpdateProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	IsArchived  *bool   `json:"isArchived"`
}

type ListProjectsInput struct {
	Page     int
	Limit    int
	Search   string
	Archived *bool
}

// ProjectDetail is a project with its active boards in order.
type ProjectDetail struct {
	store.Project
	Boards []store.Board `json:"boards"`
}

func (s *Service) ListProjects(ctx context.Context, actor Actor, in ListProjectsInput) (store.Page[store.Project], error) {
	archived := ""
	if in.Archived != nil {
		archived = strconv.FormatBool(*in.Archived)
	}
	key := cache.Key(cache.Projects, actor.UserID, strconv.Itoa(in.Page), strconv.Itoa(in.Limit), in.Search, archived)
	return readThrough(ctx, s, cache.Projects, key, func() (store.Page[store.Project], error) {
		return s.store.ListProjects(ctx, store.ProjectQuery{
			UserID:   actor.UserID,
			Search:   in.Search,
			Archived: in.Archived,
			Page:     in.Page,
			Limit:    in.Limit,
		})
	})
}

func (s *Service) GetProject(ctx context.Context, actor Actor, projectID string) (ProjectDetail, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return ProjectDetail{}, err
	}
	boards, err := s.store.ListBoards(ctx, projectID, softdelete.Active)
	if err != nil {
		return ProjectDetail{}, err
	}
	return ProjectDetail{Project: sc.project, Boards: boards}, nil
}

// CreateProject makes actor the owner and first admin. Extra members must
// be existing users.
func (s *Service) CreateProject(ctx context.Context, actor Actor, in CreateProjectInput) (store.Project, Effects, error) {
	name, err := requireLength("name", in.Name, 3, 100)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	description, err := maxLength("description", in.Description, 1000)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	color, err := colorOr(in.Color, store.DefaultProjectColor)
	if err != nil {
		return store.Project{}, Effects{}, err
	}

	now := s.now()
	roster := membership.New(actor.UserID, now)
	if len(in.Members) > 0 {
		ids := make([]string, 0, len(in.Members))
		for _, m := range in.Members {
			ids = append(ids, m.UserID)
		}
		users, err := s.store.GetUsersByIDs(ctx, ids)
		if err != nil {
			return store.Project{}, Effects{}, err
		}
		for _, m := range in.Members {
			if m.UserID == actor.UserID {
				continue
			}
			role, ok := rbac.Parse(m.Role)
			if !ok {
				return store.Project{}, Effects{}, validationError("members.role", "role must be admin, manager, or member")
			}
			if _, ok := users[m.UserID]; !ok {
				return store.Project{}, Effects{}, badRequest("Unknown member " + m.UserID)
			}
			if err := roster.Add(m.UserID, role, now); err != nil {
				return store.Project{}, Effects{}, membershipErr(err)
			}
		}
	}

	p := store.Project{
		ID:          util.NewID("prj"),
		Name:        name,
		Description: description,
		OwnerID:     actor.UserID,
		Color:       color,
		Members:     roster.Members(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertProject(ctx, p); err != nil {
		return store.Project{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "project",
		action:     "create",
		entityID:   p.ID,
		projectID:  p.ID,
		invalidate: []string{cache.Prefix(cache.Projects)},
		activity:   s.activity(actor, "create", "project", p.ID, p.Name, p.ID, nil),
		event:      EventProjectCreated,
		payload:    p,
	})
	return p, eff, nil
}

func (s *Service) UpdateProject(ctx context.Context, actor Actor, projectID string, in UpdateProjectInput) (store.Project, Effects, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionUpdateProject); err != nil {
		return store.Project{}, Effects{}, err
	}

	p := sc.project
	changes := map[string]any{}
	action := "update"
	if in.Name != nil {
		name, err := requireLength("name", *in.Name, 3, 100)
		if err != nil {
			return store.Project{}, Effects{}, err
		}
		recordChange(changes, "name", p.Name, name)
		p.Name = name
	}
	if in.Description != nil {
		description, err := maxLength("description", *in.Description, 1000)
		if err != nil {
			return store.Project{}, Effects{}, err
		}
		recordChange(changes, "description", p.Description, description)
		p.Description = description
	}
	if in.Color != nil {
		color, err := colorOr(*in.Color, p.Color)
		if err != nil {
			return store.Project{}, Effects{}, err
		}
		recordChange(changes, "color", p.Color, color)
		p.Color = color
	}
	if in.IsArchived != nil {
		recordChange(changes, "isArchived", p.IsArchived, *in.IsArchived)
		if *in.IsArchived != p.IsArchived {
			action = "unarchive"
			if *in.IsArchived {
				action = "archive"
			}
		}
		p.IsArchived = *in.IsArchived
	}
	p.UpdatedAt = s.now()
	if err := s.store.SaveProject(ctx, p); err != nil {
		return store.Project{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "project",
		action:     action,
		entityID:   p.ID,
		projectID:  p.ID,
		invalidate: []string{cache.Prefix(cache.Projects)},
		activity:   s.activity(actor, action, "project", p.ID, p.Name, p.ID, changes),
		event:      EventProjectUpdated,
		payload:    p,
	})
	return p, eff, nil
}

// DeleteProject soft-deletes the project. Boards, tasks and comments keep
// their own state and become unreachable through the project.
func (s *Service) DeleteProject(ctx context.Context, actor Actor, projectID string) (Effects, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return Effects{}, err
	}
	if !sc.ownerOrAdmin(actor.UserID) {
		return Effects{}, forbidden("Only project owner or admin can delete project")
	}
	p := sc.project
	now := s.now()
	p.SoftDelete(now)
	p.UpdatedAt = now
	if err := s.store.SaveProject(ctx, p); err != nil {
		return Effects{}, err
	}
	return s.commit(ctx, mutation{
		entity:     "project",
		action:     "delete",
		entityID:   p.ID,
		projectID:  p.ID,
		invalidate: projectTreePrefixes(),
		activity:   s.activity(actor, "delete", "project", p.ID, p.Name, p.ID, nil),
		event:      EventProjectDeleted,
		payload:    map[string]string{"projectId": p.ID},
	}), nil
}

func (s *Service) RestoreProject(ctx context.Context, actor Actor, projectID string) (store.Project, Effects, error) {
	sc, err := s.loadProjectVisible(ctx, projectID, softdelete.All)
	if err != nil {
		return store.Project{}, Effects{}, err
	}
	if !sc.ownerOrAdmin(actor.UserID) {
		return store.Project{}, Effects{}, forbidden("Only project owner or admin can restore project")
	}
	p := sc.project
	if err := p.Restore(); err != nil {
		return store.Project{}, Effects{}, badRequest("Project is not deleted")
	}
	p.UpdatedAt = s.now()
	if err := s.store.SaveProject(ctx, p); err != nil {
		return store.Project{}, Effects{}, err
	}
	eff := s.commit(ctx, mutation{
		entity:     "project",
		action:     "restore",
		entityID:   p.ID,
		projectID:  p.ID,
		invalidate: projectTreePrefixes(),
		activity:   s.activity(actor, "restore", "project", p.ID, p.Name, p.ID, nil),
		event:      EventProjectRestored,
		payload:    p,
	})
	return p, eff, nil
}

// ProjectActivity lists the audit trail of a project, newest first.
func (s *Service) ProjectActivity(ctx context.Context, actor Actor, projectID string, limit int) ([]store.ActivityLog, error) {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListProjectActivity(ctx, projectID, limit)
}

// AuthorizeRoom lets realtime clients join only rooms of active projects
// they belong to.
func (s *Service) AuthorizeRoom(ctx context.Context, userID, projectID string) error {
	sc, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	return sc.requireAction(userID, rbac.ActionRead)
}

// projectTreePrefixes covers every list whose answer depends on a project
// being active.
func projectTreePrefixes() []string {
	return []string{cache.Prefix(cache.Projects), cache.Prefix(cache.Boards), cache.Prefix(cache.Tasks)}
}

func membershipErr(err error) error {
	switch {
	case errors.Is(err, membership.ErrAlreadyMember):
		return badRequest("User is already a member of this project")
	case errors.Is(err, membership.ErrNotMember):
		return notFound("Member not found in project")
	case errors.Is(err, membership.ErrOwner):
		return badRequest("Cannot remove or change the role of the project owner")
	case errors.Is(err, membership.ErrInvalidRole):
		return validationError("role", "role must be admin, manager, or member")
	}
	return err
}
