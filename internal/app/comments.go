package app

import (
	"context"
	"regexp"

	"github.com/samber/lo"

	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/softdelete"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

const (
	EventCommentAdded    = "comment:added"
	EventCommentUpdated  = "comment:updated"
	EventCommentDeleted  = "comment:deleted"
	EventCommentRestored = "comment:restored"
)

// mentionPattern matches @[userId] tokens in comment bodies.
var mentionPattern = regexp.MustCompile(`@\[([A-Za-z0-9_-]+)\]`)

type CommentInput struct {
	Content string `json:"content"`
}

// parseMentions returns the distinct user ids mentioned in content, in order
// of first appearance.
func parseMentions(content string) []string {
	ids := lo.Map(mentionPattern.FindAllStringSubmatch(content, -1), func(m []string, _ int) string { return m[1] })
	if len(ids) == 0 {
		return []string{}
	}
	return lo.Uniq(ids)
}

func (s *Service) ListComments(ctx context.Context, actor Actor, taskID string) ([]store.Comment, error) {
	_, _, sc, err := s.resolveTask(ctx, taskID, softdelete.Active)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.Comments, cache.Key(cache.Comments, taskID), func() ([]store.Comment, error) {
		return s.store.ListComments(ctx, taskID, softdelete.Active)
	})
}

func (s *Service) CreateComment(ctx context.Context, actor Actor, taskID string, in CommentInput) (store.Comment, Effects, error) {
	content, err := requireLength("content", in.Content, 1, 2000)
	if err != nil {
		return store.Comment{}, Effects{}, err
	}
	t, _, sc, err := s.resolveTask(ctx, taskID, softdelete.Active)
	if err != nil {
		return store.Comment{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionComment); err != nil {
		return store.Comment{}, Effects{}, err
	}

	now := s.now()
	c := store.Comment{
		ID:        util.NewID("cmt"),
		TaskID:    t.ID,
		AuthorID:  actor.UserID,
		Content:   content,
		Mentions:  parseMentions(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		return store.Comment{}, Effects{}, err
	}
	m := mutation{
		entity:     "comment",
		action:     "create",
		entityID:   c.ID,
		projectID:  sc.project.ID,
		invalidate: []string{cache.Prefix(cache.Comments)},
		activity: s.activity(actor, "comment", "task", t.ID, t.Title, sc.project.ID, map[string]any{
			"commentId": c.ID,
		}),
		event:   EventCommentAdded,
		payload: map[string]any{"taskId": t.ID, "comment": c},
	}
	if err := s.addMentionNotices(ctx, &m, actor, t, sc, c); err != nil {
		s.log.Error(err, "prepare mention notifications", "comment", c.ID)
	}
	return c, s.commit(ctx, m), nil
}

// UpdateComment edits a comment's content. Only the author may edit.
func (s *Service) UpdateComment(ctx context.Context, actor Actor, commentID string, in CommentInput) (store.Comment, Effects, error) {
	content, err := requireLength("content", in.Content, 1, 2000)
	if err != nil {
		return store.Comment{}, Effects{}, err
	}
	c, t, sc, err := s.resolveComment(ctx, commentID, softdelete.Active)
	if err != nil {
		return store.Comment{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionComment); err != nil {
		return store.Comment{}, Effects{}, err
	}
	if c.AuthorID != actor.UserID {
		return store.Comment{}, Effects{}, forbidden("Only the author can edit this comment")
	}

	now := s.now()
	previous := c.Mentions
	before := c.Content
	c.Content = content
	c.Mentions = parseMentions(content)
	c.IsEdited = true
	c.EditedAt = &now
	c.UpdatedAt = now
	if err := s.store.SaveComment(ctx, c); err != nil {
		return store.Comment{}, Effects{}, err
	}
	m := mutation{
		entity:     "comment",
		action:     "update",
		entityID:   c.ID,
		projectID:  sc.project.ID,
		invalidate: []string{cache.Prefix(cache.Comments)},
		activity: s.activity(actor, "update", "comment", c.ID, t.Title, sc.project.ID, map[string]any{
			"content": change(before, content),
		}),
		event:   EventCommentUpdated,
		payload: map[string]any{"taskId": t.ID, "comment": c},
	}
	// Only people newly mentioned by the edit hear about it.
	fresh := c
	fresh.Mentions = lo.Without(c.Mentions, previous...)
	if err := s.addMentionNotices(ctx, &m, actor, t, sc, fresh); err != nil {
		s.log.Error(err, "prepare mention notifications", "comment", c.ID)
	}
	return c, s.commit(ctx, m), nil
}

func (s *Service) DeleteComment(ctx context.Context, actor Actor, commentID string) (Effects, error) {
	c, t, sc, err := s.resolveComment(ctx, commentID, softdelete.Active)
	if err != nil {
		return Effects{}, err
	}
	if err := s.requireCommentOwner(sc, c, actor.UserID); err != nil {
		return Effects{}, err
	}
	now := s.now()
	c.SoftDelete(now)
	c.UpdatedAt = now
	if err := s.store.SaveComment(ctx, c); err != nil {
		return Effects{}, err
	}
	return s.commit(ctx, mutation{
		entity:     "comment",
		action:     "delete",
		entityID:   c.ID,
		projectID:  sc.project.ID,
		invalidate: []string{cache.Prefix(cache.Comments)},
		activity:   s.activity(actor, "delete", "comment", c.ID, t.Title, sc.project.ID, nil),
		event:      EventCommentDeleted,
		payload:    map[string]string{"taskId": t.ID, "commentId": c.ID},
	}), nil
}

func (s *Service) RestoreComment(ctx context.Context, actor Actor, commentID string) (store.Comment, Effects, error) {
	c, t, sc, err := s.resolveComment(ctx, commentID, softdelete.All)
	if err != nil {
		return store.Comment{}, Effects{}, err
	}
	if err := s.requireCommentOwner(sc, c, actor.UserID); err != nil {
		return store.Comment{}, Effects{}, err
	}
	if err := c.Restore(); err != nil {
		return store.Comment{}, Effects{}, badRequest("Comment is not deleted")
	}
	c.UpdatedAt = s.now()
	if err := s.store.SaveComment(ctx, c); err != nil {
		return store.Comment{}, Effects{}, err
	}
	return c, s.commit(ctx, mutation{
		entity:     "comment",
		action:     "restore",
		entityID:   c.ID,
		projectID:  sc.project.ID,
		invalidate: []string{cache.Prefix(cache.Comments)},
		activity:   s.activity(actor, "restore", "comment", c.ID, t.Title, sc.project.ID, nil),
		event:      EventCommentRestored,
		payload:    map[string]any{"taskId": t.ID, "comment": c},
	}), nil
}

// requireCommentOwner allows the author or a project owner/admin.
func (s *Service) requireCommentOwner(sc scope, c store.Comment, userID string) error {
	if err := sc.requireAction(userID, rbac.ActionComment); err != nil {
		return err
	}
	if c.AuthorID != userID && !sc.ownerOrAdmin(userID) {
		return forbidden("Only the author or a project admin can change this comment")
	}
	return nil
}

// addMentionNotices notifies mentioned project members other than the author.
// Mentions of non-members are kept on the comment but produce nothing.
func (s *Service) addMentionNotices(ctx context.Context, m *mutation, actor Actor, t store.Task, sc scope, c store.Comment) error {
	targets := lo.Filter(c.Mentions, func(id string, _ int) bool {
		return id != actor.UserID && sc.roster.IsMember(id)
	})
	if len(targets) == 0 {
		return nil
	}
	users, err := s.store.GetUsersByIDs(ctx, targets)
	if err != nil {
		return err
	}
	for _, id := range targets {
		u, ok := users[id]
		if !ok {
			continue
		}
		m.notifications = append(m.notifications, notify.Notification{
			Type:      notify.Mention,
			Recipient: notify.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
			TemplateData: map[string]any{
				"mentionerName":  actor.Name,
				"taskTitle":      t.Title,
				"commentContent": c.Content,
				"taskId":         t.ID,
			},
		})
		m.direct = append(m.direct, directEvent{userID: u.ID, name: EventNotification, payload: map[string]any{
			"type": notify.Mention, "taskId": t.ID, "commentId": c.ID, "projectId": sc.project.ID,
		}})
	}
	return nil
}
