package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/search"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

// Effects lists the side effects performed after a commit. In async hook
// mode Pending is set and the fields describe what was scheduled.
type Effects struct {
	Invalidated    []string `json:"invalidated"`
	ActivityLogged bool     `json:"activityLogged"`
	Event          string   `json:"event,omitempty"`
	Delivered      int      `json:"delivered"`
	Notified       int      `json:"notified"`
	Indexed        int      `json:"indexed"`
	Failed         []string `json:"failed,omitempty"`
	Pending        bool     `json:"pending,omitempty"`
}

// mutation is the committed write handed to the post-commit hooks.
type mutation struct {
	entity        string
	action        string
	entityID      string
	projectID     string
	invalidate    []string
	activity      *store.ActivityLog
	event         string
	payload       any
	direct        []directEvent
	notifications []notify.Notification
	index         []search.TaskRecord
	unindex       []string
	// revoke lists users whose project room subscriptions end with this write.
	revoke []string
}

// directEvent goes to one user's personal room rather than the project room.
type directEvent struct {
	userID  string
	name    string
	payload any
}

type hook struct {
	name string
	run  func(ctx context.Context, m *mutation, eff *Effects) error
}

func (s *Service) defaultHooks() []hook {
	return []hook{
		{name: "cache", run: s.invalidateCache},
		{name: "activity", run: s.appendActivity},
		{name: "broadcast", run: s.broadcast},
		{name: "notify", run: s.dispatchNotifications},
		{name: "search", run: s.syncSearchIndex},
	}
}

// commit runs the post-commit hooks for a persisted write. Hook failures are
// logged and counted but never returned; the write stays committed.
func (s *Service) commit(ctx context.Context, m mutation) Effects {
	s.metrics.Mutations.WithLabelValues(m.entity, m.action).Inc()
	ctx = context.WithoutCancel(ctx)

	if s.hookMode == HookAsync {
		s.pending.Add(len(s.hooks))
		for _, h := range s.hooks {
			go func(h hook) {
				defer s.pending.Done()
				s.runHook(ctx, h, &m, &Effects{})
			}(h)
		}
		return Effects{Invalidated: m.invalidate, ActivityLogged: m.activity != nil, Event: m.event, Pending: true}
	}

	eff := Effects{Invalidated: []string{}}
	for _, h := range s.hooks {
		if !s.runHook(ctx, h, &m, &eff) {
			eff.Failed = append(eff.Failed, h.name)
		}
	}
	return eff
}

func (s *Service) runHook(ctx context.Context, h hook, m *mutation, eff *Effects) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.hookFailed(h.name, m, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := h.run(ctx, m, eff); err != nil {
		s.hookFailed(h.name, m, err)
		return false
	}
	return true
}

func (s *Service) hookFailed(name string, m *mutation, err error) {
	s.metrics.HookFailures.WithLabelValues(name).Inc()
	s.log.Error(err, "post-commit hook failed", "hook", name, "entity", m.entity, "entityId", m.entityID, "action", m.action)
}

func (s *Service) invalidateCache(ctx context.Context, m *mutation, eff *Effects) error {
	var errs []error
	for _, prefix := range m.invalidate {
		if err := s.cache.Bump(ctx, prefix); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", prefix, err))
			continue
		}
		if _, err := s.cache.DeleteByPrefix(ctx, prefix); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", prefix, err))
			continue
		}
		eff.Invalidated = append(eff.Invalidated, prefix)
	}
	return errors.Join(errs...)
}

func (s *Service) appendActivity(ctx context.Context, m *mutation, eff *Effects) error {
	if m.activity == nil {
		return nil
	}
	if err := s.store.InsertActivity(ctx, *m.activity); err != nil {
		return err
	}
	eff.ActivityLogged = true
	return nil
}

func (s *Service) broadcast(_ context.Context, m *mutation, eff *Effects) error {
	if s.broadcaster == nil {
		return nil
	}
	if m.event != "" && m.projectID != "" {
		eff.Event = m.event
		eff.Delivered += s.broadcaster.Publish(m.projectID, m.event, m.payload)
	}
	for _, d := range m.direct {
		eff.Delivered += s.broadcaster.Notify(d.userID, d.name, d.payload)
	}
	for _, userID := range m.revoke {
		s.broadcaster.Revoke(m.projectID, userID)
	}
	return nil
}

func (s *Service) dispatchNotifications(ctx context.Context, m *mutation, eff *Effects) error {
	var errs []error
	for _, n := range m.notifications {
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("dispatch %s to %s: %w", n.Type, n.Recipient.UserID, err))
			continue
		}
		s.metrics.Notifications.WithLabelValues(string(n.Type)).Inc()
		eff.Notified++
	}
	return errors.Join(errs...)
}

func (s *Service) syncSearchIndex(ctx context.Context, m *mutation, eff *Effects) error {
	if err := s.search.IndexTasks(ctx, m.index...); err != nil {
		return err
	}
	eff.Indexed = len(m.index)
	return s.search.DeleteTasks(ctx, m.unindex...)
}

// activity builds the audit record for a write.
func (s *Service) activity(actor Actor, action, entity, entityID, entityName, projectID string, changes map[string]any) *store.ActivityLog {
	return &store.ActivityLog{
		ID:         util.NewID("act"),
		UserID:     actor.UserID,
		Action:     action,
		Entity:     entity,
		EntityID:   entityID,
		EntityName: entityName,
		ProjectID:  projectID,
		Changes:    changes,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		CreatedAt:  s.now(),
	}
}

// change records an old/new pair for the audit diff.
func change(before, after any) map[string]any {
	return map[string]any{"old": before, "new": after}
}

// recordChange adds field to changes only when the value actually moved.
func recordChange(changes map[string]any, field string, before, after any) {
	if sameValue(before, after) {
		return
	}
	changes[field] = change(before, after)
}

// sameValue compares field values. Timestamps compare as instants since a
// parsed input and a stored value can differ in location only.
func sameValue(a, b any) bool {
	if ta, ok := a.(*time.Time); ok {
		tb, _ := b.(*time.Time)
		if ta == nil || tb == nil {
			return ta == nil && tb == nil
		}
		return ta.Equal(*tb)
	}
	return reflect.DeepEqual(a, b)
}

func taskRecord(t store.Task, projectID string) search.TaskRecord {
	return search.TaskRecord{
		ID:          t.ID,
		ProjectID:   projectID,
		BoardID:     t.BoardID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		Tags:        t.Tags,
	}
}
