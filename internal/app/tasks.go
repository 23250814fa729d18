package app

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/search"
	"github.com/samarth3282/trello-api/internal/softdelete"
	"github.com/samarth3282/trello-api/internal/store"
	"github.com/samarth3282/trello-api/internal/util"
)

const (
	EventTaskCreated  = "task:created"
	EventTaskUpdated  = "task:updated"
	EventTaskDeleted  = "task:deleted"
	EventTaskRestored = "task:restored"
)

const maxAttachmentSize = 10 << 20

// TaskView is a task with fields derived at read time.
type TaskView struct {
	store.Task
	Overdue bool `json:"overdue"`
}

func viewTask(t store.Task, now time.Time) TaskView {
	return TaskView{Task: t, Overdue: t.Overdue(now)}
}

// TaskDetail is a task with its active comments.
type TaskDetail struct {
	TaskView
	Comments []store.Comment `json:"comments"`
}

type CreateTaskInput struct {
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	AssignedTo     *string    `json:"assignedTo"`
	DueDate        *time.Time `json:"dueDate"`
	EstimatedHours *float64   `json:"estimatedHours"`
	Tags           []string   `json:"tags"`
	// Order 0 means append after the last task of the board.
	Order int `json:"order"`
}

type UpdateTaskInput struct {
	Title          *string             `json:"title"`
	Description    *string             `json:"description"`
	Status         *string             `json:"status"`
	Priority       *string             `json:"priority"`
	AssignedTo     Nullable[string]    `json:"assignedTo"`
	DueDate        Nullable[time.Time] `json:"dueDate"`
	EstimatedHours Nullable[float64]   `json:"estimatedHours"`
	ActualHours    Nullable[float64]   `json:"actualHours"`
	Tags           *[]string           `json:"tags"`
	Order          *int                `json:"order"`
	IsArchived     *bool               `json:"isArchived"`
}

type ListTasksInput struct {
	BoardID    string
	Status     string
	Priority   string
	AssignedTo string
	Tag        string
	Search     string
	// DueDate is a calendar day in YYYY-MM-DD form.
	DueDate string
	Page    int
	Limit   int
}

type AttachmentInput struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// Upload is an attachment body to be stored before it is attached.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (s *Service) ListTasks(ctx context.Context, actor Actor, in ListTasksInput) (store.Page[TaskView], error) {
	if in.BoardID != "" {
		_, sc, err := s.resolveBoard(ctx, in.BoardID, softdelete.Active)
		if err != nil {
			return store.Page[TaskView]{}, err
		}
		if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
			return store.Page[TaskView]{}, err
		}
	}
	if in.Status != "" && !store.ValidStatus(in.Status) {
		return store.Page[TaskView]{}, validationError("status", "must be todo, in-progress, review, or done")
	}
	if in.Priority != "" && !store.ValidPriority(in.Priority) {
		return store.Page[TaskView]{}, validationError("priority", "must be low, medium, high, or urgent")
	}
	var dueOn *time.Time
	if in.DueDate != "" {
		day, err := time.Parse(time.DateOnly, in.DueDate)
		if err != nil {
			return store.Page[TaskView]{}, validationError("dueDate", "must be a date like 2024-01-31")
		}
		dueOn = &day
	}

	key := cache.Key(cache.Tasks, actor.UserID, in.BoardID, in.Status, in.Priority, in.AssignedTo, in.Tag, in.Search, in.DueDate,
		strconv.Itoa(in.Page), strconv.Itoa(in.Limit))
	page, err := readThrough(ctx, s, cache.Tasks, key, func() (store.Page[store.Task], error) {
		return s.store.ListTasks(ctx, store.TaskQuery{
			UserID:     actor.UserID,
			BoardID:    in.BoardID,
			Status:     in.Status,
			Priority:   in.Priority,
			AssignedTo: in.AssignedTo,
			Tag:        in.Tag,
			Search:     in.Search,
			DueOn:      dueOn,
			Page:       in.Page,
			Limit:      in.Limit,
		})
	})
	if err != nil {
		return store.Page[TaskView]{}, err
	}
	now := s.now()
	return store.Page[TaskView]{
		Items: lo.Map(page.Items, func(t store.Task, _ int) TaskView { return viewTask(t, now) }),
		Total: page.Total,
		Page:  page.Page,
		Limit: page.Limit,
		Pages: page.Pages,
	}, nil
}

func (s *Service) GetTask(ctx context.Context, actor Actor, taskID string) (TaskDetail, error) {
	t, _, sc, err := s.resolveTask(ctx, taskID, softdelete.Active)
	if err != nil {
		return TaskDetail{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionRead); err != nil {
		return TaskDetail{}, err
	}
	comments, err := s.store.ListComments(ctx, taskID, softdelete.Active)
	if err != nil {
		return TaskDetail{}, err
	}
	return TaskDetail{TaskView: viewTask(t, s.now()), Comments: comments}, nil
}

func (s *Service) CreateTask(ctx context.Context, actor Actor, boardID string, in CreateTaskInput) (TaskView, Effects, error) {
	title, err := requireLength("title", in.Title, 3, 200)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	description, err := maxLength("description", in.Description, 5000)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	status := lo.Ternary(in.Status == "", store.StatusTodo, in.Status)
	if !store.ValidStatus(status) {
		return TaskView{}, Effects{}, validationError("status", "must be todo, in-progress, review, or done")
	}
	priority := lo.Ternary(in.Priority == "", store.PriorityMedium, in.Priority)
	if !store.ValidPriority(priority) {
		return TaskView{}, Effects{}, validationError("priority", "must be low, medium, high, or urgent")
	}
	if err := nonNegative("estimatedHours", in.EstimatedHours); err != nil {
		return TaskView{}, Effects{}, err
	}
	if in.Order < 0 {
		return TaskView{}, Effects{}, validationError("order", "must not be negative")
	}

	b, sc, err := s.resolveBoard(ctx, boardID, softdelete.Active)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionWriteTask); err != nil {
		return TaskView{}, Effects{}, err
	}
	assignee := normalizeAssignee(in.AssignedTo)
	if assignee != nil && !sc.roster.IsMember(*assignee) {
		return TaskView{}, Effects{}, badRequest("Assignee must be a project member")
	}

	now := s.now()
	t, err := s.store.CreateTask(ctx, store.Task{
		ID:             util.NewID("tsk"),
		BoardID:        boardID,
		Title:          title,
		Description:    description,
		Status:         status,
		Priority:       priority,
		AssignedTo:     assignee,
		CreatedBy:      actor.UserID,
		DueDate:        in.DueDate,
		EstimatedHours: in.EstimatedHours,
		Tags:           cleanTags(in.Tags),
		Attachments:    []store.Attachment{},
		Order:          in.Order,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	view := viewTask(t, now)
	m := mutation{
		entity:     "task",
		action:     "create",
		entityID:   t.ID,
		projectID:  b.ProjectID,
		invalidate: []string{cache.Prefix(cache.Tasks)},
		activity:   s.activity(actor, "create", "task", t.ID, t.Title, b.ProjectID, nil),
		event:      EventTaskCreated,
		payload:    view,
		index:      []search.TaskRecord{taskRecord(t, b.ProjectID)},
	}
	if err := s.addAssignmentNotice(ctx, &m, actor, t, sc.project, nil); err != nil {
		s.log.Error(err, "prepare assignment notification", "task", t.ID)
	}
	return view, s.commit(ctx, m), nil
}

func (s *Service) UpdateTask(ctx context.Context, actor Actor, taskID string, in UpdateTaskInput) (TaskView, Effects, error) {
	t, b, sc, err := s.resolveTask(ctx, taskID, softdelete.Active)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionWriteTask); err != nil {
		return TaskView{}, Effects{}, err
	}

	previousAssignee := t.AssignedTo
	changes := map[string]any{}
	if in.Title != nil {
		title, err := requireLength("title", *in.Title, 3, 200)
		if err != nil {
			return TaskView{}, Effects{}, err
		}
		recordChange(changes, "title", t.Title, title)
		t.Title = title
	}
	if in.Description != nil {
		description, err := maxLength("description", *in.Description, 5000)
		if err != nil {
			return TaskView{}, Effects{}, err
		}
		recordChange(changes, "description", t.Description, description)
		t.Description = description
	}
	if in.Status != nil {
		if !store.ValidStatus(*in.Status) {
			return TaskView{}, Effects{}, validationError("status", "must be todo, in-progress, review, or done")
		}
		recordChange(changes, "status", t.Status, *in.Status)
		t.Status = *in.Status
	}
	if in.Priority != nil {
		if !store.ValidPriority(*in.Priority) {
			return TaskView{}, Effects{}, validationError("priority", "must be low, medium, high, or urgent")
		}
		recordChange(changes, "priority", t.Priority, *in.Priority)
		t.Priority = *in.Priority
	}
	if in.AssignedTo.Set {
		assignee := normalizeAssignee(in.AssignedTo.Value)
		if assignee != nil && !sc.roster.IsMember(*assignee) {
			return TaskView{}, Effects{}, badRequest("Assignee must be a project member")
		}
		recordChange(changes, "assignedTo", t.AssignedTo, assignee)
		t.AssignedTo = assignee
	}
	if in.DueDate.Set {
		recordChange(changes, "dueDate", t.DueDate, in.DueDate.Value)
		t.DueDate = in.DueDate.Value
	}
	if in.EstimatedHours.Set {
		if err := nonNegative("estimatedHours", in.EstimatedHours.Value); err != nil {
			return TaskView{}, Effects{}, err
		}
		recordChange(changes, "estimatedHours", t.EstimatedHours, in.EstimatedHours.Value)
		t.EstimatedHours = in.EstimatedHours.Value
	}
	if in.ActualHours.Set {
		if err := nonNegative("actualHours", in.ActualHours.Value); err != nil {
			return TaskView{}, Effects{}, err
		}
		recordChange(changes, "actualHours", t.ActualHours, in.ActualHours.Value)
		t.ActualHours = in.ActualHours.Value
	}
	if in.Tags != nil {
		tags := cleanTags(*in.Tags)
		recordChange(changes, "tags", t.Tags, tags)
		t.Tags = tags
	}
	if in.Order != nil {
		if *in.Order < 0 {
			return TaskView{}, Effects{}, validationError("order", "must not be negative")
		}
		recordChange(changes, "order", t.Order, *in.Order)
		t.Order = *in.Order
	}
	if in.IsArchived != nil {
		recordChange(changes, "isArchived", t.IsArchived, *in.IsArchived)
		t.IsArchived = *in.IsArchived
	}

	now := s.now()
	t.UpdatedAt = now
	if err := s.store.SaveTask(ctx, t); err != nil {
		return TaskView{}, Effects{}, err
	}
	view := viewTask(t, now)
	m := mutation{
		entity:     "task",
		action:     "update",
		entityID:   t.ID,
		projectID:  b.ProjectID,
		invalidate: []string{cache.Prefix(cache.Tasks)},
		activity:   s.activity(actor, "update", "task", t.ID, t.Title, b.ProjectID, changes),
		event:      EventTaskUpdated,
		payload:    view,
		index:      []search.TaskRecord{taskRecord(t, b.ProjectID)},
	}
	if err := s.addAssignmentNotice(ctx, &m, actor, t, sc.project, previousAssignee); err != nil {
		s.log.Error(err, "prepare assignment notification", "task", t.ID)
	}
	return view, s.commit(ctx, m), nil
}

func (s *Service) DeleteTask(ctx context.Context, actor Actor, taskID string) (Effects, error) {
	t, b, sc, err := s.resolveTask(ctx, taskID, softdelete.Active)
	if err != nil {
		return Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionDeleteTask); err != nil {
		return Effects{}, err
	}
	now := s.now()
	t.SoftDelete(now)
	t.UpdatedAt = now
	if err := s.store.SaveTask(ctx, t); err != nil {
		return Effects{}, err
	}
	return s.commit(ctx, mutation{
		entity:     "task",
		action:     "delete",
		entityID:   t.ID,
		projectID:  b.ProjectID,
		invalidate: []string{cache.Prefix(cache.Tasks)},
		activity:   s.activity(actor, "delete", "task", t.ID, t.Title, b.ProjectID, nil),
		event:      EventTaskDeleted,
		payload:    map[string]string{"taskId": t.ID},
		unindex:    []string{t.ID},
	}), nil
}

func (s *Service) RestoreTask(ctx context.Context, actor Actor, taskID string) (TaskView, Effects, error) {
	t, b, sc, err := s.resolveTask(ctx, taskID, softdelete.All)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionDeleteTask); err != nil {
		return TaskView{}, Effects{}, err
	}
	if err := t.Restore(); err != nil {
		return TaskView{}, Effects{}, badRequest("Task is not deleted")
	}
	now := s.now()
	t.UpdatedAt = now
	if err := s.store.SaveTask(ctx, t); err != nil {
		return TaskView{}, Effects{}, err
	}
	view := viewTask(t, now)
	return view, s.commit(ctx, mutation{
		entity:     "task",
		action:     "restore",
		entityID:   t.ID,
		projectID:  b.ProjectID,
		invalidate: []string{cache.Prefix(cache.Tasks)},
		activity:   s.activity(actor, "restore", "task", t.ID, t.Title, b.ProjectID, nil),
		event:      EventTaskRestored,
		payload:    view,
		index:      []search.TaskRecord{taskRecord(t, b.ProjectID)},
	}), nil
}

// AddAttachment records attachment metadata whose body lives elsewhere.
func (s *Service) AddAttachment(ctx context.Context, actor Actor, taskID string, in AttachmentInput) (TaskView, Effects, error) {
	filename, err := requireLength("filename", in.Filename, 1, 255)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return TaskView{}, Effects{}, validationError("url", "must be an http(s) URL")
	}
	if in.FileSize < 0 {
		return TaskView{}, Effects{}, validationError("fileSize", "must not be negative")
	}
	return s.attach(ctx, actor, taskID, func(context.Context) (store.Attachment, func(context.Context), error) {
		return store.Attachment{Filename: filename, URL: u.String(), FileType: in.FileType, FileSize: in.FileSize}, nil, nil
	})
}

// UploadAttachment stores the body in blob storage and attaches it.
func (s *Service) UploadAttachment(ctx context.Context, actor Actor, taskID string, up Upload) (TaskView, Effects, error) {
	if s.blob == nil {
		return TaskView{}, Effects{}, badRequest("File storage is not configured")
	}
	filename, err := requireLength("filename", up.Filename, 1, 255)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	if up.Size > maxAttachmentSize {
		return TaskView{}, Effects{}, badRequest("File exceeds the 10MB limit")
	}
	return s.attach(ctx, actor, taskID, func(ctx context.Context) (store.Attachment, func(context.Context), error) {
		obj, err := s.blob.Put(ctx, taskID, filename, up.Body, up.Size, up.ContentType)
		if err != nil {
			return store.Attachment{}, nil, err
		}
		discard := func(ctx context.Context) {
			if err := s.blob.Remove(ctx, obj.Key); err != nil {
				s.log.Error(err, "remove orphaned attachment", "key", obj.Key, "task", taskID)
			}
		}
		return store.Attachment{Filename: filename, URL: obj.URL, FileType: up.ContentType, FileSize: obj.Size}, discard, nil
	})
}

// attach authorizes, builds the attachment and persists it on the task.
// When the task cannot be saved, the discard func returned by build undoes
// whatever build stored outside the database.
func (s *Service) attach(ctx context.Context, actor Actor, taskID string, build func(context.Context) (store.Attachment, func(context.Context), error)) (TaskView, Effects, error) {
	t, b, sc, err := s.resolveTask(ctx, taskID, softdelete.Active)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	if err := sc.requireAction(actor.UserID, rbac.ActionWriteTask); err != nil {
		return TaskView{}, Effects{}, err
	}
	a, discard, err := build(ctx)
	if err != nil {
		return TaskView{}, Effects{}, err
	}
	now := s.now()
	a.ID = util.NewID("att")
	a.UploadedBy = actor.UserID
	a.UploadedAt = now
	before := len(t.Attachments)
	t.Attachments = append(t.Attachments, a)
	t.UpdatedAt = now
	if err := s.store.SaveTask(ctx, t); err != nil {
		if discard != nil {
			discard(context.WithoutCancel(ctx))
		}
		return TaskView{}, Effects{}, err
	}
	view := viewTask(t, now)
	return view, s.commit(ctx, mutation{
		entity:     "task",
		action:     "attach",
		entityID:   t.ID,
		projectID:  b.ProjectID,
		invalidate: []string{cache.Prefix(cache.Tasks)},
		activity: s.activity(actor, "update", "task", t.ID, t.Title, b.ProjectID, map[string]any{
			"attachments": change(before, len(t.Attachments)),
		}),
		event:   EventTaskUpdated,
		payload: view,
	}), nil
}

// SearchTasks searches tasks in every active project the actor belongs to.
func (s *Service) SearchTasks(ctx context.Context, actor Actor, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}}, validationError("q", "search text is required")
	}
	projectIDs, err := s.store.ProjectIDsForUser(ctx, actor.UserID)
	if err != nil {
		return search.Response{}, err
	}
	return s.search.Search(ctx, search.Query{Text: text, ProjectIDs: projectIDs, Limit: limit}), nil
}

// ReindexSearch pushes every visible task to the search engine.
func (s *Service) ReindexSearch(ctx context.Context) error {
	hits, err := s.store.ListSearchableTasks(ctx)
	if err != nil {
		return err
	}
	return s.search.Reindex(ctx, lo.Map(hits, func(h store.TaskHit, _ int) search.TaskRecord {
		return taskRecord(h.Task, h.ProjectID)
	}))
}

// addAssignmentNotice queues a task-assignment notification when the task
// moved to a new assignee other than the actor.
func (s *Service) addAssignmentNotice(ctx context.Context, m *mutation, actor Actor, t store.Task, p store.Project, previous *string) error {
	if t.AssignedTo == nil || *t.AssignedTo == actor.UserID {
		return nil
	}
	if previous != nil && *previous == *t.AssignedTo {
		return nil
	}
	assignee, err := s.store.GetUserByID(ctx, *t.AssignedTo)
	if err != nil {
		return err
	}
	data := map[string]any{
		"taskId":       t.ID,
		"taskTitle":    t.Title,
		"projectName":  p.Name,
		"assignerName": actor.Name,
		"priority":     t.Priority,
	}
	m.notifications = append(m.notifications, notify.Notification{
		Type:         notify.TaskAssignment,
		Recipient:    notify.Recipient{UserID: assignee.ID, Email: assignee.Email, Name: assignee.Name},
		TemplateData: data,
	})
	m.direct = append(m.direct, directEvent{userID: assignee.ID, name: EventNotification, payload: map[string]any{
		"type": notify.TaskAssignment, "taskId": t.ID, "taskTitle": t.Title, "projectId": p.ID,
	}})
	return nil
}

func normalizeAssignee(id *string) *string {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	v := strings.TrimSpace(*id)
	return &v
}

func nonNegative(field string, v *float64) error {
	if v != nil && *v < 0 {
		return validationError(field, "must not be negative")
	}
	return nil
}

// cleanTags trims tags and drops blanks and duplicates.
func cleanTags(tags []string) []string {
	out := lo.Uniq(lo.Compact(lo.Map(tags, func(t string, _ int) string { return strings.TrimSpace(t) })))
	if out == nil {
		return []string{}
	}
	return out
}
