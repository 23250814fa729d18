package store

import (
	"time"

	"github.com/samarth3282/trello-api/internal/membership"
	"github.com/samarth3282/trello-api/internal/softdelete"
)

const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusReview     = "review"
	StatusDone       = "done"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"

	DefaultProjectColor = "#3498db"
	DefaultBoardColor   = "#95a5a6"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Avatar       string     `json:"avatar"`
	IsActive     bool       `json:"isActive"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	softdelete.State
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Project struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	OwnerID     string              `json:"ownerId"`
	Color       string              `json:"color"`
	Members     []membership.Member `json:"members"`
	IsArchived  bool                `json:"isArchived"`
	softdelete.State
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Roster loads the guarded member list for this project.
func (p Project) Roster() (*membership.Roster, error) {
	return membership.Load(p.OwnerID, p.Members)
}

type Board struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Color       string `json:"color"`
	IsArchived  bool   `json:"isArchived"`
	softdelete.State
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Attachment struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	URL        string    `json:"url"`
	FileType   string    `json:"fileType"`
	FileSize   int64     `json:"fileSize"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Task struct {
	ID             string       `json:"id"`
	BoardID        string       `json:"boardId"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Status         string       `json:"status"`
	Priority       string       `json:"priority"`
	AssignedTo     *string      `json:"assignedTo"`
	CreatedBy      string       `json:"createdBy"`
	DueDate        *time.Time   `json:"dueDate"`
	EstimatedHours *float64     `json:"estimatedHours"`
	ActualHours    *float64     `json:"actualHours"`
	Tags           []string     `json:"tags"`
	Attachments    []Attachment `json:"attachments"`
	Order          int          `json:"order"`
	IsArchived     bool         `json:"isArchived"`
	softdelete.State
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Overdue is true when the due date has passed and the task is not done.
func (t Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != StatusDone
}

type Comment struct {
	ID       string     `json:"id"`
	TaskID   string     `json:"taskId"`
	AuthorID string     `json:"authorId"`
	Content  string     `json:"content"`
	Mentions []string   `json:"mentions"`
	IsEdited bool       `json:"isEdited"`
	EditedAt *time.Time `json:"editedAt,omitempty"`
	softdelete.State
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ActivityLog struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entityId"`
	EntityName string         `json:"entityName"`
	ProjectID  string         `json:"projectId,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type ProjectQuery struct {
	UserID   string
	Search   string
	Archived *bool
	Page     int
	Limit    int
}

type TaskQuery struct {
	UserID     string
	BoardID    string
	Status     string
	Priority   string
	AssignedTo string
	Tag        string
	Search     string
	DueOn      *time.Time
	Page       int
	Limit      int
}

type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func newPage[T any](items []T, total, page, limit int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page[T]{Items: items, Total: total, Page: page, Limit: limit, Pages: pages}
}

// maxPage keeps (page-1)*limit well inside a 32-bit OFFSET.
const maxPage = 1_000_000

// normalizePage clamps pagination to 1 <= page <= maxPage and 1 <= limit <= 100.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
