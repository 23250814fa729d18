package search

import "context"

// Result is a single task hit returned to the caller.
type Result struct {
	TaskID    string `json:"taskId"`
	ProjectID string `json:"projectId"`
	BoardID   string `json:"boardId"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
}

// Query describes a search request. ProjectIDs bounds the result set to
// projects the caller belongs to; an empty slice matches nothing.
type Query struct {
	Text       string
	ProjectIDs []string
	Limit      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// TaskRecord is the data indexed for a task.
type TaskRecord struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"projectId"`
	BoardID     string   `json:"boardId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

// Searcher can execute a task search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a Searcher that also maintains its own index.
type Engine interface {
	Searcher
	IndexTasks(ctx context.Context, tasks []TaskRecord) error
	DeleteTasks(ctx context.Context, ids []string) error
	// ReplaceTasks drops every indexed task and indexes tasks instead.
	ReplaceTasks(ctx context.Context, tasks []TaskRecord) error
}

const defaultLimit = 20

func limitOf(q Query) int {
	if q.Limit <= 0 || q.Limit > 100 {
		return defaultLimit
	}
	return q.Limit
}
