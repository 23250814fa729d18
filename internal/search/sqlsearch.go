package search

import (
	"context"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/samarth3282/trello-api/internal/store"
)

// TaskFinder is the store capability used by the SQL fallback and by the
// check of engine hits against the database.
type TaskFinder interface {
	SearchTasks(ctx context.Context, projectIDs []string, term string, limit int) ([]store.TaskHit, error)
	ActiveTaskIDs(ctx context.Context, projectIDs, taskIDs []string) ([]string, error)
}

// SQLSearch matches task titles and descriptions in the database. Hits only
// come from tasks whose board and project are active.
type SQLSearch struct {
	tasks TaskFinder
}

func NewSQLSearch(tasks TaskFinder) *SQLSearch {
	return &SQLSearch{tasks: tasks}
}

// Healthy is always true; a database outage fails the request anyway.
func (s *SQLSearch) Healthy() bool { return true }

func (s *SQLSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.ProjectIDs) == 0 {
		return nil, 0, nil
	}
	hits, err := s.tasks.SearchTasks(ctx, q.ProjectIDs, q.Text, limitOf(q))
	if err != nil {
		return nil, 0, err
	}
	results := lo.Map(hits, func(h store.TaskHit, _ int) Result {
		return Result{
			TaskID:    h.Task.ID,
			ProjectID: h.ProjectID,
			BoardID:   h.Task.BoardID,
			Title:     h.Task.Title,
			Snippet:   snippet(h.Task.Description, q.Text),
			Status:    h.Task.Status,
			Priority:  h.Task.Priority,
		}
	})
	return results, len(results), nil
}

// ActiveTaskIDs keeps the ids that are still live in the database.
func (s *SQLSearch) ActiveTaskIDs(ctx context.Context, projectIDs, taskIDs []string) ([]string, error) {
	return s.tasks.ActiveTaskIDs(ctx, projectIDs, taskIDs)
}

const snippetRadius = 60

// snippet returns a window of text around the first case-insensitive match
// of term, or the leading part of text when there is none.
func snippet(text, term string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return ""
	}
	needle := []rune(strings.ToLower(strings.TrimSpace(term)))
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}
	idx := indexRunes(lower, needle)
	if idx < 0 {
		idx = 0
	}
	start := max(idx-snippetRadius, 0)
	end := min(idx+len(needle)+snippetRadius, len(runes))
	out := string(runes[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}
