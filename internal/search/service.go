package search

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
)

const (
	engineMeili = "meilisearch"
	engineSQL   = "sql"
)

// Service is the facade that tries the search engine first and falls back to
// the database.
type Service struct {
	engine   Engine
	fallback *SQLSearch
	log      logr.Logger
}

// NewService creates a search service. engine may be nil when no search
// engine is configured. Engine hits are checked against fallback's database
// so tasks the index still holds after a delete are never returned.
func NewService(engine Engine, fallback *SQLSearch, log logr.Logger) *Service {
	return &Service{engine: engine, fallback: fallback, log: log.WithName("search")}
}

func (s *Service) engineUp() bool {
	return s.engine != nil && s.engine.Healthy()
}

// EngineName reports which backend would serve a search right now.
func (s *Service) EngineName() string {
	if s.engineUp() {
		return engineMeili
	}
	return engineSQL
}

// Search returns an empty response rather than an error when both paths fail.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineUp() {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			results, total, err = s.keepActive(ctx, q, results, total)
		}
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: engineMeili}
		}
		s.log.Error(err, "engine search failed, falling back to sql")
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error(err, "sql search failed")
		return Response{Results: []Result{}, Query: q.Text, Engine: engineSQL}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: engineSQL}
}

// keepActive drops engine hits whose task, board or project is no longer
// active and removes them from the index.
func (s *Service) keepActive(ctx context.Context, q Query, results []Result, total int) ([]Result, int, error) {
	if len(results) == 0 {
		return results, total, nil
	}
	ids := lo.Map(results, func(r Result, _ int) string { return r.TaskID })
	active, err := s.fallback.ActiveTaskIDs(ctx, q.ProjectIDs, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("check engine hits: %w", err)
	}
	live := lo.Keyify(active)
	kept, stale := lo.FilterReject(results, func(r Result, _ int) bool {
		_, ok := live[r.TaskID]
		return ok
	})
	if len(stale) == 0 {
		return kept, total, nil
	}
	staleIDs := lo.Map(stale, func(r Result, _ int) string { return r.TaskID })
	if err := s.engine.DeleteTasks(ctx, staleIDs); err != nil {
		s.log.Error(err, "drop stale search hits", "ids", staleIDs)
	}
	return kept, max(total-len(stale), len(kept)), nil
}

// IndexTasks pushes tasks to the engine. It is a no-op while the engine is
// absent or down; the database fallback covers the gap.
func (s *Service) IndexTasks(ctx context.Context, tasks ...TaskRecord) error {
	if !s.engineUp() || len(tasks) == 0 {
		return nil
	}
	return s.engine.IndexTasks(ctx, tasks)
}

// DeleteTasks removes tasks from the engine.
func (s *Service) DeleteTasks(ctx context.Context, ids ...string) error {
	if !s.engineUp() || len(ids) == 0 {
		return nil
	}
	return s.engine.DeleteTasks(ctx, ids)
}

// Reindex replaces the engine's view with the given tasks.
func (s *Service) Reindex(ctx context.Context, tasks []TaskRecord) error {
	if !s.engineUp() {
		return nil
	}
	s.log.Info("reindexing tasks", "count", len(tasks))
	return s.engine.ReplaceTasks(ctx, tasks)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
