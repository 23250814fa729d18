package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/samber/lo"
)

const idxTasks = "trello_tasks"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Engine via Meilisearch.
type Meili struct {
	client    meili.ServiceManager
	log       logr.Logger
	healthy   atomic.Bool
	done      chan struct{}
	onRecover atomic.Pointer[func()]
}

// NewMeili creates a Meilisearch client, configures the tasks index when the
// server answers, and keeps probing it in the background.
func NewMeili(url, apiKey string, log logr.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.WithName("meili"),
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		m.log.Info("meilisearch unavailable", "url", url, "err", err.Error())
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxTasks, PrimaryKey: "id"}); err != nil {
		m.log.V(1).Info("create index (may already exist)", "index", idxTasks, "err", err.Error())
	}
	index := m.client.Index(idxTasks)
	filterable := []interface{}{"projectId", "boardId", "status", "priority", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Error(err, "update filterable attributes", "index", idxTasks)
	}
	searchable := []string{"title", "description", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Error(err, "update searchable attributes", "index", idxTasks)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			was := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !was {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
				if fn := m.onRecover.Load(); fn != nil {
					go (*fn)()
				}
			}
		}
	}
}

// OnRecover registers fn to run each time the engine comes back after an
// outage. Writes made while it was down never reached the index.
func (m *Meili) OnRecover(fn func()) {
	m.onRecover.Store(&fn)
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}
	if strings.TrimSpace(q.Text) == "" || len(q.ProjectIDs) == 0 {
		return nil, 0, nil
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              idxTasks,
			Query:                 q.Text,
			Limit:                 int64(limitOf(q)),
			Filter:                projectFilter(q.ProjectIDs),
			AttributesToHighlight: []string{"title", "description"},
			AttributesToCrop:      []string{"description"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}
	var (
		results []Result
		total   int
	)
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// projectFilter restricts hits to the given projects.
func projectFilter(projectIDs []string) string {
	quoted := lo.Map(projectIDs, func(id string, _ int) string { return fmt.Sprintf("%q", id) })
	return "projectId IN [" + strings.Join(quoted, ", ") + "]"
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		TaskID:    decodeString(hit, "id"),
		ProjectID: decodeString(hit, "projectId"),
		BoardID:   decodeString(hit, "boardId"),
		Title:     firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:   firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Status:    decodeString(hit, "status"),
		Priority:  decodeString(hit, "priority"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// IndexTasks adds or replaces tasks in the index.
func (m *Meili) IndexTasks(_ context.Context, tasks []TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	if !m.healthy.Load() {
		return errUnhealthy
	}
	_, err := m.client.Index(idxTasks).AddDocuments(tasks, nil)
	return err
}

// DeleteTasks removes tasks from the index.
func (m *Meili) DeleteTasks(_ context.Context, ids []string) error {
	if !m.healthy.Load() {
		return errUnhealthy
	}
	var errs []error
	for _, id := range ids {
		if _, err := m.client.Index(idxTasks).DeleteDocument(id, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// ReplaceTasks clears the index and adds tasks. Meilisearch applies tasks of
// one index in order, so the add lands after the clear.
func (m *Meili) ReplaceTasks(_ context.Context, tasks []TaskRecord) error {
	if !m.healthy.Load() {
		return errUnhealthy
	}
	index := m.client.Index(idxTasks)
	if _, err := index.DeleteAllDocuments(nil); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}
	_, err := index.AddDocuments(tasks, nil)
	return err
}
