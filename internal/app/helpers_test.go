package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/samarth3282/trello-api/internal/blob"
	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/search"
	"github.com/samarth3282/trello-api/internal/store"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type sentEvent struct {
	Room    string
	Name    string
	Payload any
}

// recordingBroadcaster captures every published event.
type recordingBroadcaster struct {
	mu      sync.Mutex
	events  []sentEvent
	revoked []string
}

func (b *recordingBroadcaster) Publish(projectID, name string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Room: "project:" + projectID, Name: name, Payload: payload})
	return 1
}

func (b *recordingBroadcaster) Notify(userID, name string, payload any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Room: "user:" + userID, Name: name, Payload: payload})
	return 1
}

func (b *recordingBroadcaster) Revoke(projectID, userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked = append(b.revoked, projectID+"/"+userID)
	return 1
}

func (b *recordingBroadcaster) named(name string) []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentEvent
	for _, ev := range b.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type panickingBroadcaster struct{}

func (panickingBroadcaster) Publish(string, string, any) int { panic("transport down") }
func (panickingBroadcaster) Notify(string, string, any) int  { panic("transport down") }
func (panickingBroadcaster) Revoke(string, string) int       { panic("transport down") }

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n notify.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
	return nil
}

func (d *recordingDispatcher) ofType(t notify.Type) []notify.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.Notification
	for _, n := range d.sent {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	svc        *Service
	store      *store.SQLStore
	redis      *miniredis.Miniredis
	events     *recordingBroadcaster
	dispatched *recordingDispatcher
}

func newFixture(t *testing.T, mode HookMode) *fixture {
	t.Helper()
	st, err := store.Connect(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = st.DB().Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{store: st, redis: mr, events: &recordingBroadcaster{}, dispatched: &recordingDispatcher{}}
	f.svc = New(st, Options{
		Cache:        cache.NewRedis(client, logr.Discard()),
		Broadcaster:  f.events,
		Dispatcher:   f.dispatched,
		HookMode:     mode,
		InviteSecret: []byte("test-invite-secret"),
	})
	f.svc.now = func() time.Time { return testNow }
	return f
}

// memEngine is an in-memory search engine that can be taken down.
type memEngine struct {
	mu   sync.Mutex
	up   bool
	docs map[string]search.TaskRecord
}

func newMemEngine() *memEngine {
	return &memEngine{up: true, docs: map[string]search.TaskRecord{}}
}

func (e *memEngine) setUp(up bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.up = up
}

func (e *memEngine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.up
}

func (e *memEngine) Search(_ context.Context, q search.Query) ([]search.Result, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []search.Result
	for _, d := range e.docs {
		if strings.Contains(strings.ToLower(d.Title), strings.ToLower(q.Text)) {
			out = append(out, search.Result{TaskID: d.ID, ProjectID: d.ProjectID, BoardID: d.BoardID, Title: d.Title})
		}
	}
	return out, len(out), nil
}

func (e *memEngine) IndexTasks(_ context.Context, tasks []search.TaskRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tasks {
		e.docs[t.ID] = t
	}
	return nil
}

func (e *memEngine) DeleteTasks(_ context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.docs, id)
	}
	return nil
}

func (e *memEngine) ReplaceTasks(_ context.Context, tasks []search.TaskRecord) error {
	e.mu.Lock()
	e.docs = map[string]search.TaskRecord{}
	e.mu.Unlock()
	return e.IndexTasks(context.Background(), tasks)
}

func (e *memEngine) has(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.docs[id]
	return ok
}

// cachedKeys lists cache entries under an entity prefix, ignoring the
// generation counters.
func (f *fixture) cachedKeys(entity string) []string {
	var out []string
	for _, k := range f.redis.Keys() {
		if strings.HasPrefix(k, cache.Prefix(entity)) {
			out = append(out, k)
		}
	}
	return out
}

// interleavingStore runs during once, right after the first ListProjects
// read and before the service fills the cache with its answer.
type interleavingStore struct {
	dataStore
	during func()
}

func (s *interleavingStore) ListProjects(ctx context.Context, q store.ProjectQuery) (store.Page[store.Project], error) {
	page, err := s.dataStore.ListProjects(ctx, q)
	if during := s.during; during != nil {
		s.during = nil
		during()
	}
	return page, err
}

// failingSaveStore rejects every task save.
type failingSaveStore struct {
	dataStore
}

func (s failingSaveStore) SaveTask(context.Context, store.Task) error {
	return errors.New("save task: connection reset")
}

// memBlob keeps object keys in memory.
type memBlob struct {
	mu      sync.Mutex
	objects map[string]int64
}

func (b *memBlob) Put(_ context.Context, taskID, filename string, body io.Reader, _ int64, contentType string) (blob.Object, error) {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return blob.Object{}, err
	}
	key := blob.ObjectKey(taskID, filename, testNow)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = map[string]int64{}
	}
	b.objects[key] = n
	return blob.Object{Key: key, URL: "https://files.example.com/" + key, Size: n, ContentType: contentType}, nil
}

func (b *memBlob) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlob) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func (f *fixture) user(t *testing.T, id string) Actor {
	t.Helper()
	u := store.User{
		ID: id, Name: "User " + id, Email: id + "@example.com", PasswordHash: "x",
		Role: "member", IsActive: true, CreatedAt: testNow, UpdatedAt: testNow,
	}
	if err := f.store.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return ActorFromUser(u)
}

func (f *fixture) project(t *testing.T, owner Actor, members ...MemberInput) store.Project {
	t.Helper()
	p, _, err := f.svc.CreateProject(context.Background(), owner, CreateProjectInput{Name: "Launch plan", Members: members})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (f *fixture) board(t *testing.T, actor Actor, projectID string) store.Board {
	t.Helper()
	b, _, err := f.svc.CreateBoard(context.Background(), actor, projectID, CreateBoardInput{Name: "Backlog"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return b
}

func (f *fixture) task(t *testing.T, actor Actor, boardID string) TaskView {
	t.Helper()
	task, _, err := f.svc.CreateTask(context.Background(), actor, boardID, CreateTaskInput{Title: "Write release notes"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (f *fixture) activity(t *testing.T, projectID string) []store.ActivityLog {
	t.Helper()
	logs, err := f.store.ListProjectActivity(context.Background(), projectID, 100)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	return logs
}
