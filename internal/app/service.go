package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/samarth3282/trello-api/internal/blob"
	"github.com/samarth3282/trello-api/internal/cache"
	"github.com/samarth3282/trello-api/internal/membership"
	"github.com/samarth3282/trello-api/internal/metrics"
	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/search"
	"github.com/samarth3282/trello-api/internal/softdelete"
	"github.com/samarth3282/trello-api/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error)

	InsertProject(ctx context.Context, p store.Project) error
	SaveProject(ctx context.Context, p store.Project) error
	GetProject(ctx context.Context, id string, vis softdelete.Visibility) (store.Project, error)
	ListProjects(ctx context.Context, q store.ProjectQuery) (store.Page[store.Project], error)
	ProjectIDsForUser(ctx context.Context, userID string) ([]string, error)

	CreateBoard(ctx context.Context, b store.Board) (store.Board, error)
	GetBoard(ctx context.Context, id string, vis softdelete.Visibility) (store.Board, error)
	SaveBoard(ctx context.Context, b store.Board) error
	ListBoards(ctx context.Context, projectID string, vis softdelete.Visibility) ([]store.Board, error)

	CreateTask(ctx context.Context, t store.Task) (store.Task, error)
	GetTask(ctx context.Context, id string, vis softdelete.Visibility) (store.Task, error)
	SaveTask(ctx context.Context, t store.Task) error
	ListBoardTasks(ctx context.Context, boardID string) ([]store.Task, error)
	ListTasks(ctx context.Context, q store.TaskQuery) (store.Page[store.Task], error)
	SearchTasks(ctx context.Context, projectIDs []string, term string, limit int) ([]store.TaskHit, error)
	ListSearchableTasks(ctx context.Context) ([]store.TaskHit, error)
	ActiveTaskIDs(ctx context.Context, projectIDs, taskIDs []string) ([]string, error)

	InsertComment(ctx context.Context, c store.Comment) error
	GetComment(ctx context.Context, id string, vis softdelete.Visibility) (store.Comment, error)
	SaveComment(ctx context.Context, c store.Comment) error
	ListComments(ctx context.Context, taskID string, vis softdelete.Visibility) ([]store.Comment, error)

	InsertActivity(ctx context.Context, a store.ActivityLog) error
	ListProjectActivity(ctx context.Context, projectID string, limit int) ([]store.ActivityLog, error)
}

// Broadcaster fans events out to project rooms and personal user rooms.
type Broadcaster interface {
	Publish(projectID, name string, payload any) int
	Notify(userID, name string, payload any) int
	// Revoke removes userID's connections from the project room.
	Revoke(projectID, userID string) int
}

// BlobStore keeps uploaded attachment bodies.
type BlobStore interface {
	Put(ctx context.Context, taskID, filename string, body io.Reader, size int64, contentType string) (blob.Object, error)
	Remove(ctx context.Context, key string) error
}

// HookMode selects how post-commit hooks run.
type HookMode string

const (
	// HookSync runs hooks one after another before the operation returns.
	HookSync HookMode = "sync"
	// HookAsync runs every hook in its own goroutine; the operation returns
	// right after the commit.
	HookAsync HookMode = "async"
)

// Options are the optional collaborators of the service. A zero value is
// valid: no cache, no broadcaster, no notification delivery, no blob storage
// and database-only search.
type Options struct {
	Cache        cache.Cache
	Broadcaster  Broadcaster
	Dispatcher   notify.Dispatcher
	Search       *search.Service
	Blob         BlobStore
	Metrics      *metrics.Metrics
	Log          logr.Logger
	HookMode     HookMode
	CacheTTL     time.Duration
	InviteSecret []byte
	InviteTTL    time.Duration
	AppURL       string
}

// Service is the mutation pipeline and read side of projects, boards, tasks
// and comments.
type Service struct {
	store       dataStore
	cache       cache.Cache
	broadcaster Broadcaster
	dispatcher  notify.Dispatcher
	search      *search.Service
	blob        BlobStore
	metrics     *metrics.Metrics
	log         logr.Logger

	hookMode     HookMode
	hooks        []hook
	pending      sync.WaitGroup
	cacheTTL     time.Duration
	inviteSecret []byte
	inviteTTL    time.Duration
	appURL       string
	now          func() time.Time
}

func New(dataStore dataStore, opts Options) *Service {
	s := &Service{
		store:        dataStore,
		cache:        opts.Cache,
		broadcaster:  opts.Broadcaster,
		dispatcher:   opts.Dispatcher,
		search:       opts.Search,
		blob:         opts.Blob,
		metrics:      opts.Metrics,
		log:          opts.Log,
		hookMode:     opts.HookMode,
		cacheTTL:     opts.CacheTTL,
		inviteSecret: opts.InviteSecret,
		inviteTTL:    opts.InviteTTL,
		appURL:       opts.AppURL,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if s.log.GetSink() == nil {
		s.log = logr.Discard()
	}
	if s.cache == nil {
		s.cache = cache.Nop{}
	}
	if s.dispatcher == nil {
		s.dispatcher = notify.Nop{}
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewSQLSearch(dataStore), s.log)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.hookMode != HookAsync {
		s.hookMode = HookSync
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 5 * time.Minute
	}
	if s.inviteTTL <= 0 {
		s.inviteTTL = 7 * 24 * time.Hour
	}
	s.hooks = s.defaultHooks()
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Wait blocks until hooks started in async mode have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID    string
	Name      string
	Email     string
	IPAddress string
	UserAgent string
}

// ActorFromUser builds an Actor for a loaded user.
func ActorFromUser(u store.User) Actor {
	return Actor{UserID: u.ID, Name: u.Name, Email: u.Email}
}

// scope is a resolved, active project together with its roster.
type scope struct {
	project store.Project
	roster  *membership.Roster
}

// loadProject resolves an active project. Missing and soft-deleted projects
// are both NotFound.
func (s *Service) loadProject(ctx context.Context, projectID string) (scope, error) {
	return s.loadProjectVisible(ctx, projectID, softdelete.Active)
}

func (s *Service) loadProjectVisible(ctx context.Context, projectID string, vis softdelete.Visibility) (scope, error) {
	p, err := s.store.GetProject(ctx, projectID, vis)
	if err != nil {
		return scope{}, mapStoreErr(err, "Project not found")
	}
	roster, err := p.Roster()
	if err != nil {
		return scope{}, err
	}
	return scope{project: p, roster: roster}, nil
}

// resolveBoard walks board -> project; any missing or deleted link is
// NotFound.
func (s *Service) resolveBoard(ctx context.Context, boardID string, vis softdelete.Visibility) (store.Board, scope, error) {
	b, err := s.store.GetBoard(ctx, boardID, vis)
	if err != nil {
		return store.Board{}, scope{}, mapStoreErr(err, "Board not found")
	}
	sc, err := s.loadProject(ctx, b.ProjectID)
	if err != nil {
		return store.Board{}, scope{}, err
	}
	return b, sc, nil
}

func (s *Service) resolveTask(ctx context.Context, taskID string, vis softdelete.Visibility) (store.Task, store.Board, scope, error) {
	t, err := s.store.GetTask(ctx, taskID, vis)
	if err != nil {
		return store.Task{}, store.Board{}, scope{}, mapStoreErr(err, "Task not found")
	}
	b, sc, err := s.resolveBoard(ctx, t.BoardID, softdelete.Active)
	if err != nil {
		return store.Task{}, store.Board{}, scope{}, err
	}
	return t, b, sc, nil
}

func (s *Service) resolveComment(ctx context.Context, commentID string, vis softdelete.Visibility) (store.Comment, store.Task, scope, error) {
	c, err := s.store.GetComment(ctx, commentID, vis)
	if err != nil {
		return store.Comment{}, store.Task{}, scope{}, mapStoreErr(err, "Comment not found")
	}
	t, _, sc, err := s.resolveTask(ctx, c.TaskID, softdelete.Active)
	if err != nil {
		return store.Comment{}, store.Task{}, scope{}, err
	}
	return c, t, sc, nil
}

// require checks that userID holds at least role in the project.
func (sc scope) require(userID string, role rbac.Role) error {
	if !sc.roster.IsMember(userID) {
		return forbidden("You are not a member of this project")
	}
	if !sc.roster.HasPermission(userID, role) {
		return forbidden("Insufficient permissions")
	}
	return nil
}

// requireAction checks the minimum role for action.
func (sc scope) requireAction(userID string, action rbac.Action) error {
	role, ok := rbac.MinimumRole(action)
	if !ok {
		return forbidden("Insufficient permissions")
	}
	return sc.require(userID, role)
}

// ownerOrAdmin is the project owner or a member with per-project role admin.
func (sc scope) ownerOrAdmin(userID string) bool {
	if sc.roster.Owner() == userID {
		return true
	}
	role, ok := sc.roster.RoleOf(userID)
	return ok && role == rbac.RoleAdmin
}

func mapStoreErr(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(message)
	}
	return err
}

// readThrough serves key from the cache or loads and stores it. The key is
// pinned to the entity's generation read before loading, so a fill that
// races a write is stored under a generation the write already retired.
func readThrough[T any](ctx context.Context, s *Service, entity, key string, load func() (T, error)) (T, error) {
	gen, err := s.cache.Generation(ctx, cache.Prefix(entity))
	if err != nil {
		s.log.V(1).Info("cache generation unavailable, bypassing cache", "entity", entity, "err", err.Error())
		s.metrics.CacheResult(entity, false)
		return load()
	}
	key = cache.Versioned(key, gen)
	if v, ok := cache.GetJSON[T](ctx, s.cache, key); ok {
		s.metrics.CacheResult(entity, true)
		return v, nil
	}
	s.metrics.CacheResult(entity, false)
	v, err := load()
	if err != nil {
		return v, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, s.cacheTTL); err != nil {
		s.log.V(1).Info("cache set failed", "key", key, "err", err.Error())
	}
	return v, nil
}
