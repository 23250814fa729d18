package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/samarth3282/trello-api/internal/membership"
	"github.com/samarth3282/trello-api/internal/rbac"
	"github.com/samarth3282/trello-api/internal/softdelete"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Connect(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.DB().Close() })
	return s
}

func seedUser(t *testing.T, s *SQLStore, id, email string) User {
	t.Helper()
	u := User{ID: id, Name: id, Email: email, PasswordHash: "x", Role: "member", IsActive: true, CreatedAt: t0, UpdatedAt: t0}
	if err := s.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}

func seedProject(t *testing.T, s *SQLStore, id, owner string, extra ...membership.Member) Project {
	t.Helper()
	p := Project{
		ID: id, Name: "Project " + id, OwnerID: owner, Color: DefaultProjectColor,
		Members:   append([]membership.Member{{UserID: owner, Role: rbac.RoleAdmin, JoinedAt: t0}}, extra...),
		CreatedAt: t0, UpdatedAt: t0,
	}
	if err := s.InsertProject(context.Background(), p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return p
}

func TestUsersAndRefreshSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "usr_a", "Alice@Example.com")

	got, err := s.GetUserByEmail(ctx, "alice@example.COM")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != "usr_a" || got.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", got)
	}

	if err := s.InsertUser(ctx, User{ID: "usr_dup", Name: "dup", Email: "alice@example.com", PasswordHash: "x", Role: "member", CreatedAt: t0, UpdatedAt: t0}); err == nil {
		t.Fatalf("expected unique email violation")
	}

	if err := s.SaveRefreshSession(ctx, "hash1", "usr_a", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save session: %v", err)
	}
	userID, err := s.LookupRefreshSession(ctx, "hash1")
	if err != nil || userID != "usr_a" {
		t.Fatalf("lookup session: %q %v", userID, err)
	}
	if err := s.RevokeRefreshSession(ctx, "hash1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "hash1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected revoked session to be gone, got %v", err)
	}
}

func TestProjectMembersPersistAtomically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "usr_owner", "owner@example.com")
	seedUser(t, s, "usr_b", "b@example.com")
	p := seedProject(t, s, "prj_1", "usr_owner")

	p.Members = append(p.Members, membership.Member{UserID: "usr_b", Role: rbac.RoleManager, JoinedAt: t0})
	p.Name = "Renamed"
	p.UpdatedAt = t0.Add(time.Minute)
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("save project: %v", err)
	}

	got, err := s.GetProject(ctx, "prj_1", softdelete.Active)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Name != "Renamed" || len(got.Members) != 2 {
		t.Fatalf("unexpected project %+v", got)
	}
	roster, err := got.Roster()
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if role, _ := roster.RoleOf("usr_b"); role != rbac.RoleManager {
		t.Fatalf("expected manager, got %q", role)
	}

	page, err := s.ListProjects(ctx, ProjectQuery{UserID: "usr_b"})
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "prj_1" {
		t.Fatalf("expected member to see project, got %+v", page)
	}
}

func TestSoftDeletedProjectHiddenFromDefaultReads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "usr_owner", "owner@example.com")
	p := seedProject(t, s, "prj_1", "usr_owner")

	p.SoftDelete(t0.Add(time.Hour))
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := s.GetProject(ctx, "prj_1", softdelete.Active); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	deleted, err := s.GetProject(ctx, "prj_1", softdelete.All)
	if err != nil || !deleted.IsDeleted() {
		t.Fatalf("expected deleted project via opt-in, got %v", err)
	}
	page, err := s.ListProjects(ctx, ProjectQuery{UserID: "usr_owner"})
	if err != nil || page.Total != 0 {
		t.Fatalf("expected empty list, got %+v %v", page, err)
	}
}

func TestBoardAndTaskOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "usr_owner", "owner@example.com")
	seedProject(t, s, "prj_1", "usr_owner")

	var boards []Board
	for i, id := range []string{"brd_1", "brd_2", "brd_3"} {
		b, err := s.CreateBoard(ctx, Board{ID: id, ProjectID: "prj_1", Name: id, Color: DefaultBoardColor, CreatedAt: t0, UpdatedAt: t0})
		if err != nil {
			t.Fatalf("create board: %v", err)
		}
		if b.Order != i+1 {
			t.Fatalf("board %s got order %d, want %d", id, b.Order, i+1)
		}
		boards = append(boards, b)
	}

	explicit, err := s.CreateBoard(ctx, Board{ID: "brd_x", ProjectID: "prj_1", Name: "x", Order: 10, Color: DefaultBoardColor, CreatedAt: t0, UpdatedAt: t0})
	if err != nil || explicit.Order != 10 {
		t.Fatalf("explicit order: %d %v", explicit.Order, err)
	}

	boards[2].SoftDelete(t0)
	if err := s.SaveBoard(ctx, boards[2]); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	next, err := s.CreateBoard(ctx, Board{ID: "brd_4", ProjectID: "prj_1", Name: "4", Color: DefaultBoardColor, CreatedAt: t0, UpdatedAt: t0})
	if err != nil || next.Order != 11 {
		t.Fatalf("expected order after max sibling, got %d %v", next.Order, err)
	}

	first, err := s.CreateTask(ctx, Task{ID: "tsk_1", BoardID: "brd_1", Title: "a", Status: StatusTodo, Priority: PriorityMedium, CreatedBy: "usr_owner", CreatedAt: t0, UpdatedAt: t0})
	if err != nil || first.Order != 1 {
		t.Fatalf("first task order: %d %v", first.Order, err)
	}
	other, err := s.CreateTask(ctx, Task{ID: "tsk_2", BoardID: "brd_2", Title: "b", Status: StatusTodo, Priority: PriorityMedium, CreatedBy: "usr_owner", CreatedAt: t0, UpdatedAt: t0})
	if err != nil || other.Order != 1 {
		t.Fatalf("orders are per board: %d %v", other.Order, err)
	}

	active, err := s.ListBoards(ctx, "prj_1", softdelete.Active)
	if err != nil || len(active) != 4 {
		t.Fatalf("expected 4 active boards, got %d %v", len(active), err)
	}
}

func TestListTasksFiltersAndActiveChain(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "usr_owner", "owner@example.com")
	seedUser(t, s, "usr_out", "out@example.com")
	seedProject(t, s, "prj_1", "usr_owner")
	board, err := s.CreateBoard(ctx, Board{ID: "brd_1", ProjectID: "prj_1", Name: "b", Color: DefaultBoardColor, CreatedAt: t0, UpdatedAt: t0})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}

	due := time.Date(2026, 5, 3, 15, 0, 0, 0, time.UTC)
	assignee := "usr_owner"
	tasks := []Task{
		{ID: "tsk_1", Title: "Write docs", Status: StatusTodo, Priority: PriorityHigh, Tags: []string{"docs"}, DueDate: &due, AssignedTo: &assignee},
		{ID: "tsk_2", Title: "Fix login bug", Status: StatusDone, Priority: PriorityLow, Tags: []string{"bug"}},
		{ID: "tsk_3", Title: "Review docs", Status: StatusReview, Priority: PriorityHigh, Tags: []string{"docs", "review"}},
	}
	for _, task := range tasks {
		task.BoardID = board.ID
		task.CreatedBy = "usr_owner"
		task.CreatedAt, task.UpdatedAt = t0, t0
		if _, err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}

	cases := []struct {
		name string
		q    TaskQuery
		want int
	}{
		{name: "all", q: TaskQuery{UserID: "usr_owner"}, want: 3},
		{name: "outsider", q: TaskQuery{UserID: "usr_out"}, want: 0},
		{name: "status", q: TaskQuery{UserID: "usr_owner", Status: StatusDone}, want: 1},
		{name: "priority", q: TaskQuery{UserID: "usr_owner", Priority: PriorityHigh}, want: 2},
		{name: "tag", q: TaskQuery{UserID: "usr_owner", Tag: "docs"}, want: 2},
		{name: "assignee", q: TaskQuery{UserID: "usr_owner", AssignedTo: "usr_owner"}, want: 1},
		{name: "due day", q: TaskQuery{UserID: "usr_owner", DueOn: &due}, want: 1},
		{name: "search", q: TaskQuery{UserID: "usr_owner", Search: "docs"}, want: 2},
		{name: "page size", q: TaskQuery{UserID: "usr_owner", Limit: 2, Page: 2}, want: 1},
		{name: "page past the end", q: TaskQuery{UserID: "usr_owner", Limit: 100, Page: math.MaxInt}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := s.ListTasks(ctx, tc.q)
			if err != nil {
				t.Fatalf("list tasks: %v", err)
			}
			if len(page.Items) != tc.want {
				t.Fatalf("got %d tasks, want %d", len(page.Items), tc.want)
			}
		})
	}

	projects, err := s.ListProjects(ctx, ProjectQuery{UserID: "usr_owner", Page: math.MaxInt, Limit: 100})
	if err != nil || len(projects.Items) != 0 || projects.Total != 1 || projects.Page != maxPage {
		t.Fatalf("huge project page: got %+v %v", projects, err)
	}

	hits, err := s.SearchTasks(ctx, []string{"prj_1"}, "DOCS", 10)
	if err != nil || len(hits) != 2 || hits[0].ProjectID != "prj_1" {
		t.Fatalf("search: got %d hits %v", len(hits), err)
	}
	searchable, err := s.ListSearchableTasks(ctx)
	if err != nil || len(searchable) != 3 {
		t.Fatalf("searchable: got %d %v", len(searchable), err)
	}

	ids, err := s.ActiveTaskIDs(ctx, []string{"prj_1"}, []string{"tsk_1", "tsk_2", "tsk_missing"})
	if err != nil || len(ids) != 2 {
		t.Fatalf("active ids: got %v %v", ids, err)
	}
	if ids, err := s.ActiveTaskIDs(ctx, []string{"prj_other"}, []string{"tsk_1"}); err != nil || len(ids) != 0 {
		t.Fatalf("active ids outside the caller's projects: got %v %v", ids, err)
	}

	board.SoftDelete(t0)
	if err := s.SaveBoard(ctx, board); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if ids, err := s.ActiveTaskIDs(ctx, []string{"prj_1"}, []string{"tsk_1"}); err != nil || len(ids) != 0 {
		t.Fatalf("tasks of a deleted board are not active, got %v %v", ids, err)
	}
	if searchable, err := s.ListSearchableTasks(ctx); err != nil || len(searchable) != 0 {
		t.Fatalf("tasks of a deleted board are not searchable, got %d %v", len(searchable), err)
	}
	page, err := s.ListTasks(ctx, TaskQuery{UserID: "usr_owner"})
	if err != nil || page.Total != 0 {
		t.Fatalf("tasks of a deleted board must be hidden, got %d %v", page.Total, err)
	}
	// the task itself is untouched
	if task, err := s.GetTask(ctx, "tsk_1", softdelete.Active); err != nil || task.IsDeleted() {
		t.Fatalf("expected task row to remain active, got %v", err)
	}
}

func TestCommentsAndActivity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "usr_owner", "owner@example.com")
	seedProject(t, s, "prj_1", "usr_owner")
	if _, err := s.CreateBoard(ctx, Board{ID: "brd_1", ProjectID: "prj_1", Name: "b", Color: DefaultBoardColor, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("create board: %v", err)
	}
	if _, err := s.CreateTask(ctx, Task{ID: "tsk_1", BoardID: "brd_1", Title: "t", Status: StatusTodo, Priority: PriorityMedium, CreatedBy: "usr_owner", CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	c := Comment{ID: "cmt_1", TaskID: "tsk_1", AuthorID: "usr_owner", Content: "hi @[usr_owner]", Mentions: []string{"usr_owner"}, CreatedAt: t0, UpdatedAt: t0}
	if err := s.InsertComment(ctx, c); err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	edited := t0.Add(time.Minute)
	c.Content, c.IsEdited, c.EditedAt, c.UpdatedAt = "edited", true, &edited, edited
	if err := s.SaveComment(ctx, c); err != nil {
		t.Fatalf("save comment: %v", err)
	}
	got, err := s.GetComment(ctx, "cmt_1", softdelete.Active)
	if err != nil || !got.IsEdited || got.Content != "edited" || len(got.Mentions) != 1 {
		t.Fatalf("unexpected comment %+v %v", got, err)
	}

	for i, action := range []string{"create", "update"} {
		err := s.InsertActivity(ctx, ActivityLog{
			ID: "act_" + action, UserID: "usr_owner", Action: action, Entity: "task", EntityID: "tsk_1",
			ProjectID: "prj_1", Changes: map[string]any{"status": "done"}, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert activity: %v", err)
		}
	}
	logs, err := s.ListProjectActivity(ctx, "prj_1", 10)
	if err != nil || len(logs) != 2 {
		t.Fatalf("list activity: %d %v", len(logs), err)
	}
	if logs[0].Action != "update" || logs[0].Changes["status"] != "done" {
		t.Fatalf("expected newest first with changes, got %+v", logs[0])
	}
}

func TestRebind(t *testing.T) {
	got := Postgres.Rebind(`SELECT * FROM t WHERE a=? AND b IN (?,?)`)
	want := `SELECT * FROM t WHERE a=$1 AND b IN ($2,$3)`
	if got != want {
		t.Fatalf("Rebind = %q, want %q", got, want)
	}
	if SQLite.Rebind("a=?") != "a=?" {
		t.Fatalf("sqlite queries must keep ? placeholders")
	}
}
