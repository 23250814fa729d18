package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/samarth3282/trello-api/internal/store"
)

type recordingSender struct {
	mu   sync.Mutex
	name string
	got  []Notification
	err  error
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}

func TestInlineDeliversToEverySender(t *testing.T) {
	failing := &recordingSender{name: "email", err: errors.New("smtp down")}
	ok := &recordingSender{name: "webhook"}
	d := NewInline(logr.Discard(), failing, ok)

	err := d.Dispatch(context.Background(), Notification{Type: Mention, Recipient: Recipient{Email: "a@example.com"}})
	if err == nil {
		t.Fatalf("expected joined error from failing sender")
	}
	if len(ok.got) != 1 {
		t.Fatalf("healthy sender must still receive the notification")
	}

	if err := d.Dispatch(context.Background(), Notification{Type: Type("bogus")}); err != nil {
		t.Fatalf("unknown types are dropped, got %v", err)
	}
	if len(ok.got) != 1 {
		t.Fatalf("unknown type must not be delivered")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := NewRedisQueue(client, "")
	sender := &recordingSender{name: "email"}
	worker := NewWorker(queue, logr.Discard(), sender)
	worker.wait = 100 * time.Millisecond

	ctx := context.Background()
	n := Notification{Type: TaskAssignment, Recipient: Recipient{UserID: "usr_1", Email: "a@example.com"}, TemplateData: map[string]any{"taskTitle": "Ship"}}
	if err := queue.Dispatch(ctx, n); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if size, _ := queue.Len(ctx); size != 1 {
		t.Fatalf("expected 1 queued item, got %d", size)
	}

	got, err := worker.ProcessOne(ctx)
	if err != nil || !got {
		t.Fatalf("process: %v %v", got, err)
	}
	if len(sender.got) != 1 || sender.got[0].TemplateData["taskTitle"] != "Ship" {
		t.Fatalf("unexpected delivery %+v", sender.got)
	}

	if err := client.LPush(ctx, DefaultQueueKey, "{not json").Err(); err != nil {
		t.Fatalf("push garbage: %v", err)
	}
	if got, err := worker.ProcessOne(ctx); err != nil || !got {
		t.Fatalf("malformed payload should be consumed and skipped: %v %v", got, err)
	}
}

func TestWebhookSender(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		if received.Type == ProjectInvite {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL)
	if err := sender.Send(context.Background(), Notification{Type: ProjectInvite, Recipient: Recipient{Email: "b@example.com"}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if received.Recipient.Email != "b@example.com" {
		t.Fatalf("unexpected payload %+v", received)
	}
	if err := sender.Send(context.Background(), Notification{Type: Mention}); err == nil {
		t.Fatalf("expected error on 500")
	}
}

type fakeDigestSource struct {
	users []store.User
	tasks map[string][]store.Task
}

func (f fakeDigestSource) ListActiveUsers(context.Context) ([]store.User, error) { return f.users, nil }
func (f fakeDigestSource) ListOpenTasksAssignedTo(_ context.Context, userID string) ([]store.Task, error) {
	return f.tasks[userID], nil
}
func (f fakeDigestSource) ProjectIDsForUser(context.Context, string) ([]string, error) {
	return []string{"prj_1"}, nil
}
func (f fakeDigestSource) ListActivitySince(context.Context, []string, time.Time, int) ([]store.ActivityLog, error) {
	return []store.ActivityLog{{ID: "act_1"}}, nil
}

func TestDigestRunOnceSkipsUsersWithoutTasks(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	source := fakeDigestSource{
		users: []store.User{{ID: "usr_1", Email: "a@example.com", Name: "A"}, {ID: "usr_2", Email: "b@example.com", Name: "B"}},
		tasks: map[string][]store.Task{
			"usr_1": {{ID: "tsk_1", Title: "late", Status: store.StatusTodo, DueDate: &past}, {ID: "tsk_2", Title: "fine", Status: store.StatusReview}},
		},
	}
	sender := &recordingSender{name: "rec"}
	d := NewDigestScheduler(source, NewInline(logr.Discard(), sender), logr.Discard())

	sent, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if sent != 1 || len(sender.got) != 1 {
		t.Fatalf("expected one digest, got %d", sent)
	}
	data := sender.got[0].TemplateData
	if sender.got[0].Type != DailyDigest || data["overdueCount"] != 1 || data["activityCount"] != 1 {
		t.Fatalf("unexpected digest %+v", sender.got[0])
	}
}
