package notify

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/samarth3282/trello-api/internal/store"
)

// DigestSource is the read side the daily digest needs.
type DigestSource interface {
	ListActiveUsers(ctx context.Context) ([]store.User, error)
	ListOpenTasksAssignedTo(ctx context.Context, userID string) ([]store.Task, error)
	ProjectIDsForUser(ctx context.Context, userID string) ([]string, error)
	ListActivitySince(ctx context.Context, projectIDs []string, since time.Time, limit int) ([]store.ActivityLog, error)
}

// DigestScheduler enqueues a daily-digest notification for every active user
// with open assigned tasks.
type DigestScheduler struct {
	source     DigestSource
	dispatcher Dispatcher
	log        logr.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func NewDigestScheduler(source DigestSource, dispatcher Dispatcher, log logr.Logger) *DigestScheduler {
	return &DigestScheduler{
		source:     source,
		dispatcher: dispatcher,
		log:        log.WithName("digest"),
		cron:       cron.New(cron.WithLocation(time.UTC)),
		now:        time.Now,
	}
}

// Start schedules the digest with a standard five-field cron spec.
func (d *DigestScheduler) Start(spec string) error {
	_, err := d.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		sent, err := d.RunOnce(ctx)
		if err != nil {
			d.log.Error(err, "daily digest failed")
			return
		}
		d.log.Info("daily digest queued", "recipients", sent)
	})
	if err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop waits for a running digest to finish.
func (d *DigestScheduler) Stop() {
	<-d.cron.Stop().Done()
}

// RunOnce builds and dispatches digests now and returns how many were sent.
func (d *DigestScheduler) RunOnce(ctx context.Context) (int, error) {
	users, err := d.source.ListActiveUsers(ctx)
	if err != nil {
		return 0, err
	}
	since := d.now().Add(-24 * time.Hour)
	sent := 0
	for _, u := range users {
		tasks, err := d.source.ListOpenTasksAssignedTo(ctx, u.ID)
		if err != nil {
			return sent, err
		}
		if len(tasks) == 0 {
			continue
		}
		projectIDs, err := d.source.ProjectIDsForUser(ctx, u.ID)
		if err != nil {
			return sent, err
		}
		activity, err := d.source.ListActivitySince(ctx, projectIDs, since, 20)
		if err != nil {
			return sent, err
		}
		now := d.now()
		n := Notification{
			Type:      DailyDigest,
			Recipient: Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
			TemplateData: map[string]any{
				"userName": u.Name,
				"tasks": lo.Map(tasks, func(t store.Task, _ int) map[string]any {
					return map[string]any{"id": t.ID, "title": t.Title, "status": t.Status, "priority": t.Priority, "overdue": t.Overdue(now)}
				}),
				"overdueCount":  lo.CountBy(tasks, func(t store.Task) bool { return t.Overdue(now) }),
				"activityCount": len(activity),
			},
		}
		if err := d.dispatcher.Dispatch(ctx, n); err != nil {
			d.log.Error(err, "dispatch digest", "user", u.ID)
			continue
		}
		sent++
	}
	return sent, nil
}
