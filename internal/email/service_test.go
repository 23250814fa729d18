package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"

	"github.com/samarth3282/trello-api/internal/notify"
)

type captureMailer struct {
	sent []*gomail.Message
	err  error
}

func (c *captureMailer) DialAndSend(m ...*gomail.Message) error {
	c.sent = append(c.sent, m...)
	return c.err
}

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: 587, From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: 587}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: 587, From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderEveryNotificationType(t *testing.T) {
	svc := NewService(Config{AppName: "Boards", AppURL: "https://boards.example.com"})
	cases := []struct {
		n       notify.Notification
		subject string
		body    string
	}{
		{
			n:       notify.Notification{Type: notify.Welcome, Recipient: notify.Recipient{Name: "Avery"}},
			subject: "Welcome to Boards",
			body:    "Welcome, Avery!",
		},
		{
			n: notify.Notification{Type: notify.ProjectInvite, TemplateData: map[string]any{
				"inviterName": "Sam", "projectName": "Launch", "role": "manager", "inviteToken": "tok123",
			}},
			subject: "Sam invited you to Launch",
			body:    "https://boards.example.com/accept-invite/tok123",
		},
		{
			n: notify.Notification{Type: notify.TaskAssignment, Recipient: notify.Recipient{Name: "Avery"}, TemplateData: map[string]any{
				"taskTitle": "Ship it", "assignerName": "Sam", "projectName": "Launch", "priority": "high", "taskId": "tsk_1",
			}},
			subject: "New task assigned: Ship it",
			body:    "/tasks/tsk_1",
		},
		{
			n: notify.Notification{Type: notify.Mention, TemplateData: map[string]any{
				"mentionerName": "Sam", "taskTitle": "Ship it", "commentContent": "<b>look</b>", "taskId": "tsk_1",
			}},
			subject: "Sam mentioned you",
			body:    "&lt;b&gt;look&lt;/b&gt;",
		},
		{
			n: notify.Notification{Type: notify.DailyDigest, TemplateData: map[string]any{
				"userName": "Avery", "overdueCount": 1, "activityCount": 3,
				"tasks": []map[string]any{{"title": "late", "status": "todo", "overdue": true}},
			}},
			subject: "Your daily digest",
			body:    "<strong>overdue</strong>",
		},
	}

	for _, tc := range cases {
		t.Run(string(tc.n.Type), func(t *testing.T) {
			subject, body, err := svc.Render(tc.n)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if subject != tc.subject {
				t.Errorf("subject = %q, want %q", subject, tc.subject)
			}
			if !strings.Contains(body, tc.body) {
				t.Errorf("body missing %q:\n%s", tc.body, body)
			}
		})
	}
}

func TestSendUsesDialer(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", FromName: "Boards"})
	capture := &captureMailer{}
	svc.dialer = capture

	err := svc.Send(context.Background(), notify.Notification{Type: notify.Welcome, Recipient: notify.Recipient{Email: "a@example.com", Name: "Avery"}})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(capture.sent) != 1 || capture.sent[0].GetHeader("Subject")[0] != "Welcome to Trello Clone" {
		t.Fatalf("unexpected messages %+v", capture.sent)
	}

	capture.err = errors.New("connection refused")
	if err := svc.Send(context.Background(), notify.Notification{Type: notify.Welcome, Recipient: notify.Recipient{Email: "a@example.com"}}); err == nil {
		t.Fatalf("expected dialer error to surface")
	}
	if err := svc.Send(context.Background(), notify.Notification{Type: notify.Welcome}); err == nil {
		t.Fatalf("expected missing recipient to fail")
	}
}
