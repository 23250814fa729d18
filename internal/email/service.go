// Package email delivers notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"

	"github.com/samarth3282/trello-api/internal/notify"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	AppName  string
	AppURL   string
}

// mailer is the subset of gomail.Dialer the service uses.
type mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Service struct {
	config Config
	dialer mailer
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Trello Clone"
	}
	return &Service{
		config: config,
		dialer: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != 0 && s.config.From != ""
}

func (s *Service) Name() string { return "email" }

// Send renders the template for n.Type and mails it to the recipient.
func (s *Service) Send(_ context.Context, n notify.Notification) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if n.Recipient.Email == "" {
		return fmt.Errorf("notification %s has no recipient email", n.Type)
	}
	subject, body, err := s.Render(n)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.config.From, s.config.FromName)
	m.SetAddressHeader("To", n.Recipient.Email, n.Recipient.Name)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send %s email: %w", n.Type, err)
	}
	return nil
}

// Render returns the subject and HTML body for a notification.
func (s *Service) Render(n notify.Notification) (string, string, error) {
	tmpl, ok := templates[n.Type]
	if !ok {
		return "", "", fmt.Errorf("no email template for %q", n.Type)
	}
	data := templateData{
		AppName:   s.config.AppName,
		AppURL:    s.config.AppURL,
		Recipient: n.Recipient.Name,
		Data:      n.TemplateData,
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", n.Type, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", n.Type, err)
	}
	return subject.String(), body.String(), nil
}

type templateData struct {
	AppName   string
	AppURL    string
	Recipient string
	Data      map[string]any
}

type emailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) emailTemplate {
	return emailTemplate{
		subject: template.Must(template.New(name + "-subject").Parse(subject)),
		body:    template.Must(template.New(name).Parse(layoutStart + body + layoutEnd)),
	}
}

var templates = map[notify.Type]emailTemplate{
	notify.Welcome: mustTemplate("welcome",
		`Welcome to {{.AppName}}`,
		`<h2>Welcome, {{.Recipient}}!</h2>
<p>Your account is ready. Create your first project and invite your team.</p>
<p><a href="{{.AppURL}}">Open {{.AppName}}</a></p>`),
	notify.ProjectInvite: mustTemplate("project-invite",
		`{{index .Data "inviterName"}} invited you to {{index .Data "projectName"}}`,
		`<h2>You're invited</h2>
<p>{{index .Data "inviterName"}} invited you to join <strong>{{index .Data "projectName"}}</strong> as {{index .Data "role"}}.</p>
<p><a href="{{.AppURL}}/accept-invite/{{index .Data "inviteToken"}}">Accept invitation</a></p>
<p>This invitation expires in 7 days.</p>`),
	notify.TaskAssignment: mustTemplate("task-assignment",
		`New task assigned: {{index .Data "taskTitle"}}`,
		`<h2>Hi {{.Recipient}},</h2>
<p>{{index .Data "assignerName"}} assigned you <strong>{{index .Data "taskTitle"}}</strong> in {{index .Data "projectName"}}.</p>
<p>Priority: {{index .Data "priority"}}</p>
<p><a href="{{.AppURL}}/tasks/{{index .Data "taskId"}}">View task</a></p>`),
	notify.Mention: mustTemplate("mention",
		`{{index .Data "mentionerName"}} mentioned you`,
		`<h2>Hi {{.Recipient}},</h2>
<p>{{index .Data "mentionerName"}} mentioned you on <strong>{{index .Data "taskTitle"}}</strong>:</p>
<blockquote>{{index .Data "commentContent"}}</blockquote>
<p><a href="{{.AppURL}}/tasks/{{index .Data "taskId"}}">View comment</a></p>`),
	notify.DailyDigest: mustTemplate("daily-digest",
		`Your daily digest`,
		`<h2>Good morning, {{index .Data "userName"}}</h2>
<p>You have {{len (index .Data "tasks")}} open tasks ({{index .Data "overdueCount"}} overdue) and {{index .Data "activityCount"}} updates in your projects.</p>
<ul>{{range (index .Data "tasks")}}<li>{{index . "title"}} ({{index . "status"}}){{if index . "overdue"}} <strong>overdue</strong>{{end}}</li>{{end}}</ul>`),
}

const layoutStart = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
`

const layoutEnd = `
<p style="color: #999; font-size: 12px;">{{.AppName}}</p>
</body>
</html>`
