// Package notify carries notification payloads from the mutation pipeline to
// delivery channels (email, webhook) through an optional Redis queue.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

type Type string

const (
	Welcome        Type = "welcome"
	ProjectInvite  Type = "project-invite"
	TaskAssignment Type = "task-assignment"
	Mention        Type = "mention"
	DailyDigest    Type = "daily-digest"
)

func (t Type) Valid() bool {
	switch t {
	case Welcome, ProjectInvite, TaskAssignment, Mention, DailyDigest:
		return true
	}
	return false
}

type Recipient struct {
	UserID string `json:"userId,omitempty"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

type Notification struct {
	Type         Type           `json:"type"`
	Recipient    Recipient      `json:"recipient"`
	TemplateData map[string]any `json:"templateData,omitempty"`
}

// Dispatcher accepts a notification for eventual delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Sender delivers a notification over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Dispatch(context.Context, Notification) error { return nil }

// Inline delivers synchronously to every sender; used when no queue is
// configured.
type Inline struct {
	senders []Sender
	log     logr.Logger
}

func NewInline(log logr.Logger, senders ...Sender) *Inline {
	return &Inline{senders: senders, log: log.WithName("notify")}
}

func (d *Inline) Dispatch(ctx context.Context, n Notification) error {
	return deliver(ctx, d.log, d.senders, n)
}

// deliver hands n to every sender; one failing channel does not stop the
// others.
func deliver(ctx context.Context, log logr.Logger, senders []Sender, n Notification) error {
	if !n.Type.Valid() {
		log.Info("dropping notification with unknown type", "type", string(n.Type))
		return nil
	}
	var errs []error
	for _, s := range senders {
		if err := s.Send(ctx, n); err != nil {
			log.Error(err, "notification delivery failed", "sender", s.Name(), "type", string(n.Type), "recipient", n.Recipient.Email)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
