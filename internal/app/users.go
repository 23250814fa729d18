package app

import (
	"context"
	"net/http"

	"github.com/samarth3282/trello-api/internal/notify"
	"github.com/samarth3282/trello-api/internal/store"
)

// Welcome queues the welcome notification for a newly registered user.
func (s *Service) Welcome(ctx context.Context, u store.User) Effects {
	return s.commit(ctx, mutation{
		entity:   "user",
		action:   "register",
		entityID: u.ID,
		notifications: []notify.Notification{{
			Type:         notify.Welcome,
			Recipient:    notify.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
			TemplateData: map[string]any{"name": u.Name},
		}},
	})
}

// MetricsHandler serves the service's Prometheus registry.
func (s *Service) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}
