package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
)

// WebhookSender posts each notification as JSON to a fixed URL.
type WebhookSender struct {
	client *req.Client
	url    string
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		client: req.C().SetTimeout(10 * time.Second).SetUserAgent("trello-api-notify"),
		url:    url,
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	resp, err := s.client.R().SetContext(ctx).SetBody(n).Post(s.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
