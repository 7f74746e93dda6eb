package notify

import (
	"context"
	"errors"

	"github.com/xpadev-net/watchlist-supervisor/internal/webhook"
)

// WebhookSubscriber delivers events as signed HTTP webhooks.
type WebhookSubscriber struct {
	sender *webhook.Sender
	url    string
}

// NewWebhookSubscriber creates a subscriber posting to url.
func NewWebhookSubscriber(sender *webhook.Sender, url string) *WebhookSubscriber {
	return &WebhookSubscriber{sender: sender, url: url}
}

// Name implements Subscriber.
func (w *WebhookSubscriber) Name() string {
	return "webhook"
}

// Deliver implements Subscriber.
func (w *WebhookSubscriber) Deliver(ctx context.Context, ev Event) error {
	result := w.sender.Send(ctx, w.url, ev.Type, ev)
	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}
