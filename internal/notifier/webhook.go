package notifier

import (
	"context"
	"net/http"

	"repay/internal/service"
)

// Webhook posts text to a Slack-compatible incoming webhook.
type Webhook struct {
	url  string
	http *http.Client
}

// NewWebhook creates a new Webhook.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:  url,
		http: &http.Client{Timeout: defaultTimeout},
	}
}

// Post sends one line of text.
func (w *Webhook) Post(ctx context.Context, text string) error {
	return postJSON(ctx, w.http, w.url, nil, map[string]string{"text": text})
}

// Ensure Webhook implements service.WebhookPoster.
var _ service.WebhookPoster = (*Webhook)(nil)
