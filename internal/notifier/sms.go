package notifier

import (
	"context"
	"net/http"
	"strings"
	"time"

	"repay/internal/service"
)

// SMSConfig contains the messaging provider configuration.
type SMSConfig struct {
	BaseURL string
	APIKey  string
	Sender  string // Registered sender number
	Timeout time.Duration
}

// SMS sends templated messages (SMS or alimtalk) through the provider's
// REST API.
type SMS struct {
	url    string
	header http.Header
	sender string
	http   *http.Client
}

// NewSMS creates a new SMS client.
func NewSMS(cfg SMSConfig) *SMS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	header := http.Header{}
	header.Set("X-API-Key", cfg.APIKey)

	return &SMS{
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/v1/messages",
		header: header,
		sender: cfg.Sender,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

type messageRequest struct {
	To       string            `json:"to"`
	From     string            `json:"from,omitempty"`
	Template string            `json:"template"`
	Fields   map[string]string `json:"fields"`
}

// Send delivers one message.
func (s *SMS) Send(ctx context.Context, msg service.SMSMessage) error {
	return postJSON(ctx, s.http, s.url, s.header, messageRequest{
		To:       msg.To,
		From:     s.sender,
		Template: string(msg.Template),
		Fields:   msg.Fields,
	})
}

// Ensure SMS implements service.SMSSender.
var _ service.SMSSender = (*SMS)(nil)
