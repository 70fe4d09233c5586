package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"rssmonitor/internal/model"
)

// Slack sends messages through a Slack incoming webhook.
type Slack struct {
	client HTTPClient
}

// NewSlack creates a Slack sender.
func NewSlack(client HTTPClient) *Slack {
	return &Slack{client: client}
}

// Send posts {text} to the configured webhook URL.
func (s *Slack) Send(ctx context.Context, cfg model.ChannelConfig, msg model.Message) error {
	if cfg.WebhookURL == "" {
		return &ConfigError{Service: model.ServiceSlack, Reason: "webhook URL missing"}
	}

	body, err := json.Marshal(map[string]string{"text": msg.Text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Service: model.ServiceSlack, Status: resp.StatusCode, Body: string(text)}
	}
	return nil
}
