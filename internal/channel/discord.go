package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"rssmonitor/internal/model"
)

var discordWebhookRe = regexp.MustCompile(`^https://discord\.com/api/webhooks/`)

type discordPayload struct {
	Content   string        `json:"content"`
	Embeds    []model.Embed `json:"embeds,omitempty"`
	Username  string        `json:"username,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
}

// Discord sends messages through a Discord webhook.
type Discord struct {
	client  HTTPClient
	limiter *rate.Limiter
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewDiscord creates a Discord sender. Webhooks allow roughly 30
// requests per minute, so sends are paced well inside that.
func NewDiscord(client HTTPClient) *Discord {
	return &Discord{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
	}
}

// Send posts the message to the configured webhook. The webhook URL is
// validated against the discord.com webhook pattern before any request
// is made. Embeds without a title or description get the plain text as
// description so Discord does not reject the payload.
func (d *Discord) Send(ctx context.Context, cfg model.ChannelConfig, msg model.Message) error {
	if !discordWebhookRe.MatchString(cfg.WebhookURL) {
		return &ConfigError{Service: model.ServiceDiscord, Reason: "invalid webhook URL"}
	}

	payload := discordPayload{
		Username:  cfg.Username,
		AvatarURL: cfg.AvatarURL,
	}
	if len(msg.Embeds) > 0 {
		payload.Embeds = make([]model.Embed, len(msg.Embeds))
		copy(payload.Embeds, msg.Embeds)
		for i := range payload.Embeds {
			e := &payload.Embeds[i]
			if e.Title == "" && e.Description == "" {
				e.Description = fallbackText(msg)
			}
		}
	} else {
		payload.Content = fallbackText(msg)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// 204 on success, no body.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Service: model.ServiceDiscord, Status: resp.StatusCode, Body: string(text)}
	}
	return nil
}

func fallbackText(msg model.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Subject != "" {
		return msg.Subject
	}
	return "New notification"
}
