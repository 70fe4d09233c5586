package channel

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rssmonitor/internal/model"
)

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	client   HTTPClient
	endpoint string
}

// NewTelegram creates a Telegram sender using the public Bot API endpoint.
func NewTelegram(client HTTPClient) *Telegram {
	return &Telegram{client: client, endpoint: tgbotapi.APIEndpoint}
}

// NewTelegramWithEndpoint creates a sender against a custom API endpoint
// (useful for testing). The endpoint uses the Bot API format string, e.g.
// "https://api.telegram.org/bot%s/%s".
func NewTelegramWithEndpoint(client HTTPClient, endpoint string) *Telegram {
	return &Telegram{client: client, endpoint: endpoint}
}

// Send delivers msg.Text to the configured chat. The chat ID may be a
// numeric ID or a public @channel username.
func (t *Telegram) Send(ctx context.Context, cfg model.ChannelConfig, msg model.Message) error {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return &ConfigError{Service: model.ServiceTelegram, Reason: "bot token or chat ID missing"}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, t.endpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}

	var m tgbotapi.MessageConfig
	if id, perr := strconv.ParseInt(cfg.ChatID, 10, 64); perr == nil {
		m = tgbotapi.NewMessage(id, msg.Text)
	} else {
		m = tgbotapi.NewMessageToChannel(cfg.ChatID, msg.Text)
	}

	if _, err := bot.Send(m); err != nil {
		return &Error{Service: model.ServiceTelegram, Status: 0, Body: err.Error()}
	}
	return nil
}
