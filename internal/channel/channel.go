// Package channel provides one sender per notification service. Each
// sender is a thin adapter translating a normalized message into that
// service's transport call.
package channel

import (
	"context"
	"fmt"
	"net/http"

	"rssmonitor/internal/model"
)

// Sender delivers one message through one service.
type Sender interface {
	Send(ctx context.Context, cfg model.ChannelConfig, msg model.Message) error
}

// Error reports a downstream send failure, carrying the service name and
// upstream status/text.
type Error struct {
	Service model.Service
	Status  int
	Body    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s send failed: status %d: %s", e.Service, e.Status, e.Body)
}

// ConfigError reports missing or invalid channel configuration. It aborts
// only the affected binding.
type ConfigError struct {
	Service model.Service
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s config: %s", e.Service, e.Reason)
}

// Senders builds the default sender set, one per supported service.
func Senders() map[model.Service]Sender {
	return map[model.Service]Sender{
		model.ServiceDiscord:  NewDiscord(http.DefaultClient),
		model.ServiceSlack:    NewSlack(http.DefaultClient),
		model.ServiceTelegram: NewTelegram(http.DefaultClient),
		model.ServiceEmail:    NewEmail(),
	}
}
