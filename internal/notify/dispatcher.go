// Package notify orchestrates sending one article to a feed's configured
// channels and recording the per-channel outcome.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"rssmonitor/internal/channel"
	"rssmonitor/internal/events"
	"rssmonitor/internal/format"
	"rssmonitor/internal/model"
	"rssmonitor/internal/storage"
)

// ErrNoConnection is returned when a binding references a connection
// that does not exist.
var ErrNoConnection = errors.New("binding references unknown connection")

// Dispatcher fans one article out to a feed's bindings. Per-binding
// failures are recorded and do not abort sibling bindings; the aggregate
// of all failures is returned to the caller.
type Dispatcher struct {
	store   storage.Storage
	senders map[model.Service]channel.Sender
	hub     *events.Hub
	log     *slog.Logger
}

// New creates a Dispatcher.
func New(store storage.Storage, senders map[model.Service]channel.Sender, hub *events.Hub, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, senders: senders, hub: hub, log: log}
}

// Dispatch sends the article through every binding of the feed, in
// binding order. Each binding resolves to a {service, config} pair, gets
// its own formatted message, and records a sent or failed delivery. The
// returned error aggregates per-binding failures; a nil result means
// every binding succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, feed model.Feed, article model.Article) error {
	var errs error
	sent := 0

	for i, binding := range feed.Bindings {
		cfg, err := d.Resolve(ctx, binding)
		if err != nil {
			d.log.Error("resolve binding", "feed_id", feed.ID, "binding", i, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("binding %d: %w", i, err))
			continue
		}

		msg := format.ForBinding(feed, article, cfg.Service, binding.EmbedSettings)

		if err := d.sendOne(ctx, feed, article, cfg, msg); err != nil {
			d.log.Error("send notification",
				"feed_id", feed.ID, "service", cfg.Service, "article", article.Identifier, "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		sent++
		d.log.Info("notification sent",
			"feed_id", feed.ID, "service", cfg.Service, "article", articleLabel(article))
	}

	if sent > 0 && d.hub != nil {
		d.hub.Publish(events.Event{Type: events.FeedUpdate, FeedID: feed.ID})
	}
	return errs
}

func (d *Dispatcher) sendOne(ctx context.Context, feed model.Feed, article model.Article, cfg model.ChannelConfig, msg model.Message) error {
	sender, ok := d.senders[cfg.Service]
	if !ok {
		return &channel.ConfigError{Service: cfg.Service, Reason: "unknown service"}
	}

	err := sender.Send(ctx, cfg, msg)

	delivery := &model.Delivery{
		FeedID:       feed.ID,
		ArticleTitle: article.Title,
		ArticleLink:  article.Link,
		Channel:      cfg.Service,
		Status:       model.DeliverySent,
	}
	if err != nil {
		delivery.Status = model.DeliveryFailed
		delivery.Detail = err.Error()
	}
	if derr := d.store.AddDelivery(ctx, delivery); derr != nil {
		d.log.Error("record delivery", "feed_id", feed.ID, "error", derr)
	}
	return err
}

// SendTest delivers a test message through the binding without recording
// a delivery, for connection test endpoints.
func (d *Dispatcher) SendTest(ctx context.Context, binding model.Binding, msg model.Message) error {
	cfg, err := d.Resolve(ctx, binding)
	if err != nil {
		return err
	}
	sender, ok := d.senders[cfg.Service]
	if !ok {
		return &channel.ConfigError{Service: cfg.Service, Reason: "unknown service"}
	}
	return sender.Send(ctx, cfg, msg)
}

// Resolve turns a binding into the normalized {service, config} pair a
// sender needs: the inline configuration as-is, or the referenced
// connection's opaque config parsed per service.
func (d *Dispatcher) Resolve(ctx context.Context, b model.Binding) (model.ChannelConfig, error) {
	if b.Inline != nil {
		return *b.Inline, nil
	}
	if b.ConnectionID == 0 {
		return model.ChannelConfig{}, fmt.Errorf("binding has neither inline config nor connection")
	}

	conn, err := d.store.GetConnection(ctx, b.ConnectionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ChannelConfig{}, fmt.Errorf("%w: id %d", ErrNoConnection, b.ConnectionID)
		}
		return model.ChannelConfig{}, fmt.Errorf("get connection %d: %w", b.ConnectionID, err)
	}
	return ParseConnection(conn)
}

// ParseConnection decodes a connection's opaque config string into a
// normalized ChannelConfig. Discord and Slack store a bare webhook URL
// (or a JSON object with overrides), Telegram stores "botToken:chatId"
// packed into one string, and email stores a JSON object.
func ParseConnection(conn *model.Connection) (model.ChannelConfig, error) {
	cfg := model.ChannelConfig{Service: conn.Service}
	raw := strings.TrimSpace(conn.Config)

	switch conn.Service {
	case model.ServiceDiscord, model.ServiceSlack:
		if strings.HasPrefix(raw, "{") {
			if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s config: %w", conn.Service, err)
			}
			cfg.Service = conn.Service
		} else {
			cfg.WebhookURL = raw
		}
	case model.ServiceTelegram:
		// Bot tokens contain a colon themselves, so split on the last one.
		idx := strings.LastIndex(raw, ":")
		if idx <= 0 || idx == len(raw)-1 {
			return cfg, fmt.Errorf("telegram config must be botToken:chatId")
		}
		cfg.BotToken = raw[:idx]
		cfg.ChatID = raw[idx+1:]
	case model.ServiceEmail:
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return cfg, fmt.Errorf("parse email config: %w", err)
		}
		cfg.Service = model.ServiceEmail
	default:
		return cfg, fmt.Errorf("unknown service %q", conn.Service)
	}
	return cfg, nil
}

func articleLabel(a model.Article) string {
	if a.Title != "" {
		return a.Title
	}
	if a.Link != "" {
		return a.Link
	}
	return strconv.Quote(a.Identifier)
}
