// Package model defines the domain types used across the application.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Service identifies a notification channel type.
type Service string

// Supported notification services.
const (
	ServiceDiscord  Service = "discord"
	ServiceSlack    Service = "slack"
	ServiceTelegram Service = "telegram"
	ServiceEmail    Service = "email"
)

// Feed represents a monitored RSS/Atom source and its notification setup.
type Feed struct {
	ID              int64
	Title           string
	URL             string
	IntervalMinutes int
	Paused          bool
	LastCheckedAt   *time.Time
	FieldsToSend    []string
	Bindings        []Binding
	Filter          *Filter
	CreatedAt       time.Time
}

// FilterMode controls how title and content patterns combine.
type FilterMode string

// Supported filter modes.
const (
	FilterModeAll FilterMode = "all"
	FilterModeAny FilterMode = "any"
)

// Filter holds optional regex patterns applied to incoming articles.
type Filter struct {
	TitlePattern   string     `json:"title_pattern,omitempty"`
	ContentPattern string     `json:"content_pattern,omitempty"`
	Mode           FilterMode `json:"mode,omitempty"`
}

// Binding associates a feed with one notification channel. Exactly one of
// ConnectionID and Inline is set.
type Binding struct {
	ConnectionID  int64          `json:"connection_id,omitempty"`
	Inline        *ChannelConfig `json:"inline,omitempty"`
	EmbedSettings *EmbedSettings `json:"embed_settings,omitempty"`
}

// ChannelConfig is the normalized configuration a sender needs. Which
// fields are meaningful depends on Service.
type ChannelConfig struct {
	Service    Service `json:"service"`
	WebhookURL string  `json:"webhook_url,omitempty"`
	Username   string  `json:"username,omitempty"`
	AvatarURL  string  `json:"avatar_url,omitempty"`
	BotToken   string  `json:"bot_token,omitempty"`
	ChatID     string  `json:"chat_id,omitempty"`
	Host       string  `json:"host,omitempty"`
	Port       int     `json:"port,omitempty"`
	User       string  `json:"user,omitempty"`
	Pass       string  `json:"pass,omitempty"`
	To         string  `json:"to,omitempty"`
}

// Connection is a reusable, named channel configuration. Config is an
// opaque string whose shape depends on the service: a webhook URL for
// Discord and Slack, "botToken:chatId" for Telegram, and a JSON object
// for email.
type Connection struct {
	ID        int64
	Service   Service
	Label     string
	Config    string
	CreatedAt time.Time
}

// Article is one entry parsed from a feed document at poll time. It is
// transient; only the (feed, identifier) pair is persisted.
type Article struct {
	Identifier  string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	PubDate     *time.Time
	Categories  []string
}

// ArticleFields lists the article field names in presentation order,
// used when a feed does not restrict fieldsToSend.
var ArticleFields = []string{"title", "link", "description", "content", "author", "pubDate", "categories"}

// Field returns the named article field as a string, or "" if unset.
func (a Article) Field(name string) string {
	switch name {
	case "identifier":
		return a.Identifier
	case "title":
		return a.Title
	case "link":
		return a.Link
	case "description", "contentSnippet":
		return a.Description
	case "content":
		return a.Content
	case "author":
		return a.Author
	case "pubDate":
		if a.PubDate == nil {
			return ""
		}
		return a.PubDate.UTC().Format(time.RFC3339)
	case "categories":
		return joinNonEmpty(a.Categories, ", ")
	}
	return ""
}

func joinNonEmpty(parts []string, sep string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}

// EmbedSettings configures Discord rich-embed formatting for a binding.
type EmbedSettings struct {
	Enabled bool            `json:"enabled"`
	Embeds  []EmbedTemplate `json:"embeds"`
}

// UnmarshalJSON accepts both the multi-embed format and the legacy form
// where "embeds" is a lone object instead of a list.
func (s *EmbedSettings) UnmarshalJSON(data []byte) error {
	var raw struct {
		Enabled bool            `json:"enabled"`
		Embeds  json.RawMessage `json:"embeds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Enabled = raw.Enabled
	s.Embeds = nil

	trimmed := bytes.TrimSpace(raw.Embeds)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '{' {
		var one EmbedTemplate
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return err
		}
		s.Embeds = []EmbedTemplate{one}
		return nil
	}
	return json.Unmarshal(trimmed, &s.Embeds)
}

// EmbedTemplate is one templated embed definition. Every string field may
// contain ${field} or ${field|fallback} placeholders resolved against the
// current article. Timestamp is "true" for the article's pubDate, empty
// to omit, or a template/literal value.
type EmbedTemplate struct {
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
	URL         string               `json:"url,omitempty"`
	Color       string               `json:"color,omitempty"`
	Author      *EmbedAuthorTemplate `json:"author,omitempty"`
	Footer      *EmbedFooterTemplate `json:"footer,omitempty"`
	Thumbnail   string               `json:"thumbnail,omitempty"`
	Image       string               `json:"image,omitempty"`
	Fields      []EmbedFieldTemplate `json:"fields,omitempty"`
	Timestamp   string               `json:"timestamp,omitempty"`
}

// EmbedAuthorTemplate is the templated author block of an embed.
type EmbedAuthorTemplate struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// EmbedFooterTemplate is the templated footer block of an embed.
type EmbedFooterTemplate struct {
	Text string `json:"text,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// EmbedFieldTemplate is one templated name/value field of an embed.
type EmbedFieldTemplate struct {
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is a channel-ready notification payload. Embeds is set only for
// Discord bindings with embed settings enabled.
type Message struct {
	Subject string
	Text    string
	HTML    string
	Embeds  []Embed
}

// Embed is a fully resolved Discord embed object, serialized as-is into
// the webhook payload. Optional sub-objects are nil when empty after
// interpolation so they are dropped from the JSON entirely.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	// Color always serializes: zero is a legitimate value (#000000).
	Color       int          `json:"color"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedAuthor is the resolved author block of an embed.
type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedFooter is the resolved footer block of an embed.
type EmbedFooter struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedMedia is a resolved thumbnail or image block.
type EmbedMedia struct {
	URL string `json:"url,omitempty"`
}

// EmbedField is one resolved name/value field of an embed.
type EmbedField struct {
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Inline bool   `json:"inline,omitempty"`
}

// DeliveryStatus is the per-channel outcome of one notification attempt.
type DeliveryStatus string

// Delivery outcomes.
const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery records the outcome of sending one article to one channel.
type Delivery struct {
	ID           int64
	FeedID       int64
	ArticleTitle string
	ArticleLink  string
	Channel      Service
	Status       DeliveryStatus
	Detail       string
	CreatedAt    time.Time
}

// FeedLog is one scan log line attached to a feed.
type FeedLog struct {
	ID        int64
	FeedID    int64
	Level     string
	Message   string
	CreatedAt time.Time
}

// FeedStat records timing and volume for one completed scan.
type FeedStat struct {
	ID          int64
	FeedID      int64
	DurationMS  int64
	NewArticles int
	CreatedAt   time.Time
}
