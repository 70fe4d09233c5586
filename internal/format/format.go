// Package format converts articles into channel-ready messages: plain
// text with per-feed field selection, and Discord embeds resolved from
// templated definitions.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"rssmonitor/internal/model"
)

// defaultEmbedColor is Discord blurple, used when a template has no color.
const defaultEmbedColor = "#5865F2"

var placeholderRe = regexp.MustCompile(`\$\{(\w+)(?:\|([^}]*))?\}`)

// Formatters maps an article field name to a presentation function
// applied to its value during interpolation.
type Formatters map[string]func(string) string

// DefaultFormatters returns the standard formatter table. pubDate is the
// single special case: it renders as a human-readable timestamp instead
// of raw RFC3339.
func DefaultFormatters() Formatters {
	return Formatters{
		"pubDate": formatPubDate,
	}
}

func formatPubDate(v string) string {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return v
	}
	return t.Format(time.RFC1123)
}

// Interpolate resolves ${field} and ${field|fallback} placeholders in
// template against the article. A present, non-empty field wins; an
// absent field falls back to the literal text after "|"; with no
// fallback the placeholder is left unchanged so broken templates stay
// visible instead of silently vanishing.
func Interpolate(template string, a model.Article, fmts Formatters) string {
	if template == "" {
		return ""
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		name := groups[1]
		value := a.Field(name)
		if value != "" {
			if f, ok := fmts[name]; ok {
				return f(value)
			}
			return value
		}
		if strings.Contains(match, "|") {
			return groups[2]
		}
		return match
	})
}

// PlainText builds the text, HTML, and subject for one article using the
// feed's fieldsToSend (all article fields when the list is empty). The
// link field is rendered bare; fields absent on the article render as
// "field: [not set]".
func PlainText(feed model.Feed, a model.Article) model.Message {
	fields := feed.FieldsToSend
	if len(fields) == 0 {
		fields = model.ArticleFields
	}

	var lines []string
	for _, name := range fields {
		value := a.Field(name)
		switch {
		case value == "":
			lines = append(lines, name+": [not set]")
		case name == "link":
			lines = append(lines, value)
		default:
			lines = append(lines, name+": "+value)
		}
	}

	var html strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&html, "<div>%s</div>", line)
	}

	return model.Message{
		Subject: fmt.Sprintf("[%s] %s", feed.Title, a.Title),
		Text:    strings.Join(lines, "\n"),
		HTML:    html.String(),
	}
}

// ForBinding produces the message for one article on one binding. Discord
// bindings with embed settings enabled get resolved embeds on top of the
// plain-text body; everything else gets plain text only.
func ForBinding(feed model.Feed, a model.Article, service model.Service, settings *model.EmbedSettings) model.Message {
	msg := PlainText(feed, a)
	if service == model.ServiceDiscord && settings != nil && settings.Enabled {
		msg.Embeds = BuildEmbeds(*settings, a)
	}
	return msg
}

// BuildEmbeds resolves every embed template against the article. Optional
// sub-objects that interpolate to nothing are dropped entirely rather
// than sent as empty objects.
func BuildEmbeds(settings model.EmbedSettings, a model.Article) []model.Embed {
	fmts := DefaultFormatters()
	embeds := make([]model.Embed, 0, len(settings.Embeds))
	for _, tpl := range settings.Embeds {
		e := model.Embed{
			Title:       Interpolate(tpl.Title, a, fmts),
			Description: Interpolate(tpl.Description, a, fmts),
			Color:       ParseColor(tpl.Color),
		}

		if tpl.URL != "" {
			e.URL = Interpolate(tpl.URL, a, fmts)
		} else {
			e.URL = a.Link
		}

		if tpl.Author != nil {
			name := Interpolate(tpl.Author.Name, a, fmts)
			if strings.TrimSpace(name) != "" {
				e.Author = &model.EmbedAuthor{
					Name:    name,
					URL:     Interpolate(tpl.Author.URL, a, fmts),
					IconURL: Interpolate(tpl.Author.Icon, a, fmts),
				}
			}
		}
		if tpl.Footer != nil {
			text := Interpolate(tpl.Footer.Text, a, fmts)
			if strings.TrimSpace(text) != "" {
				e.Footer = &model.EmbedFooter{
					Text:    text,
					IconURL: Interpolate(tpl.Footer.Icon, a, fmts),
				}
			}
		}
		if url := strings.TrimSpace(Interpolate(tpl.Thumbnail, a, fmts)); url != "" {
			e.Thumbnail = &model.EmbedMedia{URL: url}
		}
		if url := strings.TrimSpace(Interpolate(tpl.Image, a, fmts)); url != "" {
			e.Image = &model.EmbedMedia{URL: url}
		}

		for _, f := range tpl.Fields {
			name := Interpolate(f.Name, a, fmts)
			value := Interpolate(f.Value, a, fmts)
			if strings.TrimSpace(name) == "" && strings.TrimSpace(value) == "" {
				continue
			}
			e.Fields = append(e.Fields, model.EmbedField{Name: name, Value: value, Inline: f.Inline})
		}

		e.Timestamp = resolveTimestamp(tpl.Timestamp, a, fmts)

		embeds = append(embeds, e)
	}
	return embeds
}

func resolveTimestamp(tpl string, a model.Article, fmts Formatters) string {
	switch tpl {
	case "", "false":
		return ""
	case "true":
		if a.PubDate == nil {
			return ""
		}
		return a.PubDate.UTC().Format(time.RFC3339)
	default:
		v := Interpolate(tpl, a, fmts)
		if v == tpl && strings.Contains(tpl, "${") {
			return ""
		}
		return v
	}
}

// ParseColor converts a "#RRGGBB" hex string to the integer Discord
// expects. Invalid or empty input falls back to the default color.
func ParseColor(hex string) int {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if s == "" {
		s = strings.TrimPrefix(defaultEmbedColor, "#")
	}
	n, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		n, _ = strconv.ParseInt(strings.TrimPrefix(defaultEmbedColor, "#"), 16, 32)
	}
	return int(n)
}
