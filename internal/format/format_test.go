package format

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rssmonitor/internal/model"
)

func TestInterpolate(t *testing.T) {
	pub := time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC)
	article := model.Article{
		Title:   "Kubernetes 1.33 Released",
		Link:    "https://example.com/k8s-133",
		PubDate: &pub,
	}

	tests := []struct {
		name     string
		template string
		article  model.Article
		want     string
	}{
		{
			name:     "present field",
			template: "${title}",
			article:  model.Article{Title: "X"},
			want:     "X",
		},
		{
			name:     "missing field with fallback",
			template: "${missing|N/A}",
			article:  model.Article{},
			want:     "N/A",
		},
		{
			name:     "missing field without fallback stays templated",
			template: "${x}",
			article:  model.Article{},
			want:     "${x}",
		},
		{
			name:     "present field ignores fallback",
			template: "${title|fallback}",
			article:  model.Article{Title: "X"},
			want:     "X",
		},
		{
			name:     "empty fallback",
			template: "${missing|}",
			article:  model.Article{},
			want:     "",
		},
		{
			name:     "mixed text and placeholders",
			template: "New: ${title} (${link})",
			article:  article,
			want:     "New: Kubernetes 1.33 Released (https://example.com/k8s-133)",
		},
		{
			name:     "pubDate uses formatter table",
			template: "${pubDate}",
			article:  article,
			want:     "Mon, 12 May 2025 09:00:00 UTC",
		},
		{
			name:     "empty template",
			template: "",
			article:  article,
			want:     "",
		},
	}

	fmts := DefaultFormatters()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpolate(tt.template, tt.article, fmts)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("interpolate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	feed := model.Feed{
		Title:        "Cloud Native Digest",
		FieldsToSend: []string{"title", "link", "author"},
	}
	article := model.Article{
		Identifier: "cnd-101",
		Title:      "Kubernetes 1.33 Released",
		Link:       "https://example.com/k8s-133",
	}

	msg := PlainText(feed, article)

	wantText := "title: Kubernetes 1.33 Released\n" +
		"https://example.com/k8s-133\n" +
		"author: [not set]"
	if diff := cmp.Diff(wantText, msg.Text); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}

	wantHTML := "<div>title: Kubernetes 1.33 Released</div>" +
		"<div>https://example.com/k8s-133</div>" +
		"<div>author: [not set]</div>"
	if diff := cmp.Diff(wantHTML, msg.HTML); diff != "" {
		t.Errorf("html mismatch (-want +got):\n%s", diff)
	}

	wantSubject := "[Cloud Native Digest] Kubernetes 1.33 Released"
	if diff := cmp.Diff(wantSubject, msg.Subject); diff != "" {
		t.Errorf("subject mismatch (-want +got):\n%s", diff)
	}
}

func TestPlainTextDefaultsToAllFields(t *testing.T) {
	feed := model.Feed{Title: "Digest"}
	article := model.Article{Identifier: "a-1", Title: "Post"}

	msg := PlainText(feed, article)

	// One line per article field when fieldsToSend is empty.
	wantLines := len(model.ArticleFields)
	gotLines := len(splitLines(msg.Text))
	if diff := cmp.Diff(wantLines, gotLines); diff != "" {
		t.Errorf("line count mismatch (-want +got):\n%s", diff)
	}
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}

func TestBuildEmbeds(t *testing.T) {
	pub := time.Date(2025, 5, 12, 9, 0, 0, 0, time.UTC)
	article := model.Article{
		Identifier:  "cnd-101",
		Title:       "Kubernetes 1.33 Released",
		Link:        "https://example.com/k8s-133",
		Description: "Sidecar containers are stable.",
		PubDate:     &pub,
	}

	settings := model.EmbedSettings{
		Enabled: true,
		Embeds: []model.EmbedTemplate{
			{
				Title:       "${title}",
				Description: "${description|No summary}",
				Color:       "#FF8800",
				Footer:      &model.EmbedFooterTemplate{Text: "${author|the editors}"},
				Thumbnail:   "${thumbnail|}",
				Timestamp:   "true",
				Fields: []model.EmbedFieldTemplate{
					{Name: "Link", Value: "${link}", Inline: true},
					{Name: "${emptyName|}", Value: "${emptyValue|}"},
				},
			},
		},
	}

	embeds := BuildEmbeds(settings, article)
	if len(embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(embeds))
	}
	e := embeds[0]

	if diff := cmp.Diff("Kubernetes 1.33 Released", e.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Sidecar containers are stable.", e.Description); diff != "" {
		t.Errorf("description mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0xFF8800, e.Color); diff != "" {
		t.Errorf("color mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("https://example.com/k8s-133", e.URL); diff != "" {
		t.Errorf("url mismatch (-want +got):\n%s", diff)
	}
	if e.Thumbnail != nil {
		t.Errorf("empty thumbnail should be pruned, got %+v", e.Thumbnail)
	}
	if e.Footer == nil || e.Footer.Text != "the editors" {
		t.Errorf("footer fallback mismatch, got %+v", e.Footer)
	}
	if diff := cmp.Diff("2025-05-12T09:00:00Z", e.Timestamp); diff != "" {
		t.Errorf("timestamp mismatch (-want +got):\n%s", diff)
	}
	if len(e.Fields) != 1 {
		t.Fatalf("empty field should be pruned, got %d fields", len(e.Fields))
	}
	if diff := cmp.Diff("https://example.com/k8s-133", e.Fields[0].Value); diff != "" {
		t.Errorf("field value mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEmbedsPrunesEmptyFooter(t *testing.T) {
	article := model.Article{Identifier: "a-1", Title: "Post"}
	settings := model.EmbedSettings{
		Enabled: true,
		Embeds: []model.EmbedTemplate{
			{
				Title:  "${title}",
				Footer: &model.EmbedFooterTemplate{Text: "${author|}"},
			},
		},
	}

	embeds := BuildEmbeds(settings, article)
	if embeds[0].Footer != nil {
		t.Errorf("footer interpolating to empty must be dropped, got %+v", embeds[0].Footer)
	}
}

func TestBuildEmbedsDefaultColor(t *testing.T) {
	article := model.Article{Identifier: "a-1", Title: "Post"}
	settings := model.EmbedSettings{
		Enabled: true,
		Embeds:  []model.EmbedTemplate{{Title: "${title}"}},
	}

	embeds := BuildEmbeds(settings, article)
	if diff := cmp.Diff(0x5865F2, embeds[0].Color); diff != "" {
		t.Errorf("color mismatch (-want +got):\n%s", diff)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"#FF8800", 0xFF8800},
		{"ff8800", 0xFF8800},
		{"#000000", 0x000000},
		{"", 0x5865F2},
		{"#nothex", 0x5865F2},
	}
	for _, tt := range tests {
		if got := ParseColor(tt.in); got != tt.want {
			t.Errorf("ParseColor(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestEmbedColorSerializesZero(t *testing.T) {
	// Black is a real color choice; the wire payload must carry it.
	embed := model.Embed{Title: "Post", Color: ParseColor("#000000")}
	data, err := json.Marshal(embed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"color":0`) {
		t.Errorf("embed JSON dropped the zero color: %s", data)
	}
}

func TestForBinding(t *testing.T) {
	feed := model.Feed{Title: "Digest"}
	article := model.Article{Identifier: "a-1", Title: "Post"}
	settings := &model.EmbedSettings{
		Enabled: true,
		Embeds:  []model.EmbedTemplate{{Title: "${title}"}},
	}

	withEmbeds := ForBinding(feed, article, model.ServiceDiscord, settings)
	if len(withEmbeds.Embeds) != 1 {
		t.Errorf("discord binding with embeds enabled should carry embeds, got %d", len(withEmbeds.Embeds))
	}

	slack := ForBinding(feed, article, model.ServiceSlack, settings)
	if len(slack.Embeds) != 0 {
		t.Errorf("non-discord binding must not carry embeds, got %d", len(slack.Embeds))
	}

	disabled := ForBinding(feed, article, model.ServiceDiscord, &model.EmbedSettings{Enabled: false})
	if len(disabled.Embeds) != 0 {
		t.Errorf("disabled embed settings must not carry embeds, got %d", len(disabled.Embeds))
	}
}
