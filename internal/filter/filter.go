// Package filter implements the article matching rules attached to feeds.
package filter

import (
	"fmt"
	"regexp"

	"rssmonitor/internal/model"
)

// Match reports whether an article passes a feed's filter. A nil filter
// or one with no patterns passes everything. Patterns are case-insensitive
// regular expressions; the title pattern matches the article title, the
// content pattern matches the content (falling back to the description).
// Mode "all" requires every configured pattern to match, mode "any"
// requires at least one.
func Match(a model.Article, f *model.Filter) bool {
	if f == nil || (f.TitlePattern == "" && f.ContentPattern == "") {
		return true
	}

	titleOK := f.TitlePattern == "" || matches(f.TitlePattern, a.Title)

	content := a.Content
	if content == "" {
		content = a.Description
	}
	contentOK := f.ContentPattern == "" || matches(f.ContentPattern, content)

	if f.Mode == model.FilterModeAny {
		return (f.TitlePattern != "" && titleOK) || (f.ContentPattern != "" && contentOK)
	}
	return titleOK && contentOK
}

func matches(pattern, text string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// Validate checks that a filter's patterns compile.
func Validate(f *model.Filter) error {
	if f == nil {
		return nil
	}
	for _, p := range []string{f.TitlePattern, f.ContentPattern} {
		if p == "" {
			continue
		}
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("invalid regex %q: %w", p, err)
		}
	}
	return nil
}
