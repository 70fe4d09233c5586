// Package fetcher handles feed downloading and parsing into articles.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mmcdole/gofeed"

	"rssmonitor/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchError wraps any failure to retrieve or parse a feed document. It
// aborts the poll for the affected feed only.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads and parses RSS/Atom feeds. It imposes no timeout of
// its own; cancellation comes from the caller's context.
type Fetcher struct {
	client HTTPClient
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves the feed at url and returns its title and articles in
// source order (most recent first, as provided by the feed). Local files
// are addressed with a file:// URL; anything else is fetched over HTTP.
// Articles without a usable identifier are dropped.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, []model.Article, error) {
	var body string
	var err error
	if strings.HasPrefix(url, "file://") {
		body, err = readLocal(strings.TrimPrefix(url, "file://"))
	} else {
		body, err = f.fetchRemote(ctx, url)
	}
	if err != nil {
		return "", nil, &FetchError{URL: url, Err: err}
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(body)
	if err != nil {
		return "", nil, &FetchError{URL: url, Err: fmt.Errorf("parse feed: %w", err)}
	}
	return feed.Title, Normalize(feed.Items), nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "RSSMonitor/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

func readLocal(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// Identifier resolves the dedup key for a feed item. gofeed folds both
// the RSS guid and the Atom id into Item.GUID, so the precedence is
// GUID, then link. An empty result means the item cannot be tracked.
func Identifier(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// Normalize converts parsed feed items into articles, preserving source
// order. Items lacking any identifier are skipped entirely: they are
// never notified and never recorded.
func Normalize(items []*gofeed.Item) []model.Article {
	var articles []model.Article
	for _, item := range items {
		id := Identifier(item)
		if id == "" {
			continue
		}
		a := model.Article{
			Identifier:  id,
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
			Content:     item.Content,
			Categories:  item.Categories,
		}
		if item.Author != nil {
			a.Author = item.Author.Name
		}
		if item.PublishedParsed != nil {
			a.PubDate = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			a.PubDate = item.UpdatedParsed
		}
		articles = append(articles, a)
	}
	return articles
}
