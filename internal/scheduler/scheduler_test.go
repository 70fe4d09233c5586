package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rssmonitor/internal/fetcher"
	"rssmonitor/internal/model"
	"rssmonitor/internal/storage"
)

// mockTransport serves a swappable response body so a test can change
// the feed contents between scans.
type mockTransport struct {
	mu     sync.Mutex
	status int
	body   []byte
	err    error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewReader(m.body)),
	}, nil
}

func (m *mockTransport) set(status int, body []byte) {
	m.mu.Lock()
	m.status = status
	m.body = body
	m.mu.Unlock()
}

// gatedTransport blocks every request until released, then honors the
// request context the way real transports do.
type gatedTransport struct {
	release chan struct{}
	body    []byte
}

func (g *gatedTransport) Do(req *http.Request) (*http.Response, error) {
	<-g.release
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(g.body)),
	}, nil
}

// fakeDispatcher records the articles it is handed.
type fakeDispatcher struct {
	mu    sync.Mutex
	fail  error
	calls []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ model.Feed, article model.Article) error {
	f.mu.Lock()
	f.calls = append(f.calls, article.Identifier)
	f.mu.Unlock()
	return f.fail
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("../../testdata/" + name)
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestScheduler(t *testing.T, store storage.Storage, transport fetcher.HTTPClient, d Dispatcher) *Scheduler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithFetcher(store, fetcher.New(transport), d, nil, log)
}

func createFeed(t *testing.T, store storage.Storage, feed model.Feed) model.Feed {
	t.Helper()
	if feed.URL == "" {
		feed.URL = "https://example.com/rss"
	}
	if feed.IntervalMinutes == 0 {
		feed.IntervalMinutes = 5
	}
	if err := store.CreateFeed(context.Background(), &feed); err != nil {
		t.Fatalf("create feed: %v", err)
	}
	return feed
}

func TestScanFeedDispatchesNewArticles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{status: http.StatusOK, body: loadFixture(t, "sample.xml")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	feed := createFeed(t, store, model.Feed{Title: "Digest"})

	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{
		"cnd-101",
		"cnd-102",
		"https://cloudnative.example.com/posts/etcd-tuning",
		"cnd-104",
	}
	if diff := cmp.Diff(want, dispatcher.dispatched()); diff != "" {
		t.Errorf("dispatched articles mismatch (-want +got):\n%s", diff)
	}

	for _, id := range want {
		exists, err := store.NotificationExists(ctx, feed.ID, id)
		if err != nil {
			t.Fatalf("notification exists: %v", err)
		}
		if !exists {
			t.Errorf("article %q not claimed", id)
		}
	}

	got, err := store.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.LastCheckedAt == nil {
		t.Error("expected LastCheckedAt after scan")
	}

	stats, err := store.ListFeedStats(ctx, feed.ID, 10)
	if err != nil {
		t.Fatalf("list stats: %v", err)
	}
	if len(stats) != 1 || stats[0].NewArticles != 4 {
		t.Errorf("expected one stat with 4 new articles, got %+v", stats)
	}
}

func TestScanFeedIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{status: http.StatusOK, body: loadFixture(t, "sample.xml")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	feed := createFeed(t, store, model.Feed{Title: "Digest"})

	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	first := len(dispatcher.dispatched())

	// Same document again: nothing new.
	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if got := len(dispatcher.dispatched()); got != first {
		t.Fatalf("rescan of unchanged feed dispatched %d extra articles", got-first)
	}

	// Updated document: exactly the one unseen article fires.
	transport.set(http.StatusOK, loadFixture(t, "sample_update.xml"))
	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("third scan: %v", err)
	}
	calls := dispatcher.dispatched()
	if len(calls) != first+1 {
		t.Fatalf("expected exactly one new dispatch, got %d", len(calls)-first)
	}
	if diff := cmp.Diff("cnd-106", calls[len(calls)-1]); diff != "" {
		t.Errorf("new article mismatch (-want +got):\n%s", diff)
	}
}

func TestScanFeedAppliesFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{status: http.StatusOK, body: loadFixture(t, "sample.xml")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	feed := createFeed(t, store, model.Feed{
		Title:  "Digest",
		Filter: &model.Filter{TitlePattern: "terraform", Mode: model.FilterModeAny},
	})

	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if diff := cmp.Diff([]string{"cnd-102"}, dispatcher.dispatched()); diff != "" {
		t.Errorf("filtered dispatch mismatch (-want +got):\n%s", diff)
	}

	// Filtered-out articles are not claimed either; a later filter change
	// can still notify them.
	exists, err := store.NotificationExists(ctx, feed.ID, "cnd-101")
	if err != nil {
		t.Fatalf("notification exists: %v", err)
	}
	if exists {
		t.Error("filtered-out article should not be claimed")
	}
}

func TestScanFeedFetchErrorStillFinishes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{err: errors.New("connection refused")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	feed := createFeed(t, store, model.Feed{Title: "Digest"})

	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if got := dispatcher.dispatched(); len(got) != 0 {
		t.Errorf("nothing should dispatch on fetch failure, got %v", got)
	}

	// A failed scan still stamps the feed and records a stat, so a broken
	// feed does not get retried on every tick.
	got, err := store.GetFeed(ctx, feed.ID)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	if got.LastCheckedAt == nil {
		t.Error("expected LastCheckedAt after failed scan")
	}
	stats, err := store.ListFeedStats(ctx, feed.ID, 10)
	if err != nil {
		t.Fatalf("list stats: %v", err)
	}
	if len(stats) != 1 || stats[0].NewArticles != 0 {
		t.Errorf("expected one zero-article stat, got %+v", stats)
	}

	logs, err := store.ListFeedLogs(ctx, feed.ID, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	found := false
	for _, l := range logs {
		if l.Level == "error" {
			found = true
		}
	}
	if !found {
		t.Error("expected an error log entry for the failed fetch")
	}
}

func TestCheckAllIntervalGating(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{status: http.StatusOK, body: loadFixture(t, "sample.xml")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	createFeed(t, store, model.Feed{Title: "Digest", IntervalMinutes: 5})

	// Never-checked feeds are due immediately.
	s.checkAll(ctx, false)
	s.Wait()
	first := len(dispatcher.dispatched())
	if first == 0 {
		t.Fatal("expected initial scan to dispatch articles")
	}

	// The interval has not elapsed, so the next pass skips the feed and
	// never even fetches it.
	transport.set(http.StatusOK, loadFixture(t, "sample_update.xml"))
	s.checkAll(ctx, false)
	s.Wait()
	if got := len(dispatcher.dispatched()); got != first {
		t.Errorf("feed scanned before its interval elapsed: %d extra dispatches", got-first)
	}

	// A forced pass bypasses the gate.
	s.checkAll(ctx, true)
	s.Wait()
	if got := len(dispatcher.dispatched()); got != first+1 {
		t.Errorf("forced pass should have picked up the new article, got %d dispatches", got)
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2025, 5, 12, 10, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Minute)
	stale := now.Add(-6 * time.Minute)

	tests := []struct {
		name string
		feed model.Feed
		want bool
	}{
		{"never checked", model.Feed{IntervalMinutes: 5}, true},
		{"checked recently", model.Feed{IntervalMinutes: 5, LastCheckedAt: &recent}, false},
		{"interval elapsed", model.Feed{IntervalMinutes: 5, LastCheckedAt: &stale}, true},
		{"exactly at interval", model.Feed{IntervalMinutes: 2, LastCheckedAt: &recent}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := due(tt.feed, now); got != tt.want {
				t.Errorf("due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPausedFeeds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{status: http.StatusOK, body: loadFixture(t, "sample.xml")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	feed := createFeed(t, store, model.Feed{Title: "Digest", Paused: true})

	// Neither the periodic pass nor scan-all touches a paused feed.
	s.checkAll(ctx, false)
	s.Wait()
	if err := s.ScanAll(ctx); err != nil {
		t.Fatalf("scan all: %v", err)
	}
	s.Wait()
	if got := dispatcher.dispatched(); len(got) != 0 {
		t.Fatalf("paused feed was scanned: %v", got)
	}

	// An explicit per-feed scan overrides the pause.
	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("scan feed: %v", err)
	}
	if got := dispatcher.dispatched(); len(got) == 0 {
		t.Error("explicit scan of a paused feed should dispatch")
	}
}

func TestScanAllOutlivesCaller(t *testing.T) {
	store := newTestStore(t)
	transport := &gatedTransport{release: make(chan struct{}), body: loadFixture(t, "sample.xml")}
	dispatcher := &fakeDispatcher{}
	s := newTestScheduler(t, store, transport, dispatcher)

	feed := createFeed(t, store, model.Feed{Title: "Digest"})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.ScanAll(ctx); err != nil {
		t.Fatalf("scan all: %v", err)
	}

	// The caller's context dies before the fetches get to run, like an
	// HTTP request context after the response went out.
	cancel()
	close(transport.release)
	s.Wait()

	if got := dispatcher.dispatched(); len(got) != 4 {
		t.Fatalf("expected 4 dispatches after caller cancel, got %v", got)
	}
	stats, err := store.ListFeedStats(context.Background(), feed.ID, 10)
	if err != nil {
		t.Fatalf("list stats: %v", err)
	}
	if len(stats) != 1 || stats[0].NewArticles != 4 {
		t.Errorf("expected one stat with 4 new articles, got %+v", stats)
	}
}

func TestScanFeedCoalesces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &mockTransport{status: http.StatusOK, body: loadFixture(t, "sample.xml")}
	s := newTestScheduler(t, store, transport, &fakeDispatcher{})

	feed := createFeed(t, store, model.Feed{Title: "Digest"})

	if !s.claim(feed.ID) {
		t.Fatal("claim should succeed on idle feed")
	}
	if err := s.ScanFeed(ctx, feed.ID); !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	s.release(feed.ID)

	if err := s.ScanFeed(ctx, feed.ID); err != nil {
		t.Fatalf("scan after release: %v", err)
	}
}

func TestScanFeedUnknown(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := newTestScheduler(t, store, &mockTransport{}, &fakeDispatcher{})

	if err := s.ScanFeed(ctx, 12345); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
