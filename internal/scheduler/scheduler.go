// Package scheduler drives the polling loop: it decides which feeds are
// due, fetches them, claims unseen articles, and hands them to the
// dispatcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"rssmonitor/internal/events"
	"rssmonitor/internal/fetcher"
	"rssmonitor/internal/filter"
	"rssmonitor/internal/model"
	"rssmonitor/internal/storage"
)

// ErrScanInProgress is returned when a manual scan targets a feed that
// is already scanning. Overlapping scans are coalesced, never run
// concurrently.
var ErrScanInProgress = errors.New("scan already in progress")

// Dispatcher sends one new article through a feed's bindings.
type Dispatcher interface {
	Dispatch(ctx context.Context, feed model.Feed, article model.Article) error
}

// Scheduler periodically polls feeds and dispatches notifications for
// previously unseen articles. Feeds poll independently; a slow fetch on
// one feed never blocks the others.
type Scheduler struct {
	store      storage.Storage
	fetcher    *fetcher.Fetcher
	dispatcher Dispatcher
	hub        *events.Hub
	log        *slog.Logger
	tick       time.Duration

	mu       sync.Mutex
	inFlight map[int64]bool
	wg       sync.WaitGroup
}

// New creates a Scheduler with the default HTTP client.
func New(store storage.Storage, dispatcher Dispatcher, hub *events.Hub, log *slog.Logger) *Scheduler {
	return NewWithFetcher(store, fetcher.New(http.DefaultClient), dispatcher, hub, log)
}

// NewWithFetcher creates a Scheduler with a custom fetcher (useful for
// testing).
func NewWithFetcher(store storage.Storage, f *fetcher.Fetcher, dispatcher Dispatcher, hub *events.Hub, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		fetcher:    f,
		dispatcher: dispatcher,
		hub:        hub,
		log:        log,
		tick:       1 * time.Minute,
		inFlight:   make(map[int64]bool),
	}
}

// SetTickInterval overrides the default 1-minute tick.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled. The
// first evaluation happens immediately, then once per tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx, false)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.checkAll(ctx, false)
		}
	}
}

// ScanAll forces an immediate scan of every non-paused feed, bypassing
// the interval check. It returns once the scans have been started; the
// scans run to completion even after the caller's context is cancelled,
// since an HTTP request context dies as soon as the response is written.
func (s *Scheduler) ScanAll(ctx context.Context) error {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	scanCtx := context.WithoutCancel(ctx)
	for _, feed := range feeds {
		if feed.Paused {
			continue
		}
		s.launch(scanCtx, feed)
	}
	return nil
}

// ScanFeed forces a synchronous scan of one feed, even a paused one.
func (s *Scheduler) ScanFeed(ctx context.Context, feedID int64) error {
	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}
	if !s.claim(feed.ID) {
		return ErrScanInProgress
	}
	defer s.release(feed.ID)
	s.scanFeed(ctx, *feed)
	return nil
}

// Wait blocks until all in-flight scans have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) checkAll(ctx context.Context, force bool) {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		s.log.Error("list feeds", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, feed := range feeds {
		if ctx.Err() != nil {
			return
		}
		if feed.Paused {
			continue
		}
		if !force && !due(feed, now) {
			continue
		}
		s.launch(ctx, feed)
	}
}

// due reports whether a feed's interval has elapsed. Feeds never checked
// are always due.
func due(feed model.Feed, now time.Time) bool {
	if feed.LastCheckedAt == nil {
		return true
	}
	interval := time.Duration(feed.IntervalMinutes) * time.Minute
	return now.Sub(*feed.LastCheckedAt) >= interval
}

// launch starts one feed's scan in the background. A feed already
// scanning is skipped so overlapping requests coalesce.
func (s *Scheduler) launch(ctx context.Context, feed model.Feed) {
	if !s.claim(feed.ID) {
		s.log.Debug("scan coalesced", "feed_id", feed.ID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(feed.ID)
		s.scanFeed(ctx, feed)
	}()
}

func (s *Scheduler) claim(feedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[feedID] {
		return false
	}
	s.inFlight[feedID] = true
	return true
}

func (s *Scheduler) release(feedID int64) {
	s.mu.Lock()
	delete(s.inFlight, feedID)
	s.mu.Unlock()
}

// scanFeed runs one poll cycle for one feed: fetch, filter, claim each
// unseen article, dispatch, then record stats and the last-checked time
// regardless of outcome.
func (s *Scheduler) scanFeed(ctx context.Context, feed model.Feed) {
	start := time.Now()
	s.log.Debug("scanning feed", "feed_id", feed.ID, "title", feed.Title)
	s.addLog(ctx, feed.ID, "info", "scan started")

	_, articles, err := s.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		s.log.Error("fetch feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
		s.addLog(ctx, feed.ID, "error", "scan error: "+err.Error())
		s.finishScan(ctx, feed.ID, start, 0)
		return
	}

	newCount := 0
	for _, article := range articles {
		if ctx.Err() != nil {
			break
		}
		if !filter.Match(article, feed.Filter) {
			continue
		}

		exists, err := s.store.NotificationExists(ctx, feed.ID, article.Identifier)
		if err != nil {
			s.log.Error("check notification", "feed_id", feed.ID, "article", article.Identifier, "error", err)
			continue
		}
		if exists {
			continue
		}

		// Claim before dispatch: a crash between here and the send leaves
		// the article permanently skipped rather than double-notified.
		if err := s.store.RecordNotification(ctx, feed.ID, article.Identifier); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			s.log.Error("record notification", "feed_id", feed.ID, "article", article.Identifier, "error", err)
			continue
		}
		newCount++

		if err := s.dispatcher.Dispatch(ctx, feed, article); err != nil {
			s.addLog(ctx, feed.ID, "error", "dispatch failed: "+err.Error())
		}
	}

	if newCount == 0 {
		s.addLog(ctx, feed.ID, "info", "no new articles")
	} else {
		s.addLog(ctx, feed.ID, "info", fmt.Sprintf("found %d new articles", newCount))
		s.log.Info("new articles", "feed_id", feed.ID, "title", feed.Title, "count", newCount)
		if s.hub != nil {
			s.hub.Publish(events.Event{Type: events.FeedUpdate, FeedID: feed.ID})
		}
	}

	s.finishScan(ctx, feed.ID, start, newCount)
	s.addLog(ctx, feed.ID, "info", "scan complete")
}

// finishScan transitions the feed back to idle: stamps the last-checked
// time and records scan duration and volume, on success and failure alike.
func (s *Scheduler) finishScan(ctx context.Context, feedID int64, start time.Time, newCount int) {
	if err := s.store.UpdateFeedLastChecked(ctx, feedID); err != nil {
		s.log.Error("update last checked", "feed_id", feedID, "error", err)
	}
	if err := s.store.AddFeedStat(ctx, feedID, time.Since(start).Milliseconds(), newCount); err != nil {
		s.log.Error("add feed stat", "feed_id", feedID, "error", err)
	}
}

func (s *Scheduler) addLog(ctx context.Context, feedID int64, level, message string) {
	if err := s.store.AddFeedLog(ctx, feedID, level, message); err != nil {
		s.log.Error("add feed log", "feed_id", feedID, "error", err)
	}
}
