// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"rssmonitor/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL is returned when a feed's URL collides with an
	// existing feed.
	ErrDuplicateURL = errors.New("feed URL already exists")
	// ErrConflict is returned when a notification claim already exists
	// for the (feed, article) pair. Callers treat it as a benign skip.
	ErrConflict = errors.New("notification already recorded")
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeed(ctx context.Context, feed *model.Feed) error
	DeleteFeed(ctx context.Context, id int64) error
	SetFeedPaused(ctx context.Context, id int64, paused bool) error
	UpdateFeedLastChecked(ctx context.Context, id int64) error

	NotificationExists(ctx context.Context, feedID int64, articleID string) (bool, error)
	RecordNotification(ctx context.Context, feedID int64, articleID string) error

	AddDelivery(ctx context.Context, d *model.Delivery) error
	ListDeliveries(ctx context.Context, feedID int64, limit int) ([]model.Delivery, error)

	CreateConnection(ctx context.Context, c *model.Connection) error
	GetConnection(ctx context.Context, id int64) (*model.Connection, error)
	ListConnections(ctx context.Context) ([]model.Connection, error)
	UpdateConnection(ctx context.Context, c *model.Connection) error
	DeleteConnection(ctx context.Context, id int64) error

	AddFeedLog(ctx context.Context, feedID int64, level, message string) error
	ListFeedLogs(ctx context.Context, feedID int64, limit int) ([]model.FeedLog, error)
	AddFeedStat(ctx context.Context, feedID int64, durationMS int64, newArticles int) error
	ListFeedStats(ctx context.Context, feedID int64, limit int) ([]model.FeedStat, error)

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}
