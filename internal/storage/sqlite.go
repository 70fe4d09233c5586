package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"rssmonitor/internal/model"
	"rssmonitor/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateFeed inserts a new feed and populates its ID and CreatedAt.
// A URL collision with an existing feed returns ErrDuplicateURL.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	fields, bindings, err := encodeFeedJSON(feed)
	if err != nil {
		return err
	}
	titleFilter, contentFilter, mode := encodeFilter(feed.Filter)

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (title, url, interval_minutes, paused, fields_to_send, bindings,
		                    title_filter, content_filter, filter_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feed.Title, feed.URL, feed.IntervalMinutes, boolToInt(feed.Paused),
		fields, bindings, titleFilter, contentFilter, mode, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateURL
		}
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx, selectFeed+` WHERE id = ?`, id)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return feed, err
}

// ListFeeds returns all feeds ordered by ID.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx, selectFeed+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// UpdateFeed persists changes to an existing feed (full replace of the
// mutable fields).
func (s *SQLite) UpdateFeed(ctx context.Context, feed *model.Feed) error {
	fields, bindings, err := encodeFeedJSON(feed)
	if err != nil {
		return err
	}
	titleFilter, contentFilter, mode := encodeFilter(feed.Filter)

	var lastChecked *string
	if feed.LastCheckedAt != nil {
		v := feed.LastCheckedAt.UTC().Format(timeLayout)
		lastChecked = &v
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE feeds SET title = ?, url = ?, interval_minutes = ?, paused = ?, last_checked_at = ?,
		                  fields_to_send = ?, bindings = ?, title_filter = ?, content_filter = ?, filter_mode = ?
		 WHERE id = ?`,
		feed.Title, feed.URL, feed.IntervalMinutes, boolToInt(feed.Paused), lastChecked,
		fields, bindings, titleFilter, contentFilter, mode, feed.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateURL
		}
		return fmt.Errorf("update feed: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed and cascades to its notifications, deliveries,
// logs, and stats.
func (s *SQLite) DeleteFeed(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"notifications", "deliveries", "feed_logs", "feed_stats"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE feed_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	return tx.Commit()
}

// SetFeedPaused flips the paused flag of a feed.
func (s *SQLite) SetFeedPaused(ctx context.Context, id int64, paused bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET paused = ? WHERE id = ?`, boolToInt(paused), id)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFeedLastChecked stamps the feed's last scan time with now.
func (s *SQLite) UpdateFeedLastChecked(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `UPDATE feeds SET last_checked_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("update last checked: %w", err)
	}
	return nil
}

// NotificationExists reports whether an article has already been claimed
// for the given feed.
func (s *SQLite) NotificationExists(ctx context.Context, feedID int64, articleID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE feed_id = ? AND article_id = ?`,
		feedID, articleID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return count > 0, nil
}

// RecordNotification claims an article for a feed. Claiming a pair that
// already exists returns ErrConflict.
func (s *SQLite) RecordNotification(ctx context.Context, feedID int64, articleID string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (feed_id, article_id, created_at) VALUES (?, ?, ?)`,
		feedID, articleID, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// AddDelivery records the outcome of one channel send.
func (s *SQLite) AddDelivery(ctx context.Context, d *model.Delivery) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (feed_id, article_title, article_link, channel, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.FeedID, d.ArticleTitle, d.ArticleLink, string(d.Channel), string(d.Status), d.Detail, now,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	d.ID = id
	d.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListDeliveries returns the most recent deliveries for a feed.
func (s *SQLite) ListDeliveries(ctx context.Context, feedID int64, limit int) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, article_title, article_link, channel, status, detail, created_at
		 FROM deliveries WHERE feed_id = ? ORDER BY id DESC LIMIT ?`, feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var channel, status, created string
		if err := rows.Scan(&d.ID, &d.FeedID, &d.ArticleTitle, &d.ArticleLink, &channel, &status, &d.Detail, &created); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Channel = model.Service(channel)
		d.Status = model.DeliveryStatus(status)
		d.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateConnection inserts a new connection and populates its ID.
func (s *SQLite) CreateConnection(ctx context.Context, c *model.Connection) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (service, label, config, created_at) VALUES (?, ?, ?, ?)`,
		string(c.Service), c.Label, c.Config, now,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetConnection returns a single connection by its ID.
func (s *SQLite) GetConnection(ctx context.Context, id int64) (*model.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service, label, config, created_at FROM connections WHERE id = ?`, id,
	)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListConnections returns all connections ordered by ID.
func (s *SQLite) ListConnections(ctx context.Context) ([]model.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service, label, config, created_at FROM connections ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateConnection persists changes to an existing connection.
func (s *SQLite) UpdateConnection(ctx context.Context, c *model.Connection) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET service = ?, label = ?, config = ? WHERE id = ?`,
		string(c.Service), c.Label, c.Config, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return nil
}

// DeleteConnection removes a connection by its ID.
func (s *SQLite) DeleteConnection(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// AddFeedLog appends one scan log line for a feed.
func (s *SQLite) AddFeedLog(ctx context.Context, feedID int64, level, message string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_logs (feed_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		feedID, level, message, now,
	)
	if err != nil {
		return fmt.Errorf("insert feed log: %w", err)
	}
	return nil
}

// ListFeedLogs returns the most recent log lines for a feed.
func (s *SQLite) ListFeedLogs(ctx context.Context, feedID int64, limit int) ([]model.FeedLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, level, message, created_at
		 FROM feed_logs WHERE feed_id = ? ORDER BY id DESC LIMIT ?`, feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FeedLog
	for rows.Next() {
		var l model.FeedLog
		var created string
		if err := rows.Scan(&l.ID, &l.FeedID, &l.Level, &l.Message, &created); err != nil {
			return nil, fmt.Errorf("scan feed log: %w", err)
		}
		l.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, l)
	}
	return out, rows.Err()
}

// AddFeedStat records duration and new-article count for one scan.
func (s *SQLite) AddFeedStat(ctx context.Context, feedID int64, durationMS int64, newArticles int) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_stats (feed_id, duration_ms, new_articles, created_at) VALUES (?, ?, ?, ?)`,
		feedID, durationMS, newArticles, now,
	)
	if err != nil {
		return fmt.Errorf("insert feed stat: %w", err)
	}
	return nil
}

// ListFeedStats returns the most recent scan stats for a feed.
func (s *SQLite) ListFeedStats(ctx context.Context, feedID int64, limit int) ([]model.FeedStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, duration_ms, new_articles, created_at
		 FROM feed_stats WHERE feed_id = ? ORDER BY id DESC LIMIT ?`, feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FeedStat
	for rows.Next() {
		var st model.FeedStat
		var created string
		if err := rows.Scan(&st.ID, &st.FeedID, &st.DurationMS, &st.NewArticles, &created); err != nil {
			return nil, fmt.Errorf("scan feed stat: %w", err)
		}
		st.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, st)
	}
	return out, rows.Err()
}

// GetSetting returns the value for a settings key, or ErrNotFound.
func (s *SQLite) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a settings key/value pair, replacing any prior value.
func (s *SQLite) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

const selectFeed = `SELECT id, title, url, interval_minutes, paused, last_checked_at,
       fields_to_send, bindings, title_filter, content_filter, filter_mode, created_at
  FROM feeds`

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func encodeFeedJSON(feed *model.Feed) (fields, bindings string, err error) {
	fs := feed.FieldsToSend
	if fs == nil {
		fs = []string{}
	}
	fb, err := json.Marshal(fs)
	if err != nil {
		return "", "", fmt.Errorf("marshal fields_to_send: %w", err)
	}
	bs := feed.Bindings
	if bs == nil {
		bs = []model.Binding{}
	}
	bb, err := json.Marshal(bs)
	if err != nil {
		return "", "", fmt.Errorf("marshal bindings: %w", err)
	}
	return string(fb), string(bb), nil
}

func encodeFilter(f *model.Filter) (title, content, mode string) {
	if f == nil {
		return "", "", string(model.FilterModeAll)
	}
	mode = string(f.Mode)
	if mode == "" {
		mode = string(model.FilterModeAll)
	}
	return f.TitlePattern, f.ContentPattern, mode
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var paused int
	var lastChecked sql.NullString
	var fields, bindings, titleFilter, contentFilter, mode, created string
	err := row.Scan(&f.ID, &f.Title, &f.URL, &f.IntervalMinutes, &paused, &lastChecked,
		&fields, &bindings, &titleFilter, &contentFilter, &mode, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.Paused = paused == 1
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		f.LastCheckedAt = &t
	}
	f.CreatedAt, _ = time.Parse(timeLayout, created)

	if err := json.Unmarshal([]byte(fields), &f.FieldsToSend); err != nil {
		return nil, fmt.Errorf("unmarshal fields_to_send: %w", err)
	}
	if err := json.Unmarshal([]byte(bindings), &f.Bindings); err != nil {
		return nil, fmt.Errorf("unmarshal bindings: %w", err)
	}
	if len(f.FieldsToSend) == 0 {
		f.FieldsToSend = nil
	}
	if len(f.Bindings) == 0 {
		f.Bindings = nil
	}
	if titleFilter != "" || contentFilter != "" {
		f.Filter = &model.Filter{
			TitlePattern:   titleFilter,
			ContentPattern: contentFilter,
			Mode:           model.FilterMode(mode),
		}
	}
	return &f, nil
}

func scanConnection(row scannable) (*model.Connection, error) {
	var c model.Connection
	var service, created string
	err := row.Scan(&c.ID, &service, &c.Label, &c.Config, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	c.Service = model.Service(service)
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return &c, nil
}
