package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "viralscan/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Timestamps are stored as UTC text with fixed-width fractional seconds so
// SQL text comparison and ORDER BY agree with chronological order. Trimmed
// or offset-bearing forms would not sort correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- accounts ----

func (s *sqliteStore) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, follower_count, created_at, followers_updated_at
		 FROM accounts ORDER BY created_at, username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var created string
		var updated sql.NullString
		if err := rows.Scan(&a.Username, &a.FollowerCount, &created, &updated); err != nil {
			return nil, err
		}
		a.CreatedAt = parseTime(created)
		if updated.Valid {
			a.FollowersUpdatedAt = parseTime(updated.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertAccount(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(username, follower_count, created_at) VALUES(?, 0, ?)
		 ON CONFLICT(username) DO NOTHING`,
		username, formatTime(time.Now()))
	return err
}

func (s *sqliteStore) UpdateFollowerCount(ctx context.Context, username string, followers int64) error {
	if followers < 0 {
		followers = 0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(username, follower_count, created_at, followers_updated_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(username) DO UPDATE SET
		   follower_count = excluded.follower_count,
		   followers_updated_at = excluded.followers_updated_at`,
		username, followers, formatTime(time.Now()), formatTime(time.Now()))
	return err
}

// ---- check-history ledger ----

func (s *sqliteStore) CheckHistory(ctx context.Context) (map[string]CheckEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, last_checked_at, total_checks, last_viral_count FROM check_history`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]CheckEntry{}
	for rows.Next() {
		var e CheckEntry
		var at string
		if err := rows.Scan(&e.Username, &at, &e.TotalChecks, &e.LastViralCount); err != nil {
			return nil, err
		}
		e.LastCheckedAt = parseTime(at)
		out[e.Username] = e
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordCheck(ctx context.Context, username string, viralCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_history(username, last_checked_at, total_checks, last_viral_count)
		 VALUES(?,?,1,?)
		 ON CONFLICT(username) DO UPDATE SET
		   last_checked_at = excluded.last_checked_at,
		   total_checks = check_history.total_checks + 1,
		   last_viral_count = excluded.last_viral_count`,
		username, formatTime(time.Now()), viralCount)
	return err
}

// ---- send locks ----

func (s *sqliteStore) AcquireSendLock(ctx context.Context, postURL, username string, at time.Time) (bool, error) {
	if postURL == "" {
		return false, errors.New("post url is empty")
	}
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_locks(post_url, username, sent_at) VALUES(?,?,?)
		 ON CONFLICT(post_url) DO NOTHING`,
		postURL, username, formatTime(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ReleaseSendLock(ctx context.Context, postURL string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_locks WHERE post_url = ?`, postURL)
	return err
}

// PruneSendLocks deletes lock rows whose post aged past both cutoffs. A lock
// with no matching viral-post row is never pruned. The text comparison is
// sound because formatTime writes fixed-width UTC timestamps.
func (s *sqliteStore) PruneSendLocks(ctx context.Context, publishedBefore, discoveredBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sent_locks WHERE post_url IN (
		   SELECT post_url FROM viral_posts
		   WHERE published_at IS NOT NULL
		     AND published_at < ? AND discovered_at < ?)`,
		formatTime(publishedBefore), formatTime(discoveredBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- viral-post feed ----

func (s *sqliteStore) UpsertViralPost(ctx context.Context, p ViralPost) error {
	if p.PostURL == "" {
		return errors.New("post url is empty")
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO viral_posts(post_url, username, content_kind, view_count, like_count,
		   comment_count, share_count, published_at, discovered_at, reason, thumbnail_url, caption)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(post_url) DO UPDATE SET
		   view_count = excluded.view_count,
		   like_count = excluded.like_count,
		   comment_count = excluded.comment_count,
		   share_count = excluded.share_count,
		   reason = excluded.reason,
		   thumbnail_url = excluded.thumbnail_url`,
		p.PostURL, p.Username, p.ContentKind, p.ViewCount, p.LikeCount,
		p.CommentCount, p.ShareCount, formatNullableTime(p.PublishedAt),
		formatTime(p.DiscoveredAt), nullStr(p.Reason), nullStr(p.ThumbnailURL), nullStr(p.Caption))
	return err
}

func (s *sqliteStore) ListViralPosts(ctx context.Context, limit, offset int) ([]ViralPost, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_url, username, content_kind, view_count, like_count, comment_count,
		   share_count, published_at, discovered_at, reason, thumbnail_url, caption
		 FROM viral_posts ORDER BY discovered_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ViralPost
	for rows.Next() {
		var p ViralPost
		var published, reason, thumb, caption sql.NullString
		var discovered string
		if err := rows.Scan(&p.PostURL, &p.Username, &p.ContentKind, &p.ViewCount,
			&p.LikeCount, &p.CommentCount, &p.ShareCount, &published, &discovered,
			&reason, &thumb, &caption); err != nil {
			return nil, err
		}
		if published.Valid {
			p.PublishedAt = parseTime(published.String)
		}
		p.DiscoveredAt = parseTime(discovered)
		p.Reason = reason.String
		p.ThumbnailURL = thumb.String
		p.Caption = caption.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- settings document ----

const settingsKey = "default"

func (s *sqliteStore) SettingsDoc(ctx context.Context) ([]byte, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = ?`, settingsKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *sqliteStore) PutSettingsDoc(ctx context.Context, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		settingsKey, string(doc), formatTime(time.Now()))
	return err
}

// ---- helpers ----

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime accepts any RFC3339 variant; writes always go through formatTime.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
