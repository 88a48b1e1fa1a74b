package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the normal mode)
//   - "memory": process-local store, lost on restart (dev/tests)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Account is one monitored account. Rows are created on first discovery and
// never hard-deleted by the scanner itself.
type Account struct {
	Username           string
	FollowerCount      int64
	CreatedAt          time.Time
	FollowersUpdatedAt time.Time
}

// CheckEntry is the per-account scan ledger row. One row per account,
// upserted after every scan attempt, success or failure.
type CheckEntry struct {
	Username       string
	LastCheckedAt  time.Time
	TotalChecks    int64
	LastViralCount int
}

// ViralPost is the audit/feed record for a post classified viral. Repeated
// sightings refresh the metrics without duplicating rows; DiscoveredAt keeps
// the first sighting.
type ViralPost struct {
	Username     string
	PostURL      string
	ContentKind  string
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	ShareCount   int64
	PublishedAt  time.Time
	DiscoveredAt time.Time
	Reason       string
	ThumbnailURL string
	Caption      string
}
