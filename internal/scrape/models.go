package scrape

import "time"

// ContentKind classifies how a post is scored.
type ContentKind string

const (
	// KindSingleMedia is a one-photo/video post carrying a view count.
	KindSingleMedia ContentKind = "single_media"
	// KindCarousel is a multi-item post with no aggregate view count;
	// it is scored by engagement (likes + comments) instead.
	KindCarousel ContentKind = "carousel"
	// KindUnknown is anything the provider could not classify. Never viral.
	KindUnknown ContentKind = "unknown"
)

// Post is one scraped post with its metrics snapshot. Posts are transient:
// they are not persisted unless classified viral.
type Post struct {
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Kind         ContentKind `json:"kind"`
	ViewCount    int64       `json:"view_count"`
	LikeCount    int64       `json:"like_count"`
	CommentCount int64       `json:"comment_count"`
	ShareCount   int64       `json:"share_count"`
	PublishedAt  time.Time   `json:"published_at"`
	Caption      string      `json:"caption,omitempty"`
	ThumbnailURL string      `json:"thumbnail_url,omitempty"`
}

// AccountSnapshot is what one fetch returns: the account's current follower
// count plus a bounded list of recent posts.
type AccountSnapshot struct {
	Username      string `json:"username"`
	FollowerCount int64  `json:"follower_count"`
	Posts         []Post `json:"posts"`
}
