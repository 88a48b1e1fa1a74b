package api

import (
	"time"

	"viralscan/internal/storage"
)

// postView is the wire shape of a feed entry.
type postView struct {
	Username     string    `json:"username"`
	PostURL      string    `json:"post_url"`
	ContentKind  string    `json:"content_kind"`
	ViewCount    int64     `json:"view_count"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	ShareCount   int64     `json:"share_count,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Reason       string    `json:"reason"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	Caption      string    `json:"caption,omitempty"`
}

func toPostViews(posts []storage.ViralPost) []postView {
	out := make([]postView, 0, len(posts))
	for _, p := range posts {
		out = append(out, postView{
			Username:     p.Username,
			PostURL:      p.PostURL,
			ContentKind:  p.ContentKind,
			ViewCount:    p.ViewCount,
			LikeCount:    p.LikeCount,
			CommentCount: p.CommentCount,
			ShareCount:   p.ShareCount,
			PublishedAt:  p.PublishedAt,
			DiscoveredAt: p.DiscoveredAt,
			Reason:       p.Reason,
			ThumbnailURL: p.ThumbnailURL,
			Caption:      p.Caption,
		})
	}
	return out
}
