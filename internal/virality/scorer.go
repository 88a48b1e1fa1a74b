// Package virality decides whether a scraped post counts as viral for the
// account that published it. Thresholds scale with follower count through
// per-tier multiplier tables and are clamped by absolute floors so that
// tiny accounts cannot trip the detector on noise.
package virality

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"viralscan/internal/scrape"
)

// Formula selects the scoring strategy.
type Formula string

const (
	// FormulaAbsolute uses only the per-kind view/engagement thresholds.
	FormulaAbsolute Formula = "absolute"
	// FormulaShares additionally marks a post viral when its share count
	// clears a follower-proportional bar.
	FormulaShares Formula = "shares"
)

// Absolute floors. Follower-scaled thresholds never drop below these.
const (
	viewFloor           = 100_000
	viewFloorMega       = 2_000_000
	megaFollowerCutoff  = 500_000
	engagementFloor     = 5_000
	sharesFloor         = 500
	sharesFollowerShare = 0.01
)

// Config holds everything the scorer needs. It is embedded in the runtime
// settings document and merged per-tier on partial updates.
type Config struct {
	// MaxPostAgeDays gates scoring: posts older than this are never viral.
	MaxPostAgeDays  int       `json:"max_post_age_days"`
	Formula         Formula   `json:"formula"`
	ViewTiers       TierTable `json:"view_tiers"`
	EngagementTiers TierTable `json:"engagement_tiers"`
}

func DefaultConfig() Config {
	return Config{
		MaxPostAgeDays:  60,
		Formula:         FormulaAbsolute,
		ViewTiers:       DefaultViewTiers.Clone(),
		EngagementTiers: DefaultEngagementTiers.Clone(),
	}
}

func (c Config) Validate() error {
	if c.MaxPostAgeDays <= 0 {
		return fmt.Errorf("max_post_age_days must be > 0, got %d", c.MaxPostAgeDays)
	}
	switch c.Formula {
	case FormulaAbsolute, FormulaShares:
	default:
		return fmt.Errorf("unknown formula %q", c.Formula)
	}
	if err := c.ViewTiers.Validate(); err != nil {
		return fmt.Errorf("view tiers: %w", err)
	}
	if err := c.EngagementTiers.Validate(); err != nil {
		return fmt.Errorf("engagement tiers: %w", err)
	}
	return nil
}

// Verdict is the scoring outcome. Reason is always populated and, for viral
// posts, becomes part of the notification text.
type Verdict struct {
	Viral  bool
	Reason string
}

// Score evaluates a single post against the account's follower count.
// A zero follower count resolves to the lowest tier so brand-new accounts
// still get the strictest multiplier together with the absolute floors.
func Score(post scrape.Post, followers int64, cfg Config, now time.Time) Verdict {
	maxAge := time.Duration(cfg.MaxPostAgeDays) * 24 * time.Hour
	if age := now.Sub(post.PublishedAt); age > maxAge {
		return Verdict{Reason: fmt.Sprintf("Too old: published %s ago", age.Round(time.Hour))}
	}

	switch post.Kind {
	case scrape.KindCarousel:
		if v := scoreCarousel(post, followers, cfg.EngagementTiers); v.Viral {
			return v
		} else if cfg.Formula != FormulaShares {
			return v
		}
	case scrape.KindSingleMedia:
		if v := scoreSingleMedia(post, followers, cfg.ViewTiers); v.Viral {
			return v
		} else if cfg.Formula != FormulaShares {
			return v
		}
	default:
		return Verdict{Reason: fmt.Sprintf("Unsupported content kind %q", post.Kind)}
	}

	return scoreShares(post, followers)
}

func scoreCarousel(post scrape.Post, followers int64, tiers TierTable) Verdict {
	engagement := post.LikeCount + post.CommentCount
	threshold := scaled(followers, tiers.MultiplierFor(followers), engagementFloor)
	if engagement >= threshold {
		return Verdict{
			Viral:  true,
			Reason: fmt.Sprintf("Engagement: %s >= %s [Carousel]", Comma(engagement), Comma(threshold)),
		}
	}
	return Verdict{Reason: fmt.Sprintf("Engagement: %s < %s [Carousel]", Comma(engagement), Comma(threshold))}
}

func scoreSingleMedia(post scrape.Post, followers int64, tiers TierTable) Verdict {
	floor := int64(viewFloor)
	if followers >= megaFollowerCutoff {
		floor = viewFloorMega
	}
	threshold := scaled(followers, tiers.MultiplierFor(followers), floor)
	// Posts reporting zero views are treated as having no view data at all,
	// never as viral, regardless of how low the threshold is.
	if post.ViewCount > 0 && post.ViewCount >= threshold {
		return Verdict{
			Viral:  true,
			Reason: fmt.Sprintf("Views: %s >= %s [Video]", Comma(post.ViewCount), Comma(threshold)),
		}
	}
	return Verdict{Reason: fmt.Sprintf("Views: %s < %s [Video]", Comma(post.ViewCount), Comma(threshold))}
}

func scoreShares(post scrape.Post, followers int64) Verdict {
	threshold := scaled(followers, sharesFollowerShare, sharesFloor)
	if post.ShareCount > 0 && post.ShareCount >= threshold {
		return Verdict{
			Viral:  true,
			Reason: fmt.Sprintf("Shares: %s >= %s [Shares]", Comma(post.ShareCount), Comma(threshold)),
		}
	}
	return Verdict{Reason: fmt.Sprintf("Shares: %s < %s [Shares]", Comma(post.ShareCount), Comma(threshold))}
}

func scaled(followers int64, multiplier float64, floor int64) int64 {
	t := int64(math.Round(float64(followers) * multiplier))
	if t < floor {
		return floor
	}
	return t
}

// Comma renders n with thousands separators ("1,234,567").
func Comma(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
