// Package settings manages the single runtime-tunable settings document.
// The document is persisted as JSON in the storage layer and merged
// field-by-field on update, so a partial patch never clobbers fields the
// caller did not name. Tier tables merge per tier, keyed by follower bound.
package settings

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"viralscan/internal/virality"
)

// SchedulerMode selects how scan runs are scheduled.
type SchedulerMode string

const (
	ModeDaily    SchedulerMode = "daily"
	ModeWeekly   SchedulerMode = "weekly"
	ModeInterval SchedulerMode = "interval"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Settings is the full settings document.
type Settings struct {
	SchedulerMode   SchedulerMode `json:"scheduler_mode"`
	DailyTime       string        `json:"daily_time"`  // "HH:MM", local to the scheduler timezone
	WeeklyDay       string        `json:"weekly_day"`  // lowercase weekday name
	WeeklyTime      string        `json:"weekly_time"` // "HH:MM"
	Interval        string        `json:"interval"`    // Go duration, used in interval mode
	PostsPerAccount int           `json:"posts_per_account"`

	// LockRetentionDays controls pruning of notification send-locks. 0 keeps
	// locks forever, the safe default: a pruned lock is the only thing
	// standing between an aged-out post and a repeat notification.
	LockRetentionDays int `json:"lock_retention_days"`

	Scoring virality.Config `json:"scoring"`
}

func Defaults() Settings {
	return Settings{
		SchedulerMode:   ModeDaily,
		DailyTime:       "09:00",
		WeeklyDay:       "monday",
		WeeklyTime:      "09:00",
		Interval:        "6h",
		PostsPerAccount: 12,
		Scoring:         virality.DefaultConfig(),
	}
}

func (s Settings) Validate() error {
	switch s.SchedulerMode {
	case ModeDaily, ModeWeekly, ModeInterval:
	default:
		return fmt.Errorf("unknown scheduler_mode %q", s.SchedulerMode)
	}
	if _, err := time.Parse("15:04", s.DailyTime); err != nil {
		return fmt.Errorf("daily_time %q: want HH:MM", s.DailyTime)
	}
	if _, err := time.Parse("15:04", s.WeeklyTime); err != nil {
		return fmt.Errorf("weekly_time %q: want HH:MM", s.WeeklyTime)
	}
	if _, ok := weekdays[strings.ToLower(s.WeeklyDay)]; !ok {
		return fmt.Errorf("unknown weekly_day %q", s.WeeklyDay)
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return fmt.Errorf("interval %q: %w", s.Interval, err)
	}
	if d < time.Minute {
		return fmt.Errorf("interval %s is below the 1m minimum", d)
	}
	if s.PostsPerAccount < 1 || s.PostsPerAccount > 100 {
		return fmt.Errorf("posts_per_account %d out of range [1,100]", s.PostsPerAccount)
	}
	if s.LockRetentionDays < 0 {
		return fmt.Errorf("lock_retention_days %d must be >= 0", s.LockRetentionDays)
	}
	return s.Scoring.Validate()
}

// IntervalDuration returns the parsed interval. Call Validate first; an
// unparseable value falls back to the default cadence.
func (s Settings) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d < time.Minute {
		return 6 * time.Hour
	}
	return d
}

// Weekday resolves WeeklyDay, defaulting to Monday for anything bogus.
func (s Settings) Weekday() time.Weekday {
	if d, ok := weekdays[strings.ToLower(s.WeeklyDay)]; ok {
		return d
	}
	return time.Monday
}

// Patch is a partial settings update. Nil pointers mean "leave unchanged".
type Patch struct {
	SchedulerMode     *SchedulerMode `json:"scheduler_mode"`
	DailyTime         *string        `json:"daily_time"`
	WeeklyDay         *string        `json:"weekly_day"`
	WeeklyTime        *string        `json:"weekly_time"`
	Interval          *string        `json:"interval"`
	PostsPerAccount   *int           `json:"posts_per_account"`
	LockRetentionDays *int           `json:"lock_retention_days"`
	Scoring           *ScoringPatch  `json:"scoring"`
}

// ScoringPatch patches the scoring config. Tier slices are merged into the
// existing tables per follower bound rather than replacing them wholesale:
// a bound already present gets its multiplier updated, a new bound is
// inserted in order.
type ScoringPatch struct {
	MaxPostAgeDays  *int              `json:"max_post_age_days"`
	Formula         *virality.Formula `json:"formula"`
	ViewTiers       []virality.Tier   `json:"view_tiers"`
	EngagementTiers []virality.Tier   `json:"engagement_tiers"`
}

// Apply merges the patch onto s and returns the result. The receiver is not
// mutated. The result is not validated; callers validate before persisting.
func (p Patch) Apply(s Settings) Settings {
	out := s
	out.Scoring.ViewTiers = s.Scoring.ViewTiers.Clone()
	out.Scoring.EngagementTiers = s.Scoring.EngagementTiers.Clone()

	if p.SchedulerMode != nil {
		out.SchedulerMode = *p.SchedulerMode
	}
	if p.DailyTime != nil {
		out.DailyTime = *p.DailyTime
	}
	if p.WeeklyDay != nil {
		out.WeeklyDay = strings.ToLower(*p.WeeklyDay)
	}
	if p.WeeklyTime != nil {
		out.WeeklyTime = *p.WeeklyTime
	}
	if p.Interval != nil {
		out.Interval = *p.Interval
	}
	if p.PostsPerAccount != nil {
		out.PostsPerAccount = *p.PostsPerAccount
	}
	if p.LockRetentionDays != nil {
		out.LockRetentionDays = *p.LockRetentionDays
	}
	if p.Scoring != nil {
		if p.Scoring.MaxPostAgeDays != nil {
			out.Scoring.MaxPostAgeDays = *p.Scoring.MaxPostAgeDays
		}
		if p.Scoring.Formula != nil {
			out.Scoring.Formula = *p.Scoring.Formula
		}
		out.Scoring.ViewTiers = mergeTiers(out.Scoring.ViewTiers, p.Scoring.ViewTiers)
		out.Scoring.EngagementTiers = mergeTiers(out.Scoring.EngagementTiers, p.Scoring.EngagementTiers)
	}
	return out
}

func mergeTiers(base virality.TierTable, patch []virality.Tier) virality.TierTable {
	if len(patch) == 0 {
		return base
	}
	out := base.Clone()
	for _, pt := range patch {
		replaced := false
		for i := range out {
			if out[i].MinFollowers == pt.MinFollowers {
				out[i].Multiplier = pt.Multiplier
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinFollowers < out[j].MinFollowers })
	return out
}
