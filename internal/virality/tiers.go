package virality

import (
	"errors"
	"fmt"
	"sort"
)

// Tier is one follower-count bucket of a multiplier table. MinFollowers is
// the inclusive lower bound of the bucket.
type Tier struct {
	MinFollowers int64   `json:"min_followers"`
	Multiplier   float64 `json:"multiplier"`
}

// TierTable is a multiplier table ordered by ascending follower bound.
//
// Product invariant: multipliers are monotonically non-increasing as the
// bound grows, since bigger accounts need proportionally less amplification.
// Validate enforces this; settings updates that violate it are rejected.
type TierTable []Tier

// MultiplierFor returns the multiplier of the tier whose bound is the
// greatest one <= followers. Follower counts below the lowest bound resolve
// to the lowest tier.
func (t TierTable) MultiplierFor(followers int64) float64 {
	if len(t) == 0 {
		return 0
	}
	m := t[0].Multiplier
	for _, tier := range t {
		if followers < tier.MinFollowers {
			break
		}
		m = tier.Multiplier
	}
	return m
}

func (t TierTable) Validate() error {
	if len(t) == 0 {
		return errors.New("tier table is empty")
	}
	if !sort.SliceIsSorted(t, func(i, j int) bool { return t[i].MinFollowers < t[j].MinFollowers }) {
		return errors.New("tier bounds must be ascending")
	}
	for i, tier := range t {
		if tier.MinFollowers < 0 {
			return fmt.Errorf("tier %d: negative follower bound", i)
		}
		if tier.Multiplier <= 0 {
			return fmt.Errorf("tier %d: multiplier must be > 0", i)
		}
		if i > 0 {
			if t[i-1].MinFollowers == tier.MinFollowers {
				return fmt.Errorf("tier %d: duplicate follower bound %d", i, tier.MinFollowers)
			}
			if tier.Multiplier > t[i-1].Multiplier {
				return fmt.Errorf("tier %d: multiplier %g exceeds previous tier's %g (must be non-increasing)",
					i, tier.Multiplier, t[i-1].Multiplier)
			}
		}
	}
	return nil
}

// Clone returns a deep copy, useful for merge-then-validate flows.
func (t TierTable) Clone() TierTable {
	if t == nil {
		return nil
	}
	return append(TierTable(nil), t...)
}

// DefaultViewTiers is the single-media view-multiplier table.
var DefaultViewTiers = TierTable{
	{MinFollowers: 1_000, Multiplier: 100},
	{MinFollowers: 5_000, Multiplier: 100},
	{MinFollowers: 10_000, Multiplier: 50},
	{MinFollowers: 20_000, Multiplier: 30},
	{MinFollowers: 50_000, Multiplier: 10},
	{MinFollowers: 100_000, Multiplier: 8},
	{MinFollowers: 200_000, Multiplier: 4},
	{MinFollowers: 500_000, Multiplier: 2},
}

// DefaultEngagementTiers is the carousel engagement-multiplier table.
var DefaultEngagementTiers = TierTable{
	{MinFollowers: 1_000, Multiplier: 0.5},
	{MinFollowers: 5_000, Multiplier: 0.5},
	{MinFollowers: 10_000, Multiplier: 0.2},
	{MinFollowers: 20_000, Multiplier: 0.2},
	{MinFollowers: 50_000, Multiplier: 0.1},
	{MinFollowers: 100_000, Multiplier: 0.05},
	{MinFollowers: 200_000, Multiplier: 0.05},
	{MinFollowers: 500_000, Multiplier: 0.03},
}
