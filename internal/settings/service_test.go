package settings

import (
	"context"
	"testing"

	"viralscan/internal/storage"
	"viralscan/internal/virality"
	"viralscan/pkg/logx"
)

func newService() *Service {
	return NewService(storage.NewMemory(), logx.Nop())
}

func ptr[T any](v T) *T { return &v }

func TestGetReturnsDefaultsWhenEmpty(t *testing.T) {
	svc := newService()
	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := Defaults()
	if got.SchedulerMode != want.SchedulerMode || got.PostsPerAccount != want.PostsPerAccount {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if len(got.Scoring.ViewTiers) != 8 {
		t.Fatalf("expected 8 view tiers, got %d", len(got.Scoring.ViewTiers))
	}
}

func TestUpdateRetainsUnspecifiedFields(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	got, err := svc.Update(ctx, Patch{PostsPerAccount: ptr(24)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.PostsPerAccount != 24 {
		t.Fatalf("posts_per_account = %d, want 24", got.PostsPerAccount)
	}
	if got.SchedulerMode != ModeDaily || got.DailyTime != "09:00" {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if got.Scoring.MaxPostAgeDays != Defaults().Scoring.MaxPostAgeDays {
		t.Fatalf("scoring changed without a scoring patch: %+v", got.Scoring)
	}
}

func TestUpdateMergesTiersPerTier(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	// Patch one existing bound and add one new one. The other seven
	// defaults must survive.
	got, err := svc.Update(ctx, Patch{Scoring: &ScoringPatch{
		ViewTiers: []virality.Tier{
			{MinFollowers: 50_000, Multiplier: 9},
			{MinFollowers: 1_000_000, Multiplier: 1},
		},
	}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	tiers := got.Scoring.ViewTiers
	if len(tiers) != 9 {
		t.Fatalf("expected 9 tiers after insert, got %d: %+v", len(tiers), tiers)
	}
	if m := tiers.MultiplierFor(50_000); m != 9 {
		t.Fatalf("patched tier multiplier = %g, want 9", m)
	}
	if m := tiers.MultiplierFor(10_000); m != 50 {
		t.Fatalf("untouched tier multiplier = %g, want 50", m)
	}
	if m := tiers.MultiplierFor(2_000_000); m != 1 {
		t.Fatalf("inserted tier multiplier = %g, want 1", m)
	}
}

func TestUpdateRejectsMonotonicityViolation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	// Default multiplier at 20k is 30 and at 50k is 10; raising 50k above
	// 30 breaks the non-increasing invariant.
	_, err := svc.Update(ctx, Patch{Scoring: &ScoringPatch{
		ViewTiers: []virality.Tier{{MinFollowers: 50_000, Multiplier: 40}},
	}})
	if err == nil {
		t.Fatal("expected validation error")
	}

	// The stored document must be untouched.
	got, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m := got.Scoring.ViewTiers.MultiplierFor(50_000); m != 10 {
		t.Fatalf("rejected update leaked: multiplier = %g, want 10", m)
	}
}

func TestUpdatePersistsAcrossServices(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	svc := NewService(store, logx.Nop())
	if _, err := svc.Update(ctx, Patch{SchedulerMode: ptr(ModeInterval), Interval: ptr("45m")}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A fresh service over the same store sees the persisted document.
	svc2 := NewService(store, logx.Nop())
	got, err := svc2.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SchedulerMode != ModeInterval || got.Interval != "45m" {
		t.Fatalf("persisted settings lost: %+v", got)
	}
	if got.IntervalDuration().Minutes() != 45 {
		t.Fatalf("IntervalDuration = %s", got.IntervalDuration())
	}
}

func TestUpdateRejectsBadValues(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	for name, patch := range map[string]Patch{
		"bad mode":      {SchedulerMode: ptr(SchedulerMode("hourly"))},
		"bad time":      {DailyTime: ptr("9am")},
		"bad weekday":   {WeeklyDay: ptr("funday")},
		"bad interval":  {Interval: ptr("10s")},
		"bad posts":     {PostsPerAccount: ptr(0)},
		"bad retention": {LockRetentionDays: ptr(-1)},
	} {
		if _, err := svc.Update(ctx, patch); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestOnChangeFires(t *testing.T) {
	svc := newService()
	var seen []Settings
	svc.OnChange(func(s Settings) { seen = append(seen, s) })

	if _, err := svc.Update(context.Background(), Patch{PostsPerAccount: ptr(5)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(seen) != 1 || seen[0].PostsPerAccount != 5 {
		t.Fatalf("listener not notified correctly: %+v", seen)
	}
}
