package scan

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"viralscan/internal/scrape"
	"viralscan/internal/settings"
	"viralscan/internal/storage"
	"viralscan/internal/transport"
	"viralscan/pkg/logx"
)

func TestPrioritizeNeverCheckedFirst(t *testing.T) {
	now := time.Now()
	history := map[string]storage.CheckEntry{
		"b": {Username: "b", LastCheckedAt: now.Add(-1 * time.Hour)},
		"d": {Username: "d", LastCheckedAt: now.Add(-48 * time.Hour)},
		"e": {Username: "e", LastCheckedAt: now.Add(-2 * time.Hour)},
	}
	got := Prioritize([]string{"a", "b", "c", "d", "e"}, history)
	want := []string{"a", "c", "d", "e", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Prioritize = %v, want %v", got, want)
	}
}

func TestPrioritizeStableOnTies(t *testing.T) {
	ts := time.Now().Add(-time.Hour)
	history := map[string]storage.CheckEntry{
		"x": {LastCheckedAt: ts},
		"y": {LastCheckedAt: ts},
		"z": {LastCheckedAt: ts},
	}
	got := Prioritize([]string{"z", "x", "y"}, history)
	want := []string{"z", "x", "y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tie order not stable: %v, want %v", got, want)
	}
	// Input slice untouched.
	in := []string{"z", "x", "y"}
	Prioritize(in, history)
	if !reflect.DeepEqual(in, []string{"z", "x", "y"}) {
		t.Fatalf("input mutated: %v", in)
	}
}

// fakeScraper serves canned snapshots and fails for accounts in bad.
type fakeScraper struct {
	snaps   map[string]scrape.AccountSnapshot
	bad     map[string]error
	fetched []string
}

func (f *fakeScraper) FetchAccount(ctx context.Context, username string) (scrape.AccountSnapshot, error) {
	f.fetched = append(f.fetched, username)
	if err, ok := f.bad[username]; ok {
		return scrape.AccountSnapshot{}, err
	}
	return f.snaps[username], nil
}

type fakeNotifier struct {
	dispatched []storage.ViralPost
	sent       map[string]bool
	err        error
}

func (f *fakeNotifier) Dispatch(ctx context.Context, post storage.ViralPost) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.dispatched = append(f.dispatched, post)
	if f.sent == nil {
		f.sent = map[string]bool{}
	}
	if f.sent[post.PostURL] {
		return false, nil
	}
	f.sent[post.PostURL] = true
	return true, nil
}

func viralVideo(id string) scrape.Post {
	return scrape.Post{
		ID:          id,
		URL:         "https://example.com/p/" + id,
		Kind:        scrape.KindSingleMedia,
		ViewCount:   500_000,
		LikeCount:   10_000,
		PublishedAt: time.Now().Add(-6 * time.Hour),
	}
}

func quietVideo(id string) scrape.Post {
	p := viralVideo(id)
	p.ViewCount = 10
	return p
}

func seedAccount(t *testing.T, store storage.Store, username string, followers int64) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertAccount(ctx, username); err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	if err := store.UpdateFollowerCount(ctx, username, followers); err != nil {
		t.Fatalf("seed followers %s: %v", username, err)
	}
}

func newOrchestrator(store storage.Store, sc scrape.Client, n Notifier, maxAccounts int) *Orchestrator {
	svc := settings.NewService(store, logx.Nop())
	return NewOrchestrator(store, sc, svc, n, nil, maxAccounts, logx.Nop())
}

func TestRunScoresAndNotifies(t *testing.T) {
	store := storage.NewMemory()
	seedAccount(t, store, "alpha", 5_000)
	seedAccount(t, store, "beta", 5_000)

	sc := &fakeScraper{snaps: map[string]scrape.AccountSnapshot{
		"alpha": {Username: "alpha", FollowerCount: 5_000, Posts: []scrape.Post{viralVideo("a1"), quietVideo("a2")}},
		"beta":  {Username: "beta", FollowerCount: 5_000, Posts: []scrape.Post{quietVideo("b1")}},
	}}
	n := &fakeNotifier{}
	o := newOrchestrator(store, sc, n, 0)

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AccountsProcessed != 2 || res.AccountsFailed != 0 {
		t.Fatalf("unexpected account counts: %+v", res)
	}
	if res.PostsScored != 3 || res.ViralFound != 1 || res.NotificationsSent != 1 {
		t.Fatalf("unexpected scoring counts: %+v", res)
	}
	if len(n.dispatched) != 1 || n.dispatched[0].Username != "alpha" {
		t.Fatalf("unexpected dispatches: %+v", n.dispatched)
	}

	// Ledger updated for both accounts with their viral counts.
	history, err := store.CheckHistory(context.Background())
	if err != nil {
		t.Fatalf("CheckHistory: %v", err)
	}
	if history["alpha"].LastViralCount != 1 || history["alpha"].TotalChecks != 1 {
		t.Fatalf("alpha ledger: %+v", history["alpha"])
	}
	if history["beta"].LastViralCount != 0 || history["beta"].TotalChecks != 1 {
		t.Fatalf("beta ledger: %+v", history["beta"])
	}

	// Feed has the viral post.
	posts, err := store.ListViralPosts(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListViralPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].PostURL != "https://example.com/p/a1" {
		t.Fatalf("feed: %+v", posts)
	}
}

func TestRunContinuesPastFetchFailure(t *testing.T) {
	store := storage.NewMemory()
	for _, u := range []string{"one", "two", "three"} {
		seedAccount(t, store, u, 5_000)
	}
	sc := &fakeScraper{
		snaps: map[string]scrape.AccountSnapshot{
			"one":   {Username: "one", FollowerCount: 5_000, Posts: []scrape.Post{viralVideo("o1")}},
			"three": {Username: "three", FollowerCount: 5_000, Posts: []scrape.Post{viralVideo("t1")}},
		},
		bad: map[string]error{"two": errors.New("503 from provider")},
	}
	n := &fakeNotifier{}
	o := newOrchestrator(store, sc, n, 0)

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("one bad account must not abort the pass: %v", err)
	}
	if res.AccountsProcessed != 2 || res.AccountsFailed != 1 {
		t.Fatalf("counts: %+v", res)
	}
	if res.NotificationsSent != 2 {
		t.Fatalf("both healthy accounts should notify: %+v", res)
	}

	// The failed account still gets a ledger entry so it rotates to the
	// back of the queue.
	history, err := store.CheckHistory(context.Background())
	if err != nil {
		t.Fatalf("CheckHistory: %v", err)
	}
	if e, ok := history["two"]; !ok || e.TotalChecks != 1 || e.LastViralCount != 0 {
		t.Fatalf("failed account ledger: %+v (ok=%v)", e, ok)
	}
}

func TestRunTruncatesAndCapsPosts(t *testing.T) {
	store := storage.NewMemory()
	for _, u := range []string{"a", "b", "c"} {
		seedAccount(t, store, u, 5_000)
	}

	many := make([]scrape.Post, 0, 30)
	for i := 0; i < 30; i++ {
		many = append(many, quietVideo("p"+string(rune('a'+i))))
	}
	sc := &fakeScraper{snaps: map[string]scrape.AccountSnapshot{
		"a": {Username: "a", FollowerCount: 5_000, Posts: many},
		"b": {Username: "b", FollowerCount: 5_000},
		"c": {Username: "c", FollowerCount: 5_000},
	}}
	n := &fakeNotifier{}
	o := newOrchestrator(store, sc, n, 2)

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AccountsPlanned != 2 || res.AccountsProcessed != 2 {
		t.Fatalf("max-accounts truncation not applied: %+v", res)
	}
	if len(sc.fetched) != 2 {
		t.Fatalf("fetched %v, want 2 accounts", sc.fetched)
	}
	// Default posts_per_account is 12; the 30-post snapshot is capped.
	if res.PostsScored > 12 {
		t.Fatalf("posts per account not capped: scored %d", res.PostsScored)
	}
}

func TestRunAbortsWhenChannelUnconfigured(t *testing.T) {
	store := storage.NewMemory()
	for _, u := range []string{"a", "b"} {
		seedAccount(t, store, u, 5_000)
	}
	sc := &fakeScraper{snaps: map[string]scrape.AccountSnapshot{
		"a": {Username: "a", FollowerCount: 5_000, Posts: []scrape.Post{viralVideo("a1")}},
		"b": {Username: "b", FollowerCount: 5_000, Posts: []scrape.Post{viralVideo("b1")}},
	}}
	n := &fakeNotifier{err: transport.ErrNotConfigured}
	o := newOrchestrator(store, sc, n, 0)

	_, err := o.Run(context.Background())
	if !errors.Is(err, transport.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if len(sc.fetched) != 1 {
		t.Fatalf("run should abort after the first config failure, fetched %v", sc.fetched)
	}
}

func TestRunPrunesStaleLocks(t *testing.T) {
	store := storage.NewMemory()
	seedAccount(t, store, "a", 5_000)
	sc := &fakeScraper{snaps: map[string]scrape.AccountSnapshot{
		"a": {Username: "a", FollowerCount: 5_000},
	}}

	ctx := context.Background()
	now := time.Now()
	seedLock := func(url string, published, discovered time.Time) {
		t.Helper()
		if err := store.UpsertViralPost(ctx, storage.ViralPost{
			Username:     "a",
			PostURL:      url,
			ContentKind:  "single_media",
			ViewCount:    200_000,
			PublishedAt:  published,
			DiscoveredAt: discovered,
		}); err != nil {
			t.Fatalf("seed post %s: %v", url, err)
		}
		if ok, err := store.AcquireSendLock(ctx, url, "a", discovered); err != nil || !ok {
			t.Fatalf("seed lock %s: ok=%v err=%v", url, ok, err)
		}
	}
	// Past both the age gate (default 60 days) and the 30-day retention.
	seedLock("https://e/p/stale", now.AddDate(0, 0, -90), now.AddDate(0, 0, -45))
	// Still within the age gate.
	seedLock("https://e/p/live", now.AddDate(0, 0, -5), now.AddDate(0, 0, -45))

	svc := settings.NewService(store, logx.Nop())
	if _, err := svc.Update(ctx, settings.Patch{LockRetentionDays: ptrInt(30)}); err != nil {
		t.Fatalf("set retention: %v", err)
	}
	o := NewOrchestrator(store, sc, svc, &fakeNotifier{}, nil, 0, logx.Nop())

	if _, err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.HasSendLock("https://e/p/stale") {
		t.Fatal("stale lock survived the pass")
	}
	if !store.HasSendLock("https://e/p/live") {
		t.Fatal("in-window lock was pruned")
	}
}

func ptrInt(v int) *int { return &v }

func TestRunRefreshesFollowerCount(t *testing.T) {
	store := storage.NewMemory()
	seedAccount(t, store, "grower", 5_000)
	sc := &fakeScraper{snaps: map[string]scrape.AccountSnapshot{
		"grower": {Username: "grower", FollowerCount: 80_000},
	}}
	o := newOrchestrator(store, sc, &fakeNotifier{}, 0)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	accounts, err := store.Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].FollowerCount != 80_000 {
		t.Fatalf("follower count not refreshed: %+v", accounts)
	}
}
