// Package scan runs one full scan pass: pick accounts in priority order,
// fetch their recent posts, score them, and hand viral ones to the
// notification dispatcher. A failing account never aborts the pass; only
// cancellation or an unconfigured notification channel does.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"viralscan/internal/metrics"
	"viralscan/internal/scrape"
	"viralscan/internal/settings"
	"viralscan/internal/storage"
	"viralscan/internal/transport"
	"viralscan/internal/virality"
	"viralscan/pkg/logx"
)

// Notifier delivers at-most-once notifications for viral posts.
type Notifier interface {
	Dispatch(ctx context.Context, post storage.ViralPost) (bool, error)
}

// Result summarizes one scan pass.
type Result struct {
	AccountsPlanned   int `json:"accounts_planned"`
	AccountsProcessed int `json:"accounts_processed"`
	AccountsFailed    int `json:"accounts_failed"`
	PostsScored       int `json:"posts_scored"`
	ViralFound        int `json:"viral_found"`
	NotificationsSent int `json:"notifications_sent"`
	Deduped           int `json:"deduped"`
}

type Orchestrator struct {
	store    storage.Store
	scraper  scrape.Client
	settings *settings.Service
	notifier Notifier
	rec      metrics.Recorder
	log      logx.Logger

	// maxAccounts truncates the prioritized list per pass. 0 = unlimited.
	maxAccounts int

	now func() time.Time
}

func NewOrchestrator(store storage.Store, scraper scrape.Client, svc *settings.Service, notifier Notifier, rec metrics.Recorder, maxAccounts int, log logx.Logger) *Orchestrator {
	if rec == nil {
		rec = metrics.Nop()
	}
	return &Orchestrator{
		store:       store,
		scraper:     scraper,
		settings:    svc,
		notifier:    notifier,
		rec:         rec,
		log:         log.With(logx.String("component", "scan")),
		maxAccounts: maxAccounts,
		now:         time.Now,
	}
}

// Run executes one scan pass. Settings are snapshotted once at the start so
// a concurrent settings update cannot change scoring mid-pass.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	start := o.now()
	o.rec.ScanStarted()
	var res Result
	outcome := "ok"
	defer func() {
		o.rec.ScanFinished(outcome, o.now().Sub(start))
	}()

	st, err := o.settings.Get(ctx)
	if err != nil {
		outcome = "error"
		return res, err
	}

	accounts, err := o.store.Accounts(ctx)
	if err != nil {
		outcome = "error"
		return res, fmt.Errorf("load accounts: %w", err)
	}
	history, err := o.store.CheckHistory(ctx)
	if err != nil {
		outcome = "error"
		return res, fmt.Errorf("load check history: %w", err)
	}

	followers := make(map[string]int64, len(accounts))
	usernames := make([]string, 0, len(accounts))
	for _, a := range accounts {
		usernames = append(usernames, a.Username)
		followers[a.Username] = a.FollowerCount
	}
	order := Prioritize(usernames, history)
	if o.maxAccounts > 0 && len(order) > o.maxAccounts {
		order = order[:o.maxAccounts]
	}
	res.AccountsPlanned = len(order)

	o.log.Info("scan pass starting",
		logx.Int("accounts", len(order)),
		logx.Int("posts_per_account", st.PostsPerAccount))

	for _, username := range order {
		if err := ctx.Err(); err != nil {
			outcome = "error"
			return res, err
		}
		if err := o.scanAccount(ctx, username, followers[username], st, &res); err != nil {
			outcome = "error"
			return res, err
		}
	}

	o.pruneLocks(ctx, st)

	o.log.Info("scan pass finished",
		logx.Int("processed", res.AccountsProcessed),
		logx.Int("failed", res.AccountsFailed),
		logx.Int("viral", res.ViralFound),
		logx.Int("sent", res.NotificationsSent),
		logx.Duration("took", o.now().Sub(start)))
	return res, nil
}

// pruneLocks drops send-locks that can no longer matter: the post is past
// the scoring age gate, so it cannot be re-notified even without the lock.
// Retention 0 disables pruning entirely.
func (o *Orchestrator) pruneLocks(ctx context.Context, st settings.Settings) {
	if st.LockRetentionDays <= 0 {
		return
	}
	now := o.now()
	publishedBefore := now.AddDate(0, 0, -st.Scoring.MaxPostAgeDays)
	discoveredBefore := now.AddDate(0, 0, -st.LockRetentionDays)
	n, err := o.store.PruneSendLocks(ctx, publishedBefore, discoveredBefore)
	if err != nil {
		o.log.Warn("send-lock prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		o.log.Info("pruned stale send-locks", logx.Int64("count", n))
	}
}

// scanAccount handles one account. A non-nil return aborts the whole pass
// and is reserved for failures that would hit every remaining account too.
func (o *Orchestrator) scanAccount(ctx context.Context, username string, knownFollowers int64, st settings.Settings, res *Result) error {
	log := o.log.With(logx.String("account", username))

	snap, err := o.scraper.FetchAccount(ctx, username)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("account fetch failed", logx.Err(err))
		o.rec.AccountScanned(false)
		res.AccountsFailed++
		// The ledger records the attempt either way so the account drops to
		// the back of the priority queue instead of wedging the rotation.
		if err := o.store.RecordCheck(ctx, username, 0); err != nil {
			log.Error("record check failed", logx.Err(err))
		}
		return nil
	}

	curFollowers := snap.FollowerCount
	if curFollowers <= 0 {
		curFollowers = knownFollowers
	} else if curFollowers != knownFollowers {
		if err := o.store.UpdateFollowerCount(ctx, username, curFollowers); err != nil {
			log.Warn("follower-count update failed", logx.Err(err))
		}
	}

	posts := snap.Posts
	if len(posts) > st.PostsPerAccount {
		posts = posts[:st.PostsPerAccount]
	}

	now := o.now()
	viralCount := 0
	for _, post := range posts {
		res.PostsScored++
		o.rec.PostsScored(1)
		verdict := virality.Score(post, curFollowers, st.Scoring, now)
		if !verdict.Viral {
			log.Debug("post below threshold",
				logx.String("post", post.URL),
				logx.String("reason", verdict.Reason))
			continue
		}
		viralCount++
		res.ViralFound++
		o.rec.ViralFound(string(post.Kind))

		vp := storage.ViralPost{
			Username:     username,
			PostURL:      post.URL,
			ContentKind:  string(post.Kind),
			ViewCount:    post.ViewCount,
			LikeCount:    post.LikeCount,
			CommentCount: post.CommentCount,
			ShareCount:   post.ShareCount,
			PublishedAt:  post.PublishedAt,
			DiscoveredAt: now,
			Reason:       verdict.Reason,
			ThumbnailURL: post.ThumbnailURL,
			Caption:      post.Caption,
		}
		if err := o.store.UpsertViralPost(ctx, vp); err != nil {
			log.Error("viral-post upsert failed", logx.String("post", post.URL), logx.Err(err))
		}

		sent, err := o.notifier.Dispatch(ctx, vp)
		switch {
		case err == nil && sent:
			res.NotificationsSent++
			o.rec.NotificationSent()
		case err == nil:
			res.Deduped++
			o.rec.NotificationDeduped()
		case errors.Is(err, transport.ErrNotConfigured) || ctx.Err() != nil:
			// Every remaining send would fail the same way.
			if rcErr := o.store.RecordCheck(ctx, username, viralCount); rcErr != nil {
				log.Error("record check failed", logx.Err(rcErr))
			}
			return err
		default:
			log.Error("notification failed", logx.String("post", post.URL), logx.Err(err))
			o.rec.NotificationFailed()
		}
	}

	if err := o.store.RecordCheck(ctx, username, viralCount); err != nil {
		log.Error("record check failed", logx.Err(err))
	}
	o.rec.AccountScanned(true)
	res.AccountsProcessed++
	return nil
}
