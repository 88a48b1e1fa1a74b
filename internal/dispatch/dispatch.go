// Package dispatch delivers viral-post notifications at most once per post.
//
// Delivery uses a storage-backed send lock: the lock row is inserted before
// the send attempt, and rolled back only after the send definitively fails.
// A post whose lock already exists is skipped silently, which is what makes
// repeated scans of the same account idempotent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"viralscan/internal/storage"
	"viralscan/internal/transport"
	"viralscan/internal/virality"
	"viralscan/pkg/logx"
)

// RetryPolicy controls send retries. Exponential backoff with jitter,
// capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay < p.Base {
		p.MaxDelay = p.Base
	}
	return p
}

// delay computes the backoff before the given 1-based retry attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	// Up to 25% jitter to avoid thundering herds across posts.
	j := time.Duration(rand.Int63n(int64(d)/4 + 1))
	if d+j > p.MaxDelay {
		return p.MaxDelay
	}
	return d + j
}

// Dispatcher sends one notification per viral post.
type Dispatcher struct {
	store   storage.Store
	channel transport.Channel
	target  transport.ChatTarget
	policy  RetryPolicy
	log     logx.Logger

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(store storage.Store, ch transport.Channel, target transport.ChatTarget, policy RetryPolicy, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		channel: ch,
		target:  target,
		policy:  policy.normalized(),
		log:     log.With(logx.String("component", "dispatch")),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch notifies about one viral post. It returns (true, nil) when a
// message went out, (false, nil) when the post was already notified, and
// (false, err) when delivery failed after retries. On failure the send lock
// is released so a later scan can try again.
//
// transport.ErrNotConfigured is not retried: it aborts immediately (with the
// lock rolled back) so the caller can stop the whole run instead of burning
// through every remaining post.
func (d *Dispatcher) Dispatch(ctx context.Context, post storage.ViralPost) (bool, error) {
	acquired, err := d.store.AcquireSendLock(ctx, post.PostURL, post.Username, d.now())
	if err != nil {
		return false, fmt.Errorf("acquire send lock: %w", err)
	}
	if !acquired {
		d.log.Debug("already notified, skipping",
			logx.String("account", post.Username),
			logx.String("post", post.PostURL))
		return false, nil
	}

	text := FormatMessage(post)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: false}

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		_, err := d.channel.SendText(ctx, d.target, text, opt)
		if err == nil {
			d.log.Info("notification sent",
				logx.String("account", post.Username),
				logx.String("post", post.PostURL),
				logx.Int("attempt", attempt))
			return true, nil
		}
		lastErr = err

		if errors.Is(err, transport.ErrNotConfigured) || ctx.Err() != nil {
			break
		}

		if attempt == d.policy.MaxAttempts {
			break
		}
		wait := d.policy.delay(attempt)
		var te *transport.ThrottledError
		if errors.As(err, &te) && te.RetryAfter() > wait {
			wait = te.RetryAfter()
		}
		d.log.Warn("send failed, retrying",
			logx.String("post", post.PostURL),
			logx.Int("attempt", attempt),
			logx.Duration("wait", wait),
			logx.Err(err))
		if err := d.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	// Roll back the lock so the post is retriable on the next scan. If the
	// rollback itself fails the post stays locked; that loses at most one
	// notification and never duplicates one.
	if rbErr := d.store.ReleaseSendLock(ctx, post.PostURL); rbErr != nil {
		d.log.Error("send-lock rollback failed", logx.String("post", post.PostURL), logx.Err(rbErr))
	}
	return false, fmt.Errorf("send notification for %s: %w", post.PostURL, lastErr)
}

// FormatMessage renders the notification body sent to the chat.
func FormatMessage(p storage.ViralPost) string {
	var b strings.Builder
	b.WriteString("🚨 <b>Viral post detected</b>\n\n")
	fmt.Fprintf(&b, "Account: @%s\n", p.Username)
	fmt.Fprintf(&b, "Link: %s\n\n", p.PostURL)
	if p.ViewCount > 0 {
		fmt.Fprintf(&b, "👁 Views: %s\n", virality.Comma(p.ViewCount))
	}
	fmt.Fprintf(&b, "❤️ Likes: %s\n", virality.Comma(p.LikeCount))
	fmt.Fprintf(&b, "💬 Comments: %s\n", virality.Comma(p.CommentCount))
	if p.ShareCount > 0 {
		fmt.Fprintf(&b, "🔁 Shares: %s\n", virality.Comma(p.ShareCount))
	}
	if !p.PublishedAt.IsZero() {
		fmt.Fprintf(&b, "🗓 Published: %s\n", p.PublishedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	fmt.Fprintf(&b, "\n%s", p.Reason)
	return b.String()
}
