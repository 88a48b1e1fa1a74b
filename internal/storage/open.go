package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "viralscan/pkg/logx"
)

// Store is the persistence API used by the scanner.
//
// AcquireSendLock is the concurrency-control primitive behind at-most-once
// notification delivery: it must be an atomic insert-if-absent on the post
// URL. ReleaseSendLock is the rollback path and must only be called after a
// definitive send failure.
type Store interface {
	// Accounts / roster
	Accounts(ctx context.Context) ([]Account, error)
	UpsertAccount(ctx context.Context, username string) error
	UpdateFollowerCount(ctx context.Context, username string, followers int64) error

	// Check-history ledger
	CheckHistory(ctx context.Context) (map[string]CheckEntry, error)
	RecordCheck(ctx context.Context, username string, viralCount int) error

	// Notification send-locks
	AcquireSendLock(ctx context.Context, postURL, username string, at time.Time) (bool, error)
	ReleaseSendLock(ctx context.Context, postURL string) error
	// PruneSendLocks removes locks whose post was published before
	// publishedBefore and discovered before discoveredBefore. A lock with no
	// matching viral-post row is never pruned.
	PruneSendLocks(ctx context.Context, publishedBefore, discoveredBefore time.Time) (int64, error)

	// Viral-post feed
	UpsertViralPost(ctx context.Context, p ViralPost) error
	ListViralPosts(ctx context.Context, limit, offset int) ([]ViralPost, error)

	// Settings singleton document (raw JSON; merge semantics live above storage)
	SettingsDoc(ctx context.Context) ([]byte, bool, error)
	PutSettingsDoc(ctx context.Context, doc []byte) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
