package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local Store. State is lost on restart, so the dedup
// guarantee of the lock table only holds within one process lifetime; use the
// sqlite driver in production.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]Account
	history  map[string]CheckEntry
	locks    map[string]time.Time
	posts    map[string]ViralPost
	settings []byte
}

func NewMemory() *Memory {
	return &Memory{
		accounts: map[string]Account{},
		history:  map[string]CheckEntry{},
		locks:    map[string]time.Time{},
		posts:    map[string]ViralPost{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Accounts(ctx context.Context) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (m *Memory) UpsertAccount(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[username]; !ok {
		m.accounts[username] = Account{Username: username, CreatedAt: time.Now()}
	}
	return nil
}

func (m *Memory) UpdateFollowerCount(ctx context.Context, username string, followers int64) error {
	if followers < 0 {
		followers = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[username]
	if !ok {
		a = Account{Username: username, CreatedAt: time.Now()}
	}
	a.FollowerCount = followers
	a.FollowersUpdatedAt = time.Now()
	m.accounts[username] = a
	return nil
}

func (m *Memory) CheckHistory(ctx context.Context) (map[string]CheckEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]CheckEntry, len(m.history))
	for k, v := range m.history {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) RecordCheck(ctx context.Context, username string, viralCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.history[username]
	if !ok {
		e = CheckEntry{Username: username}
	}
	e.LastCheckedAt = time.Now()
	e.TotalChecks++
	e.LastViralCount = viralCount
	m.history[username] = e
	return nil
}

func (m *Memory) AcquireSendLock(ctx context.Context, postURL, username string, at time.Time) (bool, error) {
	if postURL == "" {
		return false, errors.New("post url is empty")
	}
	if at.IsZero() {
		at = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[postURL]; held {
		return false, nil
	}
	m.locks[postURL] = at
	return true, nil
}

func (m *Memory) ReleaseSendLock(ctx context.Context, postURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, postURL)
	return nil
}

func (m *Memory) PruneSendLocks(ctx context.Context, publishedBefore, discoveredBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for url := range m.locks {
		p, ok := m.posts[url]
		if !ok || p.PublishedAt.IsZero() {
			continue
		}
		if p.PublishedAt.Before(publishedBefore) && p.DiscoveredAt.Before(discoveredBefore) {
			delete(m.locks, url)
			n++
		}
	}
	return n, nil
}

// HasSendLock reports whether a lock row exists. Test helper.
func (m *Memory) HasSendLock(postURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[postURL]
	return ok
}

func (m *Memory) UpsertViralPost(ctx context.Context, p ViralPost) error {
	if p.PostURL == "" {
		return errors.New("post url is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.posts[p.PostURL]; ok {
		// Refresh metrics, keep original discovery time.
		p.DiscoveredAt = prev.DiscoveredAt
	} else if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = time.Now()
	}
	m.posts[p.PostURL] = p
	return nil
}

func (m *Memory) ListViralPosts(ctx context.Context, limit, offset int) ([]ViralPost, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ViralPost, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SettingsDoc(ctx context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return nil, false, nil
	}
	return append([]byte(nil), m.settings...), true, nil
}

func (m *Memory) PutSettingsDoc(ctx context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = append([]byte(nil), doc...)
	return nil
}
