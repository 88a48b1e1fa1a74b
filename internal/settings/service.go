package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"viralscan/internal/storage"
	"viralscan/pkg/logx"
)

// Service loads and persists the settings document and notifies listeners
// when it changes. All methods are safe for concurrent use.
type Service struct {
	store storage.Store
	log   logx.Logger

	mu        sync.Mutex
	cached    *Settings
	listeners []func(Settings)
}

func NewService(store storage.Store, log logx.Logger) *Service {
	return &Service{store: store, log: log.With(logx.String("component", "settings"))}
}

// OnChange registers a callback invoked after every successful Update.
// Callbacks run synchronously on the updating goroutine.
func (s *Service) OnChange(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get returns the current settings, falling back to defaults when no
// document has been stored yet. Stored documents are decoded over the
// defaults so fields added after the document was written keep their
// default values.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	if s.cached != nil {
		out := *s.cached
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	doc, ok, err := s.store.SettingsDoc(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	cur := Defaults()
	if ok {
		if err := json.Unmarshal(doc, &cur); err != nil {
			return Settings{}, fmt.Errorf("decode settings document: %w", err)
		}
	}
	if err := cur.Validate(); err != nil {
		s.log.Warn("stored settings invalid, using defaults", logx.Err(err))
		cur = Defaults()
	}

	s.mu.Lock()
	s.cached = &cur
	out := *s.cached
	s.mu.Unlock()
	return out, nil
}

// Update applies the patch to the current settings, validates the merged
// result, persists it, and returns it. An invalid merge leaves the stored
// document untouched.
func (s *Service) Update(ctx context.Context, p Patch) (Settings, error) {
	cur, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := p.Apply(cur)
	if err := next.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	doc, err := json.Marshal(next)
	if err != nil {
		return Settings{}, fmt.Errorf("encode settings document: %w", err)
	}
	if err := s.store.PutSettingsDoc(ctx, doc); err != nil {
		return Settings{}, fmt.Errorf("persist settings: %w", err)
	}

	s.mu.Lock()
	s.cached = &next
	listeners := make([]func(Settings), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.log.Info("settings updated",
		logx.String("scheduler_mode", string(next.SchedulerMode)),
		logx.Int("posts_per_account", next.PostsPerAccount))
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}
