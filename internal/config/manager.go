package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "viralscan/pkg/logx"
)

// debounceWindow delays reloads after a file event so a half-written
// config is not parsed mid-save.
const debounceWindow = 250 * time.Millisecond

// Manager loads the config file, hands out the committed snapshot, and
// fans out validated reloads to subscribers while Watch runs.
type Manager struct {
	path string

	mu          sync.RWMutex
	cfg         *Config
	fingerprint uint64 // of the last committed content, to skip no-op reloads

	// subsMu serializes publishes against Unsubscribe closing a channel.
	subsMu sync.Mutex
	subs   []chan *Config

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the check a reloaded config must pass before it is
// committed and published.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and decodes the file without committing it. Unknown fields
// and trailing documents are rejected.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); err {
	case io.EOF:
	case nil:
		return nil, errors.New("invalid config: trailing data")
	default:
		return nil, err
	}
	return &cfg, nil
}

// Load parses the file and commits the result as the current snapshot.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the last committed snapshot, nil before the first Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.fingerprint = fingerprint(cfg)
	m.mu.Unlock()
}

// fingerprint hashes the config's JSON form. 0 means "unknown" and never
// matches, so a marshal failure just forces the reload through.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel receiving each committed reload.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes the channel. Safe to call with a channel
// that was never subscribed.
func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, sub := range m.subs {
		if sub != ch {
			continue
		}
		last := len(m.subs) - 1
		m.subs[i] = m.subs[last]
		m.subs[last] = nil
		m.subs = m.subs[:last]
		close(ch)
		return
	}
}

// publish delivers cfg to every subscriber. A subscriber with a full buffer
// loses its oldest queued update, never the newest.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			if !m.log.IsZero() {
				m.log.Debug("config update dropped, subscriber stalled",
					logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}

// Watch follows the config file and reloads on change. It watches the
// parent directory because editors typically replace the file rather than
// write it in place. A broken watcher surfaces as a non-nil error; the
// daemon runs Watch under a supervisor restart loop, so returning is the
// recovery path.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	queueReload := func() {
		if pending != nil {
			pending.Stop()
		}
		pending = time.AfterFunc(debounceWindow, func() { m.reload(ctx) })
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: event stream closed")
			}
			// Match on basename; rename-into-place events carry temp names
			// for the old file but the final op names the config itself.
			if strings.EqualFold(filepath.Base(ev.Name), base) {
				queueReload()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: error stream closed")
			}
			if werr == nil {
				continue
			}
			// An overflow means events were missed, not that the watcher is
			// dead; reload once and keep going.
			if strings.Contains(strings.ToLower(werr.Error()), "overflow") {
				queueReload()
				continue
			}
			return fmt.Errorf("config watch: %w", werr)
		}
	}
}

// reload re-parses the file and, when the content changed and validates,
// commits and publishes it. Failures keep the previous snapshot.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		if !m.log.IsZero() {
			m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		}
		return
	}

	fp := fingerprint(cfg)
	m.mu.RLock()
	unchanged := fp != 0 && fp == m.fingerprint
	m.mu.RUnlock()
	if unchanged {
		return
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			}
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	if !m.log.IsZero() {
		m.log.Info("config reloaded", logx.String("path", m.path))
	}
}
