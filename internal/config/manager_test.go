package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  chat_id: -100123
logging:
  level: "debug"
  console: true
storage:
  driver: "sqlite"
  path: "./test.db"
scraper:
  base_url: "https://scraper.example.com/v1"
  rate_per_min: 30
scheduler:
  enabled: true
  timezone: "UTC"
accounts:
  - "one"
  - "two"
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.ChatID != -100123 {
		t.Fatalf("telegram section: %+v", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging section: %+v", cfg.Logging)
	}
	if cfg.Scraper.RatePerMin != 30 {
		t.Fatalf("scraper section: %+v", cfg.Scraper)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[1] != "two" {
		t.Fatalf("accounts: %v", cfg.Accounts)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseJSON(t *testing.T) {
	path := writeFile(t, "config.json",
		`{"telegram":{"token":"t","chat_id":1},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"storage":{"driver":"memory","path":""},"scraper":{"base_url":"https://s"},"scheduler":{"enabled":false}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", `
telegram:
  token: "t"
  chat_id: 1
  shout_mode: true
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{"token":"t","chat_id":1}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON should be rejected")
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml")).Parse(); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("nothing delivered")
	}

	// Slow subscriber: the newest config wins, older one is dropped.
	a, b := &Config{}, &Config{Accounts: []string{"x"}}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("expected newest config after overflow")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}

func TestReloadCommitsOnlyChangedValidConfigs(t *testing.T) {
	path := writeFile(t, "config.yaml", "scheduler:\n  enabled: false\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(2)
	ctx := context.Background()

	// Unchanged content is not re-published.
	m.reload(ctx)
	select {
	case <-sub:
		t.Fatal("unchanged content must not publish")
	default:
	}

	// Changed content is committed and published.
	if err := os.WriteFile(path, []byte("scheduler:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(ctx)
	var got *Config
	select {
	case got = <-sub:
	default:
		t.Fatal("changed content was not published")
	}
	if !got.Scheduler.Enabled {
		t.Fatalf("published stale config: %+v", got.Scheduler)
	}
	if m.Get() != got {
		t.Fatal("published config differs from the committed snapshot")
	}

	// A change that fails validation keeps the previous snapshot.
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		return errors.New("rejected")
	})
	if err := os.WriteFile(path, []byte("scheduler:\n  enabled: false\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload(ctx)
	if m.Get() != got {
		t.Fatal("rejected config must not be committed")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", "1m30s"); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should error")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage should error")
	}
	if d, err := ParseDurationOrDefault("x", "", 7*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}
