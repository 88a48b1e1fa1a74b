package config

// Config is the static (file-backed) configuration of the scanner daemon.
//
// Runtime tunables (scan cadence, tier multiplier tables, posts-per-account,
// max post age, formula switch) live in the settings document persisted in
// storage and are edited through the API, not here.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scraper   ScraperConfig   `json:"scraper"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch,omitempty"`
	API       APIConfig       `json:"api,omitempty"`
	Scan      ScanConfig      `json:"scan,omitempty"`

	// Accounts seeds the roster on startup: usernames listed here are
	// upserted into storage if missing. Account management beyond that is
	// out of scope for the daemon.
	Accounts []string `json:"accounts,omitempty"`
}

// TelegramConfig configures the notification channel.
type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the destination chat for viral-post notifications.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// SendTimeout bounds a single send call. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./viralscan.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ScraperConfig configures the HTTP client that fetches normalized account
// snapshots from the scraping provider.
type ScraperConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	// Timeout bounds one fetch call. Default "30s".
	Timeout string `json:"timeout,omitempty"`
	// RatePerMin caps outgoing fetches per minute. 0 disables pacing.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// SchedulerConfig controls the scan trigger service.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Berlin"
}

// DispatchConfig controls retry behavior for notification sends.
type DispatchConfig struct {
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8080"
}

// ScanConfig bounds a scan pass.
type ScanConfig struct {
	// MaxAccountsPerRun truncates the prioritized list. 0 = no limit.
	MaxAccountsPerRun int `json:"max_accounts_per_run,omitempty"`
}
