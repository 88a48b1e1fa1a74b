// Package app wires the scanner daemon together: configuration, logging,
// storage, the notification channel, the scan pipeline, the scheduler, and
// the admin API.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"viralscan/internal/api"
	"viralscan/internal/config"
	"viralscan/internal/dispatch"
	"viralscan/internal/metrics"
	"viralscan/internal/runtime/supervisor"
	"viralscan/internal/scan"
	"viralscan/internal/scheduler"
	"viralscan/internal/scrape"
	"viralscan/internal/settings"
	"viralscan/internal/storage"
	"viralscan/internal/transport"
	"viralscan/internal/transport/telegram"
	logx "viralscan/pkg/logx"
)

type App struct {
	cfgm     *config.Manager
	log      logx.Logger
	logClose func() error

	store    storage.Store
	channel  transport.Channel
	settings *settings.Service
	metrics  *metrics.Provider
	trigger  *scan.Trigger
	sched    *scheduler.Service
	apiSrv   *api.Server

	seed []string
	sup  *supervisor.Supervisor

	schedulerEnabled bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logClose := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("component", "app"))

	a, err := build(cfgm, cfg, log)
	if err != nil {
		_ = logClose()
		return nil, err
	}
	a.logClose = logClose
	return a, nil
}

func build(cfgm *config.Manager, cfg *config.Config, log logx.Logger) (*App, error) {
	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, err
	}

	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	var channel transport.Channel
	ch, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		SendTimeout: sendTimeout,
	}, log.With(logx.String("component", "telegram")))
	switch {
	case err == nil:
		channel = ch
	case errors.Is(err, transport.ErrNotConfigured):
		log.Warn("telegram token missing, notifications disabled")
		channel = transport.Disabled()
	default:
		return nil, fmt.Errorf("telegram: %w", err)
	}

	scrapeTimeout, err := config.ParseDurationOrDefault("scraper.timeout", cfg.Scraper.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	scraper, err := scrape.NewHTTPClient(scrape.Config{
		BaseURL:    cfg.Scraper.BaseURL,
		Token:      cfg.Scraper.Token,
		Timeout:    scrapeTimeout,
		RatePerMin: cfg.Scraper.RatePerMin,
	}, log.With(logx.String("component", "scraper")))
	if err != nil {
		return nil, err
	}

	policy := dispatch.DefaultRetryPolicy()
	if cfg.Dispatch.RetryMax > 0 {
		policy.MaxAttempts = cfg.Dispatch.RetryMax
	}
	if policy.Base, err = config.ParseDurationOrDefault("dispatch.retry_base", cfg.Dispatch.RetryBase, policy.Base); err != nil {
		return nil, err
	}
	if policy.MaxDelay, err = config.ParseDurationOrDefault("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay, policy.MaxDelay); err != nil {
		return nil, err
	}

	settingsSvc := settings.NewService(store, log)
	prom := metrics.New()

	dispatcher := dispatch.New(store, channel,
		transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		policy, log)
	orch := scan.NewOrchestrator(store, scraper, settingsSvc, dispatcher, prom,
		cfg.Scan.MaxAccountsPerRun, log)
	trigger := scan.NewTrigger(orch)

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, trigger, log)
	settingsSvc.OnChange(sched.Apply)

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg.API.Addr, store, settingsSvc, trigger, prom.Registry(), log)
	}

	return &App{
		cfgm:             cfgm,
		log:              log,
		store:            store,
		channel:          channel,
		settings:         settingsSvc,
		metrics:          prom,
		trigger:          trigger,
		sched:            sched,
		apiSrv:           apiSrv,
		seed:             cfg.Accounts,
		schedulerEnabled: cfg.Scheduler.Enabled,
	}, nil
}

// Trigger exposes the scan trigger, mainly for ad-hoc invocations.
func (a *App) Trigger() *scan.Trigger { return a.trigger }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.seedRoster(a.sup.Context()); err != nil {
		return err
	}

	a.cfgm.SetLogger(a.log.With(logx.String("component", "config")))
	a.cfgm.SetValidator(validateConfig)
	// Watch returns an error when the fsnotify stream breaks; restart it
	// with backoff instead of treating that as fatal.
	a.sup.GoRestart("config-watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go0("config-reload", a.watchReloads)

	if a.schedulerEnabled {
		st, err := a.settings.Get(a.sup.Context())
		if err != nil {
			return err
		}
		if err := a.sched.Start(a.sup.Context(), st); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled; scans run only via the API")
	}

	if a.apiSrv != nil {
		// A bind failure (port still in TIME_WAIT after a restart) resolves
		// itself; retry rather than treating it as fatal.
		a.sup.GoRestart("api", a.apiSrv.Run, time.Second, 30*time.Second)
	}

	a.log.Info("scanner started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
	}
	a.sched.Stop(ctx)
	if a.sup != nil {
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("supervisor drain interrupted", logx.Err(err))
		}
	}
	_ = a.channel.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("scanner stopped")
	if a.logClose != nil {
		_ = a.logClose()
	}
	return nil
}

// seedRoster upserts configured usernames so first-run deployments have a
// roster without touching the API.
func (a *App) seedRoster(ctx context.Context) error {
	for _, raw := range a.seed {
		username := strings.TrimPrefix(strings.TrimSpace(raw), "@")
		if username == "" {
			continue
		}
		if err := a.store.UpsertAccount(ctx, username); err != nil {
			return fmt.Errorf("seed account %q: %w", username, err)
		}
	}
	if len(a.seed) > 0 {
		a.log.Info("roster seeded", logx.Int("accounts", len(a.seed)))
	}
	return nil
}

// watchReloads consumes config-file changes. Structural settings (storage
// driver, transport credentials, listen address) need a restart; reloads are
// logged so operators can tell the watch is alive.
func (a *App) watchReloads(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.log.Info("config file reloaded; transport, storage and API changes apply on restart",
				logx.Int("accounts", len(cfg.Accounts)))
		}
	}
}

func validateConfig(ctx context.Context, cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("scraper.timeout", cfg.Scraper.Timeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("dispatch.retry_base", cfg.Dispatch.RetryBase); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay); err != nil {
		return err
	}
	if cfg.Dispatch.RetryMax < 0 {
		return fmt.Errorf("dispatch.retry_max must be >= 0")
	}
	if cfg.Scan.MaxAccountsPerRun < 0 {
		return fmt.Errorf("scan.max_accounts_per_run must be >= 0")
	}
	if cfg.Scraper.RatePerMin < 0 {
		return fmt.Errorf("scraper.rate_per_min must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
