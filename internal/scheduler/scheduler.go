// Package scheduler fires scan passes on the cadence configured in the
// runtime settings document. Exactly one cron entry exists at a time; a
// settings update swaps it in place. Ticks that land while a pass is still
// running are skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"viralscan/internal/scan"
	"viralscan/internal/settings"
	"viralscan/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

type Service struct {
	cfg     Config
	trigger *scan.Trigger
	log     logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context
}

func New(cfg Config, trigger *scan.Trigger, log logx.Logger) *Service {
	return &Service{
		cfg:     cfg,
		trigger: trigger,
		log:     log.With(logx.String("component", "scheduler")),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start brings up the cron runner with the cadence from st. ctx is the
// lifetime context handed to scan passes.
func (s *Service) Start(ctx context.Context, st settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler already started")
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}

	s.baseCtx = ctx
	s.c = cron.New(cron.WithLocation(loc))
	if err := s.scheduleLocked(st); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", loc.String()),
		logx.String("spec", SpecFor(st)))
	return nil
}

// Apply re-schedules after a settings change. Safe to call before Start; it
// is then a no-op because Start reads the current settings itself.
func (s *Service) Apply(st settings.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	if err := s.scheduleLocked(st); err != nil {
		s.log.Error("reschedule failed", logx.Err(err))
		return
	}
	s.log.Info("rescheduled", logx.String("spec", SpecFor(st)))
}

func (s *Service) scheduleLocked(st settings.Settings) error {
	spec := SpecFor(st)
	id, err := s.c.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	if s.entry != 0 {
		s.c.Remove(s.entry)
	}
	s.entry = id
	return nil
}

func (s *Service) tick() {
	res, err := s.trigger.TryRun(s.baseCtx)
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		s.log.Warn("previous scan still running, skipping tick")
	case err != nil:
		s.log.Error("scheduled scan failed", logx.Err(err))
	default:
		s.log.Info("scheduled scan finished",
			logx.Int("processed", res.AccountsProcessed),
			logx.Int("sent", res.NotificationsSent))
	}
}

// Stop halts the cron runner and waits for an in-flight tick callback to
// return. A running scan pass is cancelled through the lifetime context,
// not here.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// SpecFor translates the settings cadence into a cron spec.
func SpecFor(st settings.Settings) string {
	switch st.SchedulerMode {
	case settings.ModeInterval:
		return "@every " + st.IntervalDuration().String()
	case settings.ModeWeekly:
		h, m := mustHHMM(st.WeeklyTime)
		return fmt.Sprintf("%d %d * * %d", m, h, int(st.Weekday()))
	default:
		h, m := mustHHMM(st.DailyTime)
		return fmt.Sprintf("%d %d * * *", m, h)
	}
}

// mustHHMM parses "HH:MM". Settings are validated before they reach the
// scheduler, so a parse failure falls back to 09:00 rather than erroring.
func mustHHMM(v string) (h, m int) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 9, 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 9, 0
	}
	return h, m
}
