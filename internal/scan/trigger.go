package scan

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrAlreadyRunning is returned when a scan pass is requested while another
// one is still in flight.
var ErrAlreadyRunning = errors.New("scan already running")

// Runner is the Orchestrator surface the trigger needs.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Trigger serializes scan passes: the scheduler and the HTTP API both go
// through it, so a cron tick firing during a manually started pass (or vice
// versa) is skipped instead of doubling up.
type Trigger struct {
	runner  Runner
	running atomic.Bool
}

func NewTrigger(r Runner) *Trigger { return &Trigger{runner: r} }

// Running reports whether a pass is currently in flight.
func (t *Trigger) Running() bool { return t.running.Load() }

// TryRun starts a pass unless one is already in flight, in which case it
// returns ErrAlreadyRunning without blocking.
func (t *Trigger) TryRun(ctx context.Context) (Result, error) {
	if !t.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer t.running.Store(false)
	return t.runner.Run(ctx)
}
