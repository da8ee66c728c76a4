package engine

import (
	"context"
	"time"

	"github.com/meshrun/engine/internal/activity"
	"github.com/meshrun/engine/internal/hook"
	"github.com/meshrun/engine/internal/platform/logger"
)

// SleepDispatcher polls hook.Index.DueSleeps and wakes every elapsed
// registration (§4.6 timer subsystem). It runs alongside the stream
// router, the way the teacher's internal/jobs.Worker polls its own ticker
// rather than waiting on an external scheduler.
type SleepDispatcher struct {
	Hooks    hook.Index
	Machine  *activity.Machine
	Interval time.Duration
	Log      *logger.Logger
}

// Run polls on Interval until ctx is canceled.
func (d *SleepDispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *SleepDispatcher) tick(ctx context.Context) {
	due, err := d.Hooks.DueSleeps(ctx, time.Now())
	if err != nil {
		d.Log.Warn("sleep dispatcher: list due sleeps failed", "error", err)
		return
	}
	for _, reg := range due {
		if err := d.Machine.WakeHook(ctx, reg, nil); err != nil {
			d.Log.Warn("sleep dispatcher: wake failed", "job", reg.JobID, "activity", reg.ActivityID, "error", err)
		}
	}
}
