package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/scheduler"
)

// ScheduleBackground requests the next background sync at now plus the
// preferred refresh interval.
func (o *Orchestrator) ScheduleBackground(ctx context.Context) (time.Time, error) {
	if o.sched == nil || o.taskID == "" {
		return time.Time{}, errors.New("no background scheduler configured")
	}
	interval := prefs.Hourly.Duration()
	if p, err := o.prefs.Get(ctx); err != nil {
		o.logger.Warn("using default refresh interval", "error", err)
	} else {
		interval = p.RefreshInterval.Duration()
	}

	begin := o.now().Add(interval)
	if err := o.sched.Submit(scheduler.Request{ID: o.taskID, EarliestBegin: begin}); err != nil {
		return time.Time{}, fmt.Errorf("scheduling background sync: %w", err)
	}
	return begin, nil
}

// RunBackground performs a background sync within budget. The next
// background sync is requested first, whatever the outcome. The run never
// panics; a run still going at the deadline fails with ErrExpired and leaves
// the watermark untouched.
func (o *Orchestrator) RunBackground(ctx context.Context, budget time.Duration) (out *Outcome, err error) {
	if o.sched != nil {
		if _, serr := o.ScheduleBackground(ctx); serr != nil {
			o.logger.Error("rescheduling failed", "error", serr)
		}
	}

	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("background sync panicked", "panic", r)
			runErr := &RunError{
				Category: CategoryStorage,
				Message:  "Arka plan güncellemesi beklenmedik şekilde durdu.",
				Err:      fmt.Errorf("panic: %v", r),
			}
			o.setError(runErr)
			out, err = nil, runErr
		}
	}()

	return o.Run(ctx, TriggerBackground)
}

// HandleBackgroundTask adapts RunBackground to the scheduler. A dropped
// trigger counts as success since a sync is already running.
func (o *Orchestrator) HandleBackgroundTask(ctx context.Context, task *scheduler.Task) {
	budget := time.Until(task.Deadline)
	if budget <= 0 {
		task.Complete(false)
		return
	}
	_, err := o.RunBackground(ctx, budget)
	task.Complete(err == nil || errors.Is(err, ErrInFlight))
}
