// Package pipeline runs the sync flow: fetch, classify, filter by
// preferences, detect new records against the watermark, notify, and publish
// the result to presentation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
	"github.com/TobiSchelling/gidakurdu/internal/scheduler"
	"github.com/TobiSchelling/gidakurdu/internal/watermark"
)

// DefaultPageSize is large enough to fetch the whole table in one request.
const DefaultPageSize = 1000

// Trigger names what started a sync.
type Trigger string

const (
	TriggerForeground Trigger = "foreground"
	TriggerManual     Trigger = "manual"
	TriggerBackground Trigger = "background"
)

// Fetcher returns one page of records.
type Fetcher interface {
	Fetch(ctx context.Context, page, pageSize int) ([]recall.Record, error)
}

// PreferenceSource returns the current preferences.
type PreferenceSource interface {
	Get(ctx context.Context) (prefs.Preferences, error)
}

// Notifier presents and logs an alert for one record.
type Notifier interface {
	Notify(ctx context.Context, r recall.Record) (notify.Entry, error)
}

// WatermarkStore persists the newest processed detection time.
type WatermarkStore interface {
	Load(ctx context.Context) (time.Time, error)
	Advance(ctx context.Context, ts time.Time) (time.Time, error)
}

// BackgroundScheduler accepts the next background execution request.
type BackgroundScheduler interface {
	Submit(req scheduler.Request) error
}

// Deps wires the orchestrator's collaborators. Scheduler is optional.
type Deps struct {
	Feed      Fetcher
	Prefs     PreferenceSource
	Notifier  Notifier
	Watermark WatermarkStore
	Scheduler BackgroundScheduler
	Logger    *slog.Logger
}

// Options tunes a sync.
type Options struct {
	PageSize int
	TaskID   string
}

// StepResult holds the result of a single sync step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Outcome describes one completed or failed run.
type Outcome struct {
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched    int
	Visible    int
	New        int
	Notified   int
	Duplicates int
	Suppressed int
	Failed     int

	Watermark         time.Time
	WatermarkAdvanced bool
	Steps             []StepResult
}

func (o *Outcome) step(name, summary string, err error) {
	o.Steps = append(o.Steps, StepResult{Name: name, Summary: summary, Err: err})
}

// Orchestrator owns the single sync flow and the state presentation reads.
type Orchestrator struct {
	feed      Fetcher
	prefs     PreferenceSource
	notifier  Notifier
	watermark WatermarkStore
	sched     BackgroundScheduler
	logger    *slog.Logger
	pageSize  int
	taskID    string
	now       func() time.Time

	inFlight atomic.Bool

	mu       sync.RWMutex
	records  []recall.Record
	view     recall.View
	loading  bool
	lastErr  *RunError
	lastSync time.Time

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// New validates deps and builds an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Feed == nil:
		return nil, errors.New("pipeline: feed is required")
	case deps.Prefs == nil:
		return nil, errors.New("pipeline: preferences are required")
	case deps.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	case deps.Watermark == nil:
		return nil, errors.New("pipeline: watermark store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Orchestrator{
		feed:      deps.Feed,
		prefs:     deps.Prefs,
		notifier:  deps.Notifier,
		watermark: deps.Watermark,
		sched:     deps.Scheduler,
		logger:    logger,
		pageSize:  opts.PageSize,
		taskID:    opts.TaskID,
		now:       time.Now,
		subs:      make(map[int]chan Snapshot),
	}, nil
}

// Run performs one sync. Overlapping calls return ErrInFlight immediately.
// Failures come back as *RunError and are also kept as LastError; the
// previously published records stay in place.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (*Outcome, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("sync trigger dropped", "trigger", string(trigger))
		return nil, ErrInFlight
	}
	defer o.inFlight.Store(false)

	o.setLoading(true)
	defer o.setLoading(false)

	out := &Outcome{Trigger: trigger, StartedAt: o.now()}
	o.logger.Info("sync started", "trigger", string(trigger))

	visible, err := o.sync(ctx, out)
	out.FinishedAt = o.now()

	if visible != nil {
		o.publishRecords(visible, out.FinishedAt)
	}
	if err != nil {
		runErr := Categorize(err)
		o.setError(runErr)
		o.logger.Warn("sync failed",
			"trigger", string(trigger),
			"category", string(runErr.Category),
			"error", err)
		return out, runErr
	}

	o.setError(nil)
	o.logger.Info("sync finished",
		"trigger", string(trigger),
		"fetched", out.Fetched,
		"visible", out.Visible,
		"new", out.New,
		"notified", out.Notified,
		"duration", out.FinishedAt.Sub(out.StartedAt))
	return out, nil
}

// sync returns the preference-filtered, sorted records whenever the fetch
// succeeded, even if a later step fails.
func (o *Orchestrator) sync(ctx context.Context, out *Outcome) ([]recall.Record, error) {
	p, err := o.prefs.Get(ctx)
	if err != nil {
		out.step("Preferences", "", err)
		return nil, fmt.Errorf("loading preferences: %w", err)
	}

	// Step 1: fetch
	records, err := o.feed.Fetch(ctx, 0, o.pageSize)
	if err != nil {
		out.step("Fetch", "", err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, err
	}
	out.Fetched = len(records)
	out.step("Fetch", fmt.Sprintf("Fetched %d records", len(records)), nil)

	// Step 2: filter by preferences and sort
	visible := p.Filter(records)
	recall.SortNewestFirst(visible)
	out.Visible = len(visible)
	out.step("Filter", fmt.Sprintf("%d of %d records match preferences", len(visible), len(records)), nil)

	// Step 3: partition against the watermark
	wm, err := o.watermark.Load(ctx)
	if err != nil {
		out.step("Watermark", "", err)
		return visible, err
	}
	// New records come from the filtered set; the watermark candidate from
	// the unfiltered fetch, leaving out records whose date was estimated.
	fresh, _ := watermark.PartitionNew(visible, wm)
	_, newest := watermark.PartitionNew(dated(records), wm)
	out.New = len(fresh)

	// Step 4: notify, oldest first so the newest-first log ends up ordered
	if p.NotificationsEnabled {
		o.dispatch(ctx, fresh, out)
	} else {
		out.Suppressed = len(fresh)
		out.step("Notify", fmt.Sprintf("Notifications disabled, %d new records not announced", len(fresh)), nil)
	}

	if ctx.Err() != nil {
		return visible, fmt.Errorf("%w: %w", ErrExpired, ctx.Err())
	}

	// Step 5: advance the watermark only once every alert is durable
	if out.Failed > 0 {
		out.Watermark = wm
		out.step("Watermark", fmt.Sprintf("Held at %s, %d alerts failed", formatTime(wm), out.Failed), nil)
		return visible, nil
	}
	if newest.IsZero() {
		out.Watermark = wm
		return visible, nil
	}
	stored, err := o.watermark.Advance(ctx, newest)
	if err != nil {
		out.step("Watermark", "", err)
		if ctx.Err() != nil {
			return visible, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return visible, err
	}
	out.Watermark = stored
	out.WatermarkAdvanced = stored.After(wm)
	out.step("Watermark", "Advanced to "+formatTime(stored), nil)
	return visible, nil
}

func dated(records []recall.Record) []recall.Record {
	out := make([]recall.Record, 0, len(records))
	for _, r := range records {
		if !r.DateEstimated {
			out = append(out, r)
		}
	}
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, fresh []recall.Record, out *Outcome) {
	var firstErr error
	for i := len(fresh) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		r := fresh[i]
		_, err := o.notifier.Notify(ctx, r)
		switch {
		case err == nil:
			out.Notified++
		case errors.Is(err, notify.ErrAlreadyNotified):
			out.Duplicates++
		case errors.Is(err, notify.ErrNotAuthorized):
			// Permission is global; the remaining records would be refused too.
			out.Suppressed += i + 1
			out.step("Notify", fmt.Sprintf("Not authorized, %d new records not announced", i+1), nil)
			return
		default:
			out.Failed++
			if firstErr == nil {
				firstErr = err
			}
			o.logger.Warn("alert failed", "record", r.ID, "error", err)
		}
	}
	out.step("Notify",
		fmt.Sprintf("Sent %d alerts (%d already sent, %d failed)", out.Notified, out.Duplicates, out.Failed),
		firstErr)
}

// DryRun fetches and reports what a sync would do without notifying,
// advancing the watermark or publishing records.
func (o *Orchestrator) DryRun(ctx context.Context) (*Outcome, error) {
	out := &Outcome{Trigger: TriggerManual, StartedAt: o.now()}

	p, err := o.prefs.Get(ctx)
	if err != nil {
		return out, Categorize(err)
	}
	records, err := o.feed.Fetch(ctx, 0, o.pageSize)
	if err != nil {
		return out, Categorize(err)
	}
	wm, err := o.watermark.Load(ctx)
	if err != nil {
		return out, Categorize(err)
	}

	visible := p.Filter(records)
	fresh, _ := watermark.PartitionNew(visible, wm)
	_, newest := watermark.PartitionNew(records, wm)

	out.Fetched = len(records)
	out.Visible = len(visible)
	out.New = len(fresh)
	out.Watermark = wm
	out.step("Fetch", fmt.Sprintf("[dry-run] %d records on the feed", len(records)), nil)
	out.step("Filter", fmt.Sprintf("[dry-run] %d match preferences", len(visible)), nil)
	if p.NotificationsEnabled {
		out.step("Notify", fmt.Sprintf("[dry-run] Would announce %d new records", len(fresh)), nil)
	} else {
		out.step("Notify", fmt.Sprintf("[dry-run] Notifications disabled, %d new records", len(fresh)), nil)
	}
	if newest.After(wm) {
		out.step("Watermark", "[dry-run] Would advance to "+formatTime(newest), nil)
	} else {
		out.step("Watermark", "[dry-run] Would stay at "+formatTime(wm), nil)
	}
	out.FinishedAt = o.now()
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
