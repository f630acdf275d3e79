package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/feed"
	"github.com/TobiSchelling/gidakurdu/internal/logging"
	"github.com/TobiSchelling/gidakurdu/internal/notify"
	"github.com/TobiSchelling/gidakurdu/internal/prefs"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
	"github.com/TobiSchelling/gidakurdu/internal/scheduler"
	"github.com/TobiSchelling/gidakurdu/internal/triage"
	"github.com/TobiSchelling/gidakurdu/internal/watermark"
)

const taskID = "com.gidakurdu.fetch"

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu      sync.Mutex
	records []recall.Record
	err     error
	calls   int
	fetch   func(ctx context.Context) ([]recall.Record, error)
}

func (f *fakeFeed) Fetch(ctx context.Context, _, _ int) ([]recall.Record, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fetch
	records, err := f.records, f.err
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	if err != nil {
		return nil, err
	}
	return append([]recall.Record(nil), records...), nil
}

func (f *fakeFeed) set(records []recall.Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records, f.err = records, err
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notify.Alert
	err    error
}

func (r *recordingAlerter) Present(_ context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) CancelAll(context.Context) error { return nil }

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fakeScheduler struct {
	requests []scheduler.Request
}

func (f *fakeScheduler) Submit(req scheduler.Request) error {
	f.requests = append(f.requests, req)
	return nil
}

type harness struct {
	blobs      *database.Memory
	feed       *fakeFeed
	alerter    *recordingAlerter
	perms      *notify.PermissionStore
	prefs      *prefs.Store
	tracker    *watermark.Tracker
	dispatcher *notify.Dispatcher
	sched      *fakeScheduler
	o          *Orchestrator
}

func newHarness(t *testing.T, records ...recall.Record) *harness {
	t.Helper()
	h := &harness{
		blobs:   database.NewMemory(),
		feed:    &fakeFeed{records: records},
		alerter: &recordingAlerter{},
		sched:   &fakeScheduler{},
	}
	logger := logging.Discard()
	h.perms = notify.NewPermissionStore(h.blobs, notify.Granted)
	h.prefs = prefs.NewStore(h.blobs, logger)
	h.tracker = watermark.NewTracker(h.blobs)
	h.dispatcher = notify.NewDispatcher(h.blobs, h.alerter, h.perms, logger)

	o, err := New(Deps{
		Feed:      h.feed,
		Prefs:     h.prefs,
		Notifier:  h.dispatcher,
		Watermark: h.tracker,
		Scheduler: h.sched,
		Logger:    logger,
	}, Options{TaskID: taskID})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.now = func() time.Time { return base.Add(time.Hour) }
	h.o = o

	h.setPrefs(t, func(p *prefs.Preferences) { p.NotificationsEnabled = true })
	return h
}

func (h *harness) setPrefs(t *testing.T, fn func(p *prefs.Preferences)) {
	t.Helper()
	p, err := h.prefs.Get(context.Background())
	if err != nil {
		t.Fatalf("prefs.Get: %v", err)
	}
	fn(&p)
	if _, err := h.prefs.Update(context.Background(), p); err != nil {
		t.Fatalf("prefs.Update: %v", err)
	}
}

func (h *harness) entries(t *testing.T) []notify.Entry {
	t.Helper()
	entries, err := h.dispatcher.Notifications(context.Background())
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	return entries
}

func (h *harness) watermark(t *testing.T) time.Time {
	t.Helper()
	wm, err := h.tracker.Load(context.Background())
	if err != nil {
		t.Fatalf("Load watermark: %v", err)
	}
	return wm
}

func rec(product, city, description string, detected time.Time) recall.Record {
	return recall.NewRecord(recall.Fields{
		Announced:    detected.Format("02.01.2006"),
		FirmName:     "Örnek Gıda Ltd.",
		ProductName:  product,
		Description:  description,
		City:         city,
		ProductGroup: "Baharat",
		DetectedAt:   detected,
	}, triage.Classify)
}

func TestNewRequiresDeps(t *testing.T) {
	full := Deps{
		Feed:      &fakeFeed{},
		Prefs:     prefs.NewStore(database.NewMemory(), nil),
		Notifier:  notify.NewDispatcher(database.NewMemory(), &recordingAlerter{}, notify.NewPermissionStore(database.NewMemory(), notify.Granted), nil),
		Watermark: watermark.NewTracker(database.NewMemory()),
	}
	if _, err := New(full, Options{}); err != nil {
		t.Fatalf("New with all deps: %v", err)
	}

	tests := map[string]func(d *Deps){
		"feed":      func(d *Deps) { d.Feed = nil },
		"prefs":     func(d *Deps) { d.Prefs = nil },
		"notifier":  func(d *Deps) { d.Notifier = nil },
		"watermark": func(d *Deps) { d.Watermark = nil },
	}
	for name, drop := range tests {
		t.Run(name, func(t *testing.T) {
			d := full
			drop(&d)
			if _, err := New(d, Options{}); err == nil {
				t.Errorf("expected error without %s", name)
			}
		})
	}
}

func TestRunFiltersByPreferences(t *testing.T) {
	h := newHarness(t,
		rec("Pul biber", "İstanbul", "Sağlık açısından risk oluşturan küf", base),
		rec("Kırmızı toz biber", "Ankara", "Sağlık için tehlikeli boya", base.Add(-time.Hour)),
		rec("Kimyon", "İstanbul", "Yabancı madde tespit edildi", base.Add(-2*time.Hour)),
	)
	h.setPrefs(t, func(p *prefs.Preferences) {
		p.MinimumRisk = recall.RiskMedium
		p.SelectedCities = []string{"İstanbul"}
	})

	out, err := h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Fetched != 3 || out.Visible != 1 {
		t.Errorf("expected 3 fetched and 1 visible, got %d and %d", out.Fetched, out.Visible)
	}

	got := h.o.CurrentRecords()
	if len(got) != 1 || got[0].ProductName != "Pul biber" {
		t.Fatalf("expected only the medium İstanbul record, got %+v", got)
	}
	for _, r := range got {
		if r.Risk < recall.RiskMedium || r.Location.City != "İstanbul" {
			t.Errorf("record %s escaped the filter", r.ID)
		}
	}
}

func TestRunSortsNewestFirst(t *testing.T) {
	h := newHarness(t,
		rec("A", "Bursa", "", base.Add(-2*time.Hour)),
		rec("B", "Bursa", "", base),
		rec("C", "Bursa", "", base.Add(-time.Hour)),
	)
	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := h.o.CurrentRecords()
	for i := 1; i < len(got); i++ {
		if got[i].DetectedAt.After(got[i-1].DetectedAt) {
			t.Fatalf("records not newest first: %v before %v", got[i-1].DetectedAt, got[i].DetectedAt)
		}
	}
}

func TestRunNotifiesNewRecord(t *testing.T) {
	r := rec("Süzme bal", "İzmir", "toxic substance found", base)
	h := newHarness(t, r)

	out, err := h.o.Run(context.Background(), TriggerForeground)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.New != 1 || out.Notified != 1 {
		t.Errorf("expected one new notified record, got new=%d notified=%d", out.New, out.Notified)
	}
	if h.alerter.count() != 1 {
		t.Errorf("expected one alert presented, got %d", h.alerter.count())
	}

	entries := h.entries(t)
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].Record.Risk != recall.RiskHigh || entries[0].Record.Location.City != "İzmir" {
		t.Errorf("unexpected logged record: %+v", entries[0].Record)
	}
	if !h.watermark(t).Equal(base) {
		t.Errorf("expected watermark %v, got %v", base, h.watermark(t))
	}
	if !out.WatermarkAdvanced {
		t.Error("expected outcome to report an advanced watermark")
	}
}

func TestRunDoesNotRenotify(t *testing.T) {
	h := newHarness(t, rec("Süzme bal", "İzmir", "toxic substance found", base))

	for i := 0; i < 3; i++ {
		if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if n := len(h.entries(t)); n != 1 {
		t.Errorf("expected one log entry after repeated syncs, got %d", n)
	}
	if h.alerter.count() != 1 {
		t.Errorf("expected one alert, got %d", h.alerter.count())
	}
}

func TestRunNotifiesOnlyRecordsPastWatermark(t *testing.T) {
	h := newHarness(t, rec("Eski", "Bursa", "", base.Add(-time.Hour)))
	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	h.feed.set([]recall.Record{
		rec("Eski", "Bursa", "", base.Add(-time.Hour)),
		rec("Yeni", "Bursa", "", base),
	}, nil)
	out, err := h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if out.New != 1 || out.Notified != 1 {
		t.Errorf("expected only the newer record, got new=%d notified=%d", out.New, out.Notified)
	}
	entries := h.entries(t)
	if len(entries) != 2 || entries[0].Record.ProductName != "Yeni" {
		t.Errorf("expected newest entry first, got %+v", entries)
	}
}

func TestRunEstimatedDateDoesNotAdvanceWatermark(t *testing.T) {
	undated := recall.NewRecord(recall.Fields{
		Announced:     "tarih yok",
		FirmName:      "Örnek Gıda Ltd.",
		ProductName:   "Lokum",
		City:          "Afyonkarahisar",
		DetectedAt:    base.Add(5 * time.Hour),
		DateEstimated: true,
	}, triage.Classify)
	h := newHarness(t, undated)

	out, err := h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if out.Notified != 1 {
		t.Errorf("expected the undated record to be announced once, got %d", out.Notified)
	}
	if !h.watermark(t).IsZero() {
		t.Errorf("expected watermark untouched by an estimated date, got %v", h.watermark(t))
	}

	h.feed.set([]recall.Record{undated, rec("Helva", "Konya", "", base.Add(2*time.Hour))}, nil)
	out, err = h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if out.Notified != 1 || out.Duplicates != 1 {
		t.Errorf("expected the dated record notified and the undated one deduplicated, got notified=%d duplicates=%d",
			out.Notified, out.Duplicates)
	}
	if h.alerter.count() != 2 {
		t.Errorf("expected two alerts in total, got %d", h.alerter.count())
	}
	if want := base.Add(2 * time.Hour); !h.watermark(t).Equal(want) {
		t.Errorf("expected watermark %v, got %v", want, h.watermark(t))
	}
}

func TestRunAfterCrashBeforeWatermark(t *testing.T) {
	r := rec("Tahin", "Konya", "zararlı madde", base)
	h := newHarness(t, r)

	// An alert logged by a run that died before persisting the watermark.
	if _, err := h.dispatcher.Notify(context.Background(), r); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !h.watermark(t).IsZero() {
		t.Fatal("expected no watermark yet")
	}

	out, err := h.o.Run(context.Background(), TriggerBackground)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Duplicates != 1 || out.Notified != 0 {
		t.Errorf("expected the logged record to count as duplicate, got dup=%d notified=%d", out.Duplicates, out.Notified)
	}
	if n := len(h.entries(t)); n != 1 {
		t.Errorf("expected one log entry, got %d", n)
	}
	if !h.watermark(t).Equal(base) {
		t.Errorf("expected watermark to advance to %v, got %v", base, h.watermark(t))
	}
}

func TestRunNotificationsDisabled(t *testing.T) {
	h := newHarness(t, rec("Kaşar", "Edirne", "", base))
	h.setPrefs(t, func(p *prefs.Preferences) { p.NotificationsEnabled = false })

	out, err := h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Suppressed != 1 || out.Notified != 0 {
		t.Errorf("expected suppression, got suppressed=%d notified=%d", out.Suppressed, out.Notified)
	}
	if h.alerter.count() != 0 || len(h.entries(t)) != 0 {
		t.Error("expected no alerts while notifications are disabled")
	}
	if !h.watermark(t).Equal(base) {
		t.Errorf("expected watermark to advance, got %v", h.watermark(t))
	}
}

func TestRunWithoutPermission(t *testing.T) {
	h := newHarness(t,
		rec("A", "Van", "", base),
		rec("B", "Van", "", base.Add(-time.Minute)),
	)
	if err := h.perms.Set(context.Background(), notify.Denied); err != nil {
		t.Fatalf("Set: %v", err)
	}

	out, err := h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Suppressed != 2 {
		t.Errorf("expected both records suppressed, got %d", out.Suppressed)
	}
	if h.alerter.count() != 0 {
		t.Error("expected no alerts without permission")
	}
	if !h.watermark(t).Equal(base) {
		t.Errorf("expected watermark to advance, got %v", h.watermark(t))
	}
}

func TestRunHoldsWatermarkWhenAlertFails(t *testing.T) {
	h := newHarness(t, rec("Zeytinyağı", "Aydın", "", base))
	h.alerter.err = errors.New("presenter unavailable")

	out, err := h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed != 1 {
		t.Errorf("expected one failed alert, got %d", out.Failed)
	}
	if !h.watermark(t).IsZero() {
		t.Errorf("expected watermark to be held, got %v", h.watermark(t))
	}
	if len(h.o.CurrentRecords()) != 1 {
		t.Error("expected records to be published despite the failed alert")
	}

	h.alerter.mu.Lock()
	h.alerter.err = nil
	h.alerter.mu.Unlock()
	out, err = h.o.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if out.Notified != 1 || !h.watermark(t).Equal(base) {
		t.Errorf("expected retry to notify and advance, got notified=%d wm=%v", out.Notified, h.watermark(t))
	}
}

func TestRunFetchFailureKeepsRecords(t *testing.T) {
	h := newHarness(t, rec("Salça", "Gaziantep", "", base))
	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	h.feed.set(nil, &feed.Error{Kind: feed.KindServer, StatusCode: 503, Err: errors.New("unavailable")})
	_, err := h.o.Run(context.Background(), TriggerManual)

	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if runErr.Category != CategoryServer || runErr.StatusCode != 503 {
		t.Errorf("expected server/503, got %s/%d", runErr.Category, runErr.StatusCode)
	}
	if h.o.LastError() == nil {
		t.Error("expected LastError to be set")
	}
	if len(h.o.CurrentRecords()) != 1 {
		t.Error("expected previous records to stay published")
	}

	h.feed.set([]recall.Record{rec("Salça", "Gaziantep", "", base)}, nil)
	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Fatalf("recovery Run: %v", err)
	}
	if h.o.LastError() != nil {
		t.Errorf("expected LastError cleared, got %v", h.o.LastError())
	}
}

func TestRunSingleFlight(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.feed.fetch = func(ctx context.Context) ([]recall.Record, error) {
		close(started)
		<-release
		return nil, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.o.Run(context.Background(), TriggerManual)
		done <- err
	}()
	<-started

	if !h.o.IsLoading() {
		t.Error("expected loading while a sync runs")
	}
	if _, err := h.o.Run(context.Background(), TriggerForeground); !errors.Is(err, ErrInFlight) {
		t.Errorf("expected ErrInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if h.o.IsLoading() {
		t.Error("expected loading cleared after the sync")
	}
	if h.feed.calls != 1 {
		t.Errorf("expected one fetch, got %d", h.feed.calls)
	}
}

func TestRunBackgroundExpires(t *testing.T) {
	h := newHarness(t)
	h.feed.fetch = func(ctx context.Context) ([]recall.Record, error) {
		<-ctx.Done()
		return nil, &feed.Error{Kind: feed.KindTransport, Err: ctx.Err()}
	}

	_, err := h.o.RunBackground(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got := Categorize(err).Category; got != CategoryExpired {
		t.Errorf("expected expired category, got %s", got)
	}
	if !h.watermark(t).IsZero() {
		t.Errorf("expected watermark untouched, got %v", h.watermark(t))
	}
}

func TestRunBackgroundExpiresDuringNotify(t *testing.T) {
	h := newHarness(t, rec("Pekmez", "Malatya", "", base))
	blocking := &blockingAlerter{}
	h.o.notifier = notify.NewDispatcher(h.blobs, blocking, h.perms, logging.Discard())

	_, err := h.o.RunBackground(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if !h.watermark(t).IsZero() {
		t.Errorf("expected watermark untouched, got %v", h.watermark(t))
	}
}

// expiringTracker ends the run's context while the watermark is written.
type expiringTracker struct {
	*watermark.Tracker
	cancel context.CancelFunc
}

func (e *expiringTracker) Advance(ctx context.Context, _ time.Time) (time.Time, error) {
	e.cancel()
	return time.Time{}, fmt.Errorf("saving watermark: %w", ctx.Err())
}

func TestRunExpiresDuringWatermarkWrite(t *testing.T) {
	h := newHarness(t, rec("Pestil", "Gümüşhane", "", base))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.o.watermark = &expiringTracker{Tracker: h.tracker, cancel: cancel}

	_, err := h.o.Run(ctx, TriggerBackground)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if got := Categorize(err).Category; got != CategoryExpired {
		t.Errorf("expected expired category, got %s", got)
	}
	if !h.watermark(t).IsZero() {
		t.Errorf("expected watermark untouched, got %v", h.watermark(t))
	}
}

type blockingAlerter struct{}

func (blockingAlerter) Present(ctx context.Context, _ notify.Alert) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingAlerter) CancelAll(context.Context) error { return nil }

func TestRunBackgroundReschedulesOnFailure(t *testing.T) {
	h := newHarness(t)
	h.setPrefs(t, func(p *prefs.Preferences) { p.RefreshInterval = prefs.Daily })
	h.feed.set(nil, &feed.Error{Kind: feed.KindTransport, Err: errors.New("connection refused")})

	if _, err := h.o.RunBackground(context.Background(), time.Second); err == nil {
		t.Fatal("expected the run to fail")
	}
	if len(h.sched.requests) != 1 {
		t.Fatalf("expected one reschedule, got %d", len(h.sched.requests))
	}
	req := h.sched.requests[0]
	want := base.Add(time.Hour).Add(24 * time.Hour)
	if req.ID != taskID || !req.EarliestBegin.Equal(want) {
		t.Errorf("expected %s at %v, got %+v", taskID, want, req)
	}
}

func TestRunBackgroundRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.feed.fetch = func(context.Context) ([]recall.Record, error) {
		panic("boom")
	}

	_, err := h.o.RunBackground(context.Background(), time.Second)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if h.o.LastError() == nil {
		t.Error("expected LastError after a panic")
	}
	if len(h.sched.requests) != 1 {
		t.Error("expected the next run to be scheduled before the panic")
	}

	h.feed.fetch = nil
	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Errorf("expected the orchestrator to recover, got %v", err)
	}
}

func TestScheduleBackgroundWithoutScheduler(t *testing.T) {
	h := newHarness(t)
	h.o.sched = nil
	if _, err := h.o.ScheduleBackground(context.Background()); err == nil {
		t.Error("expected an error without a scheduler")
	}
}

func TestHandleBackgroundTaskThroughScheduler(t *testing.T) {
	h := newHarness(t, rec("Helva", "Kayseri", "", base))
	s := scheduler.New(time.Second, logging.Discard())
	h.o.sched = s
	if err := s.Register(taskID, h.o.HandleBackgroundTask); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Submit(scheduler.Request{ID: taskID, EarliestBegin: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if n := s.RunDue(context.Background()); n != 1 {
		t.Fatalf("expected one task run, got %d", n)
	}
	if _, ok := s.Pending(taskID); !ok {
		t.Error("expected the task to reschedule itself")
	}
	if len(h.entries(t)) != 1 {
		t.Error("expected the background run to notify")
	}
}

func TestDryRunChangesNothing(t *testing.T) {
	h := newHarness(t, rec("Sucuk", "Afyon", "", base))

	out, err := h.o.DryRun(context.Background())
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if out.New != 1 {
		t.Errorf("expected one new record, got %d", out.New)
	}
	if h.alerter.count() != 0 || !h.watermark(t).IsZero() || len(h.o.CurrentRecords()) != 0 {
		t.Error("expected dry run to leave alerts, watermark and records alone")
	}
}

func TestViewFilters(t *testing.T) {
	h := newHarness(t,
		rec("A", "İzmir", "", base),
		rec("B", "Ankara", "", base.Add(-48*time.Hour)),
	)
	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h.o.SetCityFilter("Ankara")
	if got := h.o.CurrentRecords(); len(got) != 1 || got[0].ProductName != "B" {
		t.Errorf("city filter: got %+v", got)
	}
	h.o.SetDateFilter(base)
	if got := h.o.CurrentRecords(); len(got) != 0 {
		t.Errorf("city and date filters combined: expected none, got %d", len(got))
	}
	h.o.ClearFilters()
	if got := h.o.CurrentRecords(); len(got) != 2 {
		t.Errorf("expected all records after clearing, got %d", len(got))
	}
	if got := h.o.AvailableCities(); len(got) != 2 || got[0] != "Ankara" {
		t.Errorf("unexpected cities %v", got)
	}
	if len(h.o.AllRecords()) != 2 {
		t.Error("expected AllRecords to ignore view filters")
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	h := newHarness(t, rec("A", "İzmir", "", base))
	ch, cancel := h.o.Subscribe()
	defer cancel()

	if _, err := h.o.Run(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sawLoading, sawRecords bool
	for len(ch) > 0 {
		snap := <-ch
		if snap.Loading {
			sawLoading = true
		}
		if len(snap.Records) == 1 {
			sawRecords = true
		}
	}
	if !sawLoading || !sawRecords {
		t.Errorf("expected loading and records snapshots, got loading=%v records=%v", sawLoading, sawRecords)
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"configuration", &feed.Error{Kind: feed.KindConfiguration}, CategoryConfiguration},
		{"transport", &feed.Error{Kind: feed.KindTransport}, CategoryNetwork},
		{"server", &feed.Error{Kind: feed.KindServer, StatusCode: 500}, CategoryServer},
		{"decoding", &feed.Error{Kind: feed.KindDecoding}, CategoryDecoding},
		{"expired", ErrExpired, CategoryExpired},
		{"other", errors.New("disk full"), CategoryStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			if got.Category != tt.want {
				t.Errorf("Categorize(%v) = %s, want %s", tt.err, got.Category, tt.want)
			}
			if got.Message == "" {
				t.Error("expected a user-facing message")
			}
		})
	}
	if Categorize(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
