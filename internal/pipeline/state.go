package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

// Snapshot is the presentation state after a change.
type Snapshot struct {
	Records   []recall.Record `json:"records"`
	Total     int             `json:"total"`
	Loading   bool            `json:"loading"`
	LastError *RunError       `json:"last_error,omitempty"`
	LastSync  time.Time       `json:"last_sync"`
}

// CurrentRecords returns the preference-filtered records of the last
// successful fetch with the view filters applied, newest first.
func (o *Orchestrator) CurrentRecords() []recall.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.Apply(o.records)
}

// AllRecords returns the preference-filtered records without view filters.
func (o *Orchestrator) AllRecords() []recall.Record {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]recall.Record(nil), o.records...)
}

// IsLoading reports whether a sync is running.
func (o *Orchestrator) IsLoading() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loading
}

// LastError returns the failure of the latest sync, or nil if it succeeded.
func (o *Orchestrator) LastError() *RunError {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

// LastSync returns when records were last published.
func (o *Orchestrator) LastSync() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSync
}

// TriggerManualRefresh runs a sync on the user's request.
func (o *Orchestrator) TriggerManualRefresh(ctx context.Context) (*Outcome, error) {
	return o.Run(ctx, TriggerManual)
}

// OnForeground runs a sync when the app becomes active.
func (o *Orchestrator) OnForeground(ctx context.Context) (*Outcome, error) {
	return o.Run(ctx, TriggerForeground)
}

// View returns the active view filters.
func (o *Orchestrator) View() recall.View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view
}

// SetCityFilter restricts the view to one city. An empty city clears it.
func (o *Orchestrator) SetCityFilter(city string) {
	o.updateView(func(v *recall.View) { v.City = city })
}

// SetDateFilter restricts the view to the calendar day of day. The zero
// time clears it.
func (o *Orchestrator) SetDateFilter(day time.Time) {
	o.updateView(func(v *recall.View) { v.Day = day })
}

// SetCategoryFilter restricts the view to one product group. An empty
// category clears it.
func (o *Orchestrator) SetCategoryFilter(category string) {
	o.updateView(func(v *recall.View) { v.Category = category })
}

// SetNearbyFilter restricts the view to records within radiusKm of a point.
// A non-positive radius clears it.
func (o *Orchestrator) SetNearbyFilter(lat, lon, radiusKm float64) {
	o.updateView(func(v *recall.View) {
		if radiusKm <= 0 {
			v.Near = nil
			return
		}
		v.Near = &recall.Nearby{Latitude: lat, Longitude: lon, RadiusKm: radiusKm}
	})
}

// ClearFilters removes every view filter.
func (o *Orchestrator) ClearFilters() {
	o.updateView(func(v *recall.View) { *v = recall.View{} })
}

// AvailableCities lists the cities present in the current record set.
func (o *Orchestrator) AvailableCities() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return recall.AvailableCities(o.records)
}

// AvailableCategories lists the product groups in the current record set.
func (o *Orchestrator) AvailableCategories() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return recall.AvailableCategories(o.records)
}

// Snapshot returns the current presentation state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every state change
// and a function ending the subscription. Slow subscribers miss updates.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()

	id := o.nextSub
	o.nextSub++
	ch := make(chan Snapshot, 8)
	o.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.subMu.Lock()
			defer o.subMu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Records:   o.view.Apply(o.records),
		Total:     len(o.records),
		Loading:   o.loading,
		LastError: o.lastErr,
		LastSync:  o.lastSync,
	}
}

func (o *Orchestrator) updateView(fn func(v *recall.View)) {
	o.mu.Lock()
	fn(&o.view)
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.broadcast(snap)
}

func (o *Orchestrator) setLoading(loading bool) {
	o.mu.Lock()
	o.loading = loading
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.broadcast(snap)
}

func (o *Orchestrator) setError(err *RunError) {
	o.mu.Lock()
	o.lastErr = err
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.broadcast(snap)
}

func (o *Orchestrator) publishRecords(records []recall.Record, at time.Time) {
	o.mu.Lock()
	o.records = records
	o.lastSync = at
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.broadcast(snap)
}

func (o *Orchestrator) broadcast(snap Snapshot) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
