// Package notify presents alerts for newly published recalls and keeps the
// persisted log of alerts shown.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

const logKey = "notifications"

var (
	// ErrNotAuthorized means the user has not granted alert permission.
	ErrNotAuthorized = errors.New("notifications not authorized")
	// ErrAlreadyNotified means the log already has an entry for the record.
	ErrAlreadyNotified = errors.New("record already notified")
	// ErrEntryNotFound means no log entry has the given ID.
	ErrEntryNotFound = errors.New("notification entry not found")
)

// Entry is one alert in the log.
type Entry struct {
	ID        string        `json:"id"`
	Record    recall.Record `json:"record"`
	CreatedAt time.Time     `json:"created_at"`
	Read      bool          `json:"read"`
}

// EventKind says what changed in the log.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventRead    EventKind = "read"
	EventCleared EventKind = "cleared"
)

// Event is published to subscribers after every log mutation.
type Event struct {
	Kind   EventKind `json:"kind"`
	Entry  *Entry    `json:"entry,omitempty"`
	Unread int       `json:"unread"`
}

// Dispatcher presents alerts and persists the log. The log is newest-first.
type Dispatcher struct {
	mu      sync.Mutex
	blobs   database.BlobStore
	alerter Alerter
	perms   Authorizer
	logger  *slog.Logger
	now     func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(blobs database.BlobStore, alerter Alerter, perms Authorizer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		blobs:   blobs,
		alerter: alerter,
		perms:   perms,
		logger:  logger,
		now:     time.Now,
		subs:    make(map[int]chan Event),
	}
}

// Notify presents an alert for r and records it in the log. It returns
// ErrNotAuthorized without permission and ErrAlreadyNotified when r was
// already logged. Any other error means no entry was persisted.
func (d *Dispatcher) Notify(ctx context.Context, r recall.Record) (Entry, error) {
	perm, err := d.perms.Status(ctx)
	if err != nil {
		return Entry{}, err
	}
	if perm != Granted {
		d.logger.Debug("alert suppressed", "record", r.ID, "permission", string(perm))
		return Entry{}, ErrNotAuthorized
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load(ctx)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.Record.ID == r.ID {
			return e, ErrAlreadyNotified
		}
	}

	if err := d.alerter.Present(ctx, NewAlert(r)); err != nil {
		return Entry{}, fmt.Errorf("presenting alert for %s: %w", r.ID, err)
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Record:    r,
		CreatedAt: d.now().UTC(),
	}
	entries = append([]Entry{entry}, entries...)
	if err := d.save(ctx, entries); err != nil {
		return Entry{}, err
	}

	d.publish(Event{Kind: EventAdded, Entry: &entry, Unread: countUnread(entries)})
	return entry, nil
}

// Notifications returns the log, newest first.
func (d *Dispatcher) Notifications(ctx context.Context) ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(ctx)
}

// UnreadCount returns the number of unread entries.
func (d *Dispatcher) UnreadCount(ctx context.Context) (int, error) {
	entries, err := d.Notifications(ctx)
	if err != nil {
		return 0, err
	}
	return countUnread(entries), nil
}

// MarkRead flags the entry with the given ID as read.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load(ctx)
	if err != nil {
		return err
	}
	idx := -1
	for i := range entries {
		if entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrEntryNotFound
	}
	if entries[idx].Read {
		return nil
	}

	entries[idx].Read = true
	if err := d.save(ctx, entries); err != nil {
		return err
	}
	entry := entries[idx]
	d.publish(Event{Kind: EventRead, Entry: &entry, Unread: countUnread(entries)})
	return nil
}

// ClearAll deletes the log and withdraws outstanding alerts.
func (d *Dispatcher) ClearAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.blobs.Delete(ctx, logKey); err != nil {
		return fmt.Errorf("clearing notifications: %w", err)
	}
	if err := d.alerter.CancelAll(ctx); err != nil {
		d.logger.Warn("cancelling alerts failed", "error", err)
	}
	d.publish(Event{Kind: EventCleared})
	return nil
}

// Subscribe returns a channel of log events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (d *Dispatcher) Subscribe() (<-chan Event, func()) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	id := d.nextSub
	d.nextSub++
	ch := make(chan Event, 16)
	d.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.subMu.Lock()
			defer d.subMu.Unlock()
			delete(d.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (d *Dispatcher) publish(ev Event) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (d *Dispatcher) load(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := database.LoadJSON(ctx, d.blobs, logKey, &entries)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading notifications: %w", err)
	}
	return entries, nil
}

func (d *Dispatcher) save(ctx context.Context, entries []Entry) error {
	if err := database.SaveJSON(ctx, d.blobs, logKey, entries); err != nil {
		return fmt.Errorf("saving notifications: %w", err)
	}
	return nil
}

func countUnread(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if !e.Read {
			n++
		}
	}
	return n
}
