// Package watermark tracks the newest detection time already processed, so a
// sync only acts on records published since the previous one.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TobiSchelling/gidakurdu/internal/database"
	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

const key = "watermark"

// PartitionNew returns the records detected strictly after wm, in input
// order, and the newest detection time across all of records. newest is the
// zero time when records is empty.
func PartitionNew(records []recall.Record, wm time.Time) (fresh []recall.Record, newest time.Time) {
	for _, r := range records {
		if r.DetectedAt.After(wm) {
			fresh = append(fresh, r)
		}
		if r.DetectedAt.After(newest) {
			newest = r.DetectedAt
		}
	}
	return fresh, newest
}

// Tracker persists the watermark. It never moves backwards.
type Tracker struct {
	mu    sync.Mutex
	blobs database.BlobStore
}

// NewTracker creates a tracker backed by blobs.
func NewTracker(blobs database.BlobStore) *Tracker {
	return &Tracker{blobs: blobs}
}

type stored struct {
	Watermark time.Time `json:"watermark"`
}

// Load returns the stored watermark, or the zero time when none is stored.
func (t *Tracker) Load(ctx context.Context) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

func (t *Tracker) load(ctx context.Context) (time.Time, error) {
	var s stored
	err := database.LoadJSON(ctx, t.blobs, key, &s)
	if errors.Is(err, database.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("loading watermark: %w", err)
	}
	return s.Watermark, nil
}

// Advance stores max(current, ts) and returns the resulting watermark.
func (t *Tracker) Advance(ctx context.Context, ts time.Time) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.load(ctx)
	if err != nil {
		return current, err
	}
	if !ts.After(current) {
		return current, nil
	}
	if err := database.SaveJSON(ctx, t.blobs, key, stored{Watermark: ts.UTC()}); err != nil {
		return current, fmt.Errorf("saving watermark: %w", err)
	}
	return ts.UTC(), nil
}
