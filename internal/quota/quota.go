// Package quota tracks per-identity send usage over a rolling window.
package quota

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailbot/internal/storage"
	"mailbot/pkg/logx"
)

const (
	// DefaultDailyLimit matches the per-account budget the service shipped
	// with; override via quota.daily_limit.
	DefaultDailyLimit = 450
	DefaultWindow     = 24 * time.Hour
)

// Tracker answers "is this identity under its limit right now".
//
// Timestamps older than the window are pruned lazily on every read and
// write; the limit check always runs against the pruned count, never a
// cached one. An identity with no record has zero usage.
type Tracker struct {
	mu sync.Mutex

	limit  int
	window time.Duration

	usage map[string][]time.Time // ascending per identity

	store storage.Store // may be nil (memory-only)
	log   logx.Logger
}

func NewTracker(limit int, window time.Duration, store storage.Store, log logx.Logger) *Tracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		limit:  limit,
		window: window,
		usage:  map[string][]time.Time{},
		store:  store,
		log:    log,
	}
}

// Load seeds the tracker from persisted usage. Call once at startup.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	usage, err := t.store.LoadUsage(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ts := range usage {
		cp := append([]time.Time(nil), ts...)
		sort.Slice(cp, func(i, j int) bool { return cp[i].Before(cp[j]) })
		t.usage[id] = cp
	}
	return nil
}

func (t *Tracker) Limit() int { return t.limit }

// RecordUse counts one send for the identity at now.
//
// The durable append happens before the in-memory count advances, so a crash
// immediately after a send can only over-count, never oversell the identity.
// A failed append is logged and absorbed here: the in-memory count still
// advances, so a storage outage cannot become a quota bypass within this
// process, and the caller has nothing actionable to do with the error (the
// send already happened).
func (t *Tracker) RecordUse(ctx context.Context, identityID string, now time.Time) {
	if t.store != nil {
		if err := t.store.AppendUsage(ctx, identityID, now); err != nil {
			t.log.Error("usage append failed", logx.String("identity", identityID), logx.Err(err))
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage[identityID] = append(t.pruneLocked(identityID, now), now)
}

// UsageCount returns the sends inside the trailing window, pruning first.
func (t *Tracker) UsageCount(identityID string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.pruneLocked(identityID, now)
	if len(ts) == 0 {
		delete(t.usage, identityID)
	} else {
		t.usage[identityID] = ts
	}
	return len(ts)
}

func (t *Tracker) UnderLimit(identityID string, now time.Time) bool {
	return t.UsageCount(identityID, now) < t.limit
}

// Usage reports the current in-window count per identity (live stats feed).
func (t *Tracker) Usage(now time.Time) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.usage))
	for id := range t.usage {
		ts := t.pruneLocked(id, now)
		if len(ts) == 0 {
			delete(t.usage, id)
			continue
		}
		t.usage[id] = ts
		out[id] = len(ts)
	}
	return out
}

// PruneStorage drops persisted entries that fell out of the window.
// Intended for the periodic maintenance pass.
func (t *Tracker) PruneStorage(ctx context.Context, now time.Time) error {
	if t.store == nil {
		return nil
	}
	return t.store.PruneUsage(ctx, now.Add(-t.window))
}

func (t *Tracker) pruneLocked(identityID string, now time.Time) []time.Time {
	ts := t.usage[identityID]
	cut := now.Add(-t.window)
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	return ts[i:]
}
