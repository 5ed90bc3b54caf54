// Package events is the progress-event log and live broadcaster.
//
// Contract:
//   - Append MUST be non-blocking with respect to subscribers.
//   - Subscribers get buffered channels; slow ones drop events.
//   - The durable log is bounded (oldest dropped first) and doubles as the
//     replay source for reconnecting subscribers.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mailbot/internal/storage"
	"mailbot/pkg/logx"
)

type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Event is one progress record.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      Kind      `json:"kind"`
	Recipient string    `json:"recipient,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Message   string    `json:"message"`
}

const (
	DefaultMaxLog      = 1000
	DefaultReplayLimit = 200
)

// Log keeps the bounded in-memory ring, mirrors appends to storage, and fans
// live events out to subscribers.
type Log struct {
	maxLog int

	store storage.Store // may be nil (memory-only)
	log   logx.Logger

	mu   sync.Mutex
	ring []Event

	subMu sync.RWMutex
	subs  map[uint64]chan Event
	seq   atomic.Uint64
}

func NewLog(maxLog int, store storage.Store, log logx.Logger) *Log {
	if maxLog <= 0 {
		maxLog = DefaultMaxLog
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{
		maxLog: maxLog,
		store:  store,
		log:    log,
		subs:   map[uint64]chan Event{},
	}
}

// Load seeds the ring from persisted events. Call once at startup.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.RecentEvents(ctx, l.maxLog)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = l.ring[:0]
	for _, r := range recs {
		l.ring = append(l.ring, fromRecord(r))
	}
	return nil
}

// Append records the event durably, bounds the ring, and publishes to live
// subscribers. It never blocks on a consumer.
func (l *Log) Append(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	if l.store != nil {
		if err := l.store.AppendEvent(context.Background(), toRecord(ev)); err != nil {
			l.log.Error("event append failed", logx.Err(err))
		}
	}

	l.mu.Lock()
	l.ring = append(l.ring, ev)
	if len(l.ring) > l.maxLog {
		l.ring = l.ring[len(l.ring)-l.maxLog:]
	}
	l.mu.Unlock()

	l.publish(ev)
}

// Replay returns the most recent limit events, oldest first.
func (l *Log) Replay(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.ring) {
		limit = len(l.ring)
	}
	out := make([]Event, limit)
	copy(out, l.ring[len(l.ring)-limit:])
	return out
}

// Subscribe registers a live listener. The returned cancel func removes it
// from the fan-out set and closes the channel.
func (l *Log) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := l.seq.Add(1)

	l.subMu.Lock()
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
			// Closing is safe because publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// Trim drops persisted events beyond the bound. Intended for the periodic
// maintenance pass; the in-memory ring is already bounded on append.
func (l *Log) Trim(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	return l.store.TrimEvents(ctx, l.maxLog)
}

func (l *Log) publish(ev Event) {
	// Snapshot subscribers so we don't hold the lock while attempting sends.
	l.subMu.RLock()
	chs := make([]chan Event, 0, len(l.subs))
	for _, ch := range l.subs {
		chs = append(chs, ch)
	}
	l.subMu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop if the subscriber is full. A concurrent
		// unsubscribe may close the channel, so recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- ev:
			default:
			}
		}()
	}
}

func toRecord(ev Event) storage.EventRecord {
	return storage.EventRecord{
		At:        ev.Time,
		Kind:      string(ev.Kind),
		Recipient: ev.Recipient,
		Identity:  ev.Identity,
		Message:   ev.Message,
	}
}

func fromRecord(r storage.EventRecord) Event {
	return Event{
		Time:      r.At,
		Kind:      Kind(r.Kind),
		Recipient: r.Recipient,
		Identity:  r.Identity,
		Message:   r.Message,
	}
}
