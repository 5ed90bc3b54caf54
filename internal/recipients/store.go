// Package recipients owns the pending and completed delivery queues.
package recipients

import (
	"context"
	"strings"
	"sync"

	"mailbot/internal/storage"
	"mailbot/pkg/logx"
)

// Recipient is immutable after creation; only its queue membership changes.
type Recipient struct {
	Email    string
	Name     string
	RealName string
}

// Store holds the two ordered recipient sequences.
//
// All queue operations are serialized under one mutex, so no caller can
// observe a recipient in both queues or in neither (except the single
// in-flight recipient between PopPending and its re-filing, which is the
// documented at-least-once crash gap).
//
// Every membership mutation is followed by a snapshot write; a failed write
// is logged and the in-memory state stays authoritative for this process.
type Store struct {
	mu        sync.Mutex
	pending   []Recipient
	completed []Recipient

	store storage.Store // may be nil (memory-only)
	log   logx.Logger
}

func NewStore(store storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{store: store, log: log}
}

// Load restores the last snapshot. Call once at startup; missing state is
// simply empty.
func (s *Store) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.LoadRecipients(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = fromRecords(snap.Pending)
	s.completed = fromRecords(snap.Completed)
	return nil
}

// PopPending removes and returns the head of pending.
func (s *Store) PopPending() (Recipient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Recipient{}, false
	}
	r := s.pending[0]
	s.pending = s.pending[1:]
	s.persistLocked()
	return r, true
}

// PushPendingFront returns a recipient to the head of pending. Used when the
// system (not the recipient) couldn't proceed, so position is preserved.
func (s *Store) PushPendingFront(r Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]Recipient{r}, s.pending...)
	s.persistLocked()
}

// PushPendingBack requeues a recipient behind everything currently pending.
// Used after a delivery or render failure so one bad address can't block the
// run.
func (s *Store) PushPendingBack(r Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, r)
	s.persistLocked()
}

func (s *Store) MarkCompleted(r Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, r)
	s.persistLocked()
}

// Import appends recipients to pending, skipping entries with an empty email
// key. No dedupe: duplicates across uploads are delivered twice by design.
// Returns the number imported.
func (s *Store) Import(rs []Recipient) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range rs {
		if strings.TrimSpace(r.Email) == "" {
			continue
		}
		s.pending = append(s.pending, r)
		n++
	}
	if n > 0 {
		s.persistLocked()
	}
	return n
}

// Remove drops every pending entry with the given email. Completed entries
// are history and stay.
func (s *Store) Remove(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending[:0]
	removed := 0
	for _, r := range s.pending {
		if r.Email == email {
			removed++
			continue
		}
		out = append(out, r)
	}
	s.pending = out
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// Clear empties the pending queue.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	s.pending = nil
	if n > 0 {
		s.persistLocked()
	}
	return n
}

// ListPending returns a page of the pending queue (offset/limit; limit <= 0
// means "the rest") plus the total count.
func (s *Store) ListPending(offset, limit int) ([]Recipient, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.pending, offset, limit), len(s.pending)
}

func (s *Store) ListCompleted(offset, limit int) ([]Recipient, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.completed, offset, limit), len(s.completed)
}

// Counts returns (pending, completed).
func (s *Store) Counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), len(s.completed)
}

func (s *Store) persistLocked() {
	if s.store == nil {
		return
	}
	snap := storage.RecipientSnapshot{
		Pending:   toRecords(s.pending),
		Completed: toRecords(s.completed),
	}
	if err := s.store.SaveRecipients(context.Background(), snap); err != nil {
		s.log.Error("recipient snapshot write failed", logx.Err(err))
	}
}

func page(rs []Recipient, offset, limit int) []Recipient {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rs) {
		return nil
	}
	end := len(rs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]Recipient(nil), rs[offset:end]...)
}

func toRecords(rs []Recipient) []storage.RecipientRecord {
	out := make([]storage.RecipientRecord, len(rs))
	for i, r := range rs {
		out[i] = storage.RecipientRecord{Email: r.Email, Name: r.Name, RealName: r.RealName}
	}
	return out
}

func fromRecords(rs []storage.RecipientRecord) []Recipient {
	if len(rs) == 0 {
		return nil
	}
	out := make([]Recipient, len(rs))
	for i, r := range rs {
		out[i] = Recipient{Email: r.Email, Name: r.Name, RealName: r.RealName}
	}
	return out
}
