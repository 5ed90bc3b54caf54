package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mailbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.recipients.json (full snapshot, replaced atomically)
//   - <prefix>.usage.jsonl     (append-only journal, one send per line)
//   - <prefix>.events.jsonl    (append-only journal, one event per line)
//
// Journals are rewritten from memory on prune/trim/compact.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recipientsPath string
	usagePath      string
	eventsPath     string

	usageFile  *os.File
	eventsFile *os.File

	usage  map[string][]int64 // unix milli, ascending per identity
	events []EventRecord
}

// maxEventsInMemory caps the replay buffer independently of the engine's own
// trim schedule, so a missing maintenance pass can't grow memory unbounded.
const maxEventsInMemory = 5000

type usageRecord struct {
	ID string `json:"id"`
	At int64  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:            log,
		recipientsPath: prefix + ".recipients.json",
		usagePath:      prefix + ".usage.jsonl",
		eventsPath:     prefix + ".events.jsonl",
		usage:          map[string][]int64{},
	}

	// Replay journals; a missing or truncated file is treated as empty.
	_ = replayJSONL(s.usagePath, func(b []byte) {
		var r usageRecord
		if json.Unmarshal(b, &r) == nil && r.ID != "" {
			s.usage[r.ID] = append(s.usage[r.ID], r.At)
		}
	})
	for id := range s.usage {
		ts := s.usage[id]
		sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	}
	_ = replayJSONL(s.eventsPath, func(b []byte) {
		var ev EventRecord
		if json.Unmarshal(b, &ev) == nil {
			s.events = append(s.events, ev)
		}
	})
	if len(s.events) > maxEventsInMemory {
		s.events = s.events[len(s.events)-maxEventsInMemory:]
	}

	uf, err := os.OpenFile(s.usagePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	ef, err := os.OpenFile(s.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = uf.Close()
		return nil, err
	}
	s.usageFile = uf
	s.eventsFile = ef
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.usageFile != nil {
		err1 = s.usageFile.Close()
		s.usageFile = nil
	}
	if s.eventsFile != nil {
		err2 = s.eventsFile.Close()
		s.eventsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// ---- recipients ----

func (s *fileStore) SaveRecipients(ctx context.Context, snap RecipientSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.recipientsPath, snap)
}

func (s *fileStore) LoadRecipients(ctx context.Context) (RecipientSnapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap RecipientSnapshot
	b, err := os.ReadFile(s.recipientsPath)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		// Partially-written snapshot: start empty rather than refuse to boot.
		s.log.Warn("recipient snapshot unreadable; starting empty", logx.Err(err))
		return RecipientSnapshot{}, nil
	}
	return snap, nil
}

// ---- usage ----

func (s *fileStore) AppendUsage(ctx context.Context, identityID string, at time.Time) error {
	_ = ctx
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return nil
	}
	ms := at.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usageFile == nil {
		return errors.New("usage journal closed")
	}
	if err := json.NewEncoder(s.usageFile).Encode(usageRecord{ID: identityID, At: ms}); err != nil {
		return err
	}
	// The quota invariant depends on this record surviving a crash that
	// happens right after the send.
	if err := s.usageFile.Sync(); err != nil {
		return err
	}
	s.usage[identityID] = append(s.usage[identityID], ms)
	return nil
}

func (s *fileStore) LoadUsage(ctx context.Context) (map[string][]time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]time.Time, len(s.usage))
	for id, ts := range s.usage {
		cp := make([]time.Time, len(ts))
		for i, ms := range ts {
			cp[i] = time.UnixMilli(ms)
		}
		out[id] = cp
	}
	return out, nil
}

func (s *fileStore) PruneUsage(ctx context.Context, before time.Time) error {
	_ = ctx
	cut := before.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for id, ts := range s.usage {
		i := 0
		for i < len(ts) && ts[i] < cut {
			i++
		}
		if i == 0 {
			continue
		}
		changed = true
		if i == len(ts) {
			delete(s.usage, id)
			continue
		}
		s.usage[id] = append([]int64(nil), ts[i:]...)
	}
	if !changed {
		return nil
	}
	return s.rewriteUsageLocked()
}

// ---- events ----

func (s *fileStore) AppendEvent(ctx context.Context, ev EventRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return errors.New("event journal closed")
	}
	if err := json.NewEncoder(s.eventsFile).Encode(ev); err != nil {
		return err
	}
	s.events = append(s.events, ev)
	if len(s.events) > maxEventsInMemory {
		s.events = s.events[len(s.events)-maxEventsInMemory:]
	}
	return nil
}

func (s *fileStore) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]EventRecord, limit)
	copy(out, s.events[len(s.events)-limit:])
	return out, nil
}

func (s *fileStore) TrimEvents(ctx context.Context, keep int) error {
	_ = ctx
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) <= keep {
		return nil
	}
	s.events = append([]EventRecord(nil), s.events[len(s.events)-keep:]...)
	return s.rewriteEventsLocked()
}

// ---- maintenance ----

func (s *fileStore) Compact(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rewriteUsageLocked(); err != nil {
		return err
	}
	return s.rewriteEventsLocked()
}

func (s *fileStore) rewriteUsageLocked() error {
	if s.usageFile == nil {
		return errors.New("usage journal closed")
	}
	f, err := rewriteJournal(s.usagePath, func(enc *json.Encoder) error {
		ids := make([]string, 0, len(s.usage))
		for id := range s.usage {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, ms := range s.usage[id] {
				if err := enc.Encode(usageRecord{ID: id, At: ms}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	_ = s.usageFile.Close()
	s.usageFile = f
	return nil
}

func (s *fileStore) rewriteEventsLocked() error {
	if s.eventsFile == nil {
		return errors.New("event journal closed")
	}
	f, err := rewriteJournal(s.eventsPath, func(enc *json.Encoder) error {
		for _, ev := range s.events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	_ = s.eventsFile.Close()
	s.eventsFile = f
	return nil
}

// ---- helpers ----

// rewriteJournal writes a fresh journal via tmp+rename and returns a new
// append handle for it.
func rewriteJournal(path string, fill func(*json.Encoder) error) (*os.File, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if err := fill(json.NewEncoder(f)); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func writeFileAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func replayJSONL(path string, fn func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	return sc.Err()
}
