package recipients

import (
	"context"
	"path/filepath"
	"testing"

	"mailbot/internal/storage"
	"mailbot/pkg/logx"
)

func TestPopPushOrdering(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	s.Import([]Recipient{{Email: "a@x.com"}, {Email: "b@x.com"}, {Email: "c@x.com"}})

	r, ok := s.PopPending()
	if !ok || r.Email != "a@x.com" {
		t.Fatalf("pop = %q ok=%v, want a@x.com", r.Email, ok)
	}

	// Failure path: back of the queue, strictly after b and c.
	s.PushPendingBack(r)
	wantOrder := []string{"b@x.com", "c@x.com", "a@x.com"}
	got, total := s.ListPending(0, 0)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	for i, w := range wantOrder {
		if got[i].Email != w {
			t.Fatalf("pending[%d] = %s, want %s", i, got[i].Email, w)
		}
	}

	// No-identity path: head of the queue, position preserved.
	r, _ = s.PopPending()
	s.PushPendingFront(r)
	if got, _ := s.ListPending(0, 1); got[0].Email != "b@x.com" {
		t.Fatalf("front = %s, want b@x.com", got[0].Email)
	}
}

func TestImportSkipsEmptyEmail(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	n := s.Import([]Recipient{
		{Email: "a@x.com"},
		{Email: "   "},
		{Email: ""},
		{Email: "b@x.com"},
	})
	if n != 2 {
		t.Fatalf("imported = %d, want 2", n)
	}
	if pending, _ := s.Counts(); pending != 2 {
		t.Fatalf("pending = %d, want 2", pending)
	}
}

func TestImportKeepsDuplicates(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	s.Import([]Recipient{{Email: "a@x.com"}})
	s.Import([]Recipient{{Email: "a@x.com"}})
	if pending, _ := s.Counts(); pending != 2 {
		t.Fatalf("pending = %d, want 2 (no dedupe across uploads)", pending)
	}
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	s.Import([]Recipient{{Email: "a@x.com"}, {Email: "b@x.com"}, {Email: "a@x.com"}})

	if n := s.Remove("a@x.com"); n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	if n := s.Clear(); n != 1 {
		t.Fatalf("cleared = %d, want 1", n)
	}
	if pending, _ := s.Counts(); pending != 0 {
		t.Fatalf("pending = %d, want 0", pending)
	}
}

func TestPagination(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logx.Nop())
	var in []Recipient
	for _, e := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		in = append(in, Recipient{Email: e})
	}
	s.Import(in)

	pageRs, total := s.ListPending(1, 2)
	if total != 4 || len(pageRs) != 2 {
		t.Fatalf("total=%d len=%d, want 4/2", total, len(pageRs))
	}
	if pageRs[0].Email != "b@x.com" || pageRs[1].Email != "c@x.com" {
		t.Fatalf("unexpected page: %+v", pageRs)
	}
	if rs, _ := s.ListPending(10, 2); rs != nil {
		t.Fatalf("out-of-range page should be empty, got %+v", rs)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	backing, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}

	s := NewStore(backing, logx.Nop())
	s.Import([]Recipient{{Email: "a@x.com", Name: "a"}, {Email: "b@x.com"}})
	r, _ := s.PopPending()
	s.MarkCompleted(r)
	_ = backing.Close()

	backing, err = storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open (reopen): %v", err)
	}
	defer backing.Close()

	s2 := NewStore(backing, logx.Nop())
	if err := s2.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pending, completed := s2.Counts()
	if pending != 1 || completed != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", pending, completed)
	}
	if got, _ := s2.ListCompleted(0, 0); got[0].Email != "a@x.com" {
		t.Fatalf("completed[0] = %s, want a@x.com", got[0].Email)
	}
}
