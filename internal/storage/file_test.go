package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailbot/pkg/logx"
)

func openTempFileStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %T, want nil", driver, st)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRecipientSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTempFileStore(t, dir)
	snap := RecipientSnapshot{
		Pending:   []RecipientRecord{{Email: "a@x.com", Name: "a"}, {Email: "b@x.com"}},
		Completed: []RecipientRecord{{Email: "c@x.com", RealName: "C"}},
	}
	if err := st.SaveRecipients(ctx, snap); err != nil {
		t.Fatalf("SaveRecipients: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openTempFileStore(t, dir)
	defer st.Close()
	got, err := st.LoadRecipients(ctx)
	if err != nil {
		t.Fatalf("LoadRecipients: %v", err)
	}
	if len(got.Pending) != 2 || len(got.Completed) != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.Pending[0].Email != "a@x.com" || got.Completed[0].RealName != "C" {
		t.Fatalf("snapshot order/content lost: %+v", got)
	}
}

func TestMissingStateLoadsEmpty(t *testing.T) {
	t.Parallel()
	st := openTempFileStore(t, t.TempDir())
	defer st.Close()
	ctx := context.Background()

	snap, err := st.LoadRecipients(ctx)
	if err != nil {
		t.Fatalf("LoadRecipients: %v", err)
	}
	if len(snap.Pending) != 0 || len(snap.Completed) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	usage, err := st.LoadUsage(ctx)
	if err != nil {
		t.Fatalf("LoadUsage: %v", err)
	}
	if len(usage) != 0 {
		t.Fatalf("expected empty usage, got %+v", usage)
	}
	evs, err := st.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events, got %+v", evs)
	}
}

func TestUsageJournalReplayAndPrune(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	st := openTempFileStore(t, dir)
	for i := 0; i < 3; i++ {
		if err := st.AppendUsage(ctx, "a@x.com", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("AppendUsage: %v", err)
		}
	}
	_ = st.AppendUsage(ctx, "b@x.com", base)
	_ = st.Close()

	// Journal replay across a restart.
	st = openTempFileStore(t, dir)
	defer st.Close()
	usage, err := st.LoadUsage(ctx)
	if err != nil {
		t.Fatalf("LoadUsage: %v", err)
	}
	if len(usage["a@x.com"]) != 3 || len(usage["b@x.com"]) != 1 {
		t.Fatalf("unexpected usage after replay: %+v", usage)
	}

	if err := st.PruneUsage(ctx, base.Add(90*time.Minute)); err != nil {
		t.Fatalf("PruneUsage: %v", err)
	}
	usage, _ = st.LoadUsage(ctx)
	if len(usage["a@x.com"]) != 2 {
		t.Fatalf("a usage after prune = %d, want 2", len(usage["a@x.com"]))
	}
	if _, ok := usage["b@x.com"]; ok {
		t.Fatal("b@x.com should be fully pruned")
	}
}

func TestEventTrimAndCompact(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st := openTempFileStore(t, dir)
	for i := 0; i < 10; i++ {
		ev := EventRecord{At: time.Now(), Kind: "info", Message: string(rune('a' + i))}
		if err := st.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if err := st.TrimEvents(ctx, 4); err != nil {
		t.Fatalf("TrimEvents: %v", err)
	}
	if err := st.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	_ = st.Close()

	st = openTempFileStore(t, dir)
	defer st.Close()
	evs, err := st.RecentEvents(ctx, 0)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("events after trim = %d, want 4", len(evs))
	}
	if evs[0].Message != "g" || evs[3].Message != "j" {
		t.Fatalf("trim kept wrong events: %+v", evs)
	}
}
