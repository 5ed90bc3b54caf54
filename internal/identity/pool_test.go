package identity

import (
	"errors"
	"testing"
	"time"

	"mailbot/pkg/logx"
)

type allowFunc func(id string, now time.Time) bool

func (f allowFunc) UnderLimit(id string, now time.Time) bool { return f(id, now) }

func allowAll(string, time.Time) bool { return true }

func poolOf(t *testing.T, limiter Limiter, addrs ...string) *Pool {
	t.Helper()
	p := NewPool(limiter, logx.Nop())
	for _, a := range addrs {
		p.Upsert(Identity{ID: a, Enabled: true})
	}
	return p
}

func TestRotationOrder(t *testing.T) {
	t.Parallel()
	p := poolOf(t, allowFunc(allowAll), "a@x.com", "b@x.com", "c@x.com")
	now := time.Now()

	var got []string
	for i := 0; i < 6; i++ {
		id, ok := p.NextAvailable(now)
		if !ok {
			t.Fatalf("call %d: no identity", i)
		}
		got = append(got, id.ID)
	}
	want := []string{"a@x.com", "b@x.com", "c@x.com", "a@x.com", "b@x.com", "c@x.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestDisabledSkipped(t *testing.T) {
	t.Parallel()
	p := poolOf(t, allowFunc(allowAll), "a@x.com", "b@x.com")
	p.SetEnabled("a@x.com", false)

	for i := 0; i < 3; i++ {
		id, ok := p.NextAvailable(time.Now())
		if !ok || id.ID != "b@x.com" {
			t.Fatalf("call %d: got %q ok=%v, want b@x.com", i, id.ID, ok)
		}
	}
}

func TestFullScanMissAdvancesCursor(t *testing.T) {
	t.Parallel()
	blocked := map[string]bool{"a@x.com": true, "b@x.com": true, "c@x.com": true}
	p := poolOf(t, allowFunc(func(id string, _ time.Time) bool { return !blocked[id] }),
		"a@x.com", "b@x.com", "c@x.com")
	now := time.Now()

	if _, ok := p.NextAvailable(now); ok {
		t.Fatal("expected miss with everyone at limit")
	}
	// Unblock everyone; the scan must not restart at index 0.
	for k := range blocked {
		delete(blocked, k)
	}
	id, ok := p.NextAvailable(now)
	if !ok {
		t.Fatal("expected hit after unblock")
	}
	if id.ID == "a@x.com" {
		t.Fatal("cursor did not advance after full-scan miss")
	}
}

func TestRemoveKeepsRotationStable(t *testing.T) {
	t.Parallel()
	p := poolOf(t, allowFunc(allowAll), "a@x.com", "b@x.com", "c@x.com")
	now := time.Now()

	if id, _ := p.NextAvailable(now); id.ID != "a@x.com" {
		t.Fatalf("first = %s, want a@x.com", id.ID)
	}
	if !p.Remove("b@x.com") {
		t.Fatal("Remove returned false")
	}
	if p.Remove("b@x.com") {
		t.Fatal("second Remove should report missing")
	}
	id, ok := p.NextAvailable(now)
	if !ok || id.ID != "c@x.com" {
		t.Fatalf("after remove got %q ok=%v, want c@x.com", id.ID, ok)
	}
}

func TestUpsertPreservesPosition(t *testing.T) {
	t.Parallel()
	p := poolOf(t, allowFunc(allowAll), "a@x.com", "b@x.com")
	p.Upsert(Identity{ID: "a@x.com", Enabled: true, Host: "mail.custom.io", Port: 2525})

	ids := p.List()
	if len(ids) != 2 || ids[0].ID != "a@x.com" {
		t.Fatalf("unexpected order after upsert: %+v", ids)
	}
	if ids[0].Host != "mail.custom.io" || ids[0].Port != 2525 {
		t.Fatalf("upsert did not replace entry: %+v", ids[0])
	}
}

func TestReplaceReconciles(t *testing.T) {
	t.Parallel()
	p := poolOf(t, allowFunc(allowAll), "a@x.com", "b@x.com")
	p.Replace([]Identity{
		{ID: "b@x.com", Enabled: true},
		{ID: "c@x.com", Enabled: true},
	})
	ids := p.List()
	if len(ids) != 2 {
		t.Fatalf("len = %d, want 2", len(ids))
	}
	for _, id := range ids {
		if id.ID == "a@x.com" {
			t.Fatal("a@x.com should have been reconciled away")
		}
	}
}

func TestReplaceConcurrentWithRotation(t *testing.T) {
	t.Parallel()
	p := poolOf(t, allowFunc(allowAll), "a@x.com", "b@x.com")

	seedA := []Identity{{ID: "a@x.com", Enabled: true}, {ID: "b@x.com", Enabled: true}}
	seedB := []Identity{{ID: "b@x.com", Enabled: true}, {ID: "c@x.com", Enabled: true}}
	known := map[string]bool{"a@x.com": true, "b@x.com": true, "c@x.com": true}

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 2000; i++ {
			id, ok := p.NextAvailable(time.Now())
			if !ok {
				done <- errors.New("rotation saw an empty pool mid-reload")
				return
			}
			if !known[id.ID] {
				done <- errors.New("rotation returned unknown identity " + id.ID)
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < 2000; i++ {
		if i%2 == 0 {
			p.Replace(seedA)
		} else {
			p.Replace(seedB)
		}
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// The last reconcile wins exactly.
	p.Replace(seedB)
	ids := p.List()
	if len(ids) != 2 || ids[0].ID != "b@x.com" || ids[1].ID != "c@x.com" {
		t.Fatalf("pool after final reconcile: %+v", ids)
	}
}

func TestInferEndpoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		host string
		port int
	}{
		{"user@gmail.com", "smtp.gmail.com", 587},
		{"user@hotmail.com", "smtp-mail.outlook.com", 587},
		{"user@example.org", "smtp.example.org", 587},
	}
	for _, tt := range tests {
		id := Identity{ID: tt.addr}
		id.InferEndpoint()
		if id.Host != tt.host || id.Port != tt.port {
			t.Fatalf("%s: got %s:%d, want %s:%d", tt.addr, id.Host, id.Port, tt.host, tt.port)
		}
	}

	explicit := Identity{ID: "user@gmail.com", Host: "relay.corp.internal", Port: 2525}
	explicit.InferEndpoint()
	if explicit.Host != "relay.corp.internal" || explicit.Port != 2525 {
		t.Fatalf("explicit endpoint overridden: %+v", explicit)
	}
}
