package identity

import (
	"sync"
	"time"

	"mailbot/pkg/logx"
)

// Limiter is the quota view the pool consults during rotation.
type Limiter interface {
	UnderLimit(identityID string, now time.Time) bool
}

// Pool is an ordered set of sender identities with a rotation cursor.
//
// Rotation order is insertion order, not least-loaded: the cursor advances
// past every identity it examines so repeated calls spread load round-robin
// instead of always favoring index 0. Mutations are visible to the next
// NextAvailable call; they never affect an identity mid-send.
type Pool struct {
	mu     sync.Mutex
	ids    []Identity
	cursor int

	limiter Limiter
	log     logx.Logger
}

func NewPool(limiter Limiter, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{limiter: limiter, log: log}
}

// NextAvailable returns the first enabled identity under its limit, scanning
// from the cursor. Returns (zero, false) after wrapping through every
// identity without a hit; the cursor still advances so the next full scan
// starts from a different offset.
func (p *Pool) NextAvailable(now time.Time) (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.ids)
	if n == 0 {
		return Identity{}, false
	}
	if p.cursor >= n {
		p.cursor = 0
	}
	start := p.cursor
	for i := 0; i < n; i++ {
		id := p.ids[p.cursor]
		p.cursor = (p.cursor + 1) % n
		if !id.Enabled {
			continue
		}
		if p.limiter != nil && !p.limiter.UnderLimit(id.ID, now) {
			continue
		}
		return id, true
	}
	// Full scan wrapped back to where it began; nudge the cursor so the next
	// scan starts from a different offset (no starvation bias).
	p.cursor = (start + 1) % n
	return Identity{}, false
}

// Upsert inserts the identity or replaces the entry with the same ID in
// place (position and therefore rotation order is preserved on update).
func (p *Pool) Upsert(id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.upsertLocked(id)
}

func (p *Pool) upsertLocked(id Identity) {
	id.InferEndpoint()
	for i := range p.ids {
		if p.ids[i].ID == id.ID {
			p.ids[i] = id
			return
		}
	}
	p.ids = append(p.ids, id)
}

// Remove drops the identity from future rotation immediately. An in-progress
// send keeps its copy.
func (p *Pool) Remove(identityID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.ids {
		if p.ids[i].ID == identityID {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			if p.cursor > i {
				p.cursor--
			}
			return true
		}
	}
	return false
}

func (p *Pool) SetEnabled(identityID string, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.ids {
		if p.ids[i].ID == identityID {
			p.ids[i].Enabled = enabled
			return true
		}
	}
	return false
}

// List returns a copy of the pool in rotation order.
func (p *Pool) List() []Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Identity(nil), p.ids...)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// EnabledCount reports how many identities are eligible for rotation at all
// (ignoring quota).
func (p *Pool) EnabledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.ids {
		if id.Enabled {
			n++
		}
	}
	return n
}

// Replace reconciles the pool against a new seed registry (config reload):
// seeds are upserted in order, pool entries absent from the seed set are
// removed. Runtime-added identities survive only if re-listed in the config.
// The whole reconcile happens under one lock acquisition, so a concurrent
// NextAvailable sees either the old registry or the new one, never a
// half-applied mix.
func (p *Pool) Replace(seed []Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keep := make(map[string]bool, len(seed))
	for _, id := range seed {
		keep[id.ID] = true
		p.upsertLocked(id)
	}
	out := p.ids[:0]
	for _, id := range p.ids {
		if keep[id.ID] {
			out = append(out, id)
		}
	}
	if p.cursor > len(out) {
		p.cursor = 0
	}
	p.ids = out
}
