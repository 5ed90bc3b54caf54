// Package dispatch runs the send loop: it drains the pending queue through
// the identity pool and transport, one recipient at a time.
//
// Delivery semantics
//
// At-least-once. A recipient whose send fails is requeued at the tail and
// retried on a later iteration; a recipient popped when no identity is
// available goes back to the head (the system, not the recipient, is at
// fault). Nothing is ever dropped. The single recipient in flight during a
// process crash is the documented durability gap.
//
// Exactly one worker goroutine is active process-wide; submitting a job
// while one runs appends to the job queue instead of spawning a second
// worker.
package dispatch

import (
	"time"
)

// RunState is the process-wide run mode, owned by the Controller.
type RunState string

const (
	StateIdle    RunState = "idle"
	StateRunning RunState = "running"
	StatePaused  RunState = "paused"
)

// Job is one submitted unit of work: a template pair applied across every
// pending recipient, paced by Interval. Immutable once enqueued.
type Job struct {
	Subject  string
	Body     string
	Interval time.Duration
}

// Config holds worker timing knobs that are not per-job.
type Config struct {
	// Backoff is the sleep when every identity is at quota.
	Backoff time.Duration
	// PausePoll is how often a paused worker re-checks the run state.
	PausePoll time.Duration
}

const (
	DefaultBackoff   = 60 * time.Second
	DefaultPausePoll = time.Second
)

func (c Config) withDefaults() Config {
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.PausePoll <= 0 {
		c.PausePoll = DefaultPausePoll
	}
	return c
}
