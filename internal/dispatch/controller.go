package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"mailbot/internal/events"
	"mailbot/internal/identity"
	"mailbot/internal/quota"
	"mailbot/internal/recipients"
	"mailbot/internal/transport"
	"mailbot/pkg/logx"
)

var (
	ErrEmptyTemplate  = errors.New("subject and body templates are required")
	ErrBadInterval    = errors.New("interval must be positive")
	ErrNoIdentities   = errors.New("no enabled sender identities configured")
	ErrNothingPending = errors.New("pending recipient list is empty")
)

// Controller owns the run state and the single worker goroutine.
type Controller struct {
	cfg Config

	pool    *identity.Pool
	quota   *quota.Tracker
	store   *recipients.Store
	trans   transport.Transport
	evlog   *events.Log
	log     logx.Logger
	nowFunc func() time.Time

	mu      sync.Mutex
	jobs    []Job
	state   RunState
	running bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewController(
	cfg Config,
	pool *identity.Pool,
	tracker *quota.Tracker,
	store *recipients.Store,
	trans transport.Transport,
	evlog *events.Log,
	log logx.Logger,
) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		cfg:     cfg.withDefaults(),
		pool:    pool,
		quota:   tracker,
		store:   store,
		trans:   trans,
		evlog:   evlog,
		log:     log,
		nowFunc: time.Now,
		state:   StateIdle,
	}
}

// SetClock injects a time source. Only safe before Submit.
func (c *Controller) SetClock(now func() time.Time) {
	if now != nil {
		c.nowFunc = now
	}
}

// Submit validates and enqueues a job, starting the worker if idle.
// Configuration errors are rejected here, synchronously; they never enter
// the worker loop.
func (c *Controller) Submit(job Job) error {
	if strings.TrimSpace(job.Subject) == "" || strings.TrimSpace(job.Body) == "" {
		return ErrEmptyTemplate
	}
	if job.Interval <= 0 {
		return ErrBadInterval
	}
	if c.pool.EnabledCount() == 0 {
		return ErrNoIdentities
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		if pending, _ := c.store.Counts(); pending == 0 {
			return ErrNothingPending
		}
	}

	c.jobs = append(c.jobs, job)
	if c.running {
		c.log.Info("job queued behind active run", logx.Int("queue_len", len(c.jobs)))
		return nil
	}

	c.running = true
	c.state = StateRunning
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.run(c.runCtx)
	return nil
}

// Pause flips the run state; it takes effect at the worker's next polling
// check, so an in-flight send still completes and is recorded.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		c.state = StatePaused
		c.log.Info("run paused")
	}
}

func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused {
		c.state = StateRunning
		c.log.Info("run resumed")
	}
}

func (c *Controller) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueuedJobs reports the job queue depth including the active job.
func (c *Controller) QueuedJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Stop cancels the worker's sleeps and waits for it to exit. An in-flight
// transport call is not interrupted. Used at process shutdown.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the worker goes idle. Test helper.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) now() time.Time { return c.nowFunc() }

func (c *Controller) paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatePaused
}

// activeJob returns the head of the job queue without dequeuing it.
func (c *Controller) activeJob() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.jobs) == 0 {
		return Job{}, false
	}
	return c.jobs[0], true
}

// retireJob dequeues the head job and reports whether another is queued.
// When the dequeue empties the queue it also releases the worker slot inside
// the same critical section: a Submit racing the drain either lands before
// the dequeue (and this worker picks the job up) or finds the controller
// idle and starts a fresh worker. An accepted job is never dropped.
func (c *Controller) retireJob() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.jobs) > 0 {
		c.jobs = c.jobs[1:]
	}
	if len(c.jobs) > 0 {
		return true
	}
	c.stopLocked()
	return false
}

// finish cleans up after a worker exits on the cancellation path. The ctx
// comparison makes it a no-op when retireJob already released the slot and a
// successor worker owns the controller state.
func (c *Controller) finish(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != ctx {
		return
	}
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.jobs = nil
	c.state = StateIdle
	c.running = false
	c.runCtx = nil
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
}
