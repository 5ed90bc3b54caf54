package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"mailbot/internal/events"
	"mailbot/internal/template"
	"mailbot/pkg/logx"
)

// run is the dispatch loop. One instance process-wide.
//
// Per iteration: honor pause, pop a recipient, acquire an identity, render,
// send, file the outcome, pace. Per-recipient errors are absorbed here and
// surfaced as events; only queue exhaustion ends the run.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.finish(ctx)

	c.log.Info("dispatch worker started")
	defer c.log.Info("dispatch worker stopped")

	var (
		active  Job
		haveJob bool
		limiter *rate.Limiter
	)

	for {
		if ctx.Err() != nil {
			return
		}

		// Cooperative pause polling: pause/resume are rare, low-frequency
		// control events, so a fixed-interval re-check beats signaling here.
		if c.paused() {
			if !sleepCtx(ctx, c.cfg.PausePoll) {
				return
			}
			continue
		}

		job, ok := c.activeJob()
		if !ok {
			return
		}
		if !haveJob || job != active {
			active = job
			haveJob = true
			limiter = rate.NewLimiter(rate.Every(job.Interval), 1)
			c.evlog.Append(events.Event{
				Kind:    events.KindInfo,
				Message: fmt.Sprintf("job started (interval %s)", job.Interval),
			})
		}

		r, popped := c.store.PopPending()
		if !popped {
			c.evlog.Append(events.Event{Kind: events.KindInfo, Message: "job complete: pending queue drained"})
			if c.retireJob() {
				haveJob = false
				continue
			}
			return
		}

		now := c.now()

		// Identity acquisition. The quota check inside NextAvailable and the
		// RecordUse below are effectively atomic because this is the only
		// goroutine that records usage.
		id, found := c.pool.NextAvailable(now)
		if !found {
			// Not the recipient's fault: head of the queue, not the tail.
			c.store.PushPendingFront(r)
			c.evlog.Append(events.Event{
				Kind:      events.KindInfo,
				Recipient: r.Email,
				Message:   "all identities at daily limit; backing off",
			})
			if !sleepCtx(ctx, c.cfg.Backoff) {
				return
			}
			continue
		}

		subject, err := template.Render(active.Subject, r)
		var body string
		if err == nil {
			body, err = template.Render(active.Body, r)
		}
		if err != nil {
			// Template errors don't improve with waiting: requeue at the tail
			// and keep going. A permanently-malformed template therefore
			// cycles its recipients until the operator intervenes.
			c.store.PushPendingBack(r)
			c.evlog.Append(events.Event{
				Kind:      events.KindError,
				Recipient: r.Email,
				Message:   "template render failed: " + err.Error(),
			})
			continue
		}

		if serr := c.trans.Send(ctx, id, r.Email, subject, body); serr != nil {
			c.store.PushPendingBack(r)
			c.evlog.Append(events.Event{
				Kind:      events.KindError,
				Recipient: r.Email,
				Identity:  id.ID,
				Message:   "send failed: " + serr.Error(),
			})
			c.log.Warn("send failed",
				logx.String("recipient", r.Email),
				logx.String("identity", id.ID),
				logx.Err(serr),
			)
		} else {
			c.quota.RecordUse(ctx, id.ID, now)
			c.store.MarkCompleted(r)
			c.evlog.Append(events.Event{
				Kind:      events.KindSuccess,
				Recipient: r.Email,
				Identity:  id.ID,
				Message: fmt.Sprintf("sent to %s via %s (%d today)",
					r.Email, id.ID, c.quota.UsageCount(id.ID, c.now())),
			})
		}

		// Job pacing: spreads quota consumption across the day and respects
		// remote rate limits. Wait returns early only on cancellation.
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
