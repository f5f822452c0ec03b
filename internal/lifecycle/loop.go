package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/schedule"
)

// Recover rebuilds the expiry queue from the store. Called once before
// Start, and periodically by the loop as a resync. Duplicate entries
// are harmless: whichever pops second fails the revision revalidation
// and is discarded.
func (c *Controller) Recover(ctx context.Context) error {
	// The expiry index holds every Active action with an expiry, so an
	// unbounded ListDue is the full pending set.
	pending, err := c.store.ListDue(ctx, maxTime())
	if err != nil {
		return err
	}

	for i := range pending {
		a := &pending[i]
		if a.Status != action.StatusActive || a.ExpiresAt == nil {
			continue
		}
		c.schedule(a)
	}

	log.Info().Int("pending", len(pending)).Msg("lifecycle: recovered pending expirations")
	return nil
}

// Start launches the background expiry loop.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop gracefully stops the expiry loop.
func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	resync := time.NewTicker(c.opts.ResyncInterval)
	defer resync.Stop()

	log.Info().
		Dur("tick", c.opts.TickInterval).
		Dur("resync", c.opts.ResyncInterval).
		Msg("lifecycle: expiry loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("lifecycle: context cancelled, stopping expiry loop")
			return
		case <-c.stopCh:
			log.Info().Msg("lifecycle: stop requested, stopping expiry loop")
			return
		case entry := <-c.register:
			c.sched.Push(entry)
			c.schedLen.Store(int64(c.sched.Len()))
		case <-resync.C:
			if err := c.Recover(ctx); err != nil {
				log.Warn().Err(err).Msg("lifecycle: scheduler resync failed")
			}
		case <-ticker.C:
			start := time.Now()
			c.ProcessDue(ctx)
			metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// ProcessDue pops every due entry, revalidates it against the store,
// and expires the survivors. Called from the expiry loop; tests drive
// it directly with a manual clock.
func (c *Controller) ProcessDue(ctx context.Context) {
	c.drainRegistrations()

	now := c.clk.Now()
	due := c.sched.PopDue(now)
	c.schedLen.Store(int64(c.sched.Len()))

	for _, entry := range due {
		c.expire(ctx, entry, now)
	}
}

// drainRegistrations moves queued entries into the heap without
// blocking.
func (c *Controller) drainRegistrations() {
	for {
		select {
		case entry := <-c.register:
			c.sched.Push(entry)
		default:
			c.schedLen.Store(int64(c.sched.Len()))
			return
		}
	}
}

// expire processes one due entry. Entries are advisory: the store is
// re-read by key and the revision compared before any remote call, so
// superseded or cancelled entries cost nothing.
func (c *Controller) expire(ctx context.Context, entry schedule.Entry, now time.Time) {
	current, err := c.store.Get(ctx, entry.SubjectID, entry.ScopeID, entry.Kind)
	if err != nil {
		if errors.Is(err, action.ErrNotFound) {
			metrics.StaleEntriesDiscardedTotal.Inc()
			return
		}
		// Transient store trouble: put the entry back and let the next
		// tick retry.
		log.Warn().Err(err).
			Str("subject", entry.SubjectID).
			Str("kind", string(entry.Kind)).
			Msg("lifecycle: due entry revalidation failed, requeueing")
		c.sched.Push(entry)
		return
	}

	if current.Revision != entry.Revision || current.Status != action.StatusActive {
		metrics.StaleEntriesDiscardedTotal.Inc()
		log.Debug().
			Str("subject", entry.SubjectID).
			Str("kind", string(entry.Kind)).
			Uint64("entry_revision", entry.Revision).
			Uint64("store_revision", current.Revision).
			Msg("lifecycle: discarded stale scheduler entry")
		return
	}

	if err := c.applier.Retract(ctx, current); err != nil {
		// Both exhausted-retryable and fatal outcomes end in Failed;
		// the operator surface picks them up from there.
		_, _ = c.fail(ctx, current, "retract", err)
		return
	}

	if err := c.transition(ctx, current, action.StatusExpired, &now); err != nil {
		if errors.Is(err, action.ErrConflict) {
			// A manual cancel committed first. The restriction is
			// already lifted, so the expiry is a no-op.
			metrics.StaleEntriesDiscardedTotal.Inc()
			return
		}
		// Retraction already happened and is idempotent, so retrying
		// the write on the next tick is safe.
		log.Warn().Err(err).
			Str("subject", entry.SubjectID).
			Str("kind", string(entry.Kind)).
			Msg("lifecycle: could not persist expiry, requeueing")
		c.sched.Push(entry)
		return
	}

	metrics.ActionsExpiredTotal.WithLabelValues(string(current.Kind)).Inc()

	log.Info().
		Str("subject", current.SubjectID).
		Str("scope", current.ScopeID).
		Str("kind", string(current.Kind)).
		Time("expired_at", now).
		Msg("lifecycle: action expired")
}

// maxTime returns the far-future cutoff used for full index scans.
func maxTime() time.Time {
	return time.Unix(0, (1<<63)-1)
}
