// Package lifecycle orchestrates moderation action transitions:
// create, supersede, cancel, and expire. It owns the expiry scheduler,
// drives the enforcement applier, and emits transition events for the
// audit and notification layer.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/clock"
	"github.com/wardenhq/warden/internal/enforce"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/notify"
	"github.com/wardenhq/warden/internal/schedule"
)

// Store is the persistence surface the controller requires.
type Store interface {
	Put(ctx context.Context, a *action.Action, expectedRevision uint64) error
	Get(ctx context.Context, subjectID, scopeID string, kind action.Kind) (*action.Action, error)
	ListDue(ctx context.Context, before time.Time) ([]action.Action, error)
	ListBySubject(ctx context.Context, subjectID, scopeID string) ([]action.Action, error)
}

// Applier enforces actions against the remote platform.
type Applier interface {
	Apply(ctx context.Context, a *action.Action) error
	Retract(ctx context.Context, a *action.Action) error
}

// ErrEnforcementFailed wraps the platform failure behind an action
// that ended up Failed. The front end reports it as "could not be
// enforced"; the audit log carries the detail.
var ErrEnforcementFailed = errors.New("action could not be enforced")

// Request is a moderation request from the command front end.
type Request struct {
	Kind      action.Kind
	SubjectID string
	ScopeID   string
	IssuerID  string
	Reason    string
	Duration  *time.Duration
}

// CancelRequest asks for the Active action of a kind to be lifted.
type CancelRequest struct {
	SubjectID string
	ScopeID   string
	Kind      action.Kind
	IssuerID  string
}

// Options configures the controller.
type Options struct {
	// TickInterval between expiry sweeps. If zero, 15 seconds is used.
	TickInterval time.Duration

	// ResyncInterval between full scheduler rebuilds from the store,
	// covering entries lost to a full registration queue.
	// If zero, 10 minutes is used.
	ResyncInterval time.Duration

	// QueueBuffer sizes the registration channel between request paths
	// and the expiry loop. If zero, 1024 is used.
	QueueBuffer int

	// StoreRetries bounds attempts against a transiently failing store
	// on the request paths. If zero, 3 is used.
	StoreRetries int

	// StoreRetryDelay is the first backoff interval between storage
	// retries, doubled per attempt. If zero, 50 milliseconds is used.
	StoreRetryDelay time.Duration
}

// Controller is the lifecycle state machine. Request and Cancel may be
// called concurrently from request-handling goroutines; the expiry
// loop is a single background goroutine that exclusively owns the
// in-memory schedule queue.
type Controller struct {
	store   Store
	applier Applier
	clk     clock.Clock
	sinks   []notify.Sink
	opts    Options

	// sched is touched only by the expiry loop (Run/ProcessDue).
	// Request paths hand entries over through register.
	sched    *schedule.Queue
	register chan schedule.Entry
	schedLen atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a lifecycle controller.
func New(store Store, applier Applier, clk clock.Clock, sinks []notify.Sink, opts Options) *Controller {
	if opts.TickInterval == 0 {
		opts.TickInterval = 15 * time.Second
	}
	if opts.ResyncInterval == 0 {
		opts.ResyncInterval = 10 * time.Minute
	}
	if opts.QueueBuffer == 0 {
		opts.QueueBuffer = 1024
	}
	if opts.StoreRetries == 0 {
		opts.StoreRetries = 3
	}
	if opts.StoreRetryDelay == 0 {
		opts.StoreRetryDelay = 50 * time.Millisecond
	}

	return &Controller{
		store:    store,
		applier:  applier,
		clk:      clk,
		sinks:    sinks,
		opts:     opts,
		sched:    schedule.NewQueue(),
		register: make(chan schedule.Entry, opts.QueueBuffer),
		stopCh:   make(chan struct{}),
	}
}

// Request validates, persists, and enforces a new moderation action.
// An existing Pending or Active action of the same kind for the same
// subject and scope is superseded atomically. The returned action
// reflects the final state of the attempt; the error is non-nil for
// validation failures, store conflicts, and enforcement failures.
func (c *Controller) Request(ctx context.Context, req Request) (*action.Action, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	now := c.clk.Now()

	a := &action.Action{
		SubjectID: req.SubjectID,
		ScopeID:   req.ScopeID,
		Kind:      req.Kind,
		IssuedAt:  now,
		IssuerID:  req.IssuerID,
		Reason:    req.Reason,
		Status:    action.StatusPending,
	}
	if req.Duration != nil {
		expires := now.Add(*req.Duration)
		a.ExpiresAt = &expires
	}

	// The slot's current revision anchors the optimistic write. If a
	// concurrent request commits first, our Put is rejected and the
	// caller re-issues against the new state.
	var expected uint64
	var superseded *action.Action

	current, err := c.getAction(ctx, req.SubjectID, req.ScopeID, req.Kind)
	switch {
	case err == nil:
		expected = current.Revision
		if !current.Status.Terminal() {
			superseded = current
		}
	case errors.Is(err, action.ErrNotFound):
		// Empty slot; expected stays 0.
	default:
		return nil, err
	}

	if err := c.retryStore(ctx, func() error { return c.store.Put(ctx, a, expected) }); err != nil {
		return nil, err
	}

	if superseded != nil {
		old := superseded.Status
		superseded.Status = action.StatusCancelled
		superseded.ResolvedAt = &now
		c.emit(*superseded, old, action.StatusCancelled)
		metrics.ActionsSupersededTotal.WithLabelValues(string(superseded.Kind)).Inc()

		log.Info().
			Str("subject", req.SubjectID).
			Str("scope", req.ScopeID).
			Str("kind", string(req.Kind)).
			Msg("lifecycle: superseded previous action")
	}

	c.emit(*a, "", action.StatusPending)
	metrics.ActionsCreatedTotal.WithLabelValues(string(req.Kind)).Inc()

	if err := c.applier.Apply(ctx, a); err != nil {
		return c.fail(ctx, a, "apply", err)
	}

	if err := c.transition(ctx, a, action.StatusActive, nil); err != nil {
		return nil, err
	}

	if a.ExpiresAt != nil {
		c.schedule(a)
	}

	log.Info().
		Str("subject", a.SubjectID).
		Str("scope", a.ScopeID).
		Str("kind", string(a.Kind)).
		Str("issuer", a.IssuerID).
		Msg("lifecycle: action active")

	return a, nil
}

// Cancel lifts the Active action of the given kind. Returns
// action.ErrNotFound, without mutating anything, when no Active action
// of that kind exists. A fatal retract error still forces the action
// to Cancelled: a human explicitly asked for the restriction to go,
// and that wins over remote-state ambiguity.
func (c *Controller) Cancel(ctx context.Context, req CancelRequest) (*action.Action, error) {
	current, err := c.getAction(ctx, req.SubjectID, req.ScopeID, req.Kind)
	if err != nil {
		return nil, err
	}
	if current.Status != action.StatusActive {
		return nil, action.ErrNotFound
	}

	if err := c.applier.Retract(ctx, current); err != nil {
		if !enforce.IsFatal(err) {
			// Transient failure even after the applier's own backoff.
			return c.fail(ctx, current, "retract", err)
		}

		current.FailureReason = err.Error()
		log.Warn().Err(err).
			Str("subject", current.SubjectID).
			Str("scope", current.ScopeID).
			Str("kind", string(current.Kind)).
			Msg("lifecycle: fatal retract error, forcing cancellation")
	}

	if err := c.transition(ctx, current, action.StatusCancelled, nil); err != nil {
		if errors.Is(err, action.ErrConflict) {
			// The expiry raced us and won; the restriction is gone
			// either way. Report the committed state.
			return c.getAction(ctx, req.SubjectID, req.ScopeID, req.Kind)
		}
		return nil, err
	}

	metrics.ActionsCancelledTotal.WithLabelValues(string(current.Kind)).Inc()

	log.Info().
		Str("subject", current.SubjectID).
		Str("scope", current.ScopeID).
		Str("kind", string(current.Kind)).
		Str("issuer", req.IssuerID).
		Msg("lifecycle: action cancelled")

	return current, nil
}

// ListBySubject returns the stored actions for a subject within a
// scope, for the front end's lookup commands.
func (c *Controller) ListBySubject(ctx context.Context, subjectID, scopeID string) ([]action.Action, error) {
	return c.store.ListBySubject(ctx, subjectID, scopeID)
}

// retryStore runs op, absorbing transient storage failures with a
// bounded doubling backoff. Conflicts and not-found pass through
// untouched; only the last storage error crosses the boundary.
func (c *Controller) retryStore(ctx context.Context, op func() error) error {
	delay := c.opts.StoreRetryDelay

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, action.ErrStorageUnavailable) {
			return err
		}
		if attempt == c.opts.StoreRetries {
			return err
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("lifecycle: transient storage failure, retrying")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// getAction reads a slot with storage retry.
func (c *Controller) getAction(ctx context.Context, subjectID, scopeID string, kind action.Kind) (*action.Action, error) {
	var a *action.Action
	err := c.retryStore(ctx, func() error {
		var err error
		a, err = c.store.Get(ctx, subjectID, scopeID, kind)
		return err
	})
	return a, err
}

// transition advances the action's status with an optimistic write and
// emits the transition event. The caller handles ErrConflict.
func (c *Controller) transition(ctx context.Context, a *action.Action, to action.Status, at *time.Time) error {
	old := a.Status
	a.Status = to
	if to.Terminal() {
		resolved := c.clk.Now()
		if at != nil {
			resolved = *at
		}
		a.ResolvedAt = &resolved
	}

	// A failed write attempt may already have bumped a.Revision, so the
	// expected revision is pinned before any retry.
	expected := a.Revision
	if err := c.retryStore(ctx, func() error { return c.store.Put(ctx, a, expected) }); err != nil {
		a.Status = old
		a.ResolvedAt = nil
		a.Revision = expected
		return err
	}

	c.emit(*a, old, to)
	return nil
}

// fail moves the action to Failed after enforcement gave up, and
// returns the enforcement error to the caller.
func (c *Controller) fail(ctx context.Context, a *action.Action, op string, cause error) (*action.Action, error) {
	a.FailureReason = cause.Error()
	metrics.ActionsFailedTotal.WithLabelValues(string(a.Kind), op).Inc()

	if err := c.transition(ctx, a, action.StatusFailed, nil); err != nil {
		if errors.Is(err, action.ErrConflict) {
			// Someone else advanced the slot while enforcement was
			// failing; their write is the truth.
			log.Warn().
				Str("subject", a.SubjectID).
				Str("kind", string(a.Kind)).
				Msg("lifecycle: failed action superseded during enforcement")
		} else {
			log.Error().Err(err).
				Str("subject", a.SubjectID).
				Str("kind", string(a.Kind)).
				Msg("lifecycle: could not persist Failed status")
		}
	}

	log.Error().Err(cause).
		Str("op", op).
		Str("subject", a.SubjectID).
		Str("scope", a.ScopeID).
		Str("kind", string(a.Kind)).
		Msg("lifecycle: enforcement failed")

	return a, fmt.Errorf("%w: %w", ErrEnforcementFailed, cause)
}

// emit dispatches the transition event to all sinks off the hot path.
// Best-effort: a slow or failing sink never blocks the transition.
func (c *Controller) emit(a action.Action, from, to action.Status) {
	t := action.Transition{
		Action:    a,
		OldStatus: from,
		NewStatus: to,
		At:        c.clk.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		notify.Dispatch(ctx, c.sinks, t)
	}()
}

// schedule hands an expiry entry to the loop. If the queue is full the
// entry is dropped here and picked up by the periodic resync, which
// rebuilds from the store's expiry index.
func (c *Controller) schedule(a *action.Action) {
	entry := schedule.Entry{
		ExpiresAt: *a.ExpiresAt,
		IssuedAt:  a.IssuedAt,
		SubjectID: a.SubjectID,
		ScopeID:   a.ScopeID,
		Kind:      a.Kind,
		Revision:  a.Revision,
	}

	select {
	case c.register <- entry:
	default:
		log.Warn().
			Str("subject", a.SubjectID).
			Str("kind", string(a.Kind)).
			Msg("lifecycle: registration queue full, deferring to resync")
	}
}

// SchedulerLen reports the expiry queue depth, including stale
// entries. Safe to call from any goroutine.
func (c *Controller) SchedulerLen() int {
	return int(c.schedLen.Load())
}

func validate(req Request) error {
	if !req.Kind.Valid() {
		return &action.ValidationError{Field: "kind", Message: "unknown kind: " + string(req.Kind)}
	}
	if req.SubjectID == "" {
		return &action.ValidationError{Field: "subject_id", Message: "required"}
	}
	if req.ScopeID == "" {
		return &action.ValidationError{Field: "scope_id", Message: "required"}
	}
	if req.IssuerID == "" {
		return &action.ValidationError{Field: "issuer_id", Message: "required"}
	}
	if err := action.ValidateDuration(req.Kind, req.Duration); err != nil {
		return err
	}
	return action.ValidateReason(req.Reason)
}
