// Package enforce translates moderation actions into remote platform
// calls. It is the sole caller of the platform client and absorbs its
// failure modes: transient errors are retried with bounded exponential
// backoff, fatal errors are surfaced immediately, and "already in the
// target state" responses count as success.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/action"
	"github.com/wardenhq/warden/internal/metrics"
)

// PlatformClient performs the actual remote calls. Implementations
// must be idempotent: applying an action that is already in force, or
// retracting one that is already absent, returns nil.
//
// Errors are classified by wrapping: a *FatalError is never retried,
// everything else (including per-attempt timeouts) is treated as
// transient.
type PlatformClient interface {
	Apply(ctx context.Context, a *action.Action) error
	Retract(ctx context.Context, a *action.Action) error
}

// FatalError marks a platform failure that retrying cannot fix, such
// as a missing subject or revoked permission.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal platform error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// RetryableError marks a transient platform failure. RetryAfter, when
// set, is the platform's requested wait before the next attempt.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string { return "retryable platform error: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// ErrRetriesExhausted wraps the last transient error once the attempt
// bound is reached. The caller transitions the action to Failed.
var ErrRetriesExhausted = errors.New("platform retries exhausted")

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// Options bounds the retry behavior.
type Options struct {
	// MaxAttempts is the total number of tries per operation.
	// If zero, 4 is used.
	MaxAttempts int

	// BaseDelay is the first backoff interval, doubled per attempt.
	// If zero, 1 second is used.
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval.
	// If zero, 30 seconds is used.
	MaxDelay time.Duration

	// AttemptTimeout bounds each remote call. Exceeding it counts as a
	// transient failure. If zero, 10 seconds is used.
	AttemptTimeout time.Duration
}

// Applier wraps a PlatformClient with retry and classification.
type Applier struct {
	client PlatformClient
	opts   Options
}

// NewApplier creates an applier around the given platform client.
func NewApplier(client PlatformClient, opts Options) *Applier {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 4
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay == 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = 10 * time.Second
	}
	return &Applier{client: client, opts: opts}
}

// Apply enforces the action remotely. A nil return means the action is
// in force (or already was).
func (ap *Applier) Apply(ctx context.Context, a *action.Action) error {
	return ap.do(ctx, "apply", a, ap.client.Apply)
}

// Retract lifts the action remotely. A nil return means the
// restriction is absent (or already was).
func (ap *Applier) Retract(ctx context.Context, a *action.Action) error {
	return ap.do(ctx, "retract", a, ap.client.Retract)
}

func (ap *Applier) do(ctx context.Context, op string, a *action.Action, call func(context.Context, *action.Action) error) error {
	backoff := ap.opts.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= ap.opts.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, ap.opts.AttemptTimeout)
		err := call(attemptCtx, a)
		cancel()

		if err == nil {
			metrics.PlatformRequestsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}

		if IsFatal(err) {
			metrics.PlatformRequestsTotal.WithLabelValues(op, "fatal").Inc()
			log.Warn().Err(err).
				Str("op", op).
				Str("subject", a.SubjectID).
				Str("scope", a.ScopeID).
				Str("kind", string(a.Kind)).
				Msg("enforce: fatal platform error")
			return err
		}

		metrics.PlatformRequestsTotal.WithLabelValues(op, "retryable").Inc()
		lastErr = err

		if attempt == ap.opts.MaxAttempts {
			break
		}

		delay := backoff
		var retryable *RetryableError
		if errors.As(err, &retryable) && retryable.RetryAfter > delay {
			delay = retryable.RetryAfter
		}

		log.Warn().Err(err).
			Str("op", op).
			Str("subject", a.SubjectID).
			Str("scope", a.ScopeID).
			Str("kind", string(a.Kind)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("enforce: transient platform error, retrying")

		metrics.PlatformRetriesTotal.WithLabelValues(op).Inc()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, ctx.Err())
		case <-time.After(delay):
		}

		backoff *= 2
		if backoff > ap.opts.MaxDelay {
			backoff = ap.opts.MaxDelay
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, ap.opts.MaxAttempts, lastErr)
}
