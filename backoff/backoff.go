// Package backoff runs operations under a retry-with-backoff policy.
//
// Failures are classified as transient (timeouts, connection loss) or
// terminal (validation, not-found, duplicate key, version conflict).
// Terminal failures are returned immediately. Transient failures are
// retried until the policy is exhausted, after which an Exhausted failure
// carrying the last error is returned. Every attempt is logged for the
// caller's AccessResult.
package backoff

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"storefront"
)

// Classifier decides whether an error may be retried.
type Classifier func(error) bool

// Controller executes operations under a Policy.
// It is stateless apart from its collaborators and safe for concurrent use.
type Controller struct {
	clock     Clock
	transient Classifier
	random    func() float64
	logger    *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock replaces the clock used for timestamps and sleeps.
func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithClassifier replaces the transient-error classifier.
func WithClassifier(fn Classifier) ControllerOption {
	return func(c *Controller) {
		c.transient = fn
	}
}

// WithRandom replaces the jitter source; fn must return values in [0,1).
func WithRandom(fn func() float64) ControllerOption {
	return func(c *Controller) {
		c.random = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// NewController creates a controller using the wall clock and
// storefront.IsTransient.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		clock:     SystemClock{},
		transient: storefront.IsTransient,
		random:    rand.Float64,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Clock returns the controller's clock.
func (c *Controller) Clock() Clock {
	return c.clock
}

// Run invokes op until it succeeds, fails terminally, or the policy is
// exhausted. Each attempt gets its own deadline when the policy sets one;
// an expired attempt deadline counts as a transient timeout.
//
// The returned error is the terminal error as returned by op, or a
// *storefront.Failure of kind Exhausted.
func (c *Controller) Run(ctx context.Context, path string, policy Policy, op func(context.Context) error) ([]storefront.Attempt, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	attempts := make([]storefront.Attempt, 0, policy.MaxAttempts)
	var lastErr error
	for n := 1; n <= policy.MaxAttempts; n++ {
		started := c.clock.Now()
		err := c.attempt(ctx, policy, op)
		rec := storefront.Attempt{
			Path:      path,
			Number:    n,
			StartedAt: started,
			Duration:  c.clock.Now().Sub(started),
		}

		if err == nil {
			rec.Outcome = storefront.OutcomeSuccess
			attempts = append(attempts, rec)
			return attempts, nil
		}
		rec.Error = err.Error()
		lastErr = err

		// The caller gave up; nothing further may run on its behalf.
		if ctxErr := ctx.Err(); ctxErr != nil {
			rec.Outcome = storefront.OutcomeTransient
			attempts = append(attempts, rec)
			return attempts, storefront.Exhausted(errors.Join(err, ctxErr), attempts)
		}

		if !c.transient(err) {
			rec.Outcome = storefront.OutcomeTerminal
			attempts = append(attempts, rec)
			c.logger.Debug("terminal failure", "path", path, "attempt", n, "error", err)
			return attempts, err
		}

		rec.Outcome = storefront.OutcomeTransient
		if n == policy.MaxAttempts {
			attempts = append(attempts, rec)
			break
		}

		delay := policy.jittered(policy.Delay(n), c.random())
		rec.Backoff = delay
		attempts = append(attempts, rec)
		c.logger.Debug("transient failure, backing off",
			"path", path, "attempt", n, "delay", delay, "error", err)

		if err := c.clock.Sleep(ctx, delay); err != nil {
			return attempts, storefront.Exhausted(errors.Join(lastErr, err), attempts)
		}
	}

	c.logger.Debug("attempts exhausted", "path", path, "attempts", len(attempts), "error", lastErr)
	return attempts, storefront.Exhausted(lastErr, attempts)
}

// attempt runs op once under the per-attempt deadline. The derived context
// is always cancelled before returning so that no connection outlives it.
func (c *Controller) attempt(ctx context.Context, policy Policy, op func(context.Context) error) error {
	attemptCtx := ctx
	if policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
	}
	err := op(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil &&
		!errors.Is(err, context.DeadlineExceeded) {
		// Drivers sometimes report the cancelled query instead of the deadline.
		err = errors.Join(err, context.DeadlineExceeded)
	}
	return err
}

// Execute is the typed form of Run.
func Execute[T any](ctx context.Context, c *Controller, path string, policy Policy, op func(context.Context) (T, error)) (T, []storefront.Attempt, error) {
	var result T
	attempts, err := c.Run(ctx, path, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	return result, attempts, nil
}

// Elapsed sums the duration and backoff of attempts.
func Elapsed(attempts []storefront.Attempt) time.Duration {
	var total time.Duration
	for _, a := range attempts {
		total += a.Duration + a.Backoff
	}
	return total
}
