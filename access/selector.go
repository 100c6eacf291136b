// Package access chooses between the mapped (primary) and raw (secondary)
// access paths for every storage operation.
//
// An operation runs on the primary path under the primary backoff policy.
// Unless the primary gives a definitive answer (invalid input, not found,
// duplicate, stale version) or the caller gave up, the same operation then
// runs on the secondary path under the secondary policy. A failure raised
// after both paths ran is marked Unanswered.
package access

import (
	"context"
	"errors"
	"log/slog"

	"storefront"
	"storefront/backoff"
)

// Op is a storage operation expressed against a repository. The same op is
// executed on each path.
type Op[T any] func(ctx context.Context, repo storefront.Repository) (T, error)

// Selector routes operations across the two access paths.
type Selector struct {
	primary         storefront.Repository
	secondary       storefront.Repository
	controller      *backoff.Controller
	primaryPolicy   backoff.Policy
	secondaryPolicy backoff.Policy
	fallthroughOn   backoff.Classifier
	logger          *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithPolicies overrides the per-path retry policies.
func WithPolicies(primary, secondary backoff.Policy) Option {
	return func(s *Selector) {
		s.primaryPolicy = primary
		s.secondaryPolicy = secondary
	}
}

// WithController sets the backoff controller.
func WithController(c *backoff.Controller) Option {
	return func(s *Selector) {
		if c != nil {
			s.controller = c
		}
	}
}

// WithFallthrough sets which definitive primary errors still move the
// operation to the secondary path. Schema errors do by default.
func WithFallthrough(fn backoff.Classifier) Option {
	return func(s *Selector) {
		if fn != nil {
			s.fallthroughOn = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSelector creates a selector. secondary may be nil, in which case
// operations that exhaust the primary fail.
func NewSelector(primary, secondary storefront.Repository, opts ...Option) *Selector {
	s := &Selector{
		primary:         primary,
		secondary:       secondary,
		controller:      backoff.NewController(),
		primaryPolicy:   backoff.PrimaryPolicy(),
		secondaryPolicy: backoff.SecondaryPolicy(),
		fallthroughOn:   storefront.IsSchemaError,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Primary returns the primary repository.
func (s *Selector) Primary() storefront.Repository { return s.primary }

// Secondary returns the secondary repository, which may be nil.
func (s *Selector) Secondary() storefront.Repository { return s.secondary }

// Result is the value of a successful operation together with where it came
// from and the attempts made on every path.
type Result[T any] struct {
	Value    T
	Source   storefront.Source
	Attempts []storefront.Attempt
}

// Perform runs op on the primary path and, when warranted, on the secondary.
// Errors are always *storefront.Failure values carrying the full attempt log.
func Perform[T any](ctx context.Context, s *Selector, kind storefront.Kind, name string, op Op[T]) (Result[T], error) {
	if s.primary == nil {
		return Result[T]{}, storefront.NewFailure(storefront.FailureExhausted,
			errors.Join(storefront.ErrStoreUnavailable, errors.New("no primary access path")), nil)
	}

	value, attempts, err := runOn(ctx, s, storefront.SourcePrimary, s.primary, s.primaryPolicy, op)
	if err == nil {
		return Result[T]{Value: value, Source: storefront.SourcePrimary, Attempts: attempts}, nil
	}

	if !s.shouldFallThrough(ctx, err) {
		s.logger.Debug("primary access path failed",
			"kind", kind, "op", name, "error", err)
		return Result[T]{Attempts: attempts}, storefront.AsFailure(err, attempts)
	}
	if s.secondary == nil {
		s.logger.Warn("primary access path failed and no secondary is configured",
			"kind", kind, "op", name, "error", err)
		f := storefront.AsFailure(err, attempts)
		f.Unanswered = true
		return Result[T]{Attempts: attempts}, f
	}

	s.logger.Info("falling through to secondary access path",
		"kind", kind, "op", name, "primary_attempts", len(attempts), "error", err)

	value, more, err2 := runOn(ctx, s, storefront.SourceSecondary, s.secondary, s.secondaryPolicy, op)
	attempts = append(attempts, more...)
	if err2 == nil {
		return Result[T]{Value: value, Source: storefront.SourceSecondary, Attempts: attempts}, nil
	}

	s.logger.Warn("both access paths failed",
		"kind", kind, "op", name, "attempts", len(attempts), "error", err2)
	f := storefront.AsFailure(err2, attempts)
	f.Attempts = attempts
	f.Unanswered = !storefront.IsDefinitive(err2) && ctx.Err() == nil
	return Result[T]{Attempts: attempts}, f
}

func runOn[T any](ctx context.Context, s *Selector, source storefront.Source, repo storefront.Repository, policy backoff.Policy, op Op[T]) (T, []storefront.Attempt, error) {
	return backoff.Execute(ctx, s.controller, string(source), policy, func(ctx context.Context) (T, error) {
		return op(ctx, repo)
	})
}

func (s *Selector) shouldFallThrough(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if s.fallthroughOn(err) {
		return true
	}
	return !storefront.IsDefinitive(err)
}
