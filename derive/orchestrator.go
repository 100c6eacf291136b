// Package derive creates dependent entities when a source entity is
// created, at most once per source.
//
// The existence check and the create are not atomic. The target kind's
// unique index on the rule key is what guarantees a single dependent: a
// create that loses a race, or repeats after a redelivered event, is
// rejected as a duplicate and counted as already derived.
package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storefront"
	"storefront/facade"
)

// Persistence is the part of the facade the orchestrator needs.
type Persistence interface {
	Create(ctx context.Context, kind storefront.Kind, fields storefront.Fields) (storefront.AccessResult, error)
	FetchByUniqueKey(ctx context.Context, kind storefront.Kind, fields storefront.Fields) (storefront.AccessResult, error)
}

// Orchestrator evaluates rules against created entities.
type Orchestrator struct {
	persist Persistence
	rules   []Rule
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator.
func New(persist Persistence, rules []Rule, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		persist: persist,
		rules:   append([]Rule(nil), rules...),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle is a facade.Listener.
func (o *Orchestrator) Handle(ctx context.Context, ev facade.Event) error {
	return o.OnCreated(ctx, ev.Entity)
}

// OnCreated applies every rule whose source is ent's kind and whose
// predicate holds. It is safe to call more than once for the same entity.
func (o *Orchestrator) OnCreated(ctx context.Context, ent storefront.Entity) error {
	if ent.Placeholder {
		return nil
	}
	var errs []error
	for _, rule := range o.rules {
		if rule.Source != ent.Kind || !rule.Matches(ent) {
			continue
		}
		if err := o.apply(ctx, rule, ent); err != nil {
			o.logger.Error("derived entity not created",
				"rule", rule.Name, "source_kind", ent.Kind, "source_id", ent.ID, "error", err)
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) apply(ctx context.Context, rule Rule, src storefront.Entity) error {
	fields := rule.Build(src)
	key, ok := fields[rule.Key]
	if !ok || key == nil {
		return storefront.NewValidationErrorForField(rule.Key, nil, "derived entity has no key value")
	}

	existing, err := o.persist.FetchByUniqueKey(ctx, rule.Target, fields)
	switch {
	case err == nil && existing.Authoritative():
		o.logger.Debug("derived entity already exists",
			"rule", rule.Name, "key", key, "id", existing.Entity.ID)
		return nil
	case storefront.IsFailureKind(err, storefront.FailureNotFound):
	case err != nil:
		o.logger.Warn("derived entity lookup failed, relying on unique key",
			"rule", rule.Name, "key", key, "error", err)
	}

	created, err := o.persist.Create(ctx, rule.Target, fields)
	if err != nil {
		if storefront.IsFailureKind(err, storefront.FailureConflict) && storefront.DuplicateField(err) == "unique_key" {
			o.logger.Debug("derived entity already exists", "rule", rule.Name, "key", key)
			return nil
		}
		return err
	}
	o.logger.Info("derived entity created",
		"rule", rule.Name, "kind", rule.Target, "id", created.Entity.ID, "source_id", src.ID)
	return nil
}
