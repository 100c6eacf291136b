// Package facade is the single entry point collaborators use to create,
// read, list and update entities.
//
// Every operation goes through the access path selector. Reads that no
// access path answers, or that find nothing, are answered with synthesized
// placeholders tagged as such; writes never are. Creates allocate a slug for
// slugged kinds and publish an Event once the row is stored.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"storefront"
	"storefront/access"
	"storefront/catalog"
	"storefront/placeholder"
	"storefront/slug"
)

// DefaultMaxReallocations bounds how often a create or rename picks a new
// slug after the store rejected one as taken.
const DefaultMaxReallocations = 5

// DefaultMaxRereads bounds how often an update without an expected version
// is re-read and merged again after another write got in first.
const DefaultMaxRereads = 10

// Facade composes the selector, slug allocator and synthesizer.
type Facade struct {
	selector         *access.Selector
	catalog          *catalog.Catalog
	slugs            *slug.Allocator
	synth            *placeholder.Synthesizer
	newID            func() string
	maxReallocations int
	maxRereads       int
	logger           *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// Option configures a Facade.
type Option func(*Facade)

// WithIDGenerator sets the entity ID source. IDs must sort in creation
// order for cursor pagination to follow insertion order.
func WithIDGenerator(fn func() string) Option {
	return func(f *Facade) {
		if fn != nil {
			f.newID = fn
		}
	}
}

// WithMaxReallocations sets how many times a rejected slug is replaced.
func WithMaxReallocations(n int) Option {
	return func(f *Facade) {
		if n >= 0 {
			f.maxReallocations = n
		}
	}
}

// WithMaxRereads sets how many times an unversioned update that lost a race
// is retried from a fresh read.
func WithMaxRereads(n int) Option {
	return func(f *Facade) {
		if n >= 0 {
			f.maxRereads = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a facade.
func New(selector *access.Selector, cat *catalog.Catalog, slugs *slug.Allocator, synth *placeholder.Synthesizer, opts ...Option) *Facade {
	f := &Facade{
		selector:         selector,
		catalog:          cat,
		slugs:            slugs,
		synth:            synth,
		newID:            NewID,
		maxReallocations: DefaultMaxReallocations,
		maxRereads:       DefaultMaxRereads,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewID returns a time-ordered UUIDv7.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Catalog returns the kind catalog.
func (f *Facade) Catalog() *catalog.Catalog { return f.catalog }

// Create validates fields, allocates a slug when kind has one and stores a
// new entity. It never returns synthesized data.
func (f *Facade) Create(ctx context.Context, kind storefront.Kind, fields storefront.Fields) (storefront.AccessResult, error) {
	spec, err := f.spec(kind)
	if err != nil {
		return storefront.AccessResult{}, err
	}
	if err := f.catalog.ValidateRequired(kind, fields); err != nil {
		return storefront.AccessResult{}, storefront.NewFailure(storefront.FailureValidation, err, nil)
	}

	// The ID is fixed before the first attempt so a retried write finds
	// its own row.
	ent := storefront.Entity{
		ID:        f.newID(),
		Kind:      kind,
		UniqueKey: f.catalog.UniqueKey(kind, fields),
		Fields:    fields.Clone(),
	}

	var attempts []storefront.Attempt
	var rejected []string
	for round := 0; ; round++ {
		if spec.Slugged() {
			rec, checks, err := f.allocate(ctx, spec, fields, ent.ID, rejected)
			attempts = append(attempts, checks...)
			if err != nil {
				return storefront.AccessResult{}, withAttempts(err, attempts)
			}
			ent.Slug = rec.FinalSlug
		}

		res, err := access.Perform(ctx, f.selector, kind, "create", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
			return repo.Create(ctx, ent)
		})
		attempts = append(attempts, res.Attempts...)
		if err == nil {
			created := res.Value
			f.logger.Info("entity created",
				"kind", kind, "id", created.ID, "slug", created.Slug, "source", res.Source)
			f.publish(ctx, Event{Entity: created, Source: res.Source})
			return storefront.AccessResult{Entity: &created, Source: res.Source, Attempts: attempts}, nil
		}

		if spec.Slugged() && storefront.DuplicateField(err) == "slug" && round < f.maxReallocations {
			f.logger.Warn("slug taken at write time, reallocating",
				"kind", kind, "slug", ent.Slug, "round", round+1)
			rejected = append(rejected, ent.Slug)
			continue
		}
		return storefront.AccessResult{}, withAttempts(err, attempts)
	}
}

// Fetch returns the entity of kind with the given id. When it cannot be
// read from either path, or does not exist, a placeholder carrying id is
// returned instead.
func (f *Facade) Fetch(ctx context.Context, kind storefront.Kind, id string) (storefront.AccessResult, error) {
	if _, err := f.spec(kind); err != nil {
		return storefront.AccessResult{}, err
	}
	res, err := access.Perform(ctx, f.selector, kind, "fetch", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
		return repo.Get(ctx, kind, id)
	})
	if err == nil {
		ent := res.Value
		return storefront.AccessResult{Entity: &ent, Source: res.Source, Attempts: res.Attempts}, nil
	}
	if !synthesizable(err) {
		return storefront.AccessResult{}, err
	}
	ent, synthErr := f.synth.Synthesize(kind, id)
	if synthErr != nil {
		return storefront.AccessResult{}, err
	}
	return placeholder.EntityResult(ent, res.Attempts), nil
}

// FetchBySlug is Fetch keyed by slug.
func (f *Facade) FetchBySlug(ctx context.Context, kind storefront.Kind, slugValue string) (storefront.AccessResult, error) {
	if _, err := f.spec(kind); err != nil {
		return storefront.AccessResult{}, err
	}
	res, err := access.Perform(ctx, f.selector, kind, "fetch_by_slug", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
		return repo.GetBySlug(ctx, kind, slugValue)
	})
	if err == nil {
		ent := res.Value
		return storefront.AccessResult{Entity: &ent, Source: res.Source, Attempts: res.Attempts}, nil
	}
	if !synthesizable(err) {
		return storefront.AccessResult{}, err
	}
	ent, synthErr := f.synth.SynthesizeBySlug(kind, slugValue)
	if synthErr != nil {
		return storefront.AccessResult{}, err
	}
	return placeholder.EntityResult(ent, res.Attempts), nil
}

// FetchByUniqueKey returns the entity of kind whose unique key, computed
// from fields the way Create computes it, is already stored. A missing
// entity is a NotFound failure; no placeholder is synthesized.
func (f *Facade) FetchByUniqueKey(ctx context.Context, kind storefront.Kind, fields storefront.Fields) (storefront.AccessResult, error) {
	if _, err := f.spec(kind); err != nil {
		return storefront.AccessResult{}, err
	}
	key := f.catalog.UniqueKey(kind, fields)
	if key == "" {
		return storefront.AccessResult{}, storefront.NewFailure(storefront.FailureValidation,
			storefront.NewValidationError(fmt.Sprintf("%s has no unique key in these fields", kind)), nil)
	}
	res, err := access.Perform(ctx, f.selector, kind, "fetch_by_unique_key", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
		return repo.GetByUniqueKey(ctx, kind, key)
	})
	if err != nil {
		return storefront.AccessResult{}, err
	}
	ent := res.Value
	return storefront.AccessResult{Entity: &ent, Source: res.Source, Attempts: res.Attempts}, nil
}

// List returns one page of entities of kind matching filter. When neither
// path answers, a short placeholder list is returned.
func (f *Facade) List(ctx context.Context, kind storefront.Kind, filter storefront.Filter) (storefront.AccessResult, error) {
	if _, err := f.spec(kind); err != nil {
		return storefront.AccessResult{}, err
	}
	res, err := access.Perform(ctx, f.selector, kind, "list", func(ctx context.Context, repo storefront.Repository) (storefront.Page, error) {
		return repo.List(ctx, kind, filter)
	})
	if err == nil {
		return storefront.AccessResult{
			Entities:   res.Value.Items,
			NextCursor: res.Value.NextCursor,
			Source:     res.Source,
			Attempts:   res.Attempts,
		}, nil
	}
	if !storefront.IsFailureKind(err, storefront.FailureExhausted) || !storefront.IsUnanswered(err) {
		return storefront.AccessResult{}, err
	}
	ents, synthErr := f.synth.SynthesizeList(kind, 0)
	if synthErr != nil {
		return storefront.AccessResult{}, err
	}
	return placeholder.ListResult(ents, res.Attempts), nil
}

// Update merges patch into the stored fields of the entity. When
// expectedVersion is given it must equal the stored version, otherwise a
// Conflict failure is returned. Without it, a write that loses a race is
// re-read and merged again, up to the reread limit. Changing a slugged
// kind's display name allocates a new slug; the slug cannot be set directly.
func (f *Facade) Update(ctx context.Context, kind storefront.Kind, id string, patch storefront.Fields, expectedVersion *int64) (storefront.AccessResult, error) {
	spec, err := f.spec(kind)
	if err != nil {
		return storefront.AccessResult{}, err
	}

	var attempts []storefront.Attempt
	for reread := 0; ; reread++ {
		res, err := f.update(ctx, spec, id, patch, expectedVersion, &attempts)
		if err == nil {
			return res, nil
		}
		if expectedVersion != nil || !storefront.IsVersionConflict(err) || reread >= f.maxRereads {
			return storefront.AccessResult{}, err
		}
		f.logger.Debug("unversioned update lost a race, re-reading",
			"kind", kind, "id", id, "reread", reread+1)
	}
}

// update is one read-merge-write round of Update. attempts accumulates
// across rounds.
func (f *Facade) update(ctx context.Context, spec *catalog.KindSpec, id string, patch storefront.Fields, expectedVersion *int64, attempts *[]storefront.Attempt) (storefront.AccessResult, error) {
	kind := spec.Name
	current, err := access.Perform(ctx, f.selector, kind, "update_read", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
		return repo.Get(ctx, kind, id)
	})
	*attempts = append(*attempts, current.Attempts...)
	if err != nil {
		return storefront.AccessResult{}, withAttempts(err, *attempts)
	}
	stored := current.Value

	expected := stored.Version
	if expectedVersion != nil {
		if *expectedVersion != stored.Version {
			conflict := &storefront.VersionConflictError{Kind: kind, ID: id, Expected: *expectedVersion, Actual: stored.Version}
			return storefront.AccessResult{}, storefront.NewFailure(storefront.FailureConflict, conflict, *attempts)
		}
		expected = *expectedVersion
	}

	merged := stored.Fields.Merge(patch)
	if err := f.catalog.ValidateRequired(kind, merged); err != nil {
		return storefront.AccessResult{}, storefront.NewFailure(storefront.FailureValidation, err, *attempts)
	}

	ent := storefront.Entity{
		ID:        id,
		Kind:      kind,
		UniqueKey: f.catalog.UniqueKey(kind, merged),
		Fields:    merged,
	}
	renamed := spec.Slugged() && displayName(stored.Fields, spec.SlugFrom) != displayName(merged, spec.SlugFrom)

	var rejected []string
	for round := 0; ; round++ {
		if renamed {
			rec, checks, err := f.allocate(ctx, spec, merged, id, rejected)
			*attempts = append(*attempts, checks...)
			if err != nil {
				return storefront.AccessResult{}, withAttempts(err, *attempts)
			}
			ent.Slug = rec.FinalSlug
		}

		res, err := access.Perform(ctx, f.selector, kind, "update", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
			return repo.Update(ctx, ent, expected)
		})
		*attempts = append(*attempts, res.Attempts...)
		if err == nil {
			updated := res.Value
			f.logger.Info("entity updated",
				"kind", kind, "id", id, "version", updated.Version, "source", res.Source)
			return storefront.AccessResult{Entity: &updated, Source: res.Source, Attempts: *attempts}, nil
		}

		if storefront.IsVersionConflict(err) && hadTransient(res.Attempts) {
			// A timed out attempt may have applied the write already.
			if landed, ok := f.landed(ctx, ent, expected); ok {
				*attempts = append(*attempts, landed.Attempts...)
				return storefront.AccessResult{Entity: &landed.Value, Source: landed.Source, Attempts: *attempts}, nil
			}
		}
		if renamed && storefront.DuplicateField(err) == "slug" && round < f.maxReallocations {
			rejected = append(rejected, ent.Slug)
			continue
		}
		return storefront.AccessResult{}, withAttempts(err, *attempts)
	}
}

// allocate picks a slug for ownerID. Uniqueness checks run through the
// selector; the owner's own slug counts as free.
func (f *Facade) allocate(ctx context.Context, spec *catalog.KindSpec, fields storefront.Fields, ownerID string, rejected []string) (storefront.SlugRecord, []storefront.Attempt, error) {
	var attempts []storefront.Attempt
	exists := func(ctx context.Context, candidate string) (bool, error) {
		res, err := access.Perform(ctx, f.selector, spec.Name, "slug_check", func(ctx context.Context, repo storefront.Repository) (bool, error) {
			found, err := repo.GetBySlug(ctx, spec.Name, candidate)
			if storefront.IsRecordNotFoundError(err) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return found.ID != ownerID, nil
		})
		attempts = append(attempts, res.Attempts...)
		return res.Value, err
	}
	rec, err := f.slugs.Allocate(ctx, displayName(fields, spec.SlugFrom), spec.Name, ownerID, exists, rejected...)
	return rec, attempts, err
}

// landed reports whether the row already holds exactly the update that
// was attempted.
func (f *Facade) landed(ctx context.Context, ent storefront.Entity, expected int64) (access.Result[storefront.Entity], bool) {
	res, err := access.Perform(ctx, f.selector, ent.Kind, "update_verify", func(ctx context.Context, repo storefront.Repository) (storefront.Entity, error) {
		return repo.Get(ctx, ent.Kind, ent.ID)
	})
	if err != nil || res.Value.Version != expected+1 {
		return res, false
	}
	want := ent
	if want.Slug == "" {
		want.Slug = res.Value.Slug
	}
	want.Fields, err = storefront.NormalizeFields(ent.Fields)
	if err != nil {
		return res, false
	}
	return res, storefront.SameWrite(res.Value, want)
}

func (f *Facade) spec(kind storefront.Kind) (*catalog.KindSpec, error) {
	spec, err := f.catalog.Spec(kind)
	if err != nil {
		return nil, storefront.NewFailure(storefront.FailureValidation, err, nil)
	}
	return spec, nil
}

// synthesizable reports whether a failed read may be answered with a
// placeholder: the entity does not exist, or no access path answered.
func synthesizable(err error) bool {
	return storefront.IsFailureKind(err, storefront.FailureNotFound) ||
		(storefront.IsFailureKind(err, storefront.FailureExhausted) && storefront.IsUnanswered(err))
}

func hadTransient(attempts []storefront.Attempt) bool {
	for _, a := range attempts {
		if a.Outcome == storefront.OutcomeTransient {
			return true
		}
	}
	return false
}

// withAttempts returns err as a Failure carrying the full attempt log.
func withAttempts(err error, attempts []storefront.Attempt) error {
	f := storefront.AsFailure(err, attempts)
	f.Attempts = attempts
	return f
}

func displayName(fields storefront.Fields, field string) string {
	v, ok := fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
