// Package placeholder produces clearly marked substitute entities for reads
// that could not be served by any access path.
package placeholder

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storefront"
	"storefront/catalog"
)

const (
	// DefaultListSize is the number of entities in a synthesized list.
	DefaultListSize = 3

	idPrefix   = "placeholder-"
	unknownStr = "unavailable"
)

// Synthesizer builds placeholder entities from the catalog's templates.
// It holds no mutable state and is safe for concurrent use.
type Synthesizer struct {
	catalog  *catalog.Catalog
	newID    func() string
	now      func() time.Time
	listSize int
	logger   *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithIDGenerator sets the generator for IDs of entities synthesized
// without a requested ID.
func WithIDGenerator(fn func() string) Option {
	return func(s *Synthesizer) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithListSize sets the number of entities returned by SynthesizeList when
// the caller does not ask for a size.
func WithListSize(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.listSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a synthesizer over cat.
func New(cat *catalog.Catalog, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		catalog:  cat,
		newID:    func() string { return idPrefix + uuid.NewString() },
		now:      time.Now,
		listSize: DefaultListSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize returns a placeholder entity of kind. The entity's ID is
// requestedID when one is given.
func (s *Synthesizer) Synthesize(kind storefront.Kind, requestedID string) (storefront.Entity, error) {
	spec, err := s.catalog.Spec(kind)
	if err != nil {
		return storefront.Entity{}, err
	}
	id := requestedID
	if id == "" {
		id = s.newID()
	}
	ent := s.build(spec, id)
	if spec.Slugged() {
		ent.Slug = idPrefix + id
	}
	s.logger.Warn("synthesized placeholder entity", "kind", kind, "id", id)
	return ent, nil
}

// SynthesizeBySlug returns a placeholder entity of kind carrying slug.
func (s *Synthesizer) SynthesizeBySlug(kind storefront.Kind, slug string) (storefront.Entity, error) {
	spec, err := s.catalog.Spec(kind)
	if err != nil {
		return storefront.Entity{}, err
	}
	ent := s.build(spec, s.newID())
	ent.Slug = slug
	s.logger.Warn("synthesized placeholder entity", "kind", kind, "slug", slug)
	return ent, nil
}

// SynthesizeList returns n placeholder entities of kind, or the configured
// list size when n <= 0.
func (s *Synthesizer) SynthesizeList(kind storefront.Kind, n int) ([]storefront.Entity, error) {
	spec, err := s.catalog.Spec(kind)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = s.listSize
	}
	out := make([]storefront.Entity, 0, n)
	for i := 0; i < n; i++ {
		ent := s.build(spec, s.newID())
		if spec.Slugged() {
			ent.Slug = idPrefix + ent.ID
		}
		out = append(out, ent)
	}
	s.logger.Warn("synthesized placeholder list", "kind", kind, "count", n)
	return out, nil
}

func (s *Synthesizer) build(spec *catalog.KindSpec, id string) storefront.Entity {
	fields := storefront.Fields{}
	for k, v := range spec.Placeholder {
		fields[k] = deepCopy(v)
	}
	// Every required field is present, whether or not the template names it.
	for _, name := range spec.Required {
		if _, ok := fields[name]; !ok {
			fields[name] = zeroFor(spec.Properties[name].Type)
		}
	}
	now := s.now().UTC()
	return storefront.Entity{
		ID:          id,
		Kind:        spec.Name,
		Fields:      fields,
		CreatedAt:   now,
		UpdatedAt:   now,
		Placeholder: true,
	}
}

// EntityResult wraps a synthesized entity in an AccessResult tagged as
// synthesized, keeping the attempts that led here.
func EntityResult(ent storefront.Entity, attempts []storefront.Attempt) storefront.AccessResult {
	return storefront.AccessResult{Entity: &ent, Source: storefront.SourceSynthesized, Attempts: attempts}
}

// ListResult is EntityResult for lists.
func ListResult(ents []storefront.Entity, attempts []storefront.Attempt) storefront.AccessResult {
	return storefront.AccessResult{Entities: ents, Source: storefront.SourceSynthesized, Attempts: attempts}
}

func zeroFor(typ string) any {
	switch typ {
	case "number", "integer":
		return 0
	case "boolean":
		return false
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return unknownStr
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case storefront.Fields:
		out := make(storefront.Fields, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return t
	}
}
