// Package memstore is an in-memory entity store. A single Store can be
// exposed through several named views, each implementing
// storefront.Repository, so both access paths can be backed by the same
// data in development and tests. Views can be interrupted to simulate an
// unavailable path.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"storefront"
)

// Stats tracks store statistics.
type Stats struct {
	Keys         int64
	Gets         int64
	Sets         int64
	Hits         int64
	Misses       int64
	Conflicts    int64
	LastAccessed time.Time
}

type indexKey struct {
	kind  storefront.Kind
	value string
}

// record is a stored row. Fields are kept encoded so that readers never
// share maps with writers.
type record struct {
	kind      storefront.Kind
	slug      string
	uniqueKey string
	fields    []byte
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

func (r *record) entity(id string) (storefront.Entity, error) {
	fields, err := storefront.DecodeFields(r.fields)
	if err != nil {
		return storefront.Entity{}, err
	}
	return storefront.Entity{
		ID:        id,
		Kind:      r.kind,
		Slug:      r.slug,
		UniqueKey: r.uniqueKey,
		Fields:    fields,
		Version:   r.version,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}, nil
}

// Store holds the rows and the unique indexes on (kind, slug) and
// (kind, unique_key).
type Store struct {
	mu      sync.RWMutex
	rows    map[string]*record
	slugs   map[indexKey]string
	uniques map[indexKey]string
	stats   Stats
}

// Ensure Store implements storefront.Connection.
var _ storefront.Connection = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		rows:    make(map[string]*record),
		slugs:   make(map[indexKey]string),
		uniques: make(map[indexKey]string),
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Stats returns a snapshot of the store statistics.
func (s *Store) Stats() interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats
}

// Snapshot is the typed form of Stats.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats
}

// Close releases all rows.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = make(map[string]*record)
	s.slugs = make(map[indexKey]string)
	s.uniques = make(map[indexKey]string)
	s.stats = Stats{}

	return nil
}

// Count returns the number of rows of kind.
func (s *Store) Count(kind storefront.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.rows {
		if r.kind == kind {
			n++
		}
	}
	return n
}

// View returns a repository over the store.
func (s *Store) View(name string, opts ...ViewOption) *Repository {
	repo := &Repository{
		RepositoryBase: storefront.NewRepositoryBase(name),
		store:          s,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Validator checks fields before a write, like the mapped path's schema.
type Validator func(kind storefront.Kind, fields storefront.Fields) error

// ViewOption configures a Repository.
type ViewOption func(*Repository)

// WithValidator validates fields on Create and Update.
func WithValidator(fn Validator) ViewOption {
	return func(r *Repository) {
		r.validate = fn
	}
}

// WithLatency delays every call by d, honouring the caller's deadline.
func WithLatency(d time.Duration) ViewOption {
	return func(r *Repository) {
		r.latency = d
	}
}

// Repository is a named view of a Store.
type Repository struct {
	*storefront.RepositoryBase
	store    *Store
	validate Validator
	latency  time.Duration

	mu        sync.Mutex
	fault     error
	faultLeft int // remaining faulty calls; negative means until Resume
	calls     int64
}

// Ensure Repository implements storefront.Repository.
var _ storefront.Repository = (*Repository)(nil)

// Interrupt makes every following call fail with err until Resume.
// A nil err means a connection failure.
func (r *Repository) Interrupt(err error) {
	r.FailNext(-1, err)
}

// FailNext makes the next n calls fail with err.
func (r *Repository) FailNext(n int, err error) {
	if err == nil {
		err = storefront.NewConnectionError(storefront.ErrConnectionFailed, "call", "memory", r.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = err
	r.faultLeft = n
}

// Resume clears an interruption.
func (r *Repository) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = nil
	r.faultLeft = 0
}

// Calls returns how many operations were issued on this view.
func (r *Repository) Calls() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// enter accounts for a call and applies simulated latency and faults.
func (r *Repository) enter(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	var fault error
	if r.fault != nil && r.faultLeft != 0 {
		fault = r.fault
		if r.faultLeft > 0 {
			r.faultLeft--
		}
	}
	r.mu.Unlock()

	if r.latency > 0 {
		timer := time.NewTimer(r.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fault != nil {
		return fault
	}
	return ctx.Err()
}

// Create inserts ent. Version starts at 1.
func (r *Repository) Create(ctx context.Context, ent storefront.Entity) (storefront.Entity, error) {
	if err := r.enter(ctx); err != nil {
		return storefront.Entity{}, err
	}
	if err := r.ValidateEntity(ent); err != nil {
		return storefront.Entity{}, err
	}
	if r.validate != nil {
		if err := r.validate(ent.Kind, ent.Fields); err != nil {
			return storefront.Entity{}, err
		}
	}
	data, err := storefront.EncodeFields(ent.Fields)
	if err != nil {
		return storefront.Entity{}, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Sets++
	s.stats.LastAccessed = time.Now()

	if existing, ok := s.rows[ent.ID]; ok {
		stored, err := existing.entity(ent.ID)
		if err == nil && storefront.SameWrite(stored, ent) {
			return stored, nil
		}
		s.stats.Conflicts++
		return storefront.Entity{}, &storefront.DuplicateError{Kind: ent.Kind, Field: "id", Value: ent.ID}
	}
	if ent.Slug != "" {
		if _, taken := s.slugs[indexKey{ent.Kind, ent.Slug}]; taken {
			s.stats.Conflicts++
			return storefront.Entity{}, &storefront.DuplicateError{Kind: ent.Kind, Field: "slug", Value: ent.Slug}
		}
	}
	if ent.UniqueKey != "" {
		if _, taken := s.uniques[indexKey{ent.Kind, ent.UniqueKey}]; taken {
			s.stats.Conflicts++
			return storefront.Entity{}, &storefront.DuplicateError{Kind: ent.Kind, Field: "unique_key", Value: ent.UniqueKey}
		}
	}

	r.SetTimestamps(&ent, true)
	rec := &record{
		kind:      ent.Kind,
		slug:      ent.Slug,
		uniqueKey: ent.UniqueKey,
		fields:    data,
		version:   1,
		createdAt: ent.CreatedAt,
		updatedAt: ent.UpdatedAt,
	}
	s.rows[ent.ID] = rec
	if rec.slug != "" {
		s.slugs[indexKey{rec.kind, rec.slug}] = ent.ID
	}
	if rec.uniqueKey != "" {
		s.uniques[indexKey{rec.kind, rec.uniqueKey}] = ent.ID
	}
	s.stats.Keys++

	return rec.entity(ent.ID)
}

// Get returns the entity of kind with the given ID.
func (r *Repository) Get(ctx context.Context, kind storefront.Kind, id string) (storefront.Entity, error) {
	if err := r.enter(ctx); err != nil {
		return storefront.Entity{}, err
	}
	if err := r.ValidateID(id); err != nil {
		return storefront.Entity{}, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lookup(kind, id)
}

// GetBySlug returns the entity of kind with the given slug.
func (r *Repository) GetBySlug(ctx context.Context, kind storefront.Kind, slug string) (storefront.Entity, error) {
	if err := r.enter(ctx); err != nil {
		return storefront.Entity{}, err
	}
	if slug == "" {
		return storefront.Entity{}, storefront.NewValidationErrorForField("slug", slug, "slug cannot be empty")
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.slugs[indexKey{kind, slug}]
	if !ok {
		s.stats.Gets++
		s.stats.Misses++
		return storefront.Entity{}, storefront.NewRecordNotFoundError(kind, slug)
	}
	return s.lookup(kind, id)
}

// GetByUniqueKey returns the entity of kind with the given unique key.
func (r *Repository) GetByUniqueKey(ctx context.Context, kind storefront.Kind, key string) (storefront.Entity, error) {
	if err := r.enter(ctx); err != nil {
		return storefront.Entity{}, err
	}
	if key == "" {
		return storefront.Entity{}, storefront.NewValidationErrorForField("unique_key", key, "unique key cannot be empty")
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.uniques[indexKey{kind, key}]
	if !ok {
		s.stats.Gets++
		s.stats.Misses++
		return storefront.Entity{}, storefront.NewRecordNotFoundError(kind, key)
	}
	return s.lookup(kind, id)
}

// lookup must be called with s.mu held.
func (s *Store) lookup(kind storefront.Kind, id string) (storefront.Entity, error) {
	s.stats.Gets++
	s.stats.LastAccessed = time.Now()

	rec, ok := s.rows[id]
	if !ok || rec.kind != kind {
		s.stats.Misses++
		return storefront.Entity{}, storefront.NewRecordNotFoundError(kind, id)
	}
	s.stats.Hits++
	return rec.entity(id)
}

// List returns one page of entities of kind in ID order.
func (r *Repository) List(ctx context.Context, kind storefront.Kind, filter storefront.Filter) (storefront.Page, error) {
	if err := r.enter(ctx); err != nil {
		return storefront.Page{}, err
	}
	params, err := r.Paginator().ParseParams(filter)
	if err != nil {
		return storefront.Page{}, err
	}

	s := r.store
	s.mu.RLock()
	ids := make([]string, 0, len(s.rows))
	for id, rec := range s.rows {
		if rec.kind == kind && id > params.AfterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	items := make([]storefront.Entity, 0, params.PageSize)
	hasMore := false
	for _, id := range ids {
		ent, err := s.rows[id].entity(id)
		if err != nil {
			s.mu.RUnlock()
			return storefront.Page{}, r.HandleQueryError(err, kind, "list", map[string]any{"id": id})
		}
		if !filter.Match(ent) {
			continue
		}
		if int32(len(items)) == params.PageSize {
			hasMore = true
			break
		}
		items = append(items, ent)
	}
	s.mu.RUnlock()

	return r.Paginator().BuildPage(items, params, hasMore)
}

// Update replaces the fields of ent if the stored version matches.
func (r *Repository) Update(ctx context.Context, ent storefront.Entity, expectedVersion int64) (storefront.Entity, error) {
	if err := r.enter(ctx); err != nil {
		return storefront.Entity{}, err
	}
	if err := r.ValidateEntity(ent); err != nil {
		return storefront.Entity{}, err
	}
	if r.validate != nil {
		if err := r.validate(ent.Kind, ent.Fields); err != nil {
			return storefront.Entity{}, err
		}
	}
	data, err := storefront.EncodeFields(ent.Fields)
	if err != nil {
		return storefront.Entity{}, err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Sets++
	s.stats.LastAccessed = time.Now()

	rec, ok := s.rows[ent.ID]
	if !ok || rec.kind != ent.Kind {
		return storefront.Entity{}, storefront.NewRecordNotFoundError(ent.Kind, ent.ID)
	}
	if rec.version != expectedVersion {
		s.stats.Conflicts++
		return storefront.Entity{}, &storefront.VersionConflictError{
			Kind: ent.Kind, ID: ent.ID, Expected: expectedVersion, Actual: rec.version,
		}
	}

	slug := rec.slug
	if ent.Slug != "" && ent.Slug != rec.slug {
		if owner, taken := s.slugs[indexKey{ent.Kind, ent.Slug}]; taken && owner != ent.ID {
			s.stats.Conflicts++
			return storefront.Entity{}, &storefront.DuplicateError{Kind: ent.Kind, Field: "slug", Value: ent.Slug}
		}
		slug = ent.Slug
	}
	if ent.UniqueKey != "" && ent.UniqueKey != rec.uniqueKey {
		if owner, taken := s.uniques[indexKey{ent.Kind, ent.UniqueKey}]; taken && owner != ent.ID {
			s.stats.Conflicts++
			return storefront.Entity{}, &storefront.DuplicateError{Kind: ent.Kind, Field: "unique_key", Value: ent.UniqueKey}
		}
	}

	if slug != rec.slug {
		delete(s.slugs, indexKey{rec.kind, rec.slug})
		s.slugs[indexKey{rec.kind, slug}] = ent.ID
	}
	if ent.UniqueKey != rec.uniqueKey {
		if rec.uniqueKey != "" {
			delete(s.uniques, indexKey{rec.kind, rec.uniqueKey})
		}
		if ent.UniqueKey != "" {
			s.uniques[indexKey{rec.kind, ent.UniqueKey}] = ent.ID
		}
	}

	rec.slug = slug
	rec.uniqueKey = ent.UniqueKey
	rec.fields = data
	rec.version++
	rec.updatedAt = r.Now()

	return rec.entity(ent.ID)
}

// IsInterrupted reports whether err is the kind of fault a view injects by
// default.
func IsInterrupted(err error) bool {
	return errors.Is(err, storefront.ErrConnectionFailed)
}
