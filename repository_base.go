package storefront

import (
	"time"
)

// RepositoryBase provides common functionality for all access path
// implementations.
type RepositoryBase struct {
	name      string
	paginator *Paginator
	now       func() time.Time
}

// NewRepositoryBase creates a new base repository for the named access path.
func NewRepositoryBase(name string) *RepositoryBase {
	return &RepositoryBase{
		name:      name,
		paginator: NewPaginator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the access path name.
func (r *RepositoryBase) Name() string {
	return r.name
}

// Paginator returns the shared cursor paginator.
func (r *RepositoryBase) Paginator() *Paginator {
	return r.paginator
}

// SetClock overrides the timestamp source.
func (r *RepositoryBase) SetClock(now func() time.Time) {
	r.now = now
}

// Now returns the current timestamp.
func (r *RepositoryBase) Now() time.Time {
	return r.now()
}

// ValidateID validates an entity ID.
func (r *RepositoryBase) ValidateID(id string) error {
	if id == "" {
		return NewValidationErrorForField("id", id, "entity ID cannot be empty")
	}
	return nil
}

// ValidateEntity validates the identity of an entity before a write.
func (r *RepositoryBase) ValidateEntity(ent Entity) error {
	if ent.Kind == "" {
		return NewValidationErrorForField("kind", ent.Kind, "entity kind cannot be empty")
	}
	return r.ValidateID(ent.ID)
}

// SetTimestamps sets created_at and updated_at timestamps.
func (r *RepositoryBase) SetTimestamps(ent *Entity, isCreate bool) {
	now := r.now()
	if isCreate {
		ent.CreatedAt = now
	}
	ent.UpdatedAt = now
}

// Error handling helpers

// HandleGetError wraps get operation errors with context.
func (r *RepositoryBase) HandleGetError(err error, kind Kind, operation, id string) error {
	if err == nil {
		return nil
	}
	return WrapRepositoryError(err, r.name, kind, operation, map[string]any{"id": id})
}

// HandleUpdateError wraps write operation errors with context.
func (r *RepositoryBase) HandleUpdateError(err error, kind Kind, operation, id string) error {
	if err == nil {
		return nil
	}
	return WrapRepositoryError(err, r.name, kind, operation, map[string]any{"id": id})
}

// HandleQueryError wraps query operation errors with context.
func (r *RepositoryBase) HandleQueryError(err error, kind Kind, operation string, context map[string]any) error {
	if err == nil {
		return nil
	}
	return WrapRepositoryError(err, r.name, kind, operation, context)
}
