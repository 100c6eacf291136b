// Package storefront provides the resilient persistence core of the
// storefront backend: entity types, the repository contract implemented by
// each access path, and the result and failure types returned to callers.
//
// Core abstractions live at the root level. Components and backend-specific
// implementations live in sub-packages (backoff, slug, access, placeholder,
// facade, derive, ormstore, sql, memstore).
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"
)

// Kind tags the schema of an entity.
type Kind string

// Built-in storefront kinds.
const (
	KindProduct        Kind = "Product"
	KindCategory       Kind = "Category"
	KindOrder          Kind = "Order"
	KindPaymentRequest Kind = "PaymentRequest"
	KindUser           Kind = "User"
)

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// Fields maps field names to JSON-compatible values.
type Fields map[string]any

// Keys returns field names in a stable (sorted) order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the fields.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge returns a copy of f with patch applied on top.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// String returns the named field as a string, if it is one.
func (f Fields) String(name string) (string, bool) {
	v, ok := f[name].(string)
	return v, ok
}

// EncodeFields renders fields as the JSON document stored in the fields
// column.
func EncodeFields(f Fields) ([]byte, error) {
	if f == nil {
		f = Fields{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, NewValidationErrorForField("fields", nil, "fields must be JSON-encodable: "+err.Error())
	}
	return data, nil
}

// DecodeFields parses a stored fields document. Numbers decode as float64,
// as they do for any JSON document, so integers beyond 2^53 lose precision;
// such values belong in string fields.
func DecodeFields(data []byte) (Fields, error) {
	f := Fields{}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// NormalizeFields converts fields to the shape they have after a store
// round trip (numbers become float64, nested values become maps and
// slices), so a created entity compares equal to the same entity fetched
// back.
func NormalizeFields(f Fields) (Fields, error) {
	data, err := EncodeFields(f)
	if err != nil {
		return nil, err
	}
	return DecodeFields(data)
}

// Entity is a schema-tagged record.
type Entity struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Slug      string    `json:"slug,omitempty"`
	UniqueKey string    `json:"-"`
	Fields    Fields    `json:"fields"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Placeholder is set on synthesized entities. They were never persisted.
	Placeholder bool `json:"placeholder,omitempty"`
}

// SlugRecord describes a slug assignment.
type SlugRecord struct {
	BaseSlug  string `json:"base_slug"`
	FinalSlug string `json:"final_slug"`
	OwnerID   string `json:"owner_id"`
}

// Source identifies which access path produced a result.
type Source string

const (
	SourcePrimary     Source = "primary"
	SourceSecondary   Source = "secondary"
	SourceSynthesized Source = "synthesized"
)

// Attempt is one entry of the diagnostic attempt log.
type Attempt struct {
	Path      string        `json:"path"`
	Number    int           `json:"number"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Backoff is the delay slept after this attempt before the next one.
	Backoff time.Duration `json:"backoff,omitempty"`
}

// Outcome is the result class of a single attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeTerminal  Outcome = "terminal"
	OutcomeSkipped   Outcome = "skipped"
)

// AccessResult wraps the payload of a successful operation.
type AccessResult struct {
	Entity     *Entity   `json:"entity,omitempty"`
	Entities   []Entity  `json:"entities,omitempty"`
	NextCursor string    `json:"next_cursor,omitempty"`
	Source     Source    `json:"source"`
	Attempts   []Attempt `json:"attempts"`
}

// Authoritative reports whether the payload came from the store.
// Synthesized payloads must not be shown as real data or used in writes.
func (r AccessResult) Authoritative() bool {
	return r.Source == SourcePrimary || r.Source == SourceSecondary
}

// Page is one page of a list query.
type Page struct {
	Items      []Entity
	NextCursor string
}

// Repository is the contract every access path implements.
// Implementations must be safe for concurrent use and must not hold a
// connection beyond a single call.
type Repository interface {
	// Name identifies the access path in attempt logs.
	Name() string

	Create(ctx context.Context, ent Entity) (Entity, error)
	Get(ctx context.Context, kind Kind, id string) (Entity, error)
	GetBySlug(ctx context.Context, kind Kind, slug string) (Entity, error)
	// GetByUniqueKey reads through the (kind, unique_key) index.
	GetByUniqueKey(ctx context.Context, kind Kind, key string) (Entity, error)
	List(ctx context.Context, kind Kind, filter Filter) (Page, error)
	// Update replaces fields (and slug, when non-empty) of the entity if
	// its stored version equals expectedVersion, bumping the version.
	Update(ctx context.Context, ent Entity, expectedVersion int64) (Entity, error)
}

// Connection represents a generic connection interface.
type Connection interface {
	Ping(ctx context.Context) error
	Close() error
	Stats() interface{}
}

// SameWrite reports whether stored is what writing attempted would have
// produced. A create retried after an ambiguous failure finds its own row
// under the same ID; SameWrite tells that apart from a genuine ID clash.
func SameWrite(stored, attempted Entity) bool {
	if stored.Kind != attempted.Kind || stored.Slug != attempted.Slug || stored.UniqueKey != attempted.UniqueKey {
		return false
	}
	a, err := EncodeFields(stored.Fields)
	if err != nil {
		return false
	}
	b, err := EncodeFields(attempted.Fields)
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}
