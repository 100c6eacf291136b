// Package slug allocates URL-safe, collision-free identifiers from display
// names.
package slug

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"storefront"
)

// DefaultMaxCandidates bounds the "-1", "-2", ... suffix search.
const DefaultMaxCandidates = 1000

// ExistsFunc reports whether candidate is already taken by another owner.
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// Allocator assigns slugs. It holds no per-request state and is safe for
// concurrent use; uniqueness under races is enforced by the store's unique
// index, not by the allocator.
type Allocator struct {
	maxCandidates int
	degraded  bool
	now       func() time.Time
	random    func() string
	logger    *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxCandidates sets the suffix search cap.
func WithMaxCandidates(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxCandidates = n
		}
	}
}

// WithDegradedMode makes a failed uniqueness check count as "not taken".
// Off by default: guessing uniqueness from a failed read can hand out
// duplicate slugs, leaving the store's unique index as the only guard.
func WithDegradedMode(enabled bool) Option {
	return func(a *Allocator) {
		a.degraded = enabled
	}
}

// WithClock sets the timestamp source used by fallback slugs.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// WithRandom sets the random token source used by fallback slugs.
func WithRandom(fn func() string) Option {
	return func(a *Allocator) {
		a.random = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		a.logger = logger
	}
}

// NewAllocator creates an allocator.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		maxCandidates: DefaultMaxCandidates,
		now:       time.Now,
		random:    randomToken,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Normalize lowercases name, strips diacritics, and joins runs of
// ASCII letters and digits with single hyphens. It returns "" when nothing
// ASCII-safe remains.
func Normalize(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ReplaceAll(strings.ToLower(folded), "&", " and ")

	var b strings.Builder
	pendingHyphen := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// Allocate returns a slug for displayName that is free according to exists.
// Candidates in exclude are skipped without a lookup; the facade passes
// slugs the store has already rejected.
//
// Allocate always terminates: after the candidate cap it falls back to
// "{base}-{timestamp}". A failed check fails the allocation unless degraded
// mode is enabled.
func (a *Allocator) Allocate(ctx context.Context, displayName string, kind storefront.Kind, ownerID string, exists ExistsFunc, exclude ...string) (storefront.SlugRecord, error) {
	base := Normalize(displayName)
	if base == "" {
		base = fmt.Sprintf("%s-%d-%s", Normalize(kind.String()), a.now().UnixMilli(), a.random())
	}
	rec := storefront.SlugRecord{BaseSlug: base, OwnerID: ownerID}

	skip := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		skip[s] = true
	}

	for i := 0; i <= a.maxCandidates; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		if skip[candidate] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return storefront.SlugRecord{}, err
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			if !a.degraded {
				return storefront.SlugRecord{}, fmt.Errorf("check slug %q: %w", candidate, err)
			}
			a.logger.Warn("slug check failed, assuming free (degraded mode)",
				"kind", kind, "slug", candidate, "error", err)
			taken = false
		}
		if !taken {
			rec.FinalSlug = candidate
			return rec, nil
		}
	}

	fallback := fmt.Sprintf("%s-%d", base, a.now().UnixMilli())
	if skip[fallback] {
		fallback = fmt.Sprintf("%s-%s", fallback, a.random())
	}
	a.logger.Warn("slug candidate cap reached, using timestamp fallback",
		"kind", kind, "base", base, "slug", fallback, "candidates", a.maxCandidates)
	rec.FinalSlug = fallback
	return rec, nil
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
