package slug

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
)

func fixedAllocator(opts ...Option) *Allocator {
	base := []Option{
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
		WithRandom(func() string { return "abcd1234" }),
	}
	return NewAllocator(append(base, opts...)...)
}

func takenSet(slugs ...string) ExistsFunc {
	set := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		set[s] = true
	}
	return func(_ context.Context, candidate string) (bool, error) {
		return set[candidate], nil
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Oak Chair", "oak-chair"},
		{"  Sofa   Beds  ", "sofa-beds"},
		{"Café Déjà Vu", "cafe-deja-vu"},
		{"Tables & Chairs", "tables-and-chairs"},
		{"3-Seater (Grey)!!", "3-seater-grey"},
		{"ＦＵＬＬ width", "full-width"},
		{"---", ""},
		{"", ""},
		{"椅子", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestAllocate_FreeBase(t *testing.T) {
	a := fixedAllocator()

	rec, err := a.Allocate(context.Background(), "Oak Chair", storefront.KindProduct, "p-1", takenSet())

	require.NoError(t, err)
	assert.Equal(t, "oak-chair", rec.BaseSlug)
	assert.Equal(t, "oak-chair", rec.FinalSlug)
	assert.Equal(t, "p-1", rec.OwnerID)
}

func TestAllocate_AppendsSuffixOnCollision(t *testing.T) {
	a := fixedAllocator()

	rec, err := a.Allocate(context.Background(), "Oak Chair", storefront.KindProduct, "p-3",
		takenSet("oak-chair", "oak-chair-1"))

	require.NoError(t, err)
	assert.Equal(t, "oak-chair-2", rec.FinalSlug)
}

func TestAllocate_SkipsExcludedWithoutLookup(t *testing.T) {
	a := fixedAllocator()
	var checked []string
	exists := func(_ context.Context, candidate string) (bool, error) {
		checked = append(checked, candidate)
		return false, nil
	}

	rec, err := a.Allocate(context.Background(), "Oak Chair", storefront.KindProduct, "p-1", exists, "oak-chair")

	require.NoError(t, err)
	assert.Equal(t, "oak-chair-1", rec.FinalSlug)
	assert.Equal(t, []string{"oak-chair-1"}, checked)
}

func TestAllocate_EmptyNameFallsBackToKindTimestampRandom(t *testing.T) {
	a := fixedAllocator()

	for _, name := range []string{"", "!!!", "椅子"} {
		rec, err := a.Allocate(context.Background(), name, storefront.KindCategory, "c-1", takenSet())
		require.NoError(t, err)
		assert.Equal(t, "category-1700000000000-abcd1234", rec.FinalSlug, "name %q", name)
	}
}

func TestAllocate_CapFallsBackToTimestamp(t *testing.T) {
	a := fixedAllocator(WithMaxCandidates(3))
	alwaysTaken := func(context.Context, string) (bool, error) { return true, nil }

	rec, err := a.Allocate(context.Background(), "Oak Chair", storefront.KindProduct, "p-9", alwaysTaken)

	require.NoError(t, err)
	assert.Equal(t, "oak-chair-1700000000000", rec.FinalSlug)
}

func TestAllocate_CheckFailureIsAnErrorByDefault(t *testing.T) {
	a := fixedAllocator()
	checkErr := errors.New("connection refused")
	failing := func(context.Context, string) (bool, error) { return false, checkErr }

	_, err := a.Allocate(context.Background(), "Oak Chair", storefront.KindProduct, "p-1", failing)

	assert.ErrorIs(t, err, checkErr)
}

func TestAllocate_CheckFailureAssumedFreeInDegradedMode(t *testing.T) {
	a := fixedAllocator(WithDegradedMode(true))
	failing := func(context.Context, string) (bool, error) { return false, errors.New("connection refused") }

	rec, err := a.Allocate(context.Background(), "Oak Chair", storefront.KindProduct, "p-1", failing)

	require.NoError(t, err)
	assert.Equal(t, "oak-chair", rec.FinalSlug)
}

func TestAllocate_AlwaysNonEmpty(t *testing.T) {
	a := NewAllocator(WithMaxCandidates(2))
	alwaysTaken := func(context.Context, string) (bool, error) { return true, nil }

	for _, name := range []string{"", " ", "-", "ü", "Ωμέγα", "a"} {
		rec, err := a.Allocate(context.Background(), name, storefront.KindProduct, "x", alwaysTaken)
		require.NoError(t, err)
		assert.NotEmpty(t, rec.FinalSlug)
		assert.False(t, strings.HasPrefix(rec.FinalSlug, "-"))
	}
}
