package storefront_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
)

func TestConditionMatch(t *testing.T) {
	ent := storefront.Entity{Fields: storefront.Fields{
		"name":          "Oak Chair",
		"price":         4500.0,
		"paymentMethod": "upi",
		"stock":         3,
	}}

	tests := []struct {
		name string
		cond storefront.Condition
		want bool
	}{
		{"eq string", storefront.Eq("paymentMethod", "upi"), true},
		{"eq mixed numbers", storefront.Eq("price", 4500), true},
		{"ne", storefront.Ne("paymentMethod", "cod"), true},
		{"gt", storefront.Gt("price", 5000), false},
		{"ge int field", storefront.Ge("stock", 3), true},
		{"lt", storefront.Lt("price", 4500), false},
		{"le", storefront.Le("price", 4500), true},
		{"in", storefront.In("paymentMethod", "upi", "card"), true},
		{"not in", storefront.NotIn("paymentMethod", "upi"), false},
		{"between", storefront.Between("price", 4000, 5000), true},
		{"prefix", storefront.Prefix("name", "Oak"), true},
		{"contains ignores case", storefront.Contains("name", "CHAIR"), true},
		{"is null on missing", storefront.IsNull("discount"), true},
		{"not null", storefront.NotNull("name"), true},
		{"missing field never equals", storefront.Eq("discount", 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Match(ent))
		})
	}

	assert.True(t, storefront.Filter{}.Match(ent), "empty filter matches everything")
	assert.False(t, storefront.Where(storefront.Eq("paymentMethod", "upi"), storefront.Gt("price", 9000)).Match(ent))
}

func TestFieldsHelpers(t *testing.T) {
	f := storefront.Fields{"b": 1, "a": "x"}
	assert.Equal(t, []string{"a", "b"}, f.Keys())

	merged := f.Merge(storefront.Fields{"b": 2, "c": true})
	assert.Equal(t, 1, f["b"], "merge must not touch the receiver")
	assert.Equal(t, 2, merged["b"])
	assert.Equal(t, true, merged["c"])

	s, ok := f.String("a")
	assert.True(t, ok)
	assert.Equal(t, "x", s)
	_, ok = f.String("b")
	assert.False(t, ok)
}

func TestNormalizeFields(t *testing.T) {
	norm, err := storefront.NormalizeFields(storefront.Fields{
		"price": 4500,
		"tags":  []string{"oak"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4500.0, norm["price"])
	assert.Equal(t, []any{"oak"}, norm["tags"])

	_, err = storefront.EncodeFields(storefront.Fields{"bad": make(chan int)})
	assert.True(t, storefront.IsValidationError(err))

	empty, err := storefront.DecodeFields(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	big, err := storefront.DecodeFields([]byte(`{"n": 9007199254740993, "s": "9007199254740993"}`))
	require.NoError(t, err)
	assert.Equal(t, float64(9007199254740992), big["n"], "beyond 2^53 numbers round")
	assert.Equal(t, "9007199254740993", big["s"])
}

func TestSameWrite(t *testing.T) {
	stored := storefront.Entity{
		ID: "p-1", Kind: storefront.KindProduct, Slug: "oak-chair", Version: 3,
		Fields: storefront.Fields{"name": "Oak Chair", "price": 4500.0},
	}
	retry := stored
	retry.Version = 1
	retry.Fields = storefront.Fields{"price": 4500, "name": "Oak Chair"}
	assert.True(t, storefront.SameWrite(stored, retry))

	retry.Slug = "oak-chair-1"
	assert.False(t, storefront.SameWrite(stored, retry))
}

func TestAccessResultAuthoritative(t *testing.T) {
	assert.True(t, storefront.AccessResult{Source: storefront.SourcePrimary}.Authoritative())
	assert.True(t, storefront.AccessResult{Source: storefront.SourceSecondary}.Authoritative())
	assert.False(t, storefront.AccessResult{Source: storefront.SourceSynthesized}.Authoritative())
}

func TestErrorTypes(t *testing.T) {
	notFound := storefront.NewRecordNotFoundError(storefront.KindProduct, "p-1")
	assert.True(t, storefront.IsRecordNotFoundError(fmt.Errorf("wrapped: %w", notFound)))
	assert.ErrorIs(t, notFound, storefront.ErrRecordNotFound)

	dup := &storefront.DuplicateError{Kind: storefront.KindCategory, Field: "unique_key", Value: "sofa beds"}
	assert.ErrorIs(t, dup, storefront.ErrUniqueConstraint)
	assert.Equal(t, "unique_key", storefront.DuplicateField(fmt.Errorf("insert: %w", dup)))
	assert.Equal(t, "", storefront.DuplicateField(notFound))

	cfgErr := storefront.NewConfigErrorForField("type", "oracle", "unsupported")
	assert.ErrorIs(t, cfgErr, storefront.ErrInvalidConfig)
	assert.Equal(t, "config error for field type: unsupported", cfgErr.Error())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"connection error", storefront.NewConnectionError(errors.New("eof"), "get", "postgres", "db"), true},
		{"driver message", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), true},
		{"locked sqlite", errors.New("database is locked"), true},
		{"duplicate wins over message", &storefront.DuplicateError{Field: "slug", Err: errors.New("timeout")}, false},
		{"not found", storefront.NewRecordNotFoundError(storefront.KindOrder, "o-1"), false},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storefront.IsTransient(tt.err))
		})
	}
}

func TestAsFailure(t *testing.T) {
	attempts := []storefront.Attempt{{Path: "primary", Number: 1, Outcome: storefront.OutcomeTerminal}}

	tests := []struct {
		name string
		err  error
		want storefront.FailureKind
	}{
		{"validation", storefront.NewValidationError("name is required"), storefront.FailureValidation},
		{"schema", &storefront.SchemaError{Kind: storefront.KindProduct, Message: "price"}, storefront.FailureValidation},
		{"unknown kind", fmt.Errorf("%w: Widget", storefront.ErrUnknownKind), storefront.FailureValidation},
		{"not found", storefront.NewRecordNotFoundError(storefront.KindProduct, "p-1"), storefront.FailureNotFound},
		{"duplicate", &storefront.DuplicateError{Field: "unique_key"}, storefront.FailureConflict},
		{"version", &storefront.VersionConflictError{Expected: 1, Actual: 2}, storefront.FailureConflict},
		{"other", errors.New("disk on fire"), storefront.FailureExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := storefront.AsFailure(tt.err, attempts)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Kind)
			assert.Equal(t, attempts, f.Attempts)
			assert.ErrorIs(t, f, tt.err)
			assert.True(t, storefront.IsFailureKind(f, tt.want))
		})
	}

	assert.Nil(t, storefront.AsFailure(nil, attempts))

	existing := storefront.Exhausted(errors.New("timeout"), attempts)
	assert.Same(t, existing, storefront.AsFailure(fmt.Errorf("wrapped: %w", existing), nil))
	assert.Equal(t, storefront.FailureKind(""), storefront.FailureKindOf(errors.New("plain")))
}

func TestPaginatorRoundTrip(t *testing.T) {
	p := storefront.NewPaginator()

	params, err := p.ParseParams(storefront.Filter{})
	require.NoError(t, err)
	assert.Equal(t, p.Config().DefaultPageSize, params.PageSize)
	assert.Empty(t, params.AfterID)

	params, err = p.ParseParams(storefront.Filter{PageSize: p.Config().MaxPageSize + 50})
	require.NoError(t, err)
	assert.Equal(t, p.Config().MaxPageSize, params.PageSize)

	items := []storefront.Entity{{ID: "a"}, {ID: "b"}}
	page, err := p.BuildPage(items, storefront.CursorParams{PageSize: 2}, true)
	require.NoError(t, err)
	require.NotEmpty(t, page.NextCursor)

	params, err = p.ParseParams(storefront.Filter{Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, "b", params.AfterID)

	last, err := p.BuildPage(items, storefront.CursorParams{PageSize: 2}, false)
	require.NoError(t, err)
	assert.Empty(t, last.NextCursor)

	_, err = p.ParseParams(storefront.Filter{Cursor: "%%%"})
	assert.True(t, storefront.IsValidationError(err))
}

func TestPaginatorRejectsExpiredCursor(t *testing.T) {
	cfg := storefront.DefaultPaginationConfig()
	cfg.MaxCursorAge = time.Minute
	p := storefront.NewPaginatorWithConfig(cfg)

	old, err := p.EncodeCursor(&storefront.Cursor{LastID: "a", CreatedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = p.DecodeCursor(old)
	assert.ErrorContains(t, err, "cursor expired")
}

func TestConfigOptions(t *testing.T) {
	cfg := storefront.NewConfig(storefront.PostgreSQLOptions("shop", "app", "secret")...)
	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, 5432, cfg.Port)
	assert.NoError(t, cfg.Validate())

	cfg = storefront.NewConfig(storefront.MySQLOptions("shop", "app", "secret")...)
	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, "true", cfg.Options["parseTime"])

	cfg = storefront.NewConfig(storefront.SQLiteOptions("/tmp/shop.db")...)
	assert.Equal(t, 1, cfg.MaxOpenConns)

	cfg = storefront.DefaultConfig()
	cfg.Apply(storefront.WithHost("db.internal"), storefront.WithPort(6543), storefront.WithOption("search_path", "shop"))
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "shop", cfg.Options["search_path"])

	cfg = storefront.DefaultConfig()
	cfg.Apply(
		storefront.WithDatabase("shop"),
		storefront.WithCredentials("app", "secret"),
		storefront.WithPooling(4, 0, 0),
		storefront.WithTimeouts(0, 2*time.Second),
		storefront.WithSSL("require"),
		storefront.WithPort(0),
	)
	assert.Equal(t, "shop", cfg.Database)
	assert.Equal(t, "app", cfg.Username)
	assert.Equal(t, 4, cfg.MaxOpenConns)
	assert.Equal(t, storefront.DefaultConfig().MaxIdleConns, cfg.MaxIdleConns, "zero keeps the default")
	assert.Equal(t, storefront.DefaultConfig().ConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.QueryTimeout)
	assert.Equal(t, "require", cfg.SSLMode)
	assert.Equal(t, storefront.DefaultConfig().Port, cfg.Port)

	err := storefront.NewConfig().Validate()
	assert.True(t, storefront.IsConfigError(err))

	err = storefront.NewConfig(storefront.SQLiteOptions("")...).Validate()
	assert.True(t, storefront.IsConfigError(err))

	assert.NoError(t, storefront.NewConfig(storefront.MemoryOptions()...).Validate())
}
