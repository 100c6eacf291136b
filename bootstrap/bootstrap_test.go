package bootstrap

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
	"storefront/config"
	"storefront/memstore"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenSQLiteRunsFullFlow(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.FilePath = filepath.Join(t.TempDir(), "store.db")

	sys, err := Open(ctx, cfg, WithLogger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	require.NotNil(t, sys.Service)
	require.NoError(t, sys.Ping(ctx))
	assert.IsType(t, sql.DBStats{}, sys.Stats())

	product, err := sys.Facade.Create(ctx, storefront.KindProduct, storefront.Fields{
		"name": "Oak Chair", "price": 4500, "category": "cat-1", "stock": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, storefront.SourcePrimary, product.Source)
	assert.Equal(t, "oak-chair", product.Entity.Slug)

	fetched, err := sys.Facade.Fetch(ctx, storefront.KindProduct, product.Entity.ID)
	require.NoError(t, err)
	assert.True(t, fetched.Authoritative())
	assert.Equal(t, product.Entity.Fields, fetched.Entity.Fields)

	order, err := sys.Facade.Create(ctx, storefront.KindOrder, storefront.Fields{
		"paymentMethod": "upi", "totalPrice": 4500,
	})
	require.NoError(t, err)

	prs, err := sys.Facade.List(ctx, storefront.KindPaymentRequest,
		storefront.Where(storefront.Eq("orderId", order.Entity.ID)))
	require.NoError(t, err)
	require.Len(t, prs.Entities, 1)
	assert.Equal(t, 4500.0, prs.Entities[0].Fields["amount"])

	require.NoError(t, sys.Orchestrator.OnCreated(ctx, *order.Entity))
	prs, err = sys.Facade.List(ctx, storefront.KindPaymentRequest, storefront.Filter{})
	require.NoError(t, err)
	assert.Len(t, prs.Entities, 1)
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Type = "memory"

	sys, err := Open(ctx, cfg, WithLogger(quiet()))
	require.NoError(t, err)
	defer sys.Close()
	require.NotNil(t, sys.Memory)
	assert.Nil(t, sys.Service)

	_, err = sys.Facade.Create(ctx, storefront.KindCategory, storefront.Fields{"name": "Sofa Beds"})
	require.NoError(t, err)
	_, err = sys.Facade.Create(ctx, storefront.KindCategory, storefront.Fields{"name": "sofa beds "})
	assert.True(t, storefront.IsFailureKind(err, storefront.FailureConflict))
	assert.Equal(t, 1, sys.Memory.Count(storefront.KindCategory))
	stats, ok := sys.Stats().(memstore.Stats)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Keys)
}

func TestOpenRejectsBadCatalog(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Type = "memory"
	cfg.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Open(context.Background(), cfg, WithLogger(quiet()))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = NewLogger(config.LogConfig{Level: "info", Format: "xml"}, &buf)
	assert.True(t, storefront.IsConfigError(err))
}
