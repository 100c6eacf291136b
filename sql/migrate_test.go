package sqlstore

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
)

func TestMigrateLogsThroughServiceLogger(t *testing.T) {
	ctx := context.Background()
	cfg := storefront.NewConfig(storefront.SQLiteOptions(filepath.Join(t.TempDir(), "store.db"))...)
	svc, err := OpenWithName(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	var buf bytes.Buffer
	svc.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, svc.Migrate(ctx))
	out := buf.String()
	assert.Contains(t, out, "00001_create_entities.sql")
	assert.Contains(t, out, "successfully migrated database to version: 1")
	assert.Contains(t, out, "component=goose")

	buf.Reset()
	require.NoError(t, svc.Migrate(ctx))
	assert.Contains(t, buf.String(), "no migrations to run")
}
