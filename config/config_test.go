package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().Store.Type, cfg.Store.Type)
	assert.Equal(t, 3, cfg.Policies.Primary.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.Policies.Primary.BaseDelay)
	assert.Equal(t, 2, cfg.Policies.Secondary.MaxAttempts)
	assert.Equal(t, 5, cfg.Slug.MaxReallocations)
	assert.False(t, cfg.Slug.DegradedMode)
	assert.True(t, cfg.Store.Migrate)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeFile(t, `
store:
  type: postgres
  host: db.internal
  port: 5432
  database: shop
  username: shop
  options:
    application_name: storefront
policies:
  primary:
    max_attempts: 4
    base_delay: 50ms
    attempt_timeout: 1s
slug:
  degraded_mode: true
log:
  level: debug
  format: json
`)
	t.Setenv("STOREFRONT_STORE_PASSWORD", "s3cret")
	t.Setenv("STOREFRONT_POLICIES_SECONDARY_MAX_ATTEMPTS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, "s3cret", cfg.Store.Password)
	assert.Equal(t, 4, cfg.Policies.Primary.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Policies.Primary.BaseDelay)
	assert.Equal(t, time.Second, cfg.Policies.Primary.AttemptTimeout)
	// Unset keys keep their defaults.
	assert.Equal(t, 2.0, cfg.Policies.Primary.Multiplier)
	assert.Equal(t, 5, cfg.Policies.Secondary.MaxAttempts)
	assert.True(t, cfg.Slug.DegradedMode)
	assert.Equal(t, "json", cfg.Log.Format)

	conn := cfg.Connection()
	assert.Equal(t, "db.internal", conn.Host)
	assert.Equal(t, "shop", conn.Database)
	assert.Equal(t, "storefront", conn.Options["application_name"])
	require.NoError(t, conn.Validate())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown store type", "store:\n  type: cassandra\n"},
		{"zero attempts", "policies:\n  primary:\n    max_attempts: 0\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"postgres without database", "store:\n  type: postgres\n  host: db\n"},
		{"uncapped backoff", "policies:\n  secondary:\n    max_delay: 0s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			require.Error(t, err)
			assert.True(t, storefront.IsConfigError(err), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConnectionUsesDialectPresets(t *testing.T) {
	tests := []struct {
		name  string
		store StoreConfig
		check func(t *testing.T, conn storefront.Config)
	}{
		{"postgres", StoreConfig{Type: "postgres", Database: "shop", Username: "app"}, func(t *testing.T, conn storefront.Config) {
			assert.Equal(t, 5432, conn.Port)
			assert.Equal(t, "disable", conn.SSLMode)
			assert.Equal(t, "app", conn.Username)
		}},
		{"postgres with tls", StoreConfig{Type: "postgres", Database: "shop", Port: 6543, SSLMode: "require"}, func(t *testing.T, conn storefront.Config) {
			assert.Equal(t, 6543, conn.Port)
			assert.Equal(t, "require", conn.SSLMode)
		}},
		{"mysql", StoreConfig{Type: "mysql", Database: "shop"}, func(t *testing.T, conn storefront.Config) {
			assert.Equal(t, 3306, conn.Port)
			assert.Equal(t, "true", conn.Options["parseTime"])
		}},
		{"pure-go sqlite", StoreConfig{Type: "sqlite-pure", FilePath: "shop.db"}, func(t *testing.T, conn storefront.Config) {
			assert.Equal(t, "sqlite-pure", conn.Type)
			assert.Equal(t, "shop.db", conn.FilePath)
			assert.Equal(t, 1, conn.MaxOpenConns)
		}},
		{"memory", StoreConfig{Type: "memory"}, func(t *testing.T, conn storefront.Config) {
			assert.Equal(t, "memory", conn.Type)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.store.Host = cfg.Store.Host
			cfg.Store = tt.store
			conn := cfg.Connection()
			require.NoError(t, conn.Validate())
			tt.check(t, conn)
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}
