package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3" // SQLite driver
	_ "modernc.org/sqlite"        // pure-Go SQLite driver

	"storefront"
)

// SQLiteAdapter implements the Adapter interface for SQLite.
type SQLiteAdapter struct {
	*BaseSQLAdapter
}

// NewSQLiteAdapter creates a new SQLite adapter on the cgo driver.
func NewSQLiteAdapter() *SQLiteAdapter {
	return &SQLiteAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("sqlite3", "sqlite"),
	}
}

// NewPureSQLiteAdapter creates a SQLite adapter on the pure-Go driver, for
// builds without cgo.
func NewPureSQLiteAdapter() *SQLiteAdapter {
	return &SQLiteAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("sqlite", "sqlite-pure"),
	}
}

// Dialect returns the migration dialect.
func (a *SQLiteAdapter) Dialect() string {
	return "sqlite3"
}

// Connect establishes a connection to SQLite.
func (a *SQLiteAdapter) Connect(ctx context.Context, config *storefront.Config) (*sql.DB, error) {
	cfg := *config
	// SQLite works best with a single connection for writes
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}

	db, err := a.BaseSQLAdapter.Connect(ctx, &cfg, a.ConnectionString(&cfg))
	if err != nil {
		return nil, err
	}

	// Enable foreign keys (disabled by default in SQLite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// ConnectionString constructs a SQLite connection string.
func (a *SQLiteAdapter) ConnectionString(config *storefront.Config) string {
	dbPath := config.FilePath
	if dbPath == "" {
		dbPath = config.Database
	}
	if dbPath == "" {
		dbPath = ":memory:"
	} else if !filepath.IsAbs(dbPath) && !strings.HasPrefix(dbPath, ":") && !strings.HasPrefix(dbPath, "file:") {
		dbPath = filepath.Clean(dbPath)
	}

	if len(config.Options) > 0 {
		return fmt.Sprintf("%s?%s", dbPath, quoteOptions(config.Options, "&"))
	}
	return dbPath
}

// DefaultTxOptions returns default transaction options for SQLite.
func (a *SQLiteAdapter) DefaultTxOptions() *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: sql.LevelSerializable, // SQLite default
		ReadOnly:  false,
	}
}

// IsUniqueConstraintViolation checks if an error is a unique constraint violation.
func (a *SQLiteAdapter) IsUniqueConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// IsConnectionError checks for busy or unreachable databases.
func (a *SQLiteAdapter) IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked || se.Code == sqlite3.ErrCantOpen) {
		return true
	}
	if a.BaseSQLAdapter.IsConnectionError(err) {
		return true
	}
	return containsAny(err.Error(), []string{
		"database is locked",
		"database schema has changed",
		"unable to open database",
	})
}
