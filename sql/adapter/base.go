package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strings"

	"storefront"
)

// BaseSQLAdapter provides common functionality for all SQL adapters.
type BaseSQLAdapter struct {
	db         *sql.DB
	driverName string
	name       AdapterName
}

// NewBaseSQLAdapter creates a new base SQL adapter.
func NewBaseSQLAdapter(driverName string, name AdapterName) *BaseSQLAdapter {
	return &BaseSQLAdapter{
		driverName: driverName,
		name:       name,
	}
}

// Name returns the adapter name.
func (a *BaseSQLAdapter) Name() AdapterName {
	return a.name
}

// DriverName returns the database/sql driver name.
func (a *BaseSQLAdapter) DriverName() string {
	return a.driverName
}

// Connect opens the pool, configures it and verifies the connection.
func (a *BaseSQLAdapter) Connect(ctx context.Context, config *storefront.Config, connectionString string) (*sql.DB, error) {
	db, err := sql.Open(a.driverName, connectionString)
	if err != nil {
		return nil, storefront.WrapConnectionError(err, "connect", a.driverName, config.Host)
	}

	configureConnectionPool(db, config)

	pingCtx := ctx
	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, storefront.WrapConnectionError(err, "ping", a.driverName, config.Host)
	}

	a.db = db
	return db, nil
}

func configureConnectionPool(db *sql.DB, config *storefront.Config) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}
}

// Close closes the database connection.
func (a *BaseSQLAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// DB returns the underlying database connection.
func (a *BaseSQLAdapter) DB() *sql.DB {
	return a.db
}

// Placeholder returns "?", the bind style of MySQL and SQLite.
func (a *BaseSQLAdapter) Placeholder(int) string {
	return "?"
}

// DefaultTxOptions returns default transaction options.
func (a *BaseSQLAdapter) DefaultTxOptions() *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
		ReadOnly:  false,
	}
}

// connectionErrors are message fragments shared by all drivers.
var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"network is unreachable",
	"broken pipe",
	"i/o timeout",
	"driver: bad connection",
	"database is closed",
}

// IsConnectionError checks for connection loss.
func (a *BaseSQLAdapter) IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return containsAny(err.Error(), connectionErrors)
}

// IsUniqueConstraintViolation matches the unique violation messages of the
// supported drivers.
func (a *BaseSQLAdapter) IsUniqueConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), []string{
		"unique constraint",
		"duplicate key",
		"duplicate entry",
	})
}

// ViolatedColumn guesses the violated index from the error message.
func (a *BaseSQLAdapter) ViolatedColumn(err error) string {
	if err == nil {
		return ""
	}
	return columnFromMessage(err.Error())
}

// columnFromMessage maps index and column names found in a driver message
// to the entities index they belong to.
func columnFromMessage(msg string) string {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "unique_key"):
		return ColumnUniqueKey
	case strings.Contains(msg, "slug"):
		return ColumnSlug
	case strings.Contains(msg, "entities.id"), strings.Contains(msg, "pkey"), strings.Contains(msg, "primary"):
		return ColumnID
	default:
		return ""
	}
}

func containsAny(s string, patterns []string) bool {
	s = strings.ToLower(s)
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// quoteOptions renders driver options as key=value pairs joined by sep,
// in a stable order.
func quoteOptions(options map[string]string, sep string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, options[k]))
	}
	return strings.Join(parts, sep)
}
