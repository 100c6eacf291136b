package adapter

import (
	"context"
	"database/sql"
	"fmt"

	"storefront"
)

// AdapterName identifies a registered adapter.
type AdapterName string

// Index names of the entities table. Adapters report which of them
// rejected a write via ViolatedColumn.
const (
	ColumnID        = "id"
	ColumnSlug      = "slug"
	ColumnUniqueKey = "unique_key"
)

// Adapter represents a SQL database adapter (PostgreSQL, MySQL, SQLite).
// Both access paths share the pool an adapter opens.
type Adapter interface {
	// Name returns the adapter's unique identifier.
	Name() AdapterName

	// DriverName is the database/sql driver the adapter opens.
	DriverName() string

	// Dialect is the migration dialect name.
	Dialect() string

	// Connect opens and verifies a connection pool.
	Connect(ctx context.Context, config *storefront.Config) (*sql.DB, error)

	// ConnectionString builds the DSN from config.
	ConnectionString(config *storefront.Config) string

	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string

	DefaultTxOptions() *sql.TxOptions

	// Error classification
	IsUniqueConstraintViolation(err error) bool
	// ViolatedColumn names the entities index a unique violation hit:
	// ColumnID, ColumnSlug, ColumnUniqueKey, or "" when unknown.
	ViolatedColumn(err error) string
	IsConnectionError(err error) bool

	// Close releases any resources held by the adapter.
	Close() error
}

// Classify maps a driver error onto the storefront error taxonomy using
// adpt's classification. kind and id describe the row being written or read.
func Classify(adpt Adapter, err error, kind storefront.Kind, operation, value string) error {
	if err == nil {
		return nil
	}
	switch {
	case adpt.IsUniqueConstraintViolation(err):
		return &storefront.DuplicateError{Kind: kind, Field: adpt.ViolatedColumn(err), Value: value, Err: err}
	case adpt.IsConnectionError(err):
		return storefront.NewConnectionError(err, operation, adpt.DriverName(), string(adpt.Name()))
	default:
		return err
	}
}

// MustGet returns the named adapter from the global registry or panics.
func MustGet(name AdapterName) Adapter {
	a, err := Get(name)
	if err != nil {
		panic(fmt.Sprintf("sql adapter: %v", err))
	}
	return a
}
