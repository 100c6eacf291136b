package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq" // PostgreSQL driver

	"storefront"
)

// PostgreSQLAdapter implements the Adapter interface for PostgreSQL.
type PostgreSQLAdapter struct {
	*BaseSQLAdapter
}

// NewPostgreSQLAdapter creates a new PostgreSQL adapter.
func NewPostgreSQLAdapter() *PostgreSQLAdapter {
	return &PostgreSQLAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("postgres", "postgresql"),
	}
}

// Dialect returns the migration dialect.
func (a *PostgreSQLAdapter) Dialect() string {
	return "postgres"
}

// Connect establishes a connection to PostgreSQL.
func (a *PostgreSQLAdapter) Connect(ctx context.Context, config *storefront.Config) (*sql.DB, error) {
	return a.BaseSQLAdapter.Connect(ctx, config, a.ConnectionString(config))
}

// ConnectionString constructs a PostgreSQL connection string.
func (a *PostgreSQLAdapter) ConnectionString(config *storefront.Config) string {
	var parts []string

	if config.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", config.Host))
	}
	if config.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", config.Port))
	}
	if config.Database != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", config.Database))
	}
	if config.Username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", config.Username))
	}
	if config.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", config.Password))
	}

	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts = append(parts, fmt.Sprintf("sslmode=%s", sslMode))

	if config.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(config.ConnectTimeout.Seconds())))
	}
	if len(config.Options) > 0 {
		parts = append(parts, quoteOptions(config.Options, " "))
	}

	return strings.Join(parts, " ")
}

// Placeholder returns the numbered PostgreSQL bind parameter.
func (a *PostgreSQLAdapter) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// PostgreSQL error codes used for classification.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
	pgCannotConnectNow     = "57P03"
)

// IsUniqueConstraintViolation checks the SQLSTATE of the error.
func (a *PostgreSQLAdapter) IsUniqueConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return a.BaseSQLAdapter.IsUniqueConstraintViolation(err)
}

// ViolatedColumn reads the violated constraint name.
func (a *PostgreSQLAdapter) ViolatedColumn(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Constraint != "" {
		return columnFromMessage(pqErr.Constraint)
	}
	return a.BaseSQLAdapter.ViolatedColumn(err)
}

// IsConnectionError treats SQLSTATE class 08 and server restarts as
// connection loss, and contention aborts as retryable.
func (a *PostgreSQLAdapter) IsConnectionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgAdminShutdown, pgCannotConnectNow:
			return true
		}
		return pqErr.Code.Class() == "08"
	}
	return a.BaseSQLAdapter.IsConnectionError(err)
}

// QuoteIdentifier quotes a PostgreSQL identifier.
func (a *PostgreSQLAdapter) QuoteIdentifier(identifier string) string {
	return fmt.Sprintf(`"%s"`, strings.ReplaceAll(identifier, `"`, `""`))
}
