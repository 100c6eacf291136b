package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql" // MySQL driver

	"storefront"
)

// MySQLAdapter implements the Adapter interface for MySQL.
type MySQLAdapter struct {
	*BaseSQLAdapter
}

// NewMySQLAdapter creates a new MySQL adapter.
func NewMySQLAdapter() *MySQLAdapter {
	return &MySQLAdapter{
		BaseSQLAdapter: NewBaseSQLAdapter("mysql", "mysql"),
	}
}

// Dialect returns the migration dialect.
func (a *MySQLAdapter) Dialect() string {
	return "mysql"
}

// Connect establishes a connection to MySQL.
func (a *MySQLAdapter) Connect(ctx context.Context, config *storefront.Config) (*sql.DB, error) {
	return a.BaseSQLAdapter.Connect(ctx, config, a.ConnectionString(config))
}

// ConnectionString builds the DSN with the driver's own config type, so
// credentials are escaped correctly.
func (a *MySQLAdapter) ConnectionString(config *storefront.Config) string {
	cfg := mysql.NewConfig()
	cfg.User = config.Username
	cfg.Passwd = config.Password
	cfg.DBName = config.Database
	cfg.ParseTime = true
	if config.Host != "" || config.Port > 0 {
		host := config.Host
		if host == "" {
			host = "localhost"
		}
		cfg.Net = "tcp"
		cfg.Addr = host
		if config.Port > 0 {
			cfg.Addr = fmt.Sprintf("%s:%d", host, config.Port)
		}
	}
	if config.ConnectTimeout > 0 {
		cfg.Timeout = config.ConnectTimeout
	}
	if config.QueryTimeout > 0 {
		cfg.ReadTimeout = config.QueryTimeout
		cfg.WriteTimeout = config.QueryTimeout
	}

	params := map[string]string{}
	for key, value := range config.Options {
		if strings.EqualFold(key, "parseTime") {
			continue
		}
		params[key] = value
	}
	if _, ok := params["charset"]; !ok {
		params["charset"] = "utf8mb4"
	}
	cfg.Params = params

	return cfg.FormatDSN()
}

// DefaultTxOptions returns MySQL-specific transaction options.
func (a *MySQLAdapter) DefaultTxOptions() *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead, // MySQL default
		ReadOnly:  false,
	}
}

// MySQL error numbers used for classification.
const (
	myDuplicateEntry  = 1062
	myTooManyConns    = 1040
	myLockWaitTimeout = 1205
	myDeadlock        = 1213
	myServerGone      = 2006
	myServerLost      = 2013
)

// IsUniqueConstraintViolation checks for ER_DUP_ENTRY.
func (a *MySQLAdapter) IsUniqueConstraintViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == myDuplicateEntry
	}
	return a.BaseSQLAdapter.IsUniqueConstraintViolation(err)
}

// ViolatedColumn parses the key name out of "Duplicate entry '...' for key '...'".
func (a *MySQLAdapter) ViolatedColumn(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, "for key "); i >= 0 {
		return columnFromMessage(msg[i:])
	}
	return a.BaseSQLAdapter.ViolatedColumn(err)
}

// IsConnectionError checks for lost connections and contention aborts.
func (a *MySQLAdapter) IsConnectionError(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case myTooManyConns, myLockWaitTimeout, myDeadlock, myServerGone, myServerLost:
			return true
		}
		return false
	}
	return a.BaseSQLAdapter.IsConnectionError(err)
}

// QuoteIdentifier quotes a MySQL identifier.
func (a *MySQLAdapter) QuoteIdentifier(identifier string) string {
	return fmt.Sprintf("`%s`", strings.ReplaceAll(identifier, "`", "``"))
}
