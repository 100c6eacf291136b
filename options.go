package storefront

import (
	"time"
)

// Option adjusts a connection Config.
type Option func(*Config)

// WithAdapter selects the dialect adapter by its registry name, for
// example "sqlite-pure" for the cgo-free SQLite driver.
func WithAdapter(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.Type = name
		}
	}
}

// WithHost sets the database host.
func WithHost(host string) Option {
	return func(c *Config) {
		if host != "" {
			c.Host = host
		}
	}
}

// WithPort sets the database port. Zero keeps the dialect default.
func WithPort(port int) Option {
	return func(c *Config) {
		if port > 0 {
			c.Port = port
		}
	}
}

// WithCredentials sets the database user.
func WithCredentials(username, password string) Option {
	return func(c *Config) {
		c.Username = username
		c.Password = password
	}
}

// WithDatabase sets the database (schema) name.
func WithDatabase(database string) Option {
	return func(c *Config) {
		c.Database = database
	}
}

// WithFilePath sets the SQLite database file.
func WithFilePath(path string) Option {
	return func(c *Config) {
		c.FilePath = path
	}
}

// WithPooling sizes the pool both access paths share. Zero values keep
// the current setting.
func WithPooling(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(c *Config) {
		if maxOpen > 0 {
			c.MaxOpenConns = maxOpen
		}
		if maxIdle > 0 {
			c.MaxIdleConns = maxIdle
		}
		if maxLifetime > 0 {
			c.ConnMaxLifetime = maxLifetime
		}
	}
}

// WithTimeouts sets the dial and per-query timeouts. Zero values keep the
// current setting.
func WithTimeouts(connect, query time.Duration) Option {
	return func(c *Config) {
		if connect > 0 {
			c.ConnectTimeout = connect
		}
		if query > 0 {
			c.QueryTimeout = query
		}
	}
}

// WithSSL sets the TLS mode (postgres sslmode values).
func WithSSL(mode string) Option {
	return func(c *Config) {
		if mode != "" {
			c.SSLMode = mode
		}
	}
}

// WithOption sets a driver DSN parameter.
func WithOption(key, value string) Option {
	return func(c *Config) {
		if c.Options == nil {
			c.Options = make(map[string]string)
		}
		c.Options[key] = value
	}
}

// PostgreSQLOptions is the postgres preset: port 5432, TLS off unless
// opts say otherwise.
func PostgreSQLOptions(database, username, password string, opts ...Option) []Option {
	base := []Option{
		WithAdapter("postgres"),
		WithPort(5432),
		WithDatabase(database),
		WithCredentials(username, password),
		WithSSL("disable"),
	}
	return append(base, opts...)
}

// MySQLOptions is the mysql preset: port 3306 and parseTime so DATETIME
// columns scan into time.Time.
func MySQLOptions(database, username, password string, opts ...Option) []Option {
	base := []Option{
		WithAdapter("mysql"),
		WithPort(3306),
		WithDatabase(database),
		WithCredentials(username, password),
		WithOption("parseTime", "true"),
	}
	return append(base, opts...)
}

// SQLiteOptions is the sqlite preset. The pool is a single connection so
// that writers queue instead of failing with "database is locked".
func SQLiteOptions(filePath string, opts ...Option) []Option {
	base := []Option{
		WithAdapter("sqlite"),
		WithFilePath(filePath),
		func(c *Config) { c.MaxOpenConns = 1 },
	}
	return append(base, opts...)
}

// MemoryOptions is the preset for the in-process store.
func MemoryOptions(opts ...Option) []Option {
	return append([]Option{WithAdapter("memory")}, opts...)
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	config.Apply(opts...)
	return config
}

// Apply applies opts in order.
func (c *Config) Apply(opts ...Option) *Config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}
