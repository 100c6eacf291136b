package storefront

import (
	"fmt"
	"time"
)

// Config contains the connection settings shared by both access paths.
// Both paths open the same logical store.
type Config struct {
	// Basic connection info
	Type     string // adapter type (sqlite, postgres, mysql, memory)
	Host     string
	Port     int
	Username string
	Password string
	Database string
	FilePath string // sqlite database file
	SSLMode  string

	// Connection pooling
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Timeouts
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// Backend-specific options
	Options map[string]string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            0, // Backend-specific default
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 1 * time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  30 * time.Second,
		QueryTimeout:    30 * time.Second,
		Options:         make(map[string]string),
	}
}

// Validate checks that the configuration can be used to connect.
func (c Config) Validate() error {
	switch c.Type {
	case "":
		return NewConfigErrorForField("type", c.Type, "adapter type is required")
	case "sqlite", "sqlite3", "sqlite-pure":
		if c.FilePath == "" && c.Database == "" {
			return NewConfigErrorForField("file_path", c.FilePath, "sqlite requires a file path")
		}
	case "postgres", "postgresql", "mysql":
		if c.Host == "" {
			return NewConfigErrorForField("host", c.Host, "host is required")
		}
		if c.Database == "" {
			return NewConfigErrorForField("database", c.Database, "database is required")
		}
	case "memory":
	default:
		return NewConfigErrorForField("type", c.Type, fmt.Sprintf("unsupported adapter type %q", c.Type))
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return NewConfigError("pool sizes must not be negative")
	}
	return nil
}
