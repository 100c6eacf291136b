// Package config loads the application configuration: the store
// connection, per-path retry policies, slug allocation, the kind catalog
// and logging.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"storefront"
	"storefront/backoff"
)

// EnvPrefix prefixes environment overrides, e.g. STOREFRONT_STORE_TYPE.
const EnvPrefix = "STOREFRONT"

// Config is the application configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Policies    PoliciesConfig    `mapstructure:"policies"`
	Slug        SlugConfig        `mapstructure:"slug"`
	Placeholder PlaceholderConfig `mapstructure:"placeholder"`
	CatalogPath string            `mapstructure:"catalog_path"`
	Log         LogConfig         `mapstructure:"log"`
}

// StoreConfig is the connection both access paths share.
type StoreConfig struct {
	Type            string            `mapstructure:"type"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	Database        string            `mapstructure:"database"`
	FilePath        string            `mapstructure:"file_path"`
	SSLMode         string            `mapstructure:"ssl_mode"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration     `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration     `mapstructure:"query_timeout"`
	Migrate         bool              `mapstructure:"migrate"`
	Options         map[string]string `mapstructure:"options"`
}

// PoliciesConfig holds the retry policy of each access path.
type PoliciesConfig struct {
	Primary   backoff.Policy `mapstructure:"primary"`
	Secondary backoff.Policy `mapstructure:"secondary"`
}

// SlugConfig configures slug allocation.
type SlugConfig struct {
	MaxCandidates        int  `mapstructure:"max_candidates"`
	DegradedMode     bool `mapstructure:"degraded_mode"`
	MaxReallocations int  `mapstructure:"max_reallocations"`
}

// PlaceholderConfig configures synthesized reads.
type PlaceholderConfig struct {
	ListSize int `mapstructure:"list_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when nothing is set: a local
// SQLite file migrated on start.
func Default() Config {
	conn := storefront.DefaultConfig()
	return Config{
		Store: StoreConfig{
			Type:            "sqlite",
			Host:            conn.Host,
			FilePath:        "storefront.db",
			MaxOpenConns:    1,
			MaxIdleConns:    conn.MaxIdleConns,
			ConnMaxLifetime: conn.ConnMaxLifetime,
			ConnectTimeout:  conn.ConnectTimeout,
			QueryTimeout:    conn.QueryTimeout,
			Migrate:         true,
		},
		Policies: PoliciesConfig{
			Primary:   backoff.PrimaryPolicy(),
			Secondary: backoff.SecondaryPolicy(),
		},
		Slug: SlugConfig{
			MaxCandidates:        1000,
			MaxReallocations: 5,
		},
		Placeholder: PlaceholderConfig{ListSize: 3},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (YAML) over the defaults and applies STOREFRONT_*
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// the file does not mention.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("store.type", d.Store.Type)
	v.SetDefault("store.host", d.Store.Host)
	v.SetDefault("store.port", d.Store.Port)
	v.SetDefault("store.username", d.Store.Username)
	v.SetDefault("store.password", d.Store.Password)
	v.SetDefault("store.database", d.Store.Database)
	v.SetDefault("store.file_path", d.Store.FilePath)
	v.SetDefault("store.ssl_mode", d.Store.SSLMode)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_lifetime", d.Store.ConnMaxLifetime)
	v.SetDefault("store.connect_timeout", d.Store.ConnectTimeout)
	v.SetDefault("store.query_timeout", d.Store.QueryTimeout)
	v.SetDefault("store.migrate", d.Store.Migrate)

	for name, p := range map[string]backoff.Policy{"primary": d.Policies.Primary, "secondary": d.Policies.Secondary} {
		prefix := "policies." + name + "."
		v.SetDefault(prefix+"max_attempts", p.MaxAttempts)
		v.SetDefault(prefix+"base_delay", p.BaseDelay)
		v.SetDefault(prefix+"multiplier", p.Multiplier)
		v.SetDefault(prefix+"max_delay", p.MaxDelay)
		v.SetDefault(prefix+"jitter", p.Jitter)
		v.SetDefault(prefix+"attempt_timeout", p.AttemptTimeout)
	}

	v.SetDefault("slug.max_candidates", d.Slug.MaxCandidates)
	v.SetDefault("slug.degraded_mode", d.Slug.DegradedMode)
	v.SetDefault("slug.max_reallocations", d.Slug.MaxReallocations)
	v.SetDefault("placeholder.list_size", d.Placeholder.ListSize)
	v.SetDefault("catalog_path", d.CatalogPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks the connection and both policies.
func (c Config) Validate() error {
	var errs []error
	if c.Store.Type != "memory" {
		conn := c.Connection()
		if err := conn.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Policies.Primary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policies.primary: %w", err))
	}
	if err := c.Policies.Secondary.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policies.secondary: %w", err))
	}
	if c.Slug.MaxReallocations < 0 {
		errs = append(errs, storefront.NewConfigErrorForField("slug.max_reallocations", c.Slug.MaxReallocations, "must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Connection converts the store section into a connection config.
func (c Config) Connection() storefront.Config {
	s := c.Store
	common := []storefront.Option{
		storefront.WithAdapter(s.Type),
		storefront.WithHost(s.Host),
		storefront.WithPort(s.Port),
		storefront.WithSSL(s.SSLMode),
		storefront.WithPooling(s.MaxOpenConns, s.MaxIdleConns, s.ConnMaxLifetime),
		storefront.WithTimeouts(s.ConnectTimeout, s.QueryTimeout),
	}
	for k, v := range s.Options {
		common = append(common, storefront.WithOption(k, v))
	}

	var opts []storefront.Option
	switch s.Type {
	case "postgres", "postgresql":
		opts = storefront.PostgreSQLOptions(s.Database, s.Username, s.Password, common...)
	case "mysql":
		opts = storefront.MySQLOptions(s.Database, s.Username, s.Password, common...)
	case "memory":
		opts = storefront.MemoryOptions(common...)
	default:
		opts = storefront.SQLiteOptions(s.FilePath, common...)
	}
	return storefront.NewConfig(opts...)
}

// ParseLevel maps a level name onto a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, storefront.NewConfigErrorForField("log.level", level, "unknown log level")
	}
	return l, nil
}
