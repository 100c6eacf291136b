// Package bootstrap wires configuration into a running core: connection,
// both access paths, selector, facade and derived-entity orchestrator.
package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"storefront"
	"storefront/access"
	"storefront/backoff"
	"storefront/catalog"
	"storefront/config"
	"storefront/derive"
	"storefront/facade"
	"storefront/memstore"
	"storefront/ormstore"
	"storefront/placeholder"
	"storefront/slug"
	sqlstore "storefront/sql"
)

// System is a wired core.
type System struct {
	Config       config.Config
	Catalog      *catalog.Catalog
	Selector     *access.Selector
	Facade       *facade.Facade
	Orchestrator *derive.Orchestrator
	Logger       *slog.Logger

	// Exactly one of these is set, depending on the store type.
	Service *sqlstore.Service
	Memory  *memstore.Store

	conn storefront.Connection
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	catalog *catalog.Catalog
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCatalog overrides the catalog named by the configuration.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// Open builds a System from cfg.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*System, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat := o.catalog
	if cat == nil {
		var err error
		cat, err = loadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
	}

	sys := &System{Config: cfg, Catalog: cat, Logger: o.logger}

	primary, secondary, err := sys.openPaths(ctx)
	if err != nil {
		return nil, err
	}

	logger := o.logger
	controller := backoff.NewController(backoff.WithLogger(logger))
	sys.Selector = access.NewSelector(primary, secondary,
		access.WithController(controller),
		access.WithPolicies(cfg.Policies.Primary, cfg.Policies.Secondary),
		access.WithLogger(logger),
	)

	allocator := slug.NewAllocator(
		slug.WithMaxCandidates(cfg.Slug.MaxCandidates),
		slug.WithDegradedMode(cfg.Slug.DegradedMode),
		slug.WithLogger(logger),
	)
	synth := placeholder.New(cat,
		placeholder.WithListSize(cfg.Placeholder.ListSize),
		placeholder.WithLogger(logger),
	)
	sys.Facade = facade.New(sys.Selector, cat, allocator, synth,
		facade.WithMaxReallocations(cfg.Slug.MaxReallocations),
		facade.WithLogger(logger),
	)

	sys.Orchestrator = derive.New(sys.Facade, derive.FromCatalog(cat), derive.WithLogger(logger))
	sys.Facade.Subscribe(sys.Orchestrator.Handle)

	logger.Info("storefront core ready",
		"store", cfg.Store.Type, "primary", primary.Name(), "secondary", secondary.Name(),
		"kinds", len(cat.Kinds()), "rules", len(cat.Rules()))
	return sys, nil
}

func (s *System) openPaths(ctx context.Context) (storefront.Repository, storefront.Repository, error) {
	if s.Config.Store.Type == "memory" {
		s.Memory = memstore.NewStore()
		s.conn = s.Memory
		primary := s.Memory.View("orm", memstore.WithValidator(s.Catalog.ValidateSchema))
		return primary, s.Memory.View("sql"), nil
	}

	conn := s.Config.Connection()
	svc, err := sqlstore.OpenWithName(ctx, &conn)
	if err != nil {
		return nil, nil, err
	}
	svc.SetLogger(s.Logger)
	s.Service = svc
	s.conn = svc

	if s.Config.Store.Migrate {
		if err := svc.Migrate(ctx); err != nil {
			_ = svc.Close()
			return nil, nil, err
		}
	}

	mapped, err := ormstore.New(svc, s.Catalog, ormstore.WithLogger(s.Logger))
	if err != nil {
		_ = svc.Close()
		return nil, nil, err
	}
	return mapped, svc.Repository(), nil
}

// Ping checks the store.
func (s *System) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Stats returns pool statistics: sql.DBStats for a database, memstore.Stats
// for the memory store.
func (s *System) Stats() interface{} {
	if s.conn == nil {
		return nil
	}
	return s.conn.Stats()
}

// Close releases the connection pool.
func (s *System) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(path)
}

// NewLogger builds the slog logger described by cfg, writing to w.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, storefront.NewConfigErrorForField("log.format", cfg.Format, "unknown log format")
	}
}
