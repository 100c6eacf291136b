package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"

	"storefront"
	"storefront/sql/adapter"
)

// Service owns the connection pool shared by both access paths.
type Service struct {
	adapter adapter.Adapter
	db      *sql.DB
	config  *storefront.Config
	logger  *slog.Logger
}

// Ensure Service implements storefront.Connection.
var _ storefront.Connection = (*Service)(nil)

// NewService creates a new SQL service with the given adapter.
func NewService(adpt adapter.Adapter, config *storefront.Config) *Service {
	return &Service{
		adapter: adpt,
		config:  config,
		logger:  slog.Default(),
	}
}

// SetLogger sets the service logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Connect establishes the database connection.
func (s *Service) Connect(ctx context.Context) error {
	db, err := s.adapter.Connect(ctx, s.config)
	if err != nil {
		return storefront.WrapConnectionError(err, "connect", s.adapter.DriverName(), s.config.Host)
	}
	s.db = db
	s.logger.Debug("database connected", "adapter", s.adapter.Name())
	return nil
}

// DB returns the underlying database connection.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Adapter returns the underlying adapter.
func (s *Service) Adapter() adapter.Adapter {
	return s.adapter
}

// Ping verifies the pool can reach the database.
func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return storefront.ErrConnectionClosed
	}
	if err := s.db.PingContext(ctx); err != nil {
		return storefront.WrapConnectionError(err, "ping", s.adapter.DriverName(), s.config.Host)
	}
	return nil
}

// Close closes the database connection.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Stats returns pool statistics.
func (s *Service) Stats() interface{} {
	if s.db != nil {
		return s.db.Stats()
	}
	return sql.DBStats{}
}

// Repository returns the raw access path over this service.
func (s *Service) Repository() *Repository {
	return NewRepository(s)
}

// Open creates and connects a new SQL service using the specified adapter.
func Open(ctx context.Context, adpt adapter.Adapter, config *storefront.Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	service := NewService(adpt, config)
	if err := service.Connect(ctx); err != nil {
		return nil, err
	}

	return service, nil
}

// OpenWithName creates and connects a new SQL service using the adapter
// registered under config.Type.
func OpenWithName(ctx context.Context, config *storefront.Config, opts ...storefront.Option) (*Service, error) {
	config.Apply(opts...)

	adpt, err := adapter.Get(adapter.AdapterName(config.Type))
	if err != nil {
		return nil, err
	}

	return Open(ctx, adpt, config)
}
