package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// goose keeps its dialect, filesystem and logger in package state.
var gooseMu sync.Mutex

// gooseLogger sends goose output to the service logger.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

// Fatalf must not return.
func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	l.logger.Error(msg, "component", "goose")
	panic(msg)
}

// Migrate brings the entities schema up to date for the service's dialect.
func (s *Service) Migrate(ctx context.Context) error {
	dialect := s.adapter.Dialect()
	dir := "migrations/" + dialect
	if _, err := fs.Stat(migrationsFS, dir); err != nil {
		return fmt.Errorf("no migrations for dialect %s: %w", dialect, err)
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{logger: s.logger})
	defer goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}

	s.logger.Info("schema migrated", "dialect", dialect)
	return nil
}

// MigrationVersion returns the applied schema version.
func (s *Service) MigrationVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(gooseLogger{logger: s.logger})
	defer goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(s.adapter.Dialect()); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}
