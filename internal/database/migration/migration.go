// Package migration applies the embedded goose migrations that create the customers and users tables.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	"crmapi/internal/logging"
)

//go:embed sql/*.sql
var migrations embed.FS

const dir = "sql"

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// EnsureMigrated brings the schema up to the latest embedded version. Already applied
// versions are skipped by goose, so it is safe to call on every start.
func EnsureMigrated(ctx context.Context, db *sql.DB, log *slog.Logger, dbHost string) error {
	if log == nil {
		log = logging.Discard()
	}
	log = log.With(slog.String("component", "database"), slog.String("db_host", dbHost))
	start := time.Now()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{log})
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	log.InfoContext(ctx, "db_migration_start")
	if err := gooseUpContext(ctx, db, dir); err != nil {
		log.ErrorContext(ctx, "db_migration_failed",
			logging.Err(err),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("migrate: %w", err)
	}

	log.InfoContext(ctx, "db_migration_success",
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

// gooseLogger routes goose's printf output into the structured logger.
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info("db_migration_step", slog.String("detail", fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error("db_migration_fatal", slog.String("detail", fmt.Sprintf(format, v...)))
	os.Exit(1)
}
