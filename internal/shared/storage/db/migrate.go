package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"contract-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

func prepareGoose() error {
	goose.SetBaseFS(migrationFiles)
	return goose.SetDialect("postgres")
}

// RunMigrations applies the embedded goose migrations. A nil database is a no-op
// so memory-backed dev runs can call it unconditionally.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, database, migrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrationStatus prints the applied state of every embedded migration.
func MigrationStatus(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return errors.New("migration status needs a database")
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	names, err := migrationNames()
	if err != nil {
		return err
	}
	telemetry.Info("db.migration_status", map[string]any{"embedded": len(names)})
	return goose.StatusContext(ctx, database, migrationsDir)
}

// migrationNames lists the embedded migration files in apply order.
func migrationNames() ([]string, error) {
	return fs.Glob(migrationFiles, migrationsDir+"/*.sql")
}
