package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"crm_saas_backend/platform/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// MigrationStatus is one row of `migrate status` output.
type MigrationStatus struct {
	Version int64
	Path    string
	Applied bool
}

func newProvider(cfg config.DatabaseConfig, migrations fs.FS) (*goose.Provider, *sql.DB, error) {
	sqlDB, err := sql.Open("pgx", cfg.GetDatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("open migration connection: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrations)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("create migration provider: %w", err)
	}
	return provider, sqlDB, nil
}

// RunMigrations applies all pending migrations and returns how many ran.
func RunMigrations(ctx context.Context, cfg config.DatabaseConfig, migrations fs.FS) (int, error) {
	provider, sqlDB, err := newProvider(cfg, migrations)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sqlDB.Close() }()

	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("apply migrations: %w", err)
	}
	return len(results), nil
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, cfg config.DatabaseConfig, migrations fs.FS) (int64, error) {
	provider, sqlDB, err := newProvider(cfg, migrations)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sqlDB.Close() }()

	result, err := provider.Down(ctx)
	if err != nil {
		return 0, fmt.Errorf("rollback migration: %w", err)
	}
	if result == nil || result.Source == nil {
		return 0, nil
	}
	return result.Source.Version, nil
}

// Status lists every known migration and whether it has been applied.
func Status(ctx context.Context, cfg config.DatabaseConfig, migrations fs.FS) ([]MigrationStatus, error) {
	provider, sqlDB, err := newProvider(cfg, migrations)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sqlDB.Close() }()

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]MigrationStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationStatus{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

// Version returns the current schema version.
func Version(ctx context.Context, cfg config.DatabaseConfig, migrations fs.FS) (int64, error) {
	provider, sqlDB, err := newProvider(cfg, migrations)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sqlDB.Close() }()
	return provider.GetDBVersion(ctx)
}
