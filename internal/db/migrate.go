package db

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rewear/apiserver/config"
)

// DefaultMigrationsDir is relative to the repository root.
const DefaultMigrationsDir = "internal/db/migrations"

// MigrateUp applies all pending up migrations found in dir.
func MigrateUp(cfg config.DatabaseConfig, dir string) error {
	return runMigrations(cfg, dir, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back the given number of migrations. steps <= 0 rolls
// back everything.
func MigrateDown(cfg config.DatabaseConfig, dir string, steps int) error {
	return runMigrations(cfg, dir, func(m *migrate.Migrate) error {
		if steps <= 0 {
			return m.Down()
		}
		return m.Steps(-steps)
	})
}

func runMigrations(cfg config.DatabaseConfig, dir string, apply func(*migrate.Migrate) error) error {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}

	migrator, err := migrate.New("file://"+filepath.ToSlash(abs), PostgresURL(cfg))
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := apply(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migrate failed: %w", err)
	}
	return nil
}
