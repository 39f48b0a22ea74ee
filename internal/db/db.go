// Package db holds the users table schema and applies it as versioned
// migrations.
package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createUsersFile = "migrations/000001_create_users.up.sql"

// CreateUsersTable returns the idempotent DDL for the users table. It is the
// same statement the first migration applies.
func CreateUsersTable() string {
	b, err := migrationsFS.ReadFile(createUsersFile)
	if err != nil {
		// Embedded at build time; a missing file is a build defect.
		panic(fmt.Sprintf("db: read %s: %v", createUsersFile, err))
	}
	return string(b)
}

// RunMigrations applies every pending migration against databaseURL.
// Running it on an up-to-date database is not an error.
func RunMigrations(databaseURL string) error {
	return withMigrate(databaseURL, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// RollbackMigrations reverts every applied migration.
func RollbackMigrations(databaseURL string) error {
	return withMigrate(databaseURL, func(m *migrate.Migrate) error {
		return m.Down()
	})
}

func withMigrate(databaseURL string, fn func(*migrate.Migrate) error) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL is empty")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
