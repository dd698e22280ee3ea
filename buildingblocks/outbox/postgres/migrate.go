package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/log"
	"github.com/e-athena/basic-building-blocks-sub002/buildingblocks/tenant"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationsTable is the golang-migrate bookkeeping table used for the
// outbox schema, kept apart from the service's own migrations.
const MigrationsTable = "outbox_schema_migrations"

// Migrate applies the outbox migrations to db. A database already at the
// latest version is not an error.
func Migrate(ctx context.Context, db *sql.DB, logger log.Logger) error {
	if db == nil {
		return ErrConnectionRequired
	}

	if logger == nil {
		logger = log.NewNop()
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open outbox migrations: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}

	driver, err := migratepg.WithConnection(ctx, conn, &migratepg.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = conn.Close()

		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = driver.Close()

		return fmt.Errorf("create migration instance: %w", err)
	}

	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Log(ctx, log.LevelDebug, "outbox schema up to date")

			return nil
		}

		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("outbox migration failed: dirty database version %d", dirtyErr.Version)
		}

		return fmt.Errorf("outbox migration failed: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "outbox schema migrated")

	return nil
}

// MigrateStore applies the migrations to the primary of store. Shared
// stores reuse the main database and need no separate run.
func MigrateStore(ctx context.Context, store *tenant.Store, logger log.Logger) error {
	if store == nil {
		return ErrConnectionRequired
	}

	if store.Shared() {
		return nil
	}

	db, err := store.Primary()
	if err != nil {
		return fmt.Errorf("migrate tenant %q: %w", store.Key(), err)
	}

	return Migrate(ctx, db, logger)
}
