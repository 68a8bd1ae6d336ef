// Package migration applies the embedded catalog schema with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// DefaultMigrationsTable tracks applied catalog schema versions.
const DefaultMigrationsTable = "rorefcat_schema_migrations"

//go:embed resources
var resources embed.FS

// SchemaFS returns the migration files for a database type.
func SchemaFS(dbType string) (fs.FS, error) {
	dir := dbType
	if dbType == "redshift" {
		dir = "postgres"
	}
	sub, err := fs.Sub(resources, "resources/"+dir)
	if err != nil {
		return nil, err
	}
	if _, err := fs.Stat(sub, "."); err != nil {
		return nil, fmt.Errorf("no catalog schema for database type '%s'", dbType)
	}
	return sub, nil
}

// Migrator runs schema migrations against one DBConnection.
type Migrator struct {
	conn  database.DBConnection
	table string
}

// NewMigrator creates a Migrator. An empty table selects DefaultMigrationsTable.
func NewMigrator(conn database.DBConnection, table string) *Migrator {
	if table == "" {
		table = DefaultMigrationsTable
	}
	return &Migrator{conn: conn, table: table}
}

func (m *Migrator) driver(sqlDB *sql.DB) (migratedb.Driver, error) {
	switch m.conn.Type() {
	case "postgres", "redshift":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: m.table})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: m.table})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: m.table})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}

func (m *Migrator) instance() (*migrate.Migrate, func(), error) {
	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	schema, err := SchemaFS(m.conn.Type())
	if err != nil {
		return nil, nil, err
	}
	src, err := iofs.New(schema, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	drv, err := m.driver(sqlDB)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mi, err := migrate.NewWithInstance("iofs", src, m.conn.Type(), drv)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// migrate.Close would also close the shared *sql.DB owned by the connection.
	release := func() { src.Close() }
	return mi, release, nil
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", func(mi *migrate.Migrate) error { return mi.Up() })
}

// Down reverts every applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func(mi *migrate.Migrate) error { return mi.Down() })
}

// Version reports the applied schema version.
func (m *Migrator) Version() (uint, bool, error) {
	mi, release, err := m.instance()
	if err != nil {
		return 0, false, err
	}
	defer release()
	v, dirty, err := mi.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (m *Migrator) run(ctx context.Context, command string, fn func(*migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Infof("Executing catalog migration '%s' (DB: %s, Table: %s)", command, m.conn.Name(), m.table)

	mi, release, err := m.instance()
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer release()

	if err := fn(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if _, _, verr := mi.Version(); verr != nil {
			logger.Errorf("Migration failed and failed to retrieve version: %v", verr)
		}
		return fmt.Errorf("migration '%s' failed for %s: %w", command, m.conn.Type(), err)
	}
	logger.Infof("Catalog migration '%s' completed.", command)
	return nil
}
