// Package database defines the relational database abstraction used by the
// metadata store. Providers per dialect (sqlite, postgres, mysql) hand out
// DBConnections; writes that must be atomic run through DBConnection.Transaction.
package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/database/config"
	coreAdapter "github.com/tigerroll/rorefcat/pkg/batch/core/adapter"
)

// DBExecutor defines the read and write operations available both on a
// connection and inside a transaction.
type DBExecutor interface {
	// ExecuteUpsert inserts model into tableName. On a conflict over conflictColumns the
	// updateColumns are overwritten; with no updateColumns the row is left untouched
	// (ON CONFLICT DO NOTHING) and rowsAffected is 0.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteQuery executes an equality-filtered SELECT into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryWhere executes a SELECT with a raw WHERE condition and positional arguments.
	ExecuteQueryWhere(ctx context.Context, target interface{}, where string, args []interface{}, orderBy string) error

	// ExecuteDelete deletes the rows of tableName matching where.
	ExecuteDelete(ctx context.Context, tableName string, where string, args ...interface{}) (rowsAffected int64, err error)

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection represents an abstraction of a database connection.
type DBConnection interface {
	coreAdapter.ResourceConnection
	DBExecutor

	// Transaction runs fn in a single transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx DBExecutor) error) error
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// RefreshConnection pings the connection pool.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves named connections across providers.
type DBConnectionResolver interface {
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider hands out the connections of one database type.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type ("sqlite", "postgres", "mysql").
	Type() string
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is the fx value group collecting every DBProvider.
const DBProviderGroup = "db_providers"
