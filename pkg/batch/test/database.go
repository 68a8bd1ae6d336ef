package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database/migration"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
)

// NewSQLiteConnection opens a SQLite database in a temporary directory. When
// migrate is set the metadata schema is applied before it is returned.
func NewSQLiteConnection(t testing.TB, migrate bool) database.DBConnection {
	t.Helper()
	cfg := config.NewConfig()
	cfg.RORefCat.DatabaseConfigs = map[string]interface{}{
		"metadata": map[string]interface{}{"type": "sqlite", "database": filepath.Join(t.TempDir(), "catalog.db")},
	}
	provider := sqlite.NewProvider(cfg)
	t.Cleanup(func() { _ = provider.CloseAll() })
	conn, err := provider.GetConnection("metadata")
	require.NoError(t, err)
	if migrate {
		require.NoError(t, migration.NewMigrator(conn, "").Up(context.Background()))
	}
	return conn
}

// MockDBConnectionResolver is a testify mock of database.DBConnectionResolver.
type MockDBConnectionResolver struct {
	mock.Mock
}

// ResolveDBConnection records the call and returns the configured values.
func (m *MockDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	args := m.Called(ctx, name)
	conn, _ := args.Get(0).(database.DBConnection)
	return conn, args.Error(1)
}

type singleConnectionResolver struct {
	conn database.DBConnection
}

func (r *singleConnectionResolver) ResolveDBConnection(context.Context, string) (database.DBConnection, error) {
	return r.conn, nil
}

// NewSingleConnectionResolver returns a resolver that answers every name with conn.
func NewSingleConnectionResolver(conn database.DBConnection) database.DBConnectionResolver {
	return &singleConnectionResolver{conn: conn}
}

var (
	_ database.DBConnectionResolver = (*MockDBConnectionResolver)(nil)
	_ database.DBConnectionResolver = (*singleConnectionResolver)(nil)
)
