// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"
	"strings"

	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ProviderType is the database type served by this package.
const ProviderType = "sqlite"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the go-sqlite3 DSN for cfg. A busy timeout is added
// unless the path already carries query parameters.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if strings.Contains(c.Database, "?") {
		return c.Database
	}
	return c.Database + "?_busy_timeout=5000&_foreign_keys=on"
}

// NewProvider creates the SQLite DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, ProviderType)
}
