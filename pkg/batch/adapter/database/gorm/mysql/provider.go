// Package mysql provides a GORM DBProvider implementation for MySQL databases.
package mysql

import (
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// ProviderType is the database type served by this package.
const ProviderType = "mysql"

func init() {
	gormadapter.RegisterDialector(ProviderType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the DSN with the driver's own formatter.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	dc := driver.NewConfig()
	dc.User = c.User
	dc.Passwd = c.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dc.DBName = c.Database
	dc.ParseTime = true
	dc.MultiStatements = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// NewProvider creates the MySQL DBProvider.
func NewProvider(cfg *config.Config) database.DBProvider {
	return gormadapter.NewBaseProvider(cfg, ProviderType)
}
