package gorm

import (
	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
)

// Module provides the connection resolver. Dialect modules provide the DBProviders.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(fx.Self(), new(database.DBConnectionResolver)),
	)),
)
