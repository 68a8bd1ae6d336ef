package storage

import "go.uber.org/fx"

// Module provides the connection resolver. Provider modules (local, gcs) fill the provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewConnectionResolver,
		fx.As(fx.Self(), new(StorageConnectionResolver)),
	)),
)
