package local

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
)

// Module registers the local provider in the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.As(new(storageAdapter.StorageProvider)),
		fx.ResultTags(`group:"`+storageAdapter.ProviderGroup+`"`),
	)),
)
