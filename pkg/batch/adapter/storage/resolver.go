package storage

import (
	"context"
	"fmt"

	storageConfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"

	"go.uber.org/fx"
)

// ProviderGroup is the fx value group collecting every StorageProvider.
const ProviderGroup = "storage_providers"

// LookupConfig decodes the named block under rorefcat.storage.
func LookupConfig(cfg *coreConfig.Config, name string) (storageConfig.StorageConfig, error) {
	var sc storageConfig.StorageConfig
	raw, ok := cfg.RORefCat.StorageConfigs[name]
	if !ok {
		return sc, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return sc, fmt.Errorf("invalid storage configuration for '%s': expected a mapping, got %T", name, raw)
	}
	if err := configbinder.BindProperties(props, &sc); err != nil {
		return sc, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return sc, nil
}

// ConnectionResolver picks the provider matching the configured type of a named connection.
type ConnectionResolver struct {
	providers map[string]StorageProvider
	cfg       *coreConfig.Config
}

var _ StorageConnectionResolver = (*ConnectionResolver)(nil)

// ResolverParams collects the registered providers.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Config    *coreConfig.Config
}

// NewConnectionResolver creates a resolver over the given providers.
func NewConnectionResolver(p ResolverParams) *ConnectionResolver {
	providers := make(map[string]StorageProvider, len(p.Providers))
	for _, sp := range p.Providers {
		providers[sp.Type()] = sp
	}
	return &ConnectionResolver{providers: providers, cfg: p.Config}
}

// ResolveStorageConnection returns the connection called name.
func (r *ConnectionResolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	sc, err := LookupConfig(r.cfg, name)
	if err != nil {
		return nil, err
	}
	provider, ok := r.providers[sc.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", sc.Type, name)
	}
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, sc.Type, err)
	}
	logger.Debugf("Resolved storage connection '%s' (%s).", name, sc.Type)
	return conn, nil
}

// CloseAll closes the connections of every provider.
func (r *ConnectionResolver) CloseAll() error {
	var firstErr error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
