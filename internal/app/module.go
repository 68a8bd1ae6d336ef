package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/fx"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/metastore"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/internal/occlist"
	"github.com/tigerroll/rorefcat/internal/planner"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/internal/worker"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/database/migration"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/engine/step/retry"
	infraMetrics "github.com/tigerroll/rorefcat/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// Stores are the buckets the catalog reads and writes.
type Stores struct {
	// Staging holds canonical files and metadata shards.
	Staging *storageAdapter.ObjectStore
	// Definitions holds job descriptors and run logs.
	Definitions *storageAdapter.ObjectStore
	// Sources is bound to the connection of the processing centers' buckets.
	Sources *storageAdapter.ObjectStore
}

// NewStores resolves the configured storage connections.
func NewStores(lc fx.Lifecycle, resolver *storageAdapter.ConnectionResolver, cfg *config.Config) (*Stores, error) {
	cc := cfg.RORefCat.Catalog
	ctx := context.Background()
	conn, err := resolver.ResolveStorageConnection(ctx, cc.StorageRef)
	if err != nil {
		return nil, err
	}
	srcConn := conn
	if cc.SourceStorageRef != "" && cc.SourceStorageRef != cc.StorageRef {
		if srcConn, err = resolver.ResolveStorageConnection(ctx, cc.SourceStorageRef); err != nil {
			return nil, err
		}
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return resolver.CloseAll() }})

	staging := storageAdapter.NewObjectStore(conn, cc.StagingBucket)
	return &Stores{
		Staging:     staging,
		Definitions: staging.WithBucket(cc.DefinitionsBucket),
		Sources:     storageAdapter.NewObjectStore(srcConn, ""),
	}, nil
}

// MetastoreOpener connects to the MetadataStore and applies its schema on first use.
type MetastoreOpener struct {
	once     sync.Once
	resolver database.DBConnectionResolver
	ref      string
	store    *metastore.Store
	err      error
}

// NewMetastoreOpener returns an opener for the configured db_ref.
func NewMetastoreOpener(lc fx.Lifecycle, resolver *gormadapter.GormDBConnectionResolver, cfg *config.Config) *MetastoreOpener {
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return resolver.CloseAll() }})
	return OpenerFor(resolver, cfg.RORefCat.Catalog.DBRef)
}

// OpenerFor returns an opener resolving ref through resolver.
func OpenerFor(resolver database.DBConnectionResolver, ref string) *MetastoreOpener {
	return &MetastoreOpener{resolver: resolver, ref: ref}
}

// Open returns the MetadataStore.
func (o *MetastoreOpener) Open(ctx context.Context) (*metastore.Store, error) {
	o.once.Do(func() {
		conn, err := o.resolver.ResolveDBConnection(ctx, o.ref)
		if err != nil {
			o.err = err
			return
		}
		if err := migration.NewMigrator(conn, "").Up(ctx); err != nil {
			o.err = err
			return
		}
		logger.Debugf("Metadata store '%s' (%s) is ready.", o.ref, conn.Type())
		o.store = metastore.New(conn)
	})
	return o.store, o.err
}

// NewMetastore opens the MetadataStore eagerly, for commands that always write to it.
func NewMetastore(o *MetastoreOpener) (*metastore.Store, error) {
	return o.Open(context.Background())
}

// NewMirrorSource selects the partition source named by mirror.source.
func NewMirrorSource(cfg *config.Config, stores *Stores, opener *MetastoreOpener) (mirror.Source, error) {
	if cfg.RORefCat.Mirror.Source == mirror.SourceMetastore {
		store, err := opener.Open(context.Background())
		if err != nil {
			return nil, err
		}
		return mirror.NewStoreSource(store), nil
	}
	return mirror.NewShardSource(stores.Staging, cfg.RORefCat.Catalog.ShardPrefix, cfg.RORefCat.Batch.Version), nil
}

// NewMirror opens the local mirror of the configured catalog version. An
// unset mirror.root falls back to the user cache directory.
func NewMirror(cfg *config.Config, source mirror.Source, recorder metrics.MetricRecorder, tracer metrics.Tracer) (*mirror.Mirror, error) {
	mc := cfg.RORefCat.Mirror
	if mc.Root == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		mc.Root = filepath.Join(dir, "rorefcat", "mirror")
	}
	return mirror.New(mirror.OptionsFromConfig(mc, cfg.RORefCat.Batch.Version), source, recorder, tracer)
}

// NewClient returns the OccurrenceList query client.
func NewClient(m *mirror.Mirror, reg *mission.Registry, stores *Stores, tracer metrics.Tracer) *occlist.Client {
	return occlist.NewClient(m, reg, stores.Staging, tracer)
}

// NewPlanner returns the JobPlanner, which checks the catalog through the OccurrenceList client.
func NewPlanner(cfg *config.Config, reg *mission.Registry, client *occlist.Client, stores *Stores, recorder metrics.MetricRecorder, tracer metrics.Tracer) *planner.Planner {
	return planner.New(planner.Params{
		Registry: reg,
		Catalog:  client,
		Sources:  stores.Sources,
		Config:   cfg.RORefCat.Catalog,
		Batch:    cfg.RORefCat.Batch,
		Recorder: recorder,
		Tracer:   tracer,
	})
}

// NewReformatter returns the configured external reformatter.
func NewReformatter(cfg *config.Config) (worker.Reformatter, error) {
	return worker.NewExecReformatter(cfg.RORefCat.Reformatter)
}

// NewWorker returns the ReformatCatalogWorker.
func NewWorker(cfg *config.Config, reg *mission.Registry, stores *Stores, store *metastore.Store, r worker.Reformatter, recorder metrics.MetricRecorder, tracer metrics.Tracer) *worker.Worker {
	bc := cfg.RORefCat.Batch
	workingDir := bc.WorkingDir
	if workingDir == "" {
		workingDir = os.TempDir()
	}
	return worker.New(worker.Params{
		Registry:    reg,
		Sources:     stores.Sources,
		Staging:     stores.Staging,
		Definitions: stores.Definitions,
		Catalog:     store,
		Reformatter: r,
		Options: worker.Options{
			WorkingDir: workingDir,
			Clobber:    bc.Clobber,
			Retry:      bc.Retry,
			ItemSkip:   bc.ItemSkip,
			LogDir:     cfg.RORefCat.System.Logging.Dir,
			LogsPrefix: cfg.RORefCat.Catalog.LogsPrefix,
		},
		Recorder: recorder,
		Tracer:   tracer,
	})
}

// NewExporter returns the shard exporter writing MetadataStore shards to the staging bucket.
func NewExporter(cfg *config.Config, store *metastore.Store, stores *Stores, recorder metrics.MetricRecorder) *shard.Exporter {
	return shard.NewExporter(store, stores.Staging, cfg.RORefCat.Catalog.ShardPrefix, cfg.RORefCat.Batch.Version,
		retry.NewExponentialPolicy(cfg.RORefCat.Batch.Retry), recorder)
}

// Module provides every catalog component. fx constructs only what a command populates.
var Module = fx.Options(
	infraMetrics.Module,
	storageAdapter.Module,
	local.Module,
	gcs.Module,
	gormadapter.Module,
	fx.Provide(
		mission.Default,
		NewStores,
		NewMetastoreOpener,
		NewMetastore,
		NewMirrorSource,
		NewMirror,
		NewClient,
		NewPlanner,
		NewReformatter,
		NewWorker,
		NewExporter,
	),
)
