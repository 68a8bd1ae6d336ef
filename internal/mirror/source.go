package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
)

// Source names.
const (
	SourceShards    = "shards"
	SourceMetastore = "metastore"
)

// absentVersion is the version of a shard that does not exist in the source.
const absentVersion = "absent"

// Fetched is one partition as read from a Source.
type Fetched struct {
	Records []*model.Sounding
	Version string
	Bytes   int
}

// Source is where partitions are fetched from.
type Source interface {
	Name() string
	// Version returns the current version marker of a partition without fetching it.
	Version(ctx context.Context, id shard.ID) (string, error)
	// Fetch reads a whole partition.
	Fetch(ctx context.Context, id shard.ID) (*Fetched, error)
	// List returns the partitions available for scope.
	List(ctx context.Context, scope Scope) ([]shard.ID, error)
}

// ShardSource reads partitions from shard files in the ObjectStore. A missing
// shard is an empty partition.
type ShardSource struct {
	objects *storage.ObjectStore
	prefix  string
	version string
}

// NewShardSource reads {prefix}/{version}/export_subsets/ from objects.
func NewShardSource(objects *storage.ObjectStore, prefix, version string) *ShardSource {
	return &ShardSource{objects: objects, prefix: prefix, version: version}
}

func (s *ShardSource) Name() string { return SourceShards }

func (s *ShardSource) Version(ctx context.Context, id shard.ID) (string, error) {
	attrs, err := s.objects.Stat(ctx, shard.Path(s.prefix, s.version, id))
	if errors.Is(err, storage.ErrObjectNotExist) {
		return absentVersion, nil
	}
	if err != nil {
		return "", err
	}
	return attrs.ETag, nil
}

func (s *ShardSource) Fetch(ctx context.Context, id shard.ID) (*Fetched, error) {
	p := shard.Path(s.prefix, s.version, id)
	attrs, err := s.objects.Stat(ctx, p)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &Fetched{Version: absentVersion}, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := s.objects.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	_, records, err := shard.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Fetched{Records: records, Version: attrs.ETag, Bytes: len(data)}, nil
}

// List pages through the shard prefix and keeps the shards in scope.
func (s *ShardSource) List(ctx context.Context, scope Scope) ([]shard.ID, error) {
	listing := s.objects.NewListing(shard.Prefix(s.prefix, s.version), "", 1000)
	var out []shard.ID
	for !listing.Done() {
		page, err := listing.Next(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range page {
			id, err := shard.IDFromPath(a.Name)
			if err != nil {
				continue
			}
			if scope.Contains(id) {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// ShardQuerier is the MetadataStore query a StoreSource needs.
type ShardQuerier interface {
	QueryShard(ctx context.Context, mission string, day time.Time) ([]*model.Sounding, error)
}

// StoreSource reads partitions directly from the MetadataStore. Its version
// marker is a content hash.
type StoreSource struct {
	store ShardQuerier
}

// NewStoreSource reads from store.
func NewStoreSource(store ShardQuerier) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Name() string { return SourceMetastore }

func (s *StoreSource) Version(ctx context.Context, id shard.ID) (string, error) {
	f, err := s.Fetch(ctx, id)
	if err != nil {
		return "", err
	}
	return f.Version, nil
}

func (s *StoreSource) Fetch(ctx context.Context, id shard.ID) (*Fetched, error) {
	records, err := s.store.QueryShard(ctx, id.Mission, id.Day)
	if err != nil {
		return nil, err
	}
	data, err := shard.Encode(id, records)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	model.SortSoundings(records)
	return &Fetched{Records: records, Version: hex.EncodeToString(sum[:]), Bytes: len(data)}, nil
}

// List enumerates every day of the scope. The scope must be bounded in time.
func (s *StoreSource) List(_ context.Context, scope Scope) ([]shard.ID, error) {
	if scope.From.IsZero() || scope.To.IsZero() || len(scope.Missions) == 0 {
		return nil, errors.New("the metastore source can only list scopes with missions and a date range")
	}
	return shard.IDs(scope.Missions, scope.From, scope.To), nil
}
