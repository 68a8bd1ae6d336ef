// Package mirror keeps a local, demand-driven copy of the metadata partitions
// (one per mission and day). Partitions are fetched whole from a Source,
// persisted atomically on local disk and kept decoded in a short-lived
// in-memory cache. Nothing is evicted from disk except by Clear.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/engine/step/retry"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const module = "mirror"

// Partition is one cached mission/day shard.
type Partition struct {
	ID            shard.ID
	LastSyncedAt  time.Time
	SourceVersion string
	Records       []*model.Sounding
}

// Scope selects partitions. Empty Missions selects every mission; zero times leave the range open.
type Scope struct {
	Missions []string
	From     time.Time
	To       time.Time
}

// Contains reports whether id is in the scope.
func (s Scope) Contains(id shard.ID) bool {
	if len(s.Missions) > 0 {
		found := false
		for _, m := range s.Missions {
			if m == id.Mission {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !s.From.IsZero() && id.Day.Before(shard.NewID("", s.From).Day) {
		return false
	}
	if !s.To.IsZero() && !id.Day.Before(s.To) {
		return false
	}
	return true
}

// Options configure a Mirror.
type Options struct {
	// Root is the local cache directory of this catalog version.
	Root string
	// StaleAfter is how long a synced partition is trusted without a version
	// check when allowStale is false. 0 checks on every such lookup.
	StaleAfter time.Duration
	// Offline answers from the local cache only.
	Offline     bool
	HotCacheTTL time.Duration
	Retry       config.RetryConfig
	Populate    config.PopulateConfig
}

// OptionsFromConfig builds Options for catalog version from the mirror configuration.
func OptionsFromConfig(cfg config.MirrorConfig, version string) Options {
	return Options{
		Root:        filepath.Join(cfg.Root, version),
		StaleAfter:  cfg.StaleAfter,
		Offline:     cfg.Offline,
		HotCacheTTL: cfg.HotCacheTTL,
		Retry:       cfg.Retry,
		Populate:    cfg.Populate,
	}
}

// Mirror is the local metadata mirror. It is safe for use by one process;
// concurrent processes must use separate roots.
type Mirror struct {
	opts    Options
	source  Source
	hot     *cache.Cache
	policy  retry.RetryPolicy
	metrics metrics.MetricRecorder
	tracer  metrics.Tracer
	now     func() time.Time
}

// New returns a Mirror over source.
func New(opts Options, source Source, recorder metrics.MetricRecorder, tracer metrics.Tracer) (*Mirror, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("mirror root directory is not configured")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, exception.NewStorageFatalError(module, "failed to create mirror root", opts.Root, err)
	}
	ttl := opts.HotCacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Mirror{
		opts:    opts,
		source:  source,
		hot:     cache.New(ttl, 2*ttl),
		policy:  retry.NewExponentialPolicy(opts.Retry),
		metrics: recorder,
		tracer:  tracer,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Offline reports whether the mirror answers from the local cache only.
func (m *Mirror) Offline() bool { return m.opts.Offline }

// revalidate reports whether a cached partition must be compared with the
// source version before it is served.
func (m *Mirror) revalidate(p *Partition, allowStale bool) bool {
	if allowStale || m.opts.Offline {
		return false
	}
	return m.opts.StaleAfter == 0 || m.now().Sub(p.LastSyncedAt) > m.opts.StaleAfter
}

// GetPartition returns the cached partition, fetching it on a miss. With
// allowStale false a cached partition is first checked against the source
// version, unless it was synced within StaleAfter.
func (m *Mirror) GetPartition(ctx context.Context, id shard.ID, allowStale bool) (*Partition, error) {
	if v, ok := m.hot.Get(id.String()); ok {
		p := v.(*Partition)
		if !m.revalidate(p, allowStale) {
			m.metrics.RecordPartitionLookup(ctx, m.source.Name(), metrics.OutcomeMemoryHit)
			return p, nil
		}
		return m.Refresh(ctx, id)
	}

	p, err := m.readDisk(id)
	if err != nil {
		m.metrics.RecordPartitionLookup(ctx, m.source.Name(), metrics.OutcomeError)
		return nil, err
	}
	if p != nil {
		if m.revalidate(p, allowStale) {
			return m.Refresh(ctx, id)
		}
		m.hot.SetDefault(id.String(), p)
		m.metrics.RecordPartitionLookup(ctx, m.source.Name(), metrics.OutcomeDiskHit)
		return p, nil
	}

	if m.opts.Offline {
		return nil, exception.NewStorageFatalError(module, "partition is not cached and the mirror is offline", id.String(), nil)
	}
	return m.fetch(ctx, id, metrics.OutcomeFetched)
}

// Refresh re-reads a partition from the source. When the source version equals
// the cached one only LastSyncedAt moves.
func (m *Mirror) Refresh(ctx context.Context, id shard.ID) (*Partition, error) {
	p, _, err := m.refresh(ctx, id)
	return p, err
}

// refresh reports whether the partition was (re)fetched.
func (m *Mirror) refresh(ctx context.Context, id shard.ID) (*Partition, bool, error) {
	if m.opts.Offline {
		return nil, false, exception.NewStorageFatalError(module, "cannot refresh while offline", id.String(), nil)
	}
	cached, err := m.readDisk(id)
	if err != nil {
		return nil, false, err
	}
	if cached != nil {
		var version string
		err := retry.Do(ctx, module, m.policy, func(ctx context.Context) error {
			var err error
			version, err = m.source.Version(ctx, id)
			return err
		}, m.onRetry("version"))
		if err != nil {
			m.metrics.RecordPartitionLookup(ctx, m.source.Name(), metrics.OutcomeError)
			return nil, false, err
		}
		if version == cached.SourceVersion {
			touched := *cached
			touched.LastSyncedAt = m.now()
			if err := m.writeDisk(&touched); err != nil {
				return nil, false, err
			}
			m.hot.SetDefault(id.String(), &touched)
			m.metrics.RecordPartitionLookup(ctx, m.source.Name(), metrics.OutcomeUnchanged)
			return &touched, false, nil
		}
	}
	p, err := m.fetch(ctx, id, metrics.OutcomeRefreshed)
	return p, err == nil, err
}

func (m *Mirror) fetch(ctx context.Context, id shard.ID, outcome string) (_ *Partition, err error) {
	ctx, end := m.tracer.StartSpan(ctx, "mirror.fetch", map[string]string{"partition": id.String(), "source": m.source.Name()})
	defer func() { end(err) }()

	start := time.Now()
	var f *Fetched
	err = retry.Do(ctx, module, m.policy, func(ctx context.Context) error {
		var err error
		f, err = m.source.Fetch(ctx, id)
		return err
	}, m.onRetry("fetch"))
	if err != nil {
		m.metrics.RecordPartitionLookup(ctx, m.source.Name(), metrics.OutcomeError)
		return nil, err
	}
	m.metrics.RecordPartitionFetch(ctx, m.source.Name(), f.Bytes, time.Since(start))

	p := &Partition{ID: id, LastSyncedAt: m.now(), SourceVersion: f.Version, Records: f.Records}
	if err := m.writeDisk(p); err != nil {
		return nil, err
	}
	m.hot.SetDefault(id.String(), p)
	m.metrics.RecordPartitionLookup(ctx, m.source.Name(), outcome)
	logger.Debugf("Mirrored partition %s (%d records, version %s)", id, len(p.Records), f.Version)
	return p, nil
}

func (m *Mirror) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		logger.Warnf("Mirror %s failed (attempt %d), retrying: %v", op, attempt, err)
		m.metrics.RecordRetry(context.Background(), module, op)
	}
}

// Cached reports whether a partition is on local disk.
func (m *Mirror) Cached(id shard.ID) bool {
	_, err := os.Stat(m.diskPath(id))
	return err == nil
}

// Partitions returns the partition ids of scope: from the source, or from the
// local cache when offline. Ids are ordered by day then mission.
func (m *Mirror) Partitions(ctx context.Context, scope Scope) ([]shard.ID, error) {
	var (
		ids []shard.ID
		err error
	)
	if m.opts.Offline {
		ids, err = m.localPartitions(scope)
	} else {
		err = retry.Do(ctx, module, m.policy, func(ctx context.Context) error {
			var err error
			ids, err = m.source.List(ctx, scope)
			return err
		}, m.onRetry("list"))
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool {
		if !ids[i].Day.Equal(ids[j].Day) {
			return ids[i].Day.Before(ids[j].Day)
		}
		return ids[i].Mission < ids[j].Mission
	})
	return ids, nil
}

func (m *Mirror) localPartitions(scope Scope) ([]shard.ID, error) {
	missions, err := os.ReadDir(m.opts.Root)
	if err != nil {
		return nil, exception.NewStorageFatalError(module, "failed to list mirror root", m.opts.Root, err)
	}
	var out []shard.ID
	for _, dir := range missions {
		if !dir.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.opts.Root, dir.Name()))
		if err != nil {
			return nil, exception.NewStorageFatalError(module, "failed to list mirror directory", dir.Name(), err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			id, err := shard.ParseID(strings.TrimSuffix(e.Name(), ".json"))
			if err != nil || !scope.Contains(id) {
				continue
			}
			out = append(out, id)
		}
	}
	return out, nil
}

// Clear deletes the cached partitions of scope and returns how many were removed.
func (m *Mirror) Clear(scope Scope) (int, error) {
	ids, err := m.localPartitions(scope)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := os.Remove(m.diskPath(id)); err != nil && !os.IsNotExist(err) {
			return 0, exception.NewStorageFatalError(module, "failed to remove cached partition", id.String(), err)
		}
		m.hot.Delete(id.String())
	}
	logger.Infof("Cleared %d cached partitions from %s", len(ids), m.opts.Root)
	return len(ids), nil
}
