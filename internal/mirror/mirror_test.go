package mirror_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/internal/shard"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/test"
)

var day = time.Date(2003, 2, 14, 0, 0, 0, 0, time.UTC)

type countingSource struct {
	mirror.Source
	fetches atomic.Int32
}

func (c *countingSource) Fetch(ctx context.Context, id shard.ID) (*mirror.Fetched, error) {
	c.fetches.Add(1)
	return c.Source.Fetch(ctx, id)
}

func newObjects(t *testing.T) *storageAdapter.ObjectStore {
	t.Helper()
	return test.NewLocalStore(t, "staging")
}

func putShard(t *testing.T, objects *storageAdapter.ObjectStore, mission string, d time.Time, txs ...string) {
	t.Helper()
	var records []*model.Sounding
	for i, tx := range txs {
		s, err := model.NewSounding(model.SoundingFields{Mission: mission, Receiver: mission, Transmitter: tx, Time: d.Add(time.Duration(i+1) * time.Hour)})
		require.NoError(t, err)
		records = append(records, s)
	}
	id := shard.NewID(mission, d)
	data, err := shard.Encode(id, records)
	require.NoError(t, err)
	_, err = objects.Put(context.Background(), shard.Path("dynamo", "1.1", id), data, nil)
	require.NoError(t, err)
}

func options(root string) mirror.Options {
	return mirror.Options{
		Root:        root,
		HotCacheTTL: time.Minute,
		Retry:       test.FastRetry(3),
		Populate:    config.PopulateConfig{Concurrency: 2, RateLimit: 1000, Burst: 4},
	}
}

func newMirror(t *testing.T, root string, src mirror.Source, mutate ...func(*mirror.Options)) *mirror.Mirror {
	t.Helper()
	opts := options(root)
	for _, f := range mutate {
		f(&opts)
	}
	m, err := mirror.New(opts, src, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	require.NoError(t, err)
	return m
}

func TestGetPartition_FetchesOnceThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	objects := newObjects(t)
	putShard(t, objects, "champ", day, "G05", "G07")
	root := t.TempDir()
	src := &countingSource{Source: mirror.NewShardSource(objects, "dynamo", "1.1")}

	m := newMirror(t, root, src)
	id := shard.NewID("champ", day)
	p, err := m.GetPartition(ctx, id, true)
	require.NoError(t, err)
	assert.Len(t, p.Records, 2)
	assert.NotEmpty(t, p.SourceVersion)
	assert.True(t, m.Cached(id))

	_, err = m.GetPartition(ctx, id, true)
	require.NoError(t, err)

	reopened := newMirror(t, root, src)
	p, err = reopened.GetPartition(ctx, id, true)
	require.NoError(t, err)
	assert.Len(t, p.Records, 2)
	assert.Equal(t, int32(1), src.fetches.Load(), "disk and memory hits must not fetch")
}

func TestGetPartition_MissingShardIsEmpty(t *testing.T) {
	m := newMirror(t, t.TempDir(), mirror.NewShardSource(newObjects(t), "dynamo", "1.1"))
	p, err := m.GetPartition(context.Background(), shard.NewID("champ", day), true)
	require.NoError(t, err)
	assert.Empty(t, p.Records)
}

func TestRefresh_ComparesVersion(t *testing.T) {
	ctx := context.Background()
	objects := newObjects(t)
	putShard(t, objects, "champ", day, "G05")
	src := &countingSource{Source: mirror.NewShardSource(objects, "dynamo", "1.1")}
	m := newMirror(t, t.TempDir(), src)
	id := shard.NewID("champ", day)

	first, err := m.GetPartition(ctx, id, true)
	require.NoError(t, err)

	same, err := m.Refresh(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.SourceVersion, same.SourceVersion)
	assert.False(t, same.LastSyncedAt.Before(first.LastSyncedAt))
	assert.Equal(t, int32(1), src.fetches.Load(), "unchanged partitions are not re-fetched")

	putShard(t, objects, "champ", day, "G05", "G09")
	changed, err := m.Refresh(ctx, id)
	require.NoError(t, err)
	assert.Len(t, changed.Records, 2)
	assert.NotEqual(t, first.SourceVersion, changed.SourceVersion)

	again, err := m.GetPartition(ctx, id, true)
	require.NoError(t, err)
	assert.Len(t, again.Records, 2)
}

func TestGetPartition_RevalidatesWhenStaleNotAllowed(t *testing.T) {
	ctx := context.Background()
	objects := newObjects(t)
	putShard(t, objects, "champ", day, "G05")
	src := &countingSource{Source: mirror.NewShardSource(objects, "dynamo", "1.1")}
	root := t.TempDir()
	id := shard.NewID("champ", day)

	p, err := newMirror(t, root, src).GetPartition(ctx, id, true)
	require.NoError(t, err)
	require.Len(t, p.Records, 1)

	putShard(t, objects, "champ", day, "G05", "G07", "G09")
	m := newMirror(t, root, src)
	p, err = m.GetPartition(ctx, id, true)
	require.NoError(t, err)
	assert.Len(t, p.Records, 1, "allowStale serves the cached copy")

	p, err = m.GetPartition(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, p.Records, 3)
	assert.Equal(t, int32(2), src.fetches.Load())

	_, err = m.GetPartition(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.fetches.Load(), "an unchanged version is not re-fetched")
}

type failingSource struct {
	calls atomic.Int32
	err   error
}

func (f *failingSource) Name() string { return "failing" }
func (f *failingSource) Version(context.Context, shard.ID) (string, error) {
	return "", f.err
}
func (f *failingSource) Fetch(context.Context, shard.ID) (*mirror.Fetched, error) {
	f.calls.Add(1)
	return nil, f.err
}
func (f *failingSource) List(context.Context, mirror.Scope) ([]shard.ID, error) {
	return []shard.ID{shard.NewID("champ", day)}, nil
}

func TestGetPartition_RetriesThenFailsLoudly(t *testing.T) {
	src := &failingSource{err: exception.NewStorageTransientError("test", "get", "x", errors.New("503"))}
	m := newMirror(t, t.TempDir(), src)

	_, err := m.GetPartition(context.Background(), shard.NewID("champ", day), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrStorageFatal))
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestPopulate_IsResumable(t *testing.T) {
	ctx := context.Background()
	objects := newObjects(t)
	for i := 0; i < 4; i++ {
		putShard(t, objects, "champ", day.AddDate(0, 0, i), "G05")
	}
	putShard(t, objects, "metop", day, "G05")
	root := t.TempDir()
	src := mirror.NewShardSource(objects, "dynamo", "1.1")
	scope := mirror.Scope{Missions: []string{"champ"}, From: day, To: day.AddDate(0, 0, 4)}

	m := newMirror(t, root, src)
	_, err := m.GetPartition(ctx, shard.NewID("champ", day.AddDate(0, 0, 1)), true)
	require.NoError(t, err)

	var calls atomic.Int32
	report, err := m.Populate(ctx, scope, func(p mirror.Progress) {
		calls.Add(1)
		assert.Equal(t, 4, p.Total)
	})
	require.NoError(t, err)
	assert.Equal(t, mirror.PopulateReport{Total: 4, Fetched: 3, Skipped: 1, Records: 3}, report)
	assert.Equal(t, int32(4), calls.Load())

	report, err = m.Populate(ctx, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Skipped)
	assert.Zero(t, report.Fetched)
}

func TestUpdate_FetchesNewAndChangedPartitions(t *testing.T) {
	ctx := context.Background()
	objects := newObjects(t)
	putShard(t, objects, "champ", day, "G05")
	putShard(t, objects, "champ", day.AddDate(0, 0, 1), "G05")
	src := &countingSource{Source: mirror.NewShardSource(objects, "dynamo", "1.1")}
	m := newMirror(t, t.TempDir(), src)
	scope := mirror.Scope{Missions: []string{"champ"}, From: day, To: day.AddDate(0, 0, 3)}

	_, err := m.Populate(ctx, scope, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), src.fetches.Load())

	putShard(t, objects, "champ", day.AddDate(0, 0, 1), "G05", "G07")
	putShard(t, objects, "champ", day.AddDate(0, 0, 2), "G01")
	report, err := m.Update(ctx, scope, nil)
	require.NoError(t, err)
	assert.Equal(t, mirror.PopulateReport{Total: 3, Fetched: 2, Skipped: 1, Records: 3}, report)
	assert.Equal(t, int32(4), src.fetches.Load())

	p, err := m.GetPartition(ctx, shard.NewID("champ", day.AddDate(0, 0, 1)), true)
	require.NoError(t, err)
	assert.Len(t, p.Records, 2)
}

func TestPopulate_HonoursCancellation(t *testing.T) {
	objects := newObjects(t)
	putShard(t, objects, "champ", day, "G05")
	m := newMirror(t, t.TempDir(), mirror.NewShardSource(objects, "dynamo", "1.1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Populate(ctx, mirror.Scope{Missions: []string{"champ"}}, nil)
	assert.Error(t, err)
}

func TestOfflineAndClear(t *testing.T) {
	ctx := context.Background()
	objects := newObjects(t)
	putShard(t, objects, "champ", day, "G05")
	putShard(t, objects, "champ", day.AddDate(0, 0, 1), "G05")
	root := t.TempDir()

	online := newMirror(t, root, mirror.NewShardSource(objects, "dynamo", "1.1"))
	_, err := online.GetPartition(ctx, shard.NewID("champ", day), true)
	require.NoError(t, err)

	offline := newMirror(t, root, mirror.NewShardSource(objects, "dynamo", "1.1"), func(o *mirror.Options) { o.Offline = true })
	ids, err := offline.Partitions(ctx, mirror.Scope{Missions: []string{"champ"}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "champ_2003-02-14", ids[0].String())

	_, err = offline.GetPartition(ctx, shard.NewID("champ", day.AddDate(0, 0, 1)), true)
	assert.True(t, errors.Is(err, exception.ErrStorageFatal))

	remote, err := online.Partitions(ctx, mirror.Scope{Missions: []string{"champ"}})
	require.NoError(t, err)
	assert.Len(t, remote, 2)

	n, err := online.Clear(mirror.Scope{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, online.Cached(shard.NewID("champ", day)))
}

func TestScope_Contains(t *testing.T) {
	s := mirror.Scope{Missions: []string{"champ"}, From: day.Add(6 * time.Hour), To: day.AddDate(0, 0, 1)}
	assert.True(t, s.Contains(shard.NewID("champ", day)))
	assert.False(t, s.Contains(shard.NewID("champ", day.AddDate(0, 0, 1))))
	assert.False(t, s.Contains(shard.NewID("metop", day)))
	assert.True(t, mirror.Scope{}.Contains(shard.NewID("metop", day)))
}
