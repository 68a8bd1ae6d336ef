package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
)

type versionSource struct {
	version  string
	fetches  int
	versions int
}

func (s *versionSource) Name() string { return "fake" }
func (s *versionSource) Version(context.Context, shard.ID) (string, error) {
	s.versions++
	return s.version, nil
}
func (s *versionSource) Fetch(context.Context, shard.ID) (*Fetched, error) {
	s.fetches++
	return &Fetched{Version: s.version, Records: []*model.Sounding{}}, nil
}
func (s *versionSource) List(context.Context, Scope) ([]shard.ID, error) { return nil, nil }

func TestGetPartition_StaleAfter(t *testing.T) {
	ctx := context.Background()
	src := &versionSource{version: "v1"}
	m, err := New(Options{Root: t.TempDir(), StaleAfter: time.Hour}, src, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	require.NoError(t, err)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	id := shard.NewID("champ", clock)

	_, err = m.GetPartition(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetches)

	clock = clock.Add(2 * time.Hour)
	_, err = m.GetPartition(ctx, id, true)
	require.NoError(t, err)
	assert.Zero(t, src.versions, "stale partitions are served when allowed")

	p, err := m.GetPartition(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, 1, src.versions)
	assert.Equal(t, 1, src.fetches, "an unchanged version only moves last_synced_at")
	assert.Equal(t, clock, p.LastSyncedAt)

	src.version = "v2"
	clock = clock.Add(2 * time.Hour)
	p, err = m.GetPartition(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, 2, src.fetches)
	assert.Equal(t, "v2", p.SourceVersion)
}
