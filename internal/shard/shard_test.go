package shard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/engine/step/retry"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/test"
)

var day = time.Date(2003, 2, 14, 0, 0, 0, 0, time.UTC)

func TestID(t *testing.T) {
	id := shard.NewID("cosmic1", day.Add(13*time.Hour))
	assert.Equal(t, "cosmic1_2003-02-14", id.String())
	assert.Equal(t, "dynamo/1.1/export_subsets/cosmic1_2003-02-14.json", shard.Path("dynamo", "1.1", id))

	parsed, err := shard.IDFromPath("dynamo/1.1/export_subsets/cosmic1_2003-02-14.json")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = shard.ParseID("cosmic1-2003-02-14")
	assert.Error(t, err)
}

func TestDaysAndIDs(t *testing.T) {
	days := shard.Days(day.Add(6*time.Hour), day.Add(49*time.Hour))
	assert.Len(t, days, 3)
	assert.Len(t, shard.Days(day, day), 1)

	ids := shard.IDs([]string{"metop", "champ"}, day, day.Add(24*time.Hour))
	require.Len(t, ids, 2)
	assert.Equal(t, "champ_2003-02-14", ids[0].String())
}

func TestEncodeDecode(t *testing.T) {
	a, _ := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G07", Time: day.Add(time.Hour)})
	b, _ := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: day.Add(time.Hour)})
	b.AvailableFiletypes["ucar_calibratedPhase"] = "x.nc"

	data, err := shard.Encode(shard.NewID("champ", day), []*model.Sounding{a, b})
	require.NoError(t, err)
	id, records, err := shard.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "champ_2003-02-14", id.String())
	require.Len(t, records, 2)
	assert.Equal(t, b.OccultationID, records[0].OccultationID)
	assert.Equal(t, "x.nc", records[0].AvailableFiletypes["ucar_calibratedPhase"])

	_, _, err = shard.Decode([]byte(`{"shard":"champ_2003-02-14","records":[],"extra":1}`))
	assert.Error(t, err, "unknown fields are rejected")
}

type flakySource struct {
	failures int
	calls    int
	records  []*model.Sounding
}

func (f *flakySource) QueryShard(_ context.Context, mission string, _ time.Time) ([]*model.Sounding, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, exception.NewStorageTransientError("test", "query", mission, errors.New("timeout"))
	}
	if mission != "champ" {
		return nil, nil
	}
	return f.records, nil
}

func TestExporter_ExportRange(t *testing.T) {
	ctx := context.Background()
	objects := test.NewLocalStore(t, "staging")

	s, _ := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: day.Add(time.Hour)})
	src := &flakySource{failures: 1, records: []*model.Sounding{s}}
	policy := retry.NewExponentialPolicy(config.RetryConfig{MaxAttempts: 3, InitialInterval: 1, Factor: 2})
	exp := shard.NewExporter(src, objects, "dynamo", "1.1", policy, metrics.NewNoOpMetricRecorder())

	report, err := exp.ExportRange(ctx, []string{"champ", "metop"}, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, shard.ExportReport{Shards: 1, Records: 1, Empty: 1}, report)

	ok, err := objects.Exists(ctx, "dynamo/1.1/export_subsets/champ_2003-02-14.json")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = objects.Exists(ctx, "dynamo/1.1/export_subsets/metop_2003-02-14.json")
	assert.False(t, ok)
}
