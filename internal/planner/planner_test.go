package planner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/internal/occlist"
	"github.com/tigerroll/rorefcat/internal/planner"
	"github.com/tigerroll/rorefcat/internal/shard"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/test"
)

const (
	srcBucket = "ucar-archive"
	dayDir    = "champ/repro2016/level1b/2003/045/atmPhs_repro2016_2003_045/"
	file001   = dayDir + "atmPhs_CHAM.2003.045.01.02.G05_2016.2430_nc"
	file002   = dayDir + "atmPhs_CHAM.2003.045.03.04.G07_2016.2430_nc"
)

var (
	feb14 = time.Date(2003, 2, 14, 0, 0, 0, 0, time.UTC)
	feb15 = feb14.AddDate(0, 0, 1)
)

type env struct {
	planner *planner.Planner
	staging *storageAdapter.ObjectStore
}

// setup lays out the two champ source files plus an unparseable one, and
// catalogs the given transmitters (of the 01:02 and 03:04 soundings) for ucar_calibratedPhase.
func setup(t *testing.T, cataloged ...string) env {
	t.Helper()
	ctx := context.Background()
	staging := test.NewLocalStore(t, "staging")
	src := staging.WithBucket(srcBucket)
	for _, p := range []string{file001, file002, dayDir + "garbage_nc"} {
		_, err := src.Put(ctx, p, []byte("source"), nil)
		require.NoError(t, err)
	}

	catalog(t, staging, cataloged...)

	m, err := mirror.New(mirror.Options{
		Root:        t.TempDir(),
		HotCacheTTL: time.Minute,
		Retry:       test.FastRetry(2),
		Populate:    config.PopulateConfig{Concurrency: 1},
	}, mirror.NewShardSource(staging, "dynamo", "1.1"), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	require.NoError(t, err)
	reg := mission.Default()

	p := planner.New(planner.Params{
		Registry: reg,
		Catalog:  occlist.NewClient(m, reg, staging, nil),
		Sources:  staging,
		Config:   config.CatalogConfig{SourceBuckets: map[string]string{mission.UCAR: srcBucket}},
		Batch:    config.BatchConfig{Version: "1.1"},
	})
	return env{planner: p, staging: staging}
}

// catalog rewrites the feb14 champ shard with the given transmitters cataloged
// for ucar_calibratedPhase.
func catalog(t *testing.T, staging *storageAdapter.ObjectStore, cataloged ...string) {
	t.Helper()
	times := map[string]time.Time{"G05": feb14.Add(time.Hour + 2*time.Minute), "G07": feb14.Add(3*time.Hour + 4*time.Minute)}
	var records []*model.Sounding
	for _, tx := range cataloged {
		s, err := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: tx, Time: times[tx]})
		require.NoError(t, err)
		s.AvailableFiletypes["ucar_calibratedPhase"] = "contributed/" + tx + ".nc"
		records = append(records, s)
	}
	id := shard.NewID("champ", feb14)
	data, err := shard.Encode(id, records)
	require.NoError(t, err)
	_, err = staging.Put(context.Background(), shard.Path("dynamo", "1.1", id), data, nil)
	require.NoError(t, err)
}

func request() planner.PlanRequest {
	return planner.PlanRequest{Center: "ucar", Mission: "champ", FileType: "level1b", DateRange: [2]time.Time{feb14, feb15}}
}

func TestPlan_OnlyUncatalogedFilesArePlanned(t *testing.T) {
	e := setup(t, "G05")
	res, err := e.planner.Plan(context.Background(), request())
	require.NoError(t, err)

	require.Len(t, res.Jobs, 1)
	d := res.Jobs[0]
	assert.Equal(t, []string{file002}, d.Files)
	assert.Equal(t, "ucar", d.ProcessingCenter)
	assert.Equal(t, model.CalibratedPhase, d.FileType)
	assert.Equal(t, "1.1", d.Version)
	assert.Equal(t, "local://"+srcBucket, d.InputPrefix)
	assert.Equal(t, "2003-02-14", d.Date)
	assert.NotEmpty(t, d.ID)

	assert.Equal(t, 2, res.SourceFiles)
	assert.Equal(t, 1, res.Cataloged)
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0], exception.ErrNamingConvention)
}

func TestPlan_NoOpWhenEverythingIsCataloged(t *testing.T) {
	e := setup(t, "G05", "G07")
	res, err := e.planner.Plan(context.Background(), request())
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
	assert.Equal(t, 2, res.Cataloged)
}

func TestPlan_SeesSoundingsCatalogedSinceTheLastRun(t *testing.T) {
	e := setup(t, "G05")
	res, err := e.planner.Plan(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)

	catalog(t, e.staging, "G05", "G07")
	res, err = e.planner.Plan(context.Background(), request())
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
	assert.Equal(t, 2, res.Cataloged)
}

func TestPlan_BatchesDeterministically(t *testing.T) {
	e := setup(t)
	req := request()
	req.JobsPerFile = 1

	first, err := e.planner.Plan(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Jobs, 2)
	assert.Equal(t, []string{file001}, first.Jobs[0].Files)
	assert.Equal(t, []string{file002}, first.Jobs[1].Files)
	assert.NotEqual(t, first.Jobs[0].ID, first.Jobs[1].ID)
	assert.Equal(t, 2, first.Pending())

	second, err := e.planner.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Jobs, second.Jobs)

	req.JobsPerFile = 0
	batched, err := e.planner.Plan(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, batched.Jobs, 1)
	assert.Len(t, batched.Jobs[0].Files, 2)
}

func TestPlan_RejectsInvalidRequests(t *testing.T) {
	e := setup(t)
	cases := map[string]func(*planner.PlanRequest){
		"center":              func(r *planner.PlanRequest) { r.Center = "noaa" },
		"mission":             func(r *planner.PlanRequest) { r.Mission = "sputnik" },
		"filetype":            func(r *planner.PlanRequest) { r.FileType = "level3" },
		"reversed range":      func(r *planner.PlanRequest) { r.DateRange = [2]time.Time{feb15, feb14} },
		"center not in scope": func(r *planner.PlanRequest) { r.Center, r.Mission = "romsaf", "cosmic2" },
		"no live bucket":      func(r *planner.PlanRequest) { r.LiveUpdate = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request()
			mutate(&req)
			_, err := e.planner.Plan(context.Background(), req)
			assert.ErrorIs(t, err, exception.ErrInvalidQuery)
		})
	}
}

func TestWriteJobs(t *testing.T) {
	e := setup(t, "G05")
	ctx := context.Background()
	res, err := e.planner.Plan(ctx, request())
	require.NoError(t, err)

	paths, err := planner.WriteJobs(ctx, e.staging, "batchprocess-jobs", res)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "batchprocess-jobs/1_1/ucar/champ/calibratedPhase/2003-02-14_"+res.Jobs[0].ID+".json", paths[0])

	data, err := e.staging.Get(ctx, paths[0])
	require.NoError(t, err)
	d, err := job.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, res.Jobs[0], d)
}

func TestParseDateRange(t *testing.T) {
	now := time.Date(2024, 5, 3, 17, 30, 0, 0, time.UTC)
	cases := map[string][2]time.Time{
		"2003-02-14,2003-02-15":          {feb14, feb15},
		"2003-02-14:2003-02-15":          {feb14, feb15},
		"2003-02-14":                     {feb14, feb14},
		"2003-02-14T01:02,2003-02-15":    {feb14, feb15},
		"2003-02-14T23:59:59":            {feb14, feb14},
		" 2003-02-14 , 2003-02-15T06:00 ": {feb14, feb15},
		"":                               {time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)},
	}
	for in, want := range cases {
		got, err := planner.ParseDateRange(in, now)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"2003-02-15,2003-02-14", "yesterday", "2003-02-14,2003-02-15,2003-02-16"} {
		_, err := planner.ParseDateRange(in, now)
		assert.ErrorIs(t, err, exception.ErrInvalidQuery, in)
	}
}
