package occlist_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/internal/occlist"
	"github.com/tigerroll/rorefcat/internal/shard"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/test"
)

var (
	day1 = time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

const (
	ucarRefrac   = "ucar_refractivityRetrieval"
	romsafRefrac = "romsaf_refractivityRetrieval"
	pathA        = "contributed/v1.1/ucar/champ/refractivityRetrieval/2003/01/01/a.nc"
	pathB        = "contributed/v1.1/ucar/champ/refractivityRetrieval/2003/01/01/b.nc"
)

type fixture struct {
	tx       string
	at       time.Time
	lon, lat float64
	lt       float64
	geom     model.Geometry
	files    map[string]string
}

var fixtures = []fixture{
	{"G01", day1.Add(1 * time.Hour), 175, 10, 23, model.GeometryRising, map[string]string{ucarRefrac: pathA}},
	{"G02", day1.Add(6 * time.Hour), -175, -20, 1, model.GeometrySetting, map[string]string{ucarRefrac: pathB, romsafRefrac: "romsaf/b.nc"}},
	{"G03", day1.Add(12 * time.Hour), 0, 45, 12, model.GeometrySetting, nil},
	{"G04", day2, 90, model.FillValue, model.FillValue, model.GeometryRising, nil},
	{"G05", day2.Add(12 * time.Hour), -90, 80, 21.9, model.GeometryRising, map[string]string{romsafRefrac: "romsaf/e.nc"}},
	{"G06", day3, 10, 0, 6, model.GeometrySetting, nil},
}

func sounding(t *testing.T, f fixture) *model.Sounding {
	t.Helper()
	s, err := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: f.tx, Time: f.at, Geometry: f.geom})
	require.NoError(t, err)
	s.Longitude, s.Latitude, s.LocalTime = f.lon, f.lat, f.lt
	for k, v := range f.files {
		s.AvailableFiletypes[k] = v
	}
	return s
}

type env struct {
	client  *occlist.Client
	objects *storageAdapter.ObjectStore
}

func setup(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	objects := test.NewLocalStore(t, "staging")

	byDay := map[time.Time][]*model.Sounding{}
	for _, f := range fixtures {
		s := sounding(t, f)
		d := shard.NewID("champ", f.at).Day
		byDay[d] = append(byDay[d], s)
	}
	for d, recs := range byDay {
		id := shard.NewID("champ", d)
		data, err := shard.Encode(id, recs)
		require.NoError(t, err)
		_, err = objects.Put(ctx, shard.Path("dynamo", "1.1", id), data, nil)
		require.NoError(t, err)
	}

	m, err := mirror.New(mirror.Options{
		Root:        t.TempDir(),
		HotCacheTTL: time.Minute,
		Retry:       test.FastRetry(2),
		Populate:    config.PopulateConfig{Concurrency: 2, RateLimit: 1000, Burst: 4},
	}, mirror.NewShardSource(objects, "dynamo", "1.1"), metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
	require.NoError(t, err)
	return env{client: occlist.NewClient(m, mission.Default(), objects, nil), objects: objects}
}

func queryAll(t *testing.T, e env) *occlist.OccList {
	t.Helper()
	l, err := e.client.Query(context.Background(), occlist.QueryParams{Missions: []string{"champ"}})
	require.NoError(t, err)
	require.Equal(t, len(fixtures), l.Len())
	return l
}

func ids(t *testing.T, l *occlist.OccList) []string {
	t.Helper()
	col, err := l.Values(occlist.FieldOccultationID)
	require.NoError(t, err)
	return col.Strings
}

func txs(t *testing.T, l *occlist.OccList) []string {
	t.Helper()
	col, err := l.Values(occlist.FieldTransmitter)
	require.NoError(t, err)
	return col.Strings
}

func TestQuery_RequiresMissionOrRange(t *testing.T) {
	e := setup(t)
	_, err := e.client.Query(context.Background(), occlist.QueryParams{})
	assert.ErrorIs(t, err, exception.ErrInvalidQuery)

	_, err = e.client.Query(context.Background(), occlist.QueryParams{Missions: []string{"sputnik"}})
	assert.ErrorIs(t, err, exception.ErrInvalidQuery)

	_, err = e.client.Query(context.Background(), occlist.QueryParams{DateTimeRange: occlist.NewTimeRange(day2, day1)})
	assert.ErrorIs(t, err, exception.ErrInvalidQuery)
}

func TestQuery_DateTimeRangeIsInclusiveAndSorted(t *testing.T) {
	e := setup(t)
	l, err := e.client.Query(context.Background(), occlist.QueryParams{
		Missions:      []string{"champ"},
		DateTimeRange: occlist.NewTimeRange(day1.Add(time.Hour), day2.Add(12*time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"G01", "G02", "G03", "G04", "G05"}, txs(t, l))
	require.NotNil(t, l.Provenance().Query)
	assert.Equal(t, []string{"champ"}, l.Provenance().Query.Missions)
}

func TestQuery_RangeOnlyCoversAllMissions(t *testing.T) {
	e := setup(t)
	l, err := e.client.Query(context.Background(), occlist.QueryParams{DateTimeRange: occlist.NewTimeRange(day3, day3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"G06"}, txs(t, l))
}

func TestFilter_LocalTimeWrapsAroundMidnight(t *testing.T) {
	l := queryAll(t, setup(t))
	out, err := l.FilterBy(map[string]any{"localtimerange": []float64{22, 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"G01", "G02"}, txs(t, out))
	assert.Equal(t, len(fixtures), l.Len(), "the receiver is not modified")
}

func TestFilter_LongitudeWrapsAroundDateline(t *testing.T) {
	l := queryAll(t, setup(t))
	out, err := l.Filter(occlist.Predicates{LongitudeRange: &occlist.Range{170, -170}})
	require.NoError(t, err)
	assert.Equal(t, []string{"G01", "G02"}, txs(t, out))
}

func TestFilter_FillValuesAreExcludedByRanges(t *testing.T) {
	l := queryAll(t, setup(t))
	out, err := l.Filter(occlist.Predicates{LatitudeRange: &occlist.Range{-90, 90}})
	require.NoError(t, err)
	assert.NotContains(t, txs(t, out), "G04")
	assert.Equal(t, len(fixtures)-1, out.Len())
}

func TestFilter_Composes(t *testing.T) {
	l := queryAll(t, setup(t))
	a := occlist.Predicates{Geometry: model.GeometrySetting}
	b := occlist.Predicates{LatitudeRange: &occlist.Range{-30, 30}}

	step1, err := l.Filter(a)
	require.NoError(t, err)
	chained, err := step1.Filter(b)
	require.NoError(t, err)
	joint, err := l.Filter(occlist.Predicates{Geometry: model.GeometrySetting, LatitudeRange: &occlist.Range{-30, 30}})
	require.NoError(t, err)

	assert.Equal(t, ids(t, joint), ids(t, chained))
	assert.Equal(t, []string{"G02", "G06"}, txs(t, chained))
	assert.Len(t, chained.Provenance().Filters, 2)
}

func TestFilter_Predicates(t *testing.T) {
	l := queryAll(t, setup(t))
	cases := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"transmitters", map[string]any{"transmitters": []any{"G03", "G05"}}, []string{"G03", "G05"}},
		{"constellation", map[string]any{"GNSSconstellations": "G"}, []string{"G01", "G02", "G03", "G04", "G05", "G06"}},
		{"geometry", map[string]any{"geometry": "rising"}, []string{"G01", "G04", "G05"}},
		{"filetypes all required", map[string]any{"availablefiletypes": []string{ucarRefrac, romsafRefrac}}, []string{"G02"}},
		{"datetime", map[string]any{"datetimerange": []string{"2003-01-01T12:00", "2003-01-02"}}, []string{"G03", "G04"}},
		{"receivers", map[string]any{"receivers": "champ"}, []string{"G01", "G02", "G03", "G04", "G05", "G06"}},
		{"latitude from flags", map[string]any{"latituderange": []string{"-25", " 5"}}, []string{"G02", "G06"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := l.FilterBy(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, txs(t, out))
		})
	}
}

func TestFilter_RejectsInvalidPredicates(t *testing.T) {
	l := queryAll(t, setup(t))
	cases := map[string]map[string]any{
		"unknown key":            {"altitude": []float64{0, 1}},
		"missions and receivers": {"missions": "champ", "receivers": "champ"},
		"constellations and txs": {"GNSSconstellations": "G", "transmitters": "G01"},
		"latitude decreasing":    {"latituderange": []float64{10, -10}},
		"longitude out of range": {"longituderange": []float64{-200, 10}},
		"localtime 24":           {"localtimerange": []float64{20, 24}},
		"geometry":               {"geometry": "sideways"},
		"filetype key":           {"availablefiletypes": "ucar_level2"},
		"reversed datetimes":     {"datetimerange": []string{"2003-01-02", "2003-01-01"}},
		"range arity":            {"longituderange": []float64{1, 2, 3}},
		"non numeric":            {"latituderange": []any{"a", "b"}},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.FilterBy(args)
			assert.ErrorIs(t, err, exception.ErrInvalidFilter)
		})
	}
}

func TestInfo(t *testing.T) {
	l := queryAll(t, setup(t))

	g, err := l.Info(occlist.FieldGeometry)
	require.NoError(t, err)
	counts := g.(occlist.GeometryCounts)
	assert.Equal(t, occlist.GeometryCounts{NRising: 3, NSetting: 3}, counts)
	assert.Equal(t, l.Len(), counts.NRising+counts.NSetting)

	lat, err := l.Info(occlist.FieldLatitude)
	require.NoError(t, err)
	assert.Equal(t, occlist.MinMax{Min: -20, Max: 80, Count: 5}, lat)

	span, err := l.Info(occlist.FieldDateTime)
	require.NoError(t, err)
	assert.Equal(t, occlist.TimeSpan{Min: day1.Add(time.Hour), Max: day3}, span)

	tx, err := l.Info(occlist.FieldMission)
	require.NoError(t, err)
	assert.Equal(t, []string{"champ"}, tx)

	ft, err := l.Info(occlist.FieldFileType)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ucarRefrac: 2, romsafRefrac: 2}, ft)

	_, err = l.Info("altitude")
	assert.ErrorIs(t, err, exception.ErrInvalidQuery)
}

func TestCountBy(t *testing.T) {
	l := queryAll(t, setup(t))

	geom, err := l.CountBy(occlist.FieldGeometry)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"rising": 3, "setting": 3}, geom)

	rx, err := l.CountBy(occlist.FieldReceiver)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"champ": l.Len()}, rx)

	tx, err := l.FilterBy(map[string]any{occlist.PredGeometry: "setting"})
	require.NoError(t, err)
	byTx, err := tx.CountBy(occlist.FieldTransmitter)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"G02": 1, "G03": 1, "G06": 1}, byTx)

	_, err = l.CountBy(occlist.FieldLatitude)
	assert.ErrorIs(t, err, exception.ErrInvalidQuery)
}

func TestValues_MarksMissing(t *testing.T) {
	l := queryAll(t, setup(t))
	col, err := l.Values(occlist.FieldLocalTime)
	require.NoError(t, err)
	require.Equal(t, l.Len(), col.Len())
	assert.Equal(t, []bool{false, false, false, true, false, false}, col.Missing)
	assert.Equal(t, 23.0, col.Floats[0])

	times, err := l.Values(occlist.FieldDateTime)
	require.NoError(t, err)
	assert.Equal(t, day2, times.Times[3])
}

func TestSaveRestore_RoundTrip(t *testing.T) {
	e := setup(t)
	l, err := e.client.Query(context.Background(), occlist.QueryParams{
		Missions:      []string{"champ"},
		DateTimeRange: occlist.NewTimeRange(day1, day3),
	})
	require.NoError(t, err)
	l, err = l.FilterBy(map[string]any{"longituderange": []float64{170, 100}})
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "lists", "champ.json")
	require.NoError(t, l.Save(p))

	restored, err := e.client.Restore(p)
	require.NoError(t, err)
	assert.Equal(t, l.Records(), restored.Records())
	assert.Equal(t, l.Provenance(), restored.Provenance())
}

func TestRestore_RejectsUnknownFields(t *testing.T) {
	e := setup(t)
	p := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"records": [], "query_provenance": {}, "extra": 1}`), 0o644))
	_, err := e.client.Restore(p)
	assert.Error(t, err)
}

func TestCombine_UnionsByOccultationID(t *testing.T) {
	l := queryAll(t, setup(t))
	first, err := l.FilterBy(map[string]any{"transmitters": []string{"G01", "G02"}})
	require.NoError(t, err)
	second, err := l.FilterBy(map[string]any{"transmitters": []string{"G02", "G03"}})
	require.NoError(t, err)

	union := first.Combine(second)
	assert.Equal(t, []string{"G01", "G02", "G03"}, txs(t, union))
	assert.Equal(t, "union", union.Provenance().Operation)
	assert.Len(t, union.Records()[1].AvailableFiletypes, 2)

	inter := first.Intersect(second)
	assert.Equal(t, []string{"G02"}, txs(t, inter))
}

func TestDownload(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, err := e.objects.Put(ctx, pathA, []byte("netcdf a"), nil)
	require.NoError(t, err)
	l := queryAll(t, e)
	root := t.TempDir()

	report, err := l.Download(ctx, ucarRefrac, root, true)
	require.NoError(t, err)
	want := filepath.Join(root, filepath.FromSlash(pathA))
	assert.Equal(t, []string{want}, report.Paths)
	assert.Equal(t, 1, report.Downloaded)
	assert.Equal(t, 1, report.Failed(), "b.nc is not in the bucket")
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "netcdf a", string(data))

	again, err := l.Download(ctx, ucarRefrac, root, true)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, 0, again.Downloaded)

	flat, err := l.Download(ctx, ucarRefrac, root, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.nc")}, flat.Paths)

	_, err = l.Download(ctx, "ucar_level2", root, true)
	assert.ErrorIs(t, err, exception.ErrInvalidFilter)
}

func TestExportParquet_OneFilePerDay(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	l := queryAll(t, e)
	paths, err := l.ExportParquet(ctx, e.objects, "exports/champ", "snappy")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"exports/champ/dt=2003-01-01/soundings.parquet",
		"exports/champ/dt=2003-01-02/soundings.parquet",
		"exports/champ/dt=2003-01-03/soundings.parquet",
	}, paths)
	attrs, err := e.objects.Stat(ctx, paths[0])
	require.NoError(t, err)
	assert.Positive(t, attrs.Size)

	_, err = l.ExportParquet(ctx, e.objects, "exports/champ", "lz77")
	assert.Error(t, err)
}
