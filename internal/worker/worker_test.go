package worker_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/domain/naming"
	"github.com/tigerroll/rorefcat/internal/metastore"
	"github.com/tigerroll/rorefcat/internal/worker"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/test"
)

const (
	dayDir  = "champ/repro2016/level1b/2003/045/atmPhs_repro2016_2003_045/"
	file001 = dayDir + "atmPhs_CHAM.2003.045.01.02.G05_2016.2430_nc"
	file002 = dayDir + "atmPhs_CHAM.2003.045.03.04.G07_2016.2430_nc"
)

// fakeReformatter emits one product per source file. Files listed in fail
// fail as a whole; files listed in badLatitude yield an invalid sounding.
type fakeReformatter struct {
	fail        map[string]bool
	badLatitude map[string]bool
	calls       int
}

func (f *fakeReformatter) Reformat(_ context.Context, file naming.SourceFile, localPath, outputDir string) ([]worker.Product, error) {
	f.calls++
	if f.fail[file.Path] {
		return nil, fmt.Errorf("corrupt NetCDF")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	out := filepath.Join(outputDir, "product.nc")
	if err := os.WriteFile(out, append([]byte("canonical "), data...), 0o644); err != nil {
		return nil, err
	}
	lat := 12.5
	if f.badLatitude[file.Path] {
		lat = 123
	}
	return []worker.Product{{
		Fields: model.SoundingFields{
			Mission: file.Mission, Receiver: file.Receiver, Transmitter: file.Transmitter, Time: file.Time,
			Latitude: &lat, Geometry: model.GeometrySetting,
		},
		Output:        out,
		CenterVersion: file.CenterVersion,
	}}, nil
}

type env struct {
	staging     *storageAdapter.ObjectStore
	definitions *storageAdapter.ObjectStore
	store       *metastore.Store
	reformatter *fakeReformatter
	logDir      string
}

func setup(t *testing.T, files ...string) *env {
	t.Helper()
	ctx := context.Background()
	staging := test.NewLocalStore(t, "staging")
	src := staging.WithBucket("ucar-archive")
	for _, f := range files {
		_, err := src.Put(ctx, f, []byte("source "+path.Base(f)), nil)
		require.NoError(t, err)
	}

	db := test.NewSQLiteConnection(t, true)

	return &env{
		staging:     staging,
		definitions: staging.WithBucket("definitions"),
		store:       metastore.New(db),
		reformatter: &fakeReformatter{fail: map[string]bool{}, badLatitude: map[string]bool{}},
	}
}

func (e *env) worker(t *testing.T, mutate ...func(*worker.Options)) *worker.Worker {
	t.Helper()
	opts := worker.Options{
		WorkingDir: t.TempDir(),
		Retry:      test.FastRetry(3),
		ItemSkip: config.ItemSkipConfig{SkippableExceptions: []string{
			exception.ReformatErrorName, exception.NamingConventionErrorName,
		}},
		LogDir:     e.logDir,
		LogsPrefix: "logs",
	}
	for _, f := range mutate {
		f(&opts)
	}
	return worker.New(worker.Params{
		Registry:    mission.Default(),
		Sources:     e.staging,
		Staging:     e.staging,
		Definitions: e.definitions,
		Catalog:     e.store,
		Reformatter: e.reformatter,
		Options:     opts,
	})
}

func descriptor(files ...string) *job.Descriptor {
	d := &job.Descriptor{
		ProcessingCenter: "ucar",
		Mission:          "champ",
		FileType:         model.CalibratedPhase,
		Version:          "1.1",
		InputPrefix:      "local://ucar-archive",
		Date:             "2003-02-14",
		Files:            files,
	}
	_ = d.AssignID()
	return d
}

var (
	t001 = time.Date(2003, 2, 14, 1, 2, 0, 0, time.UTC)
	t002 = time.Date(2003, 2, 14, 3, 4, 0, 0, time.UTC)
)

func TestExecute_CatalogsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := setup(t, file001, file002)
	d := descriptor(file001, file002)

	res, err := e.worker(t).Execute(ctx, d)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, []string{"G05-champ-200302140102", "G07-champ-200302140304"}, res.OccultationIDs)

	snd, found, err := e.store.Get(ctx, model.PartitionKey("champ", "G05"), model.SortKey(t001))
	require.NoError(t, err)
	require.True(t, found)
	want := model.CanonicalPath("1.1", "ucar", "champ", model.CalibratedPhase, "2016.2430", t001, "G05-champ-200302140102")
	assert.Equal(t, want, snd.AvailableFiletypes["ucar_calibratedPhase"])
	assert.Equal(t, 12.5, snd.Latitude)
	data, err := e.staging.Get(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, "canonical source "+path.Base(file001), string(data))
	before, err := e.staging.Stat(ctx, want)
	require.NoError(t, err)

	again, err := e.worker(t).Execute(ctx, d)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 2, again.Skipped)
	n, err := e.store.Count(ctx, "champ")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	after, err := e.staging.Stat(ctx, want)
	require.NoError(t, err)
	assert.Equal(t, before.Updated, after.Updated, "the canonical file is not rewritten")
}

func TestExecute_ClobberRewrites(t *testing.T) {
	ctx := context.Background()
	e := setup(t, file001)
	d := descriptor(file001)
	_, err := e.worker(t).Execute(ctx, d)
	require.NoError(t, err)

	res, err := e.worker(t, func(o *worker.Options) { o.Clobber = true }).Execute(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, e.reformatter.calls)
}

func TestExecute_ItemFailuresAreWarnings(t *testing.T) {
	ctx := context.Background()
	e := setup(t, file001, file002, dayDir+"garbage_nc")
	e.reformatter.fail[file001] = true
	e.reformatter.badLatitude[file002] = true

	res, err := e.worker(t).Execute(ctx, descriptor(file001, file002, dayDir+"garbage_nc"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Processed)
	assert.Len(t, res.Warnings, 3)
	_, found, err := e.store.Get(ctx, model.PartitionKey("champ", "G07"), model.SortKey(t002))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExecute_FailuresWithoutSkipPolicy(t *testing.T) {
	ctx := context.Background()
	e := setup(t, file002)
	e.reformatter.fail[file002] = true

	res, err := e.worker(t, func(o *worker.Options) { o.ItemSkip = config.ItemSkipConfig{} }).Execute(ctx, descriptor(file002))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Errors, exception.ErrReformat)
}

func TestExecute_MissingSourceFailsOnlyThatFile(t *testing.T) {
	ctx := context.Background()
	e := setup(t, file002)

	res, err := e.worker(t).Execute(ctx, descriptor(file001, file002))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Processed)
	assert.ErrorIs(t, res.Errors, exception.ErrStorageFatal)
}

func TestExecute_UploadsRunLogs(t *testing.T) {
	ctx := context.Background()
	e := setup(t, file001)
	e.logDir = t.TempDir()
	e.reformatter.badLatitude[file001] = true
	d := descriptor(file001)

	res, err := e.worker(t).Execute(ctx, d)
	require.NoError(t, err)
	require.Len(t, res.LogFiles, 1)
	assert.True(t, strings.HasPrefix(res.LogFiles[0], "logs/1_1/"))
	assert.True(t, strings.HasSuffix(res.LogFiles[0], "/warnings/"+d.ID+".warnings.log"))
	ok, err := e.definitions.Exists(ctx, res.LogFiles[0])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecute_RejectsInvalidDescriptor(t *testing.T) {
	e := setup(t)
	d := descriptor(file001)
	d.FileType = "level1b"
	_, err := e.worker(t).Execute(context.Background(), d)
	assert.Error(t, err)
}

func TestExecReformatter_ParsesProductLines(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
	script := `echo '{"longitude": 190, "latitude": -5, "geometry": "rising", "output": "/tmp/p.nc"}'; echo; echo '{"transmitter": "G09", "error": "no bending angles"}'`
	r, err := worker.NewExecReformatter(config.ReformatterConfig{Command: "sh", Args: []string{"-c", script, "sh"}, Timeout: 10 * time.Second})
	require.NoError(t, err)

	file := naming.SourceFile{Path: file001, Center: "ucar", Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: t001, FileType: model.CalibratedPhase, CenterVersion: "2016.2430"}
	products, err := r.Reformat(context.Background(), file, "/in.nc", t.TempDir())
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "G05", products[0].Fields.Transmitter)
	assert.Equal(t, 190.0, *products[0].Fields.Longitude)
	assert.Equal(t, "2016.2430", products[0].CenterVersion)
	assert.NoError(t, products[0].Err)
	assert.Equal(t, "G09", products[1].Fields.Transmitter)
	assert.EqualError(t, products[1].Err, "no bending angles")

	failing, err := worker.NewExecReformatter(config.ReformatterConfig{Command: "sh", Args: []string{"-c", "echo broken >&2; exit 3", "sh"}})
	require.NoError(t, err)
	_, err = failing.Reformat(context.Background(), file, "/in.nc", t.TempDir())
	assert.ErrorIs(t, err, exception.ErrReformat)

	_, err = worker.NewExecReformatter(config.ReformatterConfig{})
	assert.Error(t, err)
}
