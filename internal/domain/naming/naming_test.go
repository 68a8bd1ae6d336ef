package naming_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/domain/naming"
	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/test"
)

func newStore(t *testing.T, names ...string) *storageAdapter.ObjectStore {
	t.Helper()
	s := test.NewLocalStore(t, "source")
	for _, name := range names {
		_, err := s.Put(context.Background(), name, []byte(name), nil)
		require.NoError(t, err)
	}
	return s
}

func convention(t *testing.T, center string) naming.Convention {
	t.Helper()
	c, err := naming.New(center, mission.Default())
	require.NoError(t, err)
	return c
}

func TestUCAR_Parse(t *testing.T) {
	f, err := convention(t, mission.UCAR).Parse("champ/repro2016/level1b/2002/083/atmPhs_repro2016_2002_083/atmPhs_CHAM.2002.083.02.59.G09_2016.2430_nc")
	require.NoError(t, err)

	assert.Equal(t, "champ", f.Mission)
	assert.Equal(t, "champ", f.Receiver)
	assert.Equal(t, "G09", f.Transmitter)
	assert.Equal(t, time.Date(2002, 3, 24, 2, 59, 0, 0, time.UTC), f.Time)
	assert.Equal(t, model.CalibratedPhase, f.FileType)
	assert.Equal(t, "atmPhs", f.CenterFileType)
	assert.Equal(t, "2016.2430", f.CenterVersion)
	assert.Equal(t, "G09-champ-200203240259", f.OccultationID())
	assert.Equal(t, "ucar_calibratedPhase", f.FileTypeKey())

	f, err = convention(t, mission.UCAR).Parse("cosmic1/repro2013/level2/2009/154/wetPrf_repro2013_2009_154/wetPrf_C001.2009.154.09.37.G02_2013.3520_nc")
	require.NoError(t, err)
	assert.Equal(t, "cosmic1c1", f.Receiver)
	assert.Equal(t, model.AtmosphericRetrieval, f.FileType)
}

func TestUCAR_ParseRejects(t *testing.T) {
	c := convention(t, mission.UCAR)
	for _, p := range []string{
		"champ/x/atmPhs_CHAM.2002.083.02_nc",
		"nowhere/atmPhs_CHAM.2002.083.02.59.G09_2016.2430_nc",
		"champ/repro/abcdef_CHAM.2002.083.02.59.G09_2016.2430_nc",
	} {
		_, err := c.Parse(p)
		require.Error(t, err, p)
		assert.True(t, errors.Is(err, exception.ErrNamingConvention), p)
	}
}

func TestROMSAF_Parse(t *testing.T) {
	f, err := convention(t, mission.ROMSAF).Parse("romsaf/download/cosmic/2009/atm_20090603_cosmic_R_2304_0010/2009-06-03/atm_20090603_093752_C001_G002_R_2304_0010.nc")
	require.NoError(t, err)

	assert.Equal(t, "cosmic1", f.Mission)
	assert.Equal(t, "cosmic1c1", f.Receiver)
	assert.Equal(t, "G02", f.Transmitter)
	assert.Equal(t, time.Date(2009, 6, 3, 9, 37, 0, 0, time.UTC), f.Time)
	assert.Equal(t, model.RefractivityRetrieval, f.FileType)
	assert.Equal(t, "2304.0010", f.CenterVersion)
}

func TestJPL_Parse(t *testing.T) {
	f, err := convention(t, mission.JPL).Parse("champ/calibratedPhase/2003/06/03/calibratedPhase_champ_jpl_v2.6_champ-G10-200306032355.nc")
	require.NoError(t, err)

	assert.Equal(t, "champ", f.Mission)
	assert.Equal(t, "G10", f.Transmitter)
	assert.Equal(t, "v2.6", f.CenterVersion)
	assert.Equal(t, "G10-champ-200306032355", f.OccultationID())
}

func TestUCAR_ListDay(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		"champ/repro2016/level1b/2003/045/atmPhs_repro2016_2003_045/atmPhs_CHAM.2003.045.01.02.G05_2016.2430_nc",
		"champ/repro2016/level1b/2003/045/atmPhs_repro2016_2003_045/atmPhs_CHAM.2003.045.03.04.G07_2016.2430_nc",
		"champ/repro2016/level1b/2003/045/atmPhs_repro2016_2003_045/garbage_nc",
		"champ/repro2016/level1b/2003/045/atmPhs_repro2016_2003_045/README.txt",
		"champ/repro2016/level2/2003/045/atmPrf_repro2016_2003_045/atmPrf_CHAM.2003.045.01.02.G05_2016.2430_nc",
	)
	m, err := mission.Default().Mission("champ")
	require.NoError(t, err)
	day := time.Date(2003, 2, 14, 0, 0, 0, 0, time.UTC)

	files, skipped, err := naming.ListDay(ctx, convention(t, mission.UCAR), store, m, model.CalibratedPhase, day, naming.LayoutOptions{})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "G05-champ-200302140102", files[0].OccultationID())
	require.Len(t, skipped, 1)
	assert.True(t, errors.Is(skipped[0], exception.ErrNamingConvention))

	files, _, err = naming.ListDay(ctx, convention(t, mission.UCAR), store, m, model.AtmosphericRetrieval, day, naming.LayoutOptions{})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUCAR_DayPrefixesPrefersWetPf2(t *testing.T) {
	ctx := context.Background()
	store := newStore(t,
		"cosmic1/repro2013/level2/2009/154/wetPrf_repro2013_2009_154/x_nc",
		"cosmic1/repro2013/level2/2009/154/wetPf2_repro2013_2009_154/x_nc",
	)
	m, _ := mission.Default().Mission("cosmic1")
	prefixes, err := convention(t, mission.UCAR).DayPrefixes(ctx, store, m, model.AtmosphericRetrieval, time.Date(2009, 6, 3, 0, 0, 0, 0, time.UTC), naming.LayoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cosmic1/repro2013/level2/2009/154/wetPf2_repro2013_2009_154/"}, prefixes)
}

func TestROMSAF_ListDayNonNominal(t *testing.T) {
	ctx := context.Background()
	dir := "romsaf/download/cosmic/2009/atm_20090603_cosmic_R_2304_0010/2009-06-03/"
	store := newStore(t,
		dir+"atm_20090603_093752_C001_G002_R_2304_0010.nc",
		dir+"non-nominal/atm_20090603_101010_C002_R011_R_2304_0010.nc",
	)
	m, _ := mission.Default().Mission("cosmic1")
	day := time.Date(2009, 6, 3, 0, 0, 0, 0, time.UTC)
	conv := convention(t, mission.ROMSAF)

	files, _, err := naming.ListDay(ctx, conv, store, m, model.RefractivityRetrieval, day, naming.LayoutOptions{})
	require.NoError(t, err)
	require.Len(t, files, 1)

	files, _, err = naming.ListDay(ctx, conv, store, m, model.RefractivityRetrieval, day, naming.LayoutOptions{NonNominal: true})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "R11", files[1].Transmitter)

	prefixes, err := conv.DayPrefixes(ctx, store, m, model.CalibratedPhase, day, naming.LayoutOptions{})
	require.NoError(t, err)
	assert.Empty(t, prefixes)
}

func TestNew_UnknownCenter(t *testing.T) {
	_, err := naming.New("eumetsat", mission.Default())
	assert.Error(t, err)
}
