package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

func f64(v float64) *float64 { return &v }

var champTime = time.Date(2003, 2, 14, 1, 2, 0, 0, time.UTC)

func TestNewSounding_Keys(t *testing.T) {
	s, err := model.NewSounding(model.SoundingFields{
		Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: champTime,
		Longitude: f64(200), Latitude: f64(-45.5), LocalTime: f64(23.5), Geometry: model.GeometrySetting,
	})
	require.NoError(t, err)

	assert.Equal(t, "G05-champ-200302140102", s.OccultationID)
	assert.Equal(t, "champ-G05", s.PartitionKey)
	assert.Equal(t, "2003-02-14-01-02", s.SortKey)
	assert.Equal(t, "G", s.GNSSConstellation)
	assert.InDelta(t, -160.0, s.Longitude, 1e-9)
	assert.Equal(t, champTime, s.Time())
}

func TestNewSounding_MissingValuesUseFill(t *testing.T) {
	s, err := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "R12", Time: champTime})
	require.NoError(t, err)
	assert.True(t, model.IsFill(s.Longitude))
	assert.True(t, model.IsFill(s.Latitude))
	assert.True(t, model.IsFill(s.LocalTime))
	assert.Equal(t, model.GeometryUnknown, s.Geometry)
}

func TestNewSounding_Validation(t *testing.T) {
	base := model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: champTime}

	cases := map[string]func(f *model.SoundingFields){
		"latitude":    func(f *model.SoundingFields) { f.Latitude = f64(91) },
		"longitude":   func(f *model.SoundingFields) { f.Longitude = f64(-181) },
		"localtime":   func(f *model.SoundingFields) { f.LocalTime = f64(25) },
		"transmitter": func(f *model.SoundingFields) { f.Transmitter = "X5" },
		"mission":     func(f *model.SoundingFields) { f.Mission = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := base
			mutate(&f)
			_, err := model.NewSounding(f)
			require.Error(t, err)
			assert.True(t, errors.Is(err, exception.ErrReformat))
		})
	}
}

func TestSounding_Merge(t *testing.T) {
	a, _ := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: champTime, Longitude: f64(10)})
	b, _ := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: champTime, Longitude: f64(11), Latitude: f64(5)})
	a.AvailableFiletypes["ucar_calibratedPhase"] = "a.nc"
	b.AvailableFiletypes["ucar_calibratedPhase"] = "other.nc"
	b.AvailableFiletypes["romsaf_refractivityRetrieval"] = "b.nc"

	m := a.Merge(b)
	assert.Equal(t, 10.0, m.Longitude)
	assert.Equal(t, 5.0, m.Latitude)
	assert.Equal(t, map[string]string{"ucar_calibratedPhase": "a.nc", "romsaf_refractivityRetrieval": "b.nc"}, m.AvailableFiletypes)
	assert.Len(t, a.AvailableFiletypes, 1, "merge must not mutate the receiver")
}

func TestSounding_JSONFieldNames(t *testing.T) {
	s, _ := model.NewSounding(model.SoundingFields{Mission: "champ", Receiver: "champ", Transmitter: "G05", Time: champTime})
	data, err := json.Marshal(s)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"occultation_id", "partition_key", "sort_key", "mission", "longitude", "latitude", "localtime", "geometry", "available_filetypes"} {
		assert.Contains(t, raw, key)
	}
}

func TestCanonicalPath(t *testing.T) {
	p := model.CanonicalPath("1.1", "ucar", "champ", model.CalibratedPhase, "2016.2430", champTime, "G05-champ-200302140102")
	assert.Equal(t, "contributed/v1.1/ucar/champ/calibratedPhase/2003/02/14/calibratedPhase_champ_ucar_2016.2430_G05-champ-200302140102.nc", p)
	assert.Equal(t, "logs/1_1/20030214", model.LogsPrefix("logs", "1.1", champTime))
}

func TestNormalizeFileType(t *testing.T) {
	for alias, want := range map[string]string{
		"level1b": model.CalibratedPhase, "atmPhs": model.CalibratedPhase, "conPhs": model.CalibratedPhase,
		"level2a": model.RefractivityRetrieval, "atmPrf": model.RefractivityRetrieval, "atm": model.RefractivityRetrieval,
		"level2b": model.AtmosphericRetrieval, "wetPf2": model.AtmosphericRetrieval, "atmosphericRetrieval": model.AtmosphericRetrieval,
	} {
		got, err := model.NormalizeFileType(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, got, alias)
	}
	_, err := model.NormalizeFileType("level3")
	assert.Error(t, err)
}

func TestParseOccultationID(t *testing.T) {
	tx, rx, tm, err := model.ParseOccultationID("G05-champ-200302140102")
	require.NoError(t, err)
	assert.Equal(t, "G05", tx)
	assert.Equal(t, "champ", rx)
	assert.Equal(t, champTime, tm)

	_, _, _, err = model.ParseOccultationID("G05-champ")
	assert.Error(t, err)
}
