package occlist

import (
	"sort"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// Field names accepted by Info and Values.
const (
	FieldDateTime      = "datetime"
	FieldLongitude     = "longitude"
	FieldLatitude      = "latitude"
	FieldLocalTime     = "localtime"
	FieldMission       = "mission"
	FieldReceiver      = "receiver"
	FieldTransmitter   = "transmitter"
	FieldConstellation = "constellation"
	FieldGeometry      = "geometry"
	FieldFileType      = "filetype"
	FieldOccultationID = "occultation_id"
)

// MinMax is the extent of a numeric field over its non-missing values.
type MinMax struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// TimeSpan is the extent of the sounding times. Both are zero for an empty list.
type TimeSpan struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// GeometryCounts counts rising and setting soundings.
type GeometryCounts struct {
	NRising  int `json:"nrising"`
	NSetting int `json:"nsetting"`
}

func numericField(field string) (func(*model.Sounding) float64, bool) {
	switch field {
	case FieldLongitude:
		return func(s *model.Sounding) float64 { return s.Longitude }, true
	case FieldLatitude:
		return func(s *model.Sounding) float64 { return s.Latitude }, true
	case FieldLocalTime:
		return func(s *model.Sounding) float64 { return s.LocalTime }, true
	}
	return nil, false
}

func textField(field string) (func(*model.Sounding) string, bool) {
	switch field {
	case FieldMission:
		return func(s *model.Sounding) string { return s.Mission }, true
	case FieldReceiver:
		return func(s *model.Sounding) string { return s.Receiver }, true
	case FieldTransmitter:
		return func(s *model.Sounding) string { return s.Transmitter }, true
	case FieldConstellation:
		return func(s *model.Sounding) string { return s.GNSSConstellation }, true
	case FieldGeometry:
		return func(s *model.Sounding) string { return string(s.Geometry) }, true
	case FieldOccultationID:
		return func(s *model.Sounding) string { return s.OccultationID }, true
	}
	return nil, false
}

// Info summarizes field over the list:
//
//	datetime                                   TimeSpan
//	longitude, latitude, localtime             MinMax (fill values ignored)
//	mission, receiver, transmitter, constellation  sorted unique []string
//	geometry                                   GeometryCounts
//	filetype                                   map[string]int of records per filetype key
func (l *OccList) Info(field string) (any, error) {
	switch field {
	case FieldDateTime:
		var span TimeSpan
		for i, r := range l.records {
			t := r.Time()
			if i == 0 || t.Before(span.Min) {
				span.Min = t
			}
			if i == 0 || t.After(span.Max) {
				span.Max = t
			}
		}
		return span, nil
	case FieldGeometry:
		var gc GeometryCounts
		for _, r := range l.records {
			switch r.Geometry {
			case model.GeometryRising:
				gc.NRising++
			case model.GeometrySetting:
				gc.NSetting++
			}
		}
		return gc, nil
	case FieldFileType:
		counts := map[string]int{}
		for _, r := range l.records {
			for k := range r.AvailableFiletypes {
				counts[k]++
			}
		}
		return counts, nil
	case FieldMission, FieldReceiver, FieldTransmitter, FieldConstellation:
		get, _ := textField(field)
		seen := map[string]bool{}
		var out []string
		for _, r := range l.records {
			if v := get(r); v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
		sort.Strings(out)
		return out, nil
	}
	if get, ok := numericField(field); ok {
		var mm MinMax
		for _, r := range l.records {
			v := get(r)
			if model.IsFill(v) {
				continue
			}
			if mm.Count == 0 || v < mm.Min {
				mm.Min = v
			}
			if mm.Count == 0 || v > mm.Max {
				mm.Max = v
			}
			mm.Count++
		}
		return mm, nil
	}
	return nil, exception.NewInvalidQueryError(module, "info: unrecognized field %q", field)
}

// CountBy counts records per value of a text field such as mission or receiver.
func (l *OccList) CountBy(field string) (map[string]int, error) {
	get, ok := textField(field)
	if !ok {
		return nil, exception.NewInvalidQueryError(module, "count: unrecognized field %q", field)
	}
	out := map[string]int{}
	for _, r := range l.records {
		out[get(r)]++
	}
	return out, nil
}

// Column holds one field's values aligned with the list order. Missing[i]
// marks a record without a value; the matching entry holds the zero value.
type Column struct {
	Field   string
	Floats  []float64
	Times   []time.Time
	Strings []string
	Missing []bool
}

// Values returns field for every record in list order.
func (l *OccList) Values(field string) (*Column, error) {
	col := &Column{Field: field, Missing: make([]bool, len(l.records))}
	if get, ok := numericField(field); ok {
		col.Floats = make([]float64, len(l.records))
		for i, r := range l.records {
			if v := get(r); model.IsFill(v) {
				col.Missing[i] = true
			} else {
				col.Floats[i] = v
			}
		}
		return col, nil
	}
	if field == FieldDateTime {
		col.Times = make([]time.Time, len(l.records))
		for i, r := range l.records {
			t, err := model.ParseSortKey(r.SortKey)
			if err != nil {
				col.Missing[i] = true
				continue
			}
			col.Times[i] = t
		}
		return col, nil
	}
	if get, ok := textField(field); ok {
		col.Strings = make([]string, len(l.records))
		for i, r := range l.records {
			v := get(r)
			col.Strings[i] = v
			col.Missing[i] = v == ""
		}
		return col, nil
	}
	return nil, exception.NewInvalidQueryError(module, "values: unrecognized field %q", field)
}

// Len returns the number of values.
func (c *Column) Len() int { return len(c.Missing) }
