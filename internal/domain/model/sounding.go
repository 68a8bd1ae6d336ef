// Package model defines the sounding record and the key, path and filetype
// conventions shared by the catalog, the mirror and the query engine.
package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// FillValue marks a missing numeric field.
const FillValue = -999.99

// IsFill reports whether v is the fill value.
func IsFill(v float64) bool {
	return math.Abs(v-FillValue) < 1e-6
}

// Geometry is the occultation geometry.
type Geometry string

const (
	GeometryUnknown Geometry = ""
	GeometryRising  Geometry = "rising"
	GeometrySetting Geometry = "setting"
)

// ParseGeometry accepts "rising", "setting" and the empty string.
func ParseGeometry(s string) (Geometry, error) {
	switch g := Geometry(strings.ToLower(strings.TrimSpace(s))); g {
	case GeometryRising, GeometrySetting, GeometryUnknown:
		return g, nil
	default:
		return GeometryUnknown, fmt.Errorf("invalid geometry %q", s)
	}
}

// Sounding is the catalog record of one RO sounding. It is uniquely identified
// by (PartitionKey, SortKey). Missing numeric fields hold FillValue.
type Sounding struct {
	OccultationID      string            `json:"occultation_id"`
	PartitionKey       string            `json:"partition_key"`
	SortKey            string            `json:"sort_key"`
	Mission            string            `json:"mission"`
	Receiver           string            `json:"receiver"`
	Transmitter        string            `json:"transmitter"`
	GNSSConstellation  string            `json:"gnss_constellation"`
	Longitude          float64           `json:"longitude"`
	Latitude           float64           `json:"latitude"`
	LocalTime          float64           `json:"localtime"`
	Geometry           Geometry          `json:"geometry"`
	AvailableFiletypes map[string]string `json:"available_filetypes"`
}

// SoundingFields are the inputs to NewSounding. Nil pointers are missing values.
type SoundingFields struct {
	Mission     string
	Receiver    string
	Transmitter string
	Time        time.Time
	Longitude   *float64
	Latitude    *float64
	LocalTime   *float64
	Geometry    Geometry
}

// NewSounding validates f and builds a Sounding with derived keys. Validation
// failures are ReformatErrors carrying the occultation id.
func NewSounding(f SoundingFields) (*Sounding, error) {
	const op = "model.NewSounding"
	if f.Receiver == "" || f.Transmitter == "" || f.Time.IsZero() {
		return nil, exception.NewReformatError(op, "", "receiver, transmitter and time are required", nil)
	}
	occid := OccultationID(f.Transmitter, f.Receiver, f.Time)
	if f.Mission == "" {
		return nil, exception.NewReformatError(op, occid, "mission is required", nil)
	}
	if !validTransmitter(f.Transmitter) {
		return nil, exception.NewReformatError(op, occid, fmt.Sprintf("transmitter %q is not a GNSS PRN", f.Transmitter), nil)
	}
	if f.Geometry != GeometryUnknown && f.Geometry != GeometryRising && f.Geometry != GeometrySetting {
		return nil, exception.NewReformatError(op, occid, fmt.Sprintf("invalid geometry %q", f.Geometry), nil)
	}

	s := &Sounding{
		OccultationID:      occid,
		PartitionKey:       PartitionKey(f.Receiver, f.Transmitter),
		SortKey:            SortKey(f.Time),
		Mission:            f.Mission,
		Receiver:           f.Receiver,
		Transmitter:        f.Transmitter,
		GNSSConstellation:  f.Transmitter[:1],
		Longitude:          FillValue,
		Latitude:           FillValue,
		LocalTime:          FillValue,
		Geometry:           f.Geometry,
		AvailableFiletypes: map[string]string{},
	}
	if f.Longitude != nil {
		lon := *f.Longitude
		if math.IsNaN(lon) || lon < -180 || lon > 360 {
			return nil, exception.NewReformatError(op, occid, fmt.Sprintf("longitude %g out of range", lon), nil)
		}
		s.Longitude = NormalizeLongitude(lon)
	}
	if f.Latitude != nil {
		lat := *f.Latitude
		if math.IsNaN(lat) || lat < -90 || lat > 90 {
			return nil, exception.NewReformatError(op, occid, fmt.Sprintf("latitude %g out of range", lat), nil)
		}
		s.Latitude = lat
	}
	if f.LocalTime != nil {
		lt := *f.LocalTime
		if math.IsNaN(lt) || lt < 0 || lt > 24 {
			return nil, exception.NewReformatError(op, occid, fmt.Sprintf("local time %g out of range", lt), nil)
		}
		s.LocalTime = math.Mod(lt, 24)
	}
	return s, nil
}

func validTransmitter(t string) bool {
	if len(t) != 3 || !strings.ContainsRune("GRECJSI", rune(t[0])) {
		return false
	}
	return t[1] >= '0' && t[1] <= '9' && t[2] >= '0' && t[2] <= '9'
}

// NormalizeLongitude maps lon into [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Time returns the sounding time parsed from the sort key.
func (s *Sounding) Time() time.Time {
	t, _ := ParseSortKey(s.SortKey)
	return t
}

// HasFileType reports whether the record references a file for key ({center}_{filetype}).
func (s *Sounding) HasFileType(key string) bool {
	_, ok := s.AvailableFiletypes[key]
	return ok
}

// FileTypeKeys returns the keys of AvailableFiletypes in sorted order.
func (s *Sounding) FileTypeKeys() []string {
	keys := make([]string, 0, len(s.AvailableFiletypes))
	for k := range s.AvailableFiletypes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (s *Sounding) Clone() *Sounding {
	c := *s
	c.AvailableFiletypes = make(map[string]string, len(s.AvailableFiletypes))
	for k, v := range s.AvailableFiletypes {
		c.AvailableFiletypes[k] = v
	}
	return &c
}

// Merge folds other into a copy of s: file references are unioned without
// overwriting, and scalar fields of s are kept unless they are missing.
func (s *Sounding) Merge(other *Sounding) *Sounding {
	m := s.Clone()
	for k, v := range other.AvailableFiletypes {
		if _, ok := m.AvailableFiletypes[k]; !ok {
			m.AvailableFiletypes[k] = v
		}
	}
	if IsFill(m.Longitude) {
		m.Longitude = other.Longitude
	}
	if IsFill(m.Latitude) {
		m.Latitude = other.Latitude
	}
	if IsFill(m.LocalTime) {
		m.LocalTime = other.LocalTime
	}
	if m.Geometry == GeometryUnknown {
		m.Geometry = other.Geometry
	}
	return m
}

// Less orders soundings by sort key, then partition key.
func Less(a, b *Sounding) bool {
	if a.SortKey != b.SortKey {
		return a.SortKey < b.SortKey
	}
	return a.PartitionKey < b.PartitionKey
}

// SortSoundings sorts in place by sort key, then partition key.
func SortSoundings(ss []*Sounding) {
	sort.SliceStable(ss, func(i, j int) bool { return Less(ss[i], ss[j]) })
}
