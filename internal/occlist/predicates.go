package occlist

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// Predicate names accepted by FilterBy.
const (
	PredMissions           = "missions"
	PredReceivers          = "receivers"
	PredTransmitters       = "transmitters"
	PredConstellations     = "GNSSconstellations"
	PredDateTimeRange      = "datetimerange"
	PredLongitudeRange     = "longituderange"
	PredLatitudeRange      = "latituderange"
	PredLocalTimeRange     = "localtimerange"
	PredGeometry           = "geometry"
	PredAvailableFileTypes = "availablefiletypes"
)

// Range is an inclusive numeric interval [lo, hi]. Longitude and local time
// ranges with lo > hi wrap around.
type Range [2]float64

// TimeRange is an inclusive time interval [from, to].
type TimeRange [2]time.Time

// NewTimeRange returns [from, to] in UTC.
func NewTimeRange(from, to time.Time) *TimeRange {
	return &TimeRange{from.UTC(), to.UTC()}
}

// From returns the start of the range.
func (r TimeRange) From() time.Time { return r[0] }

// To returns the end of the range.
func (r TimeRange) To() time.Time { return r[1] }

// Contains reports whether t is within [from, to].
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r[0]) && !t.After(r[1])
}

// Predicates is a conjunction of record filters. Zero-valued fields are not applied.
type Predicates struct {
	Missions           []string       `json:"missions,omitempty"`
	Receivers          []string       `json:"receivers,omitempty"`
	Transmitters       []string       `json:"transmitters,omitempty"`
	GNSSConstellations []string       `json:"GNSSconstellations,omitempty"`
	DateTimeRange      *TimeRange     `json:"datetimerange,omitempty"`
	LongitudeRange     *Range         `json:"longituderange,omitempty"`
	LatitudeRange      *Range         `json:"latituderange,omitempty"`
	LocalTimeRange     *Range         `json:"localtimerange,omitempty"`
	Geometry           model.Geometry `json:"geometry,omitempty"`
	AvailableFileTypes []string       `json:"availablefiletypes,omitempty"`
}

var fileTypeKeyPattern = regexp.MustCompile(`^([a-z]+)_([a-zA-Z]+)$`)

// Validate checks the predicates for consistency. Failures are InvalidFilterErrors.
func (p *Predicates) Validate() error {
	if len(p.Missions) > 0 && len(p.Receivers) > 0 {
		return exception.NewInvalidFilterError(module, PredReceivers, "missions and receivers cannot be filtered together")
	}
	if len(p.GNSSConstellations) > 0 && len(p.Transmitters) > 0 {
		return exception.NewInvalidFilterError(module, PredTransmitters, "GNSSconstellations and transmitters cannot be filtered together")
	}
	for _, c := range p.GNSSConstellations {
		if len(c) != 1 || !strings.Contains("GRECJSI", c) {
			return exception.NewInvalidFilterError(module, PredConstellations, "unrecognized GNSS constellation %q", c)
		}
	}
	if r := p.DateTimeRange; r != nil && r.From().After(r.To()) {
		return exception.NewInvalidFilterError(module, PredDateTimeRange, "datetimerange start %s is after its end %s",
			r.From().Format(time.RFC3339), r.To().Format(time.RFC3339))
	}
	if r := p.LongitudeRange; r != nil {
		for _, v := range r {
			if v < -180 || v > 180 {
				return exception.NewInvalidFilterError(module, PredLongitudeRange, "longitude %g outside [-180, 180]", v)
			}
		}
	}
	if r := p.LatitudeRange; r != nil {
		for _, v := range r {
			if v < -90 || v > 90 {
				return exception.NewInvalidFilterError(module, PredLatitudeRange, "latitude %g outside [-90, 90]", v)
			}
		}
		if r[1] <= r[0] {
			return exception.NewInvalidFilterError(module, PredLatitudeRange, "latituderange must be increasing, got [%g, %g]", r[0], r[1])
		}
	}
	if r := p.LocalTimeRange; r != nil {
		for _, v := range r {
			if v < 0 || v >= 24 {
				return exception.NewInvalidFilterError(module, PredLocalTimeRange, "local time %g outside [0, 24)", v)
			}
		}
	}
	switch p.Geometry {
	case model.GeometryUnknown, model.GeometryRising, model.GeometrySetting:
	default:
		return exception.NewInvalidFilterError(module, PredGeometry, "geometry must be %q or %q, got %q",
			model.GeometryRising, model.GeometrySetting, p.Geometry)
	}
	for _, key := range p.AvailableFileTypes {
		if err := validFileTypeKey(key); err != nil {
			return exception.NewInvalidFilterError(module, PredAvailableFileTypes, "%v", err)
		}
	}
	return nil
}

func validFileTypeKey(key string) error {
	m := fileTypeKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return fmt.Errorf("filetype key %q is not of the form {center}_{filetype}", key)
	}
	known := false
	for _, c := range mission.Centers {
		if c == m[1] {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unrecognized processing center %q in %q", m[1], key)
	}
	for _, ft := range model.FileTypes {
		if ft == m[2] {
			return nil
		}
	}
	return fmt.Errorf("unrecognized filetype %q in %q", m[2], key)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// inRange applies an inclusive range. Wrapped ranges (lo > hi) match v >= lo or v <= hi.
func inRange(r *Range, v float64, wrap bool) bool {
	if model.IsFill(v) {
		return false
	}
	lo, hi := r[0], r[1]
	if wrap && lo > hi {
		return v >= lo || v <= hi
	}
	return v >= lo && v <= hi
}

// Match reports whether s satisfies every predicate.
func (p *Predicates) Match(s *model.Sounding) bool {
	if len(p.Missions) > 0 && !contains(p.Missions, s.Mission) {
		return false
	}
	if len(p.Receivers) > 0 && !contains(p.Receivers, s.Receiver) {
		return false
	}
	if len(p.Transmitters) > 0 && !contains(p.Transmitters, s.Transmitter) {
		return false
	}
	if len(p.GNSSConstellations) > 0 && !contains(p.GNSSConstellations, s.GNSSConstellation) {
		return false
	}
	if p.DateTimeRange != nil && !p.DateTimeRange.Contains(s.Time()) {
		return false
	}
	if p.LongitudeRange != nil && !inRange(p.LongitudeRange, s.Longitude, true) {
		return false
	}
	if p.LatitudeRange != nil && !inRange(p.LatitudeRange, s.Latitude, false) {
		return false
	}
	if p.LocalTimeRange != nil && !inRange(p.LocalTimeRange, s.LocalTime, true) {
		return false
	}
	if p.Geometry != model.GeometryUnknown && s.Geometry != p.Geometry {
		return false
	}
	for _, key := range p.AvailableFileTypes {
		if !s.HasFileType(key) {
			return false
		}
	}
	return true
}

// ParsePredicates builds Predicates from loosely typed keyword arguments, as
// decoded from JSON or YAML or passed on a command line. Unknown keys and
// malformed values are InvalidFilterErrors.
func ParsePredicates(args map[string]any) (*Predicates, error) {
	p := &Predicates{}
	for key, raw := range args {
		var err error
		switch key {
		case PredMissions:
			p.Missions, err = stringList(raw)
		case PredReceivers:
			p.Receivers, err = stringList(raw)
		case PredTransmitters:
			p.Transmitters, err = stringList(raw)
		case PredConstellations:
			p.GNSSConstellations, err = stringList(raw)
		case PredAvailableFileTypes:
			p.AvailableFileTypes, err = stringList(raw)
		case PredDateTimeRange:
			p.DateTimeRange, err = timeRange(raw)
		case PredLongitudeRange:
			p.LongitudeRange, err = numericRange(raw)
		case PredLatitudeRange:
			p.LatitudeRange, err = numericRange(raw)
		case PredLocalTimeRange:
			p.LocalTimeRange, err = numericRange(raw)
		case PredGeometry:
			var s []string
			if s, err = stringList(raw); err == nil {
				if len(s) != 1 {
					err = fmt.Errorf("expected one geometry, got %d", len(s))
				} else {
					p.Geometry = model.Geometry(strings.ToLower(s[0]))
				}
			}
		default:
			return nil, exception.NewInvalidFilterError(module, key, "unrecognized filter %q", key)
		}
		if err != nil {
			return nil, exception.NewInvalidFilterError(module, key, "malformed %s: %v", key, err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case model.Geometry:
		return []string{string(v)}, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string or a list of strings, got %T", raw)
}

func number(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", raw)
}

func numericRange(raw any) (*Range, error) {
	var items []any
	switch v := raw.(type) {
	case Range:
		return &v, nil
	case *Range:
		return v, nil
	case [2]float64:
		r := Range(v)
		return &r, nil
	case []float64:
		for _, f := range v {
			items = append(items, f)
		}
	case []int:
		for _, i := range v {
			items = append(items, i)
		}
	case []string:
		for _, e := range v {
			items = append(items, e)
		}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("expected a pair of numbers, got %T", raw)
	}
	if len(items) != 2 {
		return nil, fmt.Errorf("expected 2 values, got %d", len(items))
	}
	var r Range
	for i, e := range items {
		f, err := number(e)
		if err != nil {
			return nil, err
		}
		r[i] = f
	}
	return &r, nil
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"}

// ParseTime accepts RFC 3339 timestamps, "yyyy-mm-ddThh:mm[:ss]" and "yyyy-mm-dd", all read as UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func timeRange(raw any) (*TimeRange, error) {
	var items []any
	switch v := raw.(type) {
	case TimeRange:
		return &v, nil
	case *TimeRange:
		return v, nil
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []time.Time:
		for _, t := range v {
			items = append(items, t)
		}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("expected a pair of times, got %T", raw)
	}
	if len(items) != 2 {
		return nil, fmt.Errorf("expected 2 values, got %d", len(items))
	}
	var r TimeRange
	for i, e := range items {
		switch t := e.(type) {
		case time.Time:
			r[i] = t.UTC()
		case string:
			parsed, err := ParseTime(t)
			if err != nil {
				return nil, err
			}
			r[i] = parsed
		default:
			return nil, fmt.Errorf("expected a time, got %T", e)
		}
	}
	return &r, nil
}
