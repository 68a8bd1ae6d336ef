package model

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	occTimeLayout = "200601021504"
	sortKeyLayout = "2006-01-02-15-04"
)

// OccultationID returns "{transmitter}-{receiver}-{yyyymmddhhmm}".
func OccultationID(transmitter, receiver string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%s", transmitter, receiver, t.UTC().Format(occTimeLayout))
}

// ParseOccultationID splits an occultation id into its parts.
func ParseOccultationID(id string) (transmitter, receiver string, t time.Time, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return "", "", time.Time{}, fmt.Errorf("malformed occultation id %q", id)
	}
	t, err = time.Parse(occTimeLayout, parts[2])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("malformed occultation id %q: %w", id, err)
	}
	return parts[0], parts[1], t, nil
}

// PartitionKey returns "{receiver}-{transmitter}".
func PartitionKey(receiver, transmitter string) string {
	return receiver + "-" + transmitter
}

// SortKey returns the "yyyy-mm-dd-hh-mm" sort key of t.
func SortKey(t time.Time) string {
	return t.UTC().Format(sortKeyLayout)
}

// ParseSortKey parses a sort key.
func ParseSortKey(s string) (time.Time, error) {
	return time.Parse(sortKeyLayout, s)
}

// FileTypeKey returns "{center}_{filetype}".
func FileTypeKey(center, filetype string) string {
	return center + "_" + filetype
}

// CanonicalPath returns the object path of a canonical output file:
// contributed/v{version}/{center}/{mission}/{filetype}/{yyyy}/{mm}/{dd}/{filetype}_{mission}_{center}_{centerVersion}_{occid}.nc
func CanonicalPath(version, center, mission, filetype, centerVersion string, t time.Time, occid string) string {
	t = t.UTC()
	return path.Join(
		"contributed", "v"+version, center, mission, filetype,
		fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%s_%s_%s_%s_%s.nc", filetype, mission, center, centerVersion, occid),
	)
}

// LogsPrefix returns "{logsPrefix}/{version with dots replaced}/{yyyymmdd}".
func LogsPrefix(logsPrefix, version string, t time.Time) string {
	return path.Join(logsPrefix, strings.ReplaceAll(version, ".", "_"), t.UTC().Format("20060102"))
}
