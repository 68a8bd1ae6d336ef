// Package shard defines the mission/day metadata shards the MetadataStore is
// exported to. Shards are the unit the mirror fetches and caches.
package shard

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

const dayLayout = "2006-01-02"

// ID identifies the shard of one mission and UTC day.
type ID struct {
	Mission string
	Day     time.Time
}

// NewID truncates day to midnight UTC.
func NewID(mission string, day time.Time) ID {
	d := day.UTC()
	return ID{Mission: mission, Day: time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseID parses "{mission}_{yyyy-mm-dd}".
func ParseID(s string) (ID, error) {
	i := strings.LastIndex(s, "_")
	if i <= 0 {
		return ID{}, fmt.Errorf("malformed shard id %q", s)
	}
	day, err := time.Parse(dayLayout, s[i+1:])
	if err != nil {
		return ID{}, fmt.Errorf("malformed shard id %q: %w", s, err)
	}
	return ID{Mission: s[:i], Day: day}, nil
}

// String returns "{mission}_{yyyy-mm-dd}".
func (id ID) String() string {
	return id.Mission + "_" + id.Day.Format(dayLayout)
}

// Prefix returns the directory of the shards of a catalog version.
func Prefix(shardPrefix, version string) string {
	return path.Join(shardPrefix, version, "export_subsets") + "/"
}

// Path returns {shardPrefix}/{version}/export_subsets/{mission}_{yyyy-mm-dd}.json.
func Path(shardPrefix, version string, id ID) string {
	return Prefix(shardPrefix, version) + id.String() + ".json"
}

// IDFromPath parses the shard id out of an object path.
func IDFromPath(p string) (ID, error) {
	return ParseID(strings.TrimSuffix(path.Base(p), ".json"))
}

// Days returns every UTC day touched by [from, to). An empty range yields the day of from.
func Days(from, to time.Time) []time.Time {
	first := NewID("", from).Day
	if !to.After(from) {
		return []time.Time{first}
	}
	var out []time.Time
	for d := first; d.Before(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// IDs returns the shard ids of missions over [from, to), by day then mission.
func IDs(missions []string, from, to time.Time) []ID {
	sorted := append([]string(nil), missions...)
	sort.Strings(sorted)
	var out []ID
	for _, d := range Days(from, to) {
		for _, m := range sorted {
			out = append(out, ID{Mission: m, Day: d})
		}
	}
	return out
}

// Document is the serialized form of a shard.
type Document struct {
	Shard   string            `json:"shard"`
	Records []*model.Sounding `json:"records"`
}

// Encode serializes the records of a shard, sorted by sort key then partition key.
func Encode(id ID, records []*model.Sounding) ([]byte, error) {
	sorted := append([]*model.Sounding(nil), records...)
	model.SortSoundings(sorted)
	if sorted == nil {
		sorted = []*model.Sounding{}
	}
	return serialization.Marshal(Document{Shard: id.String(), Records: sorted}, "metadata shard "+id.String())
}

// Decode strictly parses a shard document.
func Decode(data []byte) (ID, []*model.Sounding, error) {
	var doc Document
	if err := serialization.Unmarshal(data, &doc, "metadata shard"); err != nil {
		return ID{}, nil, err
	}
	id, err := ParseID(doc.Shard)
	if err != nil {
		return ID{}, nil, err
	}
	for _, r := range doc.Records {
		if r.AvailableFiletypes == nil {
			r.AvailableFiletypes = map[string]string{}
		}
	}
	return id, doc.Records, nil
}
