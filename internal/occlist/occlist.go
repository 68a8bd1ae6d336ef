// Package occlist implements the occurrence list: an immutable, ordered
// collection of sounding records with the query and filters that produced it.
// Lists are created by Client.Query or Client.Restore; Filter, Combine and
// Intersect return new lists and never modify the receiver.
package occlist

import (
	"os"
	"path/filepath"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

const module = "occlist"

// Provenance records how a list was produced.
type Provenance struct {
	Query *QueryParams `json:"query,omitempty"`
	// Filters are the predicates applied after the query, in order.
	Filters []Predicates `json:"filters,omitempty"`
	// Operation is "union" or "intersection" for combined lists, whose inputs are in Combined.
	Operation string       `json:"operation,omitempty"`
	Combined  []Provenance `json:"combined,omitempty"`
}

func (p Provenance) withFilter(f Predicates) Provenance {
	out := p
	out.Filters = append(append([]Predicates(nil), p.Filters...), f)
	return out
}

// OccList is an immutable ordered list of soundings.
type OccList struct {
	records    []*model.Sounding
	provenance Provenance
	client     *Client
}

func newList(c *Client, records []*model.Sounding, prov Provenance) *OccList {
	return &OccList{records: records, provenance: prov, client: c}
}

// Len returns the number of records.
func (l *OccList) Len() int { return len(l.records) }

// Records returns deep copies of the records in list order.
func (l *OccList) Records() []*model.Sounding {
	out := make([]*model.Sounding, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// Provenance returns the query and filters that produced the list.
func (l *OccList) Provenance() Provenance { return l.provenance }

// Filter returns the records matching every predicate, in the same order.
func (l *OccList) Filter(p Predicates) (*OccList, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var kept []*model.Sounding
	for _, r := range l.records {
		if p.Match(r) {
			kept = append(kept, r)
		}
	}
	logger.Debugf("Filter kept %d of %d records.", len(kept), len(l.records))
	return newList(l.client, kept, l.provenance.withFilter(p)), nil
}

// FilterBy is Filter with loosely typed keyword arguments, e.g.
// {"longituderange": []float64{170, -170}, "geometry": "rising"}.
func (l *OccList) FilterBy(args map[string]any) (*OccList, error) {
	p, err := ParsePredicates(args)
	if err != nil {
		return nil, err
	}
	return l.Filter(*p)
}

// Combine returns the union of l and other by occultation id. Records present
// in both are merged so that their filetype references are unioned.
func (l *OccList) Combine(other *OccList) *OccList {
	byID := make(map[string]*model.Sounding, len(l.records)+len(other.records))
	var order []string
	for _, src := range [][]*model.Sounding{l.records, other.records} {
		for _, r := range src {
			if prev, ok := byID[r.OccultationID]; ok {
				byID[r.OccultationID] = prev.Merge(r)
				continue
			}
			byID[r.OccultationID] = r
			order = append(order, r.OccultationID)
		}
	}
	out := make([]*model.Sounding, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	model.SortSoundings(out)
	return newList(l.pickClient(other), out, Provenance{
		Operation: "union",
		Combined:  []Provenance{l.provenance, other.provenance},
	})
}

// Intersect returns the records of l whose occultation id is also in other,
// merged with their counterpart.
func (l *OccList) Intersect(other *OccList) *OccList {
	byID := make(map[string]*model.Sounding, len(other.records))
	for _, r := range other.records {
		if prev, ok := byID[r.OccultationID]; ok {
			byID[r.OccultationID] = prev.Merge(r)
		} else {
			byID[r.OccultationID] = r
		}
	}
	var out []*model.Sounding
	for _, r := range l.records {
		if o, ok := byID[r.OccultationID]; ok {
			out = append(out, r.Merge(o))
		}
	}
	return newList(l.pickClient(other), out, Provenance{
		Operation: "intersection",
		Combined:  []Provenance{l.provenance, other.provenance},
	})
}

func (l *OccList) pickClient(other *OccList) *Client {
	if l.client != nil {
		return l.client
	}
	return other.client
}

// savedList is the on-disk form of an OccList.
type savedList struct {
	Records         []*model.Sounding `json:"records"`
	QueryProvenance Provenance        `json:"query_provenance"`
}

// Save writes the list as JSON {records, query_provenance} to path.
func (l *OccList) Save(path string) error {
	records := l.records
	if records == nil {
		records = []*model.Sounding{}
	}
	data, err := serialization.Marshal(savedList{Records: records, QueryProvenance: l.provenance}, "occurrence list")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return exception.NewStorageFatalError(module, "failed to create directory for saved list", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return exception.NewStorageFatalError(module, "failed to save occurrence list", path, err)
	}
	logger.Infof("Saved %d records to %s.", len(l.records), path)
	return nil
}

func loadList(path string) (*savedList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, exception.NewStorageFatalError(module, "failed to open saved occurrence list", path, err)
	}
	defer f.Close()
	var saved savedList
	if err := serialization.Decode(f, &saved, "occurrence list "+path); err != nil {
		return nil, err
	}
	for _, r := range saved.Records {
		if r.AvailableFiletypes == nil {
			r.AvailableFiletypes = map[string]string{}
		}
	}
	return &saved, nil
}
