package occlist

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/mirror"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const partitionReaders = 8

// QueryParams selects soundings by mission and inclusive time range. At least one is required.
type QueryParams struct {
	Missions      []string   `json:"missions,omitempty"`
	DateTimeRange *TimeRange `json:"datetimerange,omitempty"`
	// Refresh checks cached partitions against the source version instead of serving them as is.
	Refresh bool `json:"-"`
}

// Client queries the metadata mirror and restores saved lists.
type Client struct {
	mirror   *mirror.Mirror
	registry *mission.Registry
	objects  *storage.ObjectStore
	tracer   metrics.Tracer
}

// NewClient returns a Client. objects is the bucket holding the files the
// records reference; it is only needed by OccList.Download.
func NewClient(m *mirror.Mirror, registry *mission.Registry, objects *storage.ObjectStore, tracer metrics.Tracer) *Client {
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Client{mirror: m, registry: registry, objects: objects, tracer: tracer}
}

// Validate checks the query parameters. Failures are InvalidQueryErrors.
func (c *Client) Validate(q QueryParams) error {
	if len(q.Missions) == 0 && q.DateTimeRange == nil {
		return exception.NewInvalidQueryError(module, "a query needs missions, a datetimerange or both")
	}
	for _, m := range q.Missions {
		if _, err := c.registry.Mission(m); err != nil {
			return exception.NewInvalidQueryError(module, "unrecognized mission %q; valid missions are %s", m, strings.Join(c.registry.Names(), ", "))
		}
	}
	if r := q.DateTimeRange; r != nil && r.From().After(r.To()) {
		return exception.NewInvalidQueryError(module, "datetimerange start %s is after its end %s",
			r.From().Format(time.RFC3339), r.To().Format(time.RFC3339))
	}
	return nil
}

// scope covers every partition that may hold a record of q.
func (c *Client) scope(q QueryParams) mirror.Scope {
	s := mirror.Scope{Missions: q.Missions}
	if len(s.Missions) == 0 {
		s.Missions = c.registry.Names()
	}
	if r := q.DateTimeRange; r != nil {
		s.From = shard.NewID("", r.From()).Day
		s.To = shard.NewID("", r.To()).Day.AddDate(0, 0, 1)
	}
	return s
}

// Query returns the soundings of q, sorted by sort key then partition key.
func (c *Client) Query(ctx context.Context, q QueryParams) (_ *OccList, err error) {
	if err := c.Validate(q); err != nil {
		return nil, err
	}
	ctx, end := c.tracer.StartSpan(ctx, "occlist.query", map[string]string{"missions": strings.Join(q.Missions, ",")})
	defer func() { end(err) }()

	ids, err := c.mirror.Partitions(ctx, c.scope(q))
	if err != nil {
		return nil, err
	}
	logger.Debugf("Query resolved %d partitions.", len(ids))

	parts := make([][]*model.Sounding, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(partitionReaders)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := c.mirror.GetPartition(gctx, id, !q.Refresh)
			if err != nil {
				return err
			}
			parts[i] = p.Records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []*model.Sounding
	for _, recs := range parts {
		for _, r := range recs {
			if q.DateTimeRange != nil && !q.DateTimeRange.Contains(r.Time()) {
				continue
			}
			records = append(records, r)
		}
	}
	model.SortSoundings(records)
	logger.Infof("Query returned %d records from %d partitions.", len(records), len(ids))
	prov := q
	return newList(c, records, Provenance{Query: &prov}), nil
}

// Restore reads a list written by OccList.Save. Records keep their saved order.
func (c *Client) Restore(path string) (*OccList, error) {
	saved, err := loadList(path)
	if err != nil {
		return nil, err
	}
	logger.Infof("Restored %d records from %s.", len(saved.Records), path)
	return newList(c, saved.Records, saved.QueryProvenance), nil
}
