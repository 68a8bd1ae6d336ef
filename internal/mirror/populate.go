package mirror

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// Progress is reported after every partition handled by Populate.
type Progress struct {
	Partition shard.ID
	Done      int
	Total     int
	Fetched   int
	Skipped   int
}

// PopulateReport summarizes a Populate run.
type PopulateReport struct {
	Total   int
	Fetched int
	Skipped int
	Records int
}

// Populate prefetches every partition of scope. Partitions already on disk are
// skipped, so an interrupted run resumes where it stopped. Fetches run with the
// configured concurrency under a request rate limit; the first error cancels
// the remaining fetches.
func (m *Mirror) Populate(ctx context.Context, scope Scope, progress func(Progress)) (PopulateReport, error) {
	ids, err := m.Partitions(ctx, scope)
	if err != nil {
		return PopulateReport{}, err
	}

	var (
		mu     sync.Mutex
		report = PopulateReport{Total: len(ids)}
		done   int
	)
	step := func(id shard.ID, fetched bool, records int) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if fetched {
			report.Fetched++
			report.Records += records
		} else {
			report.Skipped++
		}
		if progress != nil {
			progress(Progress{Partition: id, Done: done, Total: len(ids), Fetched: report.Fetched, Skipped: report.Skipped})
		}
	}

	limit := rate.Inf
	if m.opts.Populate.RateLimit > 0 {
		limit = rate.Limit(m.opts.Populate.RateLimit)
	}
	burst := m.opts.Populate.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	g, gctx := errgroup.WithContext(ctx)
	concurrency := m.opts.Populate.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g.SetLimit(concurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		if m.Cached(id) {
			step(id, false, 0)
			continue
		}
		id := id
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			p, err := m.fetch(gctx, id, metrics.OutcomeFetched)
			if err != nil {
				return err
			}
			step(id, true, len(p.Records))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warnf("Populate stopped after %d of %d partitions: %v", report.Fetched+report.Skipped, report.Total, err)
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	logger.Infof("Populate finished: %d partitions, %d fetched, %d already cached", report.Total, report.Fetched, report.Skipped)
	return report, nil
}

// Update refreshes every partition of scope against the source. Cached
// partitions whose source version is unchanged are only touched; new and
// changed partitions are fetched. Fetched counts both.
func (m *Mirror) Update(ctx context.Context, scope Scope, progress func(Progress)) (PopulateReport, error) {
	ids, err := m.Partitions(ctx, scope)
	if err != nil {
		return PopulateReport{}, err
	}
	limit := rate.Inf
	if m.opts.Populate.RateLimit > 0 {
		limit = rate.Limit(m.opts.Populate.RateLimit)
	}
	limiter := rate.NewLimiter(limit, max(m.opts.Populate.Burst, 1))

	report := PopulateReport{Total: len(ids)}
	for i, id := range ids {
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}
		p, fetched, err := m.refresh(ctx, id)
		if err != nil {
			logger.Warnf("Update stopped after %d of %d partitions: %v", i, len(ids), err)
			return report, err
		}
		if fetched {
			report.Fetched++
			report.Records += len(p.Records)
		} else {
			report.Skipped++
		}
		if progress != nil {
			progress(Progress{Partition: id, Done: i + 1, Total: len(ids), Fetched: report.Fetched, Skipped: report.Skipped})
		}
	}
	logger.Infof("Update finished: %d partitions, %d fetched, %d unchanged", report.Total, report.Fetched, report.Skipped)
	return report, nil
}
