// Package planner scans a processing center's source listing against the
// catalog and emits job descriptors for the source files not yet cataloged.
package planner

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/domain/naming"
	"github.com/tigerroll/rorefcat/internal/occlist"
	"github.com/tigerroll/rorefcat/internal/shard"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const module = "planner"

// DefaultJobsPerFile is used when a request does not set JobsPerFile.
const DefaultJobsPerFile = 100

// Catalog answers which soundings are already cataloged. *occlist.Client implements it.
type Catalog interface {
	Query(ctx context.Context, q occlist.QueryParams) (*occlist.OccList, error)
}

// PlanRequest selects the source files to plan.
type PlanRequest struct {
	Center  string
	Mission string
	// FileType accepts canonical names and level aliases (level1b, level2a, level2b).
	FileType string
	// DateRange is an inclusive range of days.
	DateRange   [2]time.Time
	JobsPerFile int
	LiveUpdate  bool
	NonNominal  bool
}

// PlanResult is the outcome of Plan.
type PlanResult struct {
	Center   string
	Mission  string
	FileType string
	Jobs     []*job.Descriptor
	// SourceFiles counts every parsed source file in scope.
	SourceFiles int
	// Cataloged counts the source files whose sounding already carries the filetype.
	Cataloged int
	// Skipped holds a NamingConventionError per file that could not be parsed.
	Skipped []error
}

// Pending returns the number of files in all jobs.
func (r *PlanResult) Pending() int {
	n := 0
	for _, j := range r.Jobs {
		n += len(j.Files)
	}
	return n
}

// Planner plans reformat-and-catalog jobs.
type Planner struct {
	registry    *mission.Registry
	catalog     Catalog
	sources     *storage.ObjectStore
	buckets     map[string]string
	liveBuckets map[string]string
	version     string
	jobsPerFile int
	metrics     metrics.MetricRecorder
	tracer      metrics.Tracer
}

// Params are the inputs of New.
type Params struct {
	Registry *mission.Registry
	Catalog  Catalog
	// Sources is a connection to the processing centers' buckets.
	Sources  *storage.ObjectStore
	Config   config.CatalogConfig
	Batch    config.BatchConfig
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// New returns a Planner.
func New(p Params) *Planner {
	jpf := p.Batch.JobsPerFile
	if jpf <= 0 {
		jpf = DefaultJobsPerFile
	}
	recorder, tracer := p.Recorder, p.Tracer
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Planner{
		registry:    p.Registry,
		catalog:     p.Catalog,
		sources:     p.Sources,
		buckets:     p.Config.SourceBuckets,
		liveBuckets: p.Config.LiveUpdateBuckets,
		version:     p.Batch.Version,
		jobsPerFile: jpf,
		metrics:     recorder,
		tracer:      tracer,
	}
}

// sourceStore returns the bucket holding the center's files.
func (p *Planner) sourceStore(center string, live bool) (*storage.ObjectStore, error) {
	buckets := p.buckets
	if live {
		buckets = p.liveBuckets
	}
	bucket, ok := buckets[center]
	if !ok || bucket == "" {
		kind := "source"
		if live {
			kind = "live-update"
		}
		return nil, exception.NewInvalidQueryError(module, "no %s bucket is configured for %s", kind, center)
	}
	return p.sources.WithBucket(bucket), nil
}

type pendingFile struct {
	day  time.Time
	path string
}

// Plan lists the source files of the request, subtracts the ones already
// cataloged under {center}_{filetype} and batches the rest into descriptors
// ordered by day, then file name.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (_ *PlanResult, err error) {
	filetype, err := model.NormalizeFileType(req.FileType)
	if err != nil {
		return nil, exception.NewInvalidQueryError(module, "%v", err)
	}
	conv, err := naming.New(req.Center, p.registry)
	if err != nil {
		return nil, exception.NewInvalidQueryError(module, "%v", err)
	}
	m, err := p.registry.Mission(req.Mission)
	if err != nil {
		return nil, exception.NewInvalidQueryError(module, "%v", err)
	}
	if m.CenterRoots(req.Center) == nil {
		return nil, exception.NewInvalidQueryError(module, "%s does not process %s", req.Center, req.Mission)
	}
	from, to := shard.NewID("", req.DateRange[0]).Day, shard.NewID("", req.DateRange[1]).Day
	if req.DateRange[0].IsZero() || req.DateRange[1].IsZero() || from.After(to) {
		return nil, exception.NewInvalidQueryError(module, "invalid date range %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	jpf := req.JobsPerFile
	if jpf <= 0 {
		jpf = p.jobsPerFile
	}
	src, err := p.sourceStore(req.Center, req.LiveUpdate)
	if err != nil {
		return nil, err
	}

	ctx, end := p.tracer.StartSpan(ctx, "planner.plan", map[string]string{
		"center": req.Center, "mission": req.Mission, "filetype": filetype,
	})
	defer func() { end(err) }()

	key := model.FileTypeKey(req.Center, filetype)
	result := &PlanResult{Center: req.Center, Mission: req.Mission, FileType: filetype}
	opts := naming.LayoutOptions{LiveUpdate: req.LiveUpdate, NonNominal: req.NonNominal}

	var listed []naming.SourceFile
	var listedDays []time.Time
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		files, skipped, err := naming.ListDay(ctx, conv, src, m, filetype, day, opts)
		if err != nil {
			return nil, err
		}
		for _, s := range skipped {
			logger.Warnf("%v", s)
		}
		result.Skipped = append(result.Skipped, skipped...)
		for _, f := range files {
			if f.Mission != req.Mission {
				continue
			}
			listed = append(listed, f)
			listedDays = append(listedDays, day)
		}
	}
	result.SourceFiles = len(listed)
	logger.Infof("Found %d %s files of %s for %s to %s in %s.", len(listed), key, req.Mission,
		from.Format("2006-01-02"), to.Format("2006-01-02"), src.URI(""))

	cataloged, err := p.cataloged(ctx, req.Mission, key, listed)
	if err != nil {
		return nil, err
	}

	var pending []pendingFile
	for i, f := range listed {
		if cataloged[f.OccultationID()] {
			result.Cataloged++
			continue
		}
		pending = append(pending, pendingFile{day: listedDays[i], path: f.Path})
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].day.Equal(pending[j].day) {
			return pending[i].day.Before(pending[j].day)
		}
		bi, bj := path.Base(pending[i].path), path.Base(pending[j].path)
		if bi != bj {
			return bi < bj
		}
		return pending[i].path < pending[j].path
	})

	for start := 0; start < len(pending); start += jpf {
		stop := start + jpf
		if stop > len(pending) {
			stop = len(pending)
		}
		d := &job.Descriptor{
			ProcessingCenter: req.Center,
			Mission:          req.Mission,
			FileType:         filetype,
			Version:          p.version,
			InputPrefix:      src.URI(""),
			Date:             pending[start].day.Format("2006-01-02"),
		}
		for _, f := range pending[start:stop] {
			d.Files = append(d.Files, f.path)
		}
		if err := d.AssignID(); err != nil {
			return nil, exception.NewBatchError(module, "failed to derive job id", err, false, false)
		}
		result.Jobs = append(result.Jobs, d)
	}

	p.metrics.RecordPlan(ctx, req.Center, req.Mission, filetype, len(result.Jobs), len(pending), len(result.Skipped))
	logger.Infof("Planned %d jobs for %d files (%d already cataloged, %d unparseable).",
		len(result.Jobs), len(pending), result.Cataloged, len(result.Skipped))
	return result, nil
}

// cataloged returns the occultation ids among files whose catalog record already carries key.
func (p *Planner) cataloged(ctx context.Context, missionName, key string, files []naming.SourceFile) (map[string]bool, error) {
	out := map[string]bool{}
	if len(files) == 0 {
		return out, nil
	}
	first, last := files[0].Time, files[0].Time
	for _, f := range files[1:] {
		if f.Time.Before(first) {
			first = f.Time
		}
		if f.Time.After(last) {
			last = f.Time
		}
	}
	list, err := p.catalog.Query(ctx, occlist.QueryParams{
		Missions:      []string{missionName},
		DateTimeRange: occlist.NewTimeRange(first, last),
		Refresh:       true,
	})
	if err != nil {
		return nil, err
	}
	list, err = list.Filter(occlist.Predicates{AvailableFileTypes: []string{key}})
	if err != nil {
		return nil, err
	}
	col, err := list.Values(occlist.FieldOccultationID)
	if err != nil {
		return nil, err
	}
	for _, id := range col.Strings {
		out[id] = true
	}
	return out, nil
}

// WriteJobs writes one JSON file per descriptor to store under jobsPrefix and returns their paths.
func WriteJobs(ctx context.Context, store *storage.ObjectStore, jobsPrefix string, result *PlanResult) ([]string, error) {
	paths := make([]string, 0, len(result.Jobs))
	for _, d := range result.Jobs {
		data, err := job.Encode(d)
		if err != nil {
			return paths, err
		}
		p := job.Path(jobsPrefix, d)
		if _, err := store.Put(ctx, p, data, map[string]string{"files": fmt.Sprint(len(d.Files))}); err != nil {
			return paths, err
		}
		logger.Debugf("Wrote job %s with %d files to %s.", d.ID, len(d.Files), store.URI(p))
		paths = append(paths, p)
	}
	return paths, nil
}
