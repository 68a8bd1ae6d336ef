// Package worker executes one job descriptor: it downloads each source file,
// reformats it into canonical products, writes them to the staging bucket and
// records them in the catalog with a conditional write. Running the same job
// again leaves the catalog unchanged.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/rorefcat/internal/domain/job"
	"github.com/tigerroll/rorefcat/internal/domain/mission"
	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/internal/domain/naming"
	"github.com/tigerroll/rorefcat/internal/metastore"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/engine/step/retry"
	"github.com/tigerroll/rorefcat/pkg/batch/engine/step/skip"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/serialization"
)

const module = "worker"

// Catalog is the part of the metadata store the worker writes through.
type Catalog interface {
	Get(ctx context.Context, partitionKey, sortKey string) (*model.Sounding, bool, error)
	ConditionalPut(ctx context.Context, snd *model.Sounding, fileTypeKey, path string, clobber bool) (metastore.PutOutcome, error)
}

// Result summarizes one Execute call.
type Result struct {
	JobID string
	// Success is true when no file or sounding failed. Warnings do not count as failures.
	Success bool
	// Processed counts soundings written by this run.
	Processed int
	// Skipped counts soundings that were already cataloged under the job's filetype key.
	Skipped int
	// Failed counts source files and soundings that could not be processed.
	Failed         int
	OccultationIDs []string
	Warnings       []string
	// Errors holds the failures counted in Failed.
	Errors *multierror.Error
	// LogFiles are the uploaded per-run log objects.
	LogFiles []string
}

// Summary is the one-line outcome printed by batchprocess.
func (r *Result) Summary() string {
	return fmt.Sprintf("processed %d, skipped %d, failed %d, warnings %d", r.Processed, r.Skipped, r.Failed, len(r.Warnings))
}

// Options configure a Worker.
type Options struct {
	// WorkingDir receives a uuid-named scratch directory per Execute call.
	WorkingDir string
	Clobber    bool
	Retry      config.RetryConfig
	ItemSkip   config.ItemSkipConfig
	// LogDir, when set, receives the per-run error and warning logs, which are
	// uploaded under LogsPrefix when non-empty.
	LogDir     string
	LogsPrefix string
}

// Worker executes job descriptors.
type Worker struct {
	registry    *mission.Registry
	sources     *storage.ObjectStore
	staging     *storage.ObjectStore
	definitions *storage.ObjectStore
	catalog     Catalog
	reformatter Reformatter
	opts        Options
	policy      retry.RetryPolicy
	metrics     metrics.MetricRecorder
	tracer      metrics.Tracer
	now         func() time.Time
}

// Params are the inputs of New.
type Params struct {
	Registry *mission.Registry
	// Sources is rebound to the bucket named by each descriptor's input prefix.
	Sources *storage.ObjectStore
	// Staging receives canonical files.
	Staging *storage.ObjectStore
	// Definitions receives run logs. Nil disables the upload.
	Definitions *storage.ObjectStore
	Catalog     Catalog
	Reformatter Reformatter
	Options     Options
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// New returns a Worker.
func New(p Params) *Worker {
	recorder, tracer := p.Recorder, p.Tracer
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &Worker{
		registry:    p.Registry,
		sources:     p.Sources,
		staging:     p.Staging,
		definitions: p.Definitions,
		catalog:     p.Catalog,
		reformatter: p.Reformatter,
		opts:        p.Options,
		policy:      retry.NewExponentialPolicy(p.Options.Retry),
		metrics:     recorder,
		tracer:      tracer,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// run is the state of one Execute call.
type run struct {
	w       *Worker
	d       *job.Descriptor
	conv    naming.Convention
	src     *storage.ObjectStore
	srcRoot string
	workdir string
	key     string
	skips   skip.SkipPolicy
	res     *Result
}

// Execute processes every file of d. Per-file and per-sounding failures are
// recorded in the Result; the returned error is reserved for an invalid
// descriptor, an unusable working area and cancellation.
func (w *Worker) Execute(ctx context.Context, d *job.Descriptor) (_ *Result, err error) {
	if err := d.Validate(); err != nil {
		return nil, exception.NewBatchError(module, "invalid job descriptor", err, false, false)
	}
	conv, err := naming.New(d.ProcessingCenter, w.registry)
	if err != nil {
		return nil, exception.NewBatchError(module, "invalid job descriptor", err, false, false)
	}
	_, bucket, root, ok := storage.SplitURI(d.InputPrefix)
	if !ok {
		return nil, exception.NewBatchErrorf(module, "input prefix %q is not a bucket URI", d.InputPrefix)
	}

	start := w.now()
	ctx, end := w.tracer.StartSpan(ctx, "worker.execute", map[string]string{
		"job": d.ID, "center": d.ProcessingCenter, "mission": d.Mission, "filetype": d.FileType,
	})
	defer func() { end(err) }()

	runID := d.ID
	if runID == "" {
		runID = uuid.NewString()
	}
	sinks := w.openSinks(runID)

	workdir := filepath.Join(w.opts.WorkingDir, uuid.NewString())
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		w.closeSinks(ctx, sinks, d, nil)
		return nil, exception.NewStorageFatalError(module, "failed to create working directory", workdir, err)
	}
	defer os.RemoveAll(workdir)

	r := &run{
		w: w, d: d, conv: conv,
		src:     w.sources.WithBucket(bucket),
		srcRoot: root,
		workdir: workdir,
		key:     d.FileTypeKey(),
		skips:   skip.NewSkipPolicy(w.opts.ItemSkip),
		res:     &Result{JobID: d.ID},
	}
	logger.Infof("Job %s: %d %s files of %s from %s.", d.ID, len(d.Files), r.key, d.Mission, d.InputPrefix)

	for _, f := range d.Files {
		if err := ctx.Err(); err != nil {
			w.closeSinks(ctx, sinks, d, r.res)
			return r.res, err
		}
		r.file(ctx, f)
	}

	r.res.Success = r.res.Failed == 0
	status := "success"
	if !r.res.Success {
		status = "failure"
	}
	w.metrics.RecordJob(ctx, d.ProcessingCenter, status, w.now().Sub(start))
	logger.Infof("Job %s finished: %s.", d.ID, r.res.Summary())
	w.closeSinks(ctx, sinks, d, r.res)
	return r.res, nil
}

// fileReport is the payload of the per-file "Results:" log line.
type fileReport struct {
	Status   string        `json:"status"`
	Job      fileReportJob `json:"job"`
	Messages []string      `json:"messages"`
}

type fileReportJob struct {
	ProcessingCenter string `json:"processing_center"`
	FileType         string `json:"file_type"`
	InputPrefix      string `json:"input_prefix"`
	InputFile        string `json:"input_file"`
}

func (r *run) file(ctx context.Context, f string) {
	report := fileReport{
		Status: "success",
		Job: fileReportJob{
			ProcessingCenter: r.d.ProcessingCenter,
			FileType:         r.d.FileType,
			InputPrefix:      r.d.InputPrefix,
			InputFile:        f,
		},
		Messages: []string{},
	}
	failedBefore, warnedBefore := r.res.Failed, len(r.res.Warnings)
	r.processFile(ctx, f, &report)
	switch {
	case r.res.Failed > failedBefore:
		report.Status = "failure"
	case len(r.res.Warnings) > warnedBefore:
		report.Status = "warning"
	}
	line, err := serialization.MarshalCompact(report, "results line")
	if err == nil {
		logger.Infof("Results: %s", line)
	}
}

func (r *run) warn(report *fileReport, err error) {
	msg := exception.ExtractErrorMessage(err)
	logger.Warnf("%s", msg)
	r.res.Warnings = append(r.res.Warnings, msg)
	report.Messages = append(report.Messages, msg)
}

func (r *run) fail(report *fileReport, err error) {
	msg := exception.ExtractErrorMessage(err)
	logger.Errorf("%s", msg)
	r.res.Failed++
	r.res.Errors = multierror.Append(r.res.Errors, err)
	report.Messages = append(report.Messages, msg)
}

// itemError records a per-item error as a warning when the skip policy allows it.
func (r *run) itemError(report *fileReport, err error) {
	if r.skips.ShouldSkip(err) {
		r.warn(report, err)
		return
	}
	r.fail(report, err)
}

func (r *run) processFile(ctx context.Context, f string, report *fileReport) {
	sf, err := r.conv.Parse(f)
	if err != nil {
		r.itemError(report, err)
		return
	}
	if sf.FileType != r.d.FileType {
		r.itemError(report, exception.NewNamingConventionError(module, f,
			fmt.Sprintf("file is %s, job is %s", sf.FileType, r.d.FileType)))
		return
	}

	local := filepath.Join(r.workdir, "input", path.Base(f))
	if err := r.download(ctx, path.Join(r.srcRoot, f), local); err != nil {
		r.fail(report, err)
		return
	}
	outdir := filepath.Join(r.workdir, "output", uuid.NewString())
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		r.fail(report, exception.NewStorageFatalError(module, "failed to create output directory", outdir, err))
		return
	}
	products, err := r.w.reformatter.Reformat(ctx, sf, local, outdir)
	if err != nil {
		if !errors.Is(err, exception.ErrReformat) {
			err = exception.NewReformatError(module, f, "reformatting failed", err)
		}
		r.itemError(report, err)
		r.w.metrics.RecordSounding(ctx, r.d.ProcessingCenter, r.d.FileType, metrics.SoundingFailed)
		return
	}
	if len(products) == 0 {
		r.warn(report, exception.NewReformatError(module, f, "reformatter produced no soundings", nil))
		return
	}
	for _, p := range products {
		r.product(ctx, f, p, report)
	}
}

func (r *run) product(ctx context.Context, f string, p Product, report *fileReport) {
	center, ft := r.d.ProcessingCenter, r.d.FileType
	occid := model.OccultationID(p.Fields.Transmitter, p.Fields.Receiver, p.Fields.Time)
	if p.Err != nil {
		r.itemError(report, exception.NewReformatError(module, occid, fmt.Sprintf("%s: %v", f, p.Err), p.Err))
		r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingWarned)
		return
	}
	if p.Fields.Mission == "" {
		p.Fields.Mission = r.d.Mission
	}
	snd, err := model.NewSounding(p.Fields)
	if err != nil {
		r.itemError(report, err)
		r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingWarned)
		return
	}

	if !r.w.opts.Clobber {
		var existing *model.Sounding
		var found bool
		err := r.retry(ctx, "get", func(ctx context.Context) error {
			var err error
			existing, found, err = r.w.catalog.Get(ctx, snd.PartitionKey, snd.SortKey)
			return err
		})
		if err != nil {
			r.fail(report, err)
			r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingFailed)
			return
		}
		if found && existing.HasFileType(r.key) {
			logger.Debugf("%s already has %s, skipping.", snd.OccultationID, r.key)
			r.res.Skipped++
			r.res.OccultationIDs = append(r.res.OccultationIDs, snd.OccultationID)
			r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingSkipped)
			return
		}
	}

	canonical := model.CanonicalPath(r.d.Version, center, snd.Mission, ft, p.CenterVersion, snd.Time(), snd.OccultationID)
	err = r.retry(ctx, "put", func(ctx context.Context) error {
		fh, err := os.Open(p.Output)
		if err != nil {
			return exception.NewReformatError(module, snd.OccultationID, "canonical output is missing", err)
		}
		defer fh.Close()
		_, err = r.w.staging.PutReader(ctx, canonical, fh, map[string]string{
			"occultation_id": snd.OccultationID,
			"source":         f,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, exception.ErrReformat) {
			r.itemError(report, err)
		} else {
			r.fail(report, err)
		}
		r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingFailed)
		return
	}

	var outcome metastore.PutOutcome
	err = r.retry(ctx, "conditional put", func(ctx context.Context) error {
		var err error
		outcome, err = r.w.catalog.ConditionalPut(ctx, snd, r.key, canonical, r.w.opts.Clobber)
		return err
	})
	if err != nil {
		r.fail(report, err)
		r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingFailed)
		return
	}
	r.res.OccultationIDs = append(r.res.OccultationIDs, snd.OccultationID)
	if outcome.Unchanged() {
		r.res.Skipped++
		r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingSkipped)
		return
	}
	r.res.Processed++
	r.w.metrics.RecordSounding(ctx, center, ft, metrics.SoundingCataloged)
	logger.Debugf("Cataloged %s as %s.", snd.OccultationID, canonical)
}

func (r *run) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, module, r.w.policy, fn, func(attempt int, err error) {
		logger.Warnf("Job %s: %s failed (attempt %d), retrying: %v", r.d.ID, op, attempt, err)
		r.w.metrics.RecordRetry(ctx, module, op)
	})
}

func (r *run) download(ctx context.Context, obj, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return exception.NewStorageFatalError(module, "failed to create input directory", local, err)
	}
	return r.retry(ctx, "download", func(ctx context.Context) error {
		rc, err := r.src.Open(ctx, obj)
		if err != nil {
			return err
		}
		defer rc.Close()
		fh, err := os.Create(local)
		if err != nil {
			return exception.NewStorageFatalError(module, "failed to create input file", local, err)
		}
		if _, err := io.Copy(fh, rc); err != nil {
			fh.Close()
			return exception.ClassifyStorageError(module, "failed to read "+r.src.URI(obj), obj, err)
		}
		if err := fh.Close(); err != nil {
			return exception.NewStorageFatalError(module, "failed to write input file", local, err)
		}
		return nil
	})
}
