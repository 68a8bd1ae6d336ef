package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	metrics "github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	logger "github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
// Batch commands are short-lived, so the registry is flushed to a node-exporter
// textfile on exit rather than scraped.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	partitionLookups *prometheus.CounterVec
	partitionFetch   *prometheus.HistogramVec
	partitionBytes   *prometheus.CounterVec
	plannedJobs      *prometheus.CounterVec
	plannedFiles     *prometheus.CounterVec
	plannerSkipped   *prometheus.CounterVec
	soundings        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	storageRetries   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder on a private registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		partitionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_mirror_lookups_total",
			Help: "Mirror partition lookups by source and outcome.",
		}, []string{"source", "outcome"}),
		partitionFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rorefcat_mirror_fetch_duration_seconds",
			Help:    "Duration of remote partition fetches.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		partitionBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_mirror_fetch_bytes_total",
			Help: "Bytes of partition data fetched from the remote source.",
		}, []string{"source"}),
		plannedJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_planner_jobs_total",
			Help: "Job descriptors emitted by the planner.",
		}, []string{"center", "mission", "filetype"}),
		plannedFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_planner_files_total",
			Help: "Source files scheduled for reformatting.",
		}, []string{"center", "mission", "filetype"}),
		plannerSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_planner_skipped_total",
			Help: "Source files skipped by the planner because their names could not be parsed.",
		}, []string{"center", "mission", "filetype"}),
		soundings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_worker_soundings_total",
			Help: "Soundings handled by the worker, by outcome.",
		}, []string{"center", "filetype", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rorefcat_worker_job_duration_seconds",
			Help:    "Duration of worker jobs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"center", "status"}),
		storageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rorefcat_storage_retries_total",
			Help: "Retried storage calls by component and reason.",
		}, []string{"component", "reason"}),
	}

	registry.MustRegister(
		r.partitionLookups,
		r.partitionFetch,
		r.partitionBytes,
		r.plannedJobs,
		r.plannedFiles,
		r.plannerSkipped,
		r.soundings,
		r.jobDuration,
		r.storageRetries,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordPartitionLookup counts a mirror lookup.
func (r *PrometheusRecorder) RecordPartitionLookup(ctx context.Context, source, outcome string) {
	r.partitionLookups.WithLabelValues(source, outcome).Inc()
}

// RecordPartitionFetch observes a remote fetch.
func (r *PrometheusRecorder) RecordPartitionFetch(ctx context.Context, source string, bytes int, duration time.Duration) {
	r.partitionFetch.WithLabelValues(source).Observe(duration.Seconds())
	r.partitionBytes.WithLabelValues(source).Add(float64(bytes))
}

// RecordPlan records the counts of one planning run.
func (r *PrometheusRecorder) RecordPlan(ctx context.Context, center, mission, filetype string, jobs, files, skipped int) {
	r.plannedJobs.WithLabelValues(center, mission, filetype).Add(float64(jobs))
	r.plannedFiles.WithLabelValues(center, mission, filetype).Add(float64(files))
	r.plannerSkipped.WithLabelValues(center, mission, filetype).Add(float64(skipped))
	logger.Debugf("Metrics: plan %s/%s/%s emitted %d jobs for %d files (%d skipped).", center, mission, filetype, jobs, files, skipped)
}

// RecordSounding counts one sounding.
func (r *PrometheusRecorder) RecordSounding(ctx context.Context, center, filetype, outcome string) {
	r.soundings.WithLabelValues(center, filetype, outcome).Inc()
}

// RecordJob observes a worker job.
func (r *PrometheusRecorder) RecordJob(ctx context.Context, center, status string, duration time.Duration) {
	r.jobDuration.WithLabelValues(center, status).Observe(duration.Seconds())
	logger.Debugf("Metrics: job for %s ended with %s. Duration: %.3fs", center, status, duration.Seconds())
}

// RecordRetry counts one retried storage call.
func (r *PrometheusRecorder) RecordRetry(ctx context.Context, component, reason string) {
	r.storageRetries.WithLabelValues(component, reason).Inc()
}

// WriteTextfile writes the registry in the text exposition format to path.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
