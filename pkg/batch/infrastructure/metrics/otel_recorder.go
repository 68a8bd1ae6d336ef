package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	metrics "github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	logger "github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// OpenTelemetryRecorder is a metrics.MetricRecorder that pushes to an OTLP collector.
type OpenTelemetryRecorder struct {
	shutdown func(context.Context) error

	partitionLookups metric.Int64Counter
	partitionFetch   metric.Float64Histogram
	partitionBytes   metric.Int64Counter
	plannedJobs      metric.Int64Counter
	plannedFiles     metric.Int64Counter
	plannerSkipped   metric.Int64Counter
	soundings        metric.Int64Counter
	jobDuration      metric.Float64Histogram
	storageRetries   metric.Int64Counter
}

// NewOTLPRecorder builds a meter provider exporting through cfg.Exporter every cfg.Interval.
func NewOTLPRecorder(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*OpenTelemetryRecorder, error) {
	exp, err := metricExporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("service.namespace", "rorefcat"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	r, err := NewOpenTelemetryRecorder(mp)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	r.shutdown = mp.Shutdown
	logger.Infof("Metrics enabled (exporter=%s, interval=%s).", cfg.Exporter, interval)
	return r, nil
}

func metricExporterFromConfig(ctx context.Context, cfg config.MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.Exporter {
	case "otlpgrpc":
		opts := []otlpmetricgrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "otlphttp":
		opts := []otlpmetrichttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %s", cfg.Exporter)
	}
}

// NewOpenTelemetryRecorder creates the instruments on a meter of provider.
func NewOpenTelemetryRecorder(provider metric.MeterProvider) (*OpenTelemetryRecorder, error) {
	m := provider.Meter(instrumentationName)
	r := &OpenTelemetryRecorder{shutdown: func(context.Context) error { return nil }}
	var err error
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		return h
	}

	r.partitionLookups = counter("rorefcat.mirror.lookups", "Mirror partition lookups by source and outcome.")
	r.partitionFetch = histogram("rorefcat.mirror.fetch.duration", "Duration of remote partition fetches.")
	r.partitionBytes = counter("rorefcat.mirror.fetch.bytes", "Bytes of partition data fetched from the remote source.")
	r.plannedJobs = counter("rorefcat.planner.jobs", "Job descriptors emitted by the planner.")
	r.plannedFiles = counter("rorefcat.planner.files", "Source files scheduled for reformatting.")
	r.plannerSkipped = counter("rorefcat.planner.skipped", "Source files skipped by the planner.")
	r.soundings = counter("rorefcat.worker.soundings", "Soundings handled by the worker, by outcome.")
	r.jobDuration = histogram("rorefcat.worker.job.duration", "Duration of worker jobs.")
	r.storageRetries = counter("rorefcat.storage.retries", "Retried storage calls by component and reason.")
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return r, nil
}

func attrs(kv ...string) metric.MeasurementOption {
	a := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		a = append(a, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(a...)
}

// RecordPartitionLookup counts a mirror lookup.
func (r *OpenTelemetryRecorder) RecordPartitionLookup(ctx context.Context, source, outcome string) {
	r.partitionLookups.Add(ctx, 1, attrs("source", source, "outcome", outcome))
}

// RecordPartitionFetch observes a remote fetch.
func (r *OpenTelemetryRecorder) RecordPartitionFetch(ctx context.Context, source string, bytes int, duration time.Duration) {
	r.partitionFetch.Record(ctx, duration.Seconds(), attrs("source", source))
	r.partitionBytes.Add(ctx, int64(bytes), attrs("source", source))
}

// RecordPlan records the counts of one planning run.
func (r *OpenTelemetryRecorder) RecordPlan(ctx context.Context, center, mission, filetype string, jobs, files, skipped int) {
	a := attrs("center", center, "mission", mission, "filetype", filetype)
	r.plannedJobs.Add(ctx, int64(jobs), a)
	r.plannedFiles.Add(ctx, int64(files), a)
	r.plannerSkipped.Add(ctx, int64(skipped), a)
}

func (r *OpenTelemetryRecorder) RecordSounding(ctx context.Context, center, filetype, outcome string) {
	r.soundings.Add(ctx, 1, attrs("center", center, "filetype", filetype, "outcome", outcome))
}

func (r *OpenTelemetryRecorder) RecordJob(ctx context.Context, center, status string, duration time.Duration) {
	r.jobDuration.Record(ctx, duration.Seconds(), attrs("center", center, "status", status))
}

func (r *OpenTelemetryRecorder) RecordRetry(ctx context.Context, component, reason string) {
	r.storageRetries.Add(ctx, 1, attrs("component", component, "reason", reason))
}

// Shutdown pushes the last collection and stops the exporter.
func (r *OpenTelemetryRecorder) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.shutdown(ctx)
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
