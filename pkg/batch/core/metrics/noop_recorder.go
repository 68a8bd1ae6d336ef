package metrics

import (
	"context"
	"time"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new NoOpMetricRecorder.
func NewNoOpMetricRecorder() *NoOpMetricRecorder {
	return &NoOpMetricRecorder{}
}

func (NoOpMetricRecorder) RecordPartitionLookup(context.Context, string, string)             {}
func (NoOpMetricRecorder) RecordPartitionFetch(context.Context, string, int, time.Duration)  {}
func (NoOpMetricRecorder) RecordPlan(context.Context, string, string, string, int, int, int) {}
func (NoOpMetricRecorder) RecordSounding(context.Context, string, string, string)            {}
func (NoOpMetricRecorder) RecordJob(context.Context, string, string, time.Duration)          {}
func (NoOpMetricRecorder) RecordRetry(context.Context, string, string)                       {}

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

var (
	_ MetricRecorder = (*NoOpMetricRecorder)(nil)
	_ Tracer         = (*NoOpTracer)(nil)
)
