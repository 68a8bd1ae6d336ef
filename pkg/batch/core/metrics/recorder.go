// Package metrics defines the recording and tracing abstractions used by the
// mirror, planner and worker. Implementations live in infrastructure/metrics.
package metrics

import (
	"context"
	"time"
)

// Outcomes of a mirror partition lookup.
const (
	OutcomeMemoryHit = "memory_hit"
	OutcomeDiskHit   = "disk_hit"
	OutcomeFetched   = "fetched"
	OutcomeRefreshed = "refreshed"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

// Outcomes of a single sounding inside a worker job.
const (
	SoundingCataloged = "cataloged"
	SoundingSkipped   = "skipped"
	SoundingWarned    = "warned"
	SoundingFailed    = "failed"
)

// MetricRecorder records the RO engine's operational metrics.
type MetricRecorder interface {
	// RecordPartitionLookup counts one mirror lookup by outcome.
	RecordPartitionLookup(ctx context.Context, source, outcome string)
	// RecordPartitionFetch observes a remote partition fetch.
	RecordPartitionFetch(ctx context.Context, source string, bytes int, duration time.Duration)
	// RecordPlan records the result of one planning run.
	RecordPlan(ctx context.Context, center, mission, filetype string, jobs, files, skipped int)
	// RecordSounding counts one sounding handled by the worker.
	RecordSounding(ctx context.Context, center, filetype, outcome string)
	// RecordJob observes one worker job.
	RecordJob(ctx context.Context, center, status string, duration time.Duration)
	// RecordRetry counts one retried storage call.
	RecordRetry(ctx context.Context, component, reason string)
}
