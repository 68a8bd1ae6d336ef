package shard

import (
	"context"
	"strconv"
	"time"

	"github.com/tigerroll/rorefcat/internal/domain/model"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	"github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	"github.com/tigerroll/rorefcat/pkg/batch/engine/step/retry"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const module = "shard"

// Source reads the records of one shard from the MetadataStore.
type Source interface {
	QueryShard(ctx context.Context, mission string, day time.Time) ([]*model.Sounding, error)
}

// Exporter writes MetadataStore shards to the ObjectStore.
type Exporter struct {
	source  Source
	objects *storage.ObjectStore
	prefix  string
	version string
	policy  retry.RetryPolicy
	metrics metrics.MetricRecorder
}

// NewExporter returns an Exporter writing under {prefix}/{version}/export_subsets/.
func NewExporter(source Source, objects *storage.ObjectStore, prefix, version string, policy retry.RetryPolicy, recorder metrics.MetricRecorder) *Exporter {
	return &Exporter{source: source, objects: objects, prefix: prefix, version: version, policy: policy, metrics: recorder}
}

// ExportReport summarizes an export run.
type ExportReport struct {
	Shards  int
	Records int
	Empty   int
}

// Export writes one shard. Empty shards are not written.
func (e *Exporter) Export(ctx context.Context, id ID) (int, error) {
	var records []*model.Sounding
	err := retry.Do(ctx, module, e.policy, func(ctx context.Context) error {
		var err error
		records, err = e.source.QueryShard(ctx, id.Mission, id.Day)
		return err
	}, e.onRetry("query"))
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	data, err := Encode(id, records)
	if err != nil {
		return 0, err
	}
	p := Path(e.prefix, e.version, id)
	err = retry.Do(ctx, module, e.policy, func(ctx context.Context) error {
		_, err := e.objects.Put(ctx, p, data, map[string]string{"records": strconv.Itoa(len(records))})
		return err
	}, e.onRetry("put"))
	if err != nil {
		return 0, err
	}
	logger.Debugf("Exported shard %s (%d records) to %s", id, len(records), e.objects.URI(p))
	return len(records), nil
}

// ExportRange exports the shards of missions over [from, to).
func (e *Exporter) ExportRange(ctx context.Context, missions []string, from, to time.Time) (ExportReport, error) {
	var report ExportReport
	for _, id := range IDs(missions, from, to) {
		n, err := e.Export(ctx, id)
		if err != nil {
			return report, err
		}
		if n == 0 {
			report.Empty++
			continue
		}
		report.Shards++
		report.Records += n
	}
	logger.Infof("Exported %d shards with %d records (%d empty)", report.Shards, report.Records, report.Empty)
	return report, nil
}

func (e *Exporter) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		logger.Warnf("Shard %s failed (attempt %d), retrying: %v", op, attempt, err)
		e.metrics.RecordRetry(context.Background(), module, op)
	}
}
