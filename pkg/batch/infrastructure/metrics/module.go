// Package metrics provides the Prometheus and OTLP recorders and the OpenTelemetry tracer.
package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	metrics "github.com/tigerroll/rorefcat/pkg/batch/core/metrics"
	logger "github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// NewMetricRecorder returns the recorder named by metrics.exporter, or a no-op
// recorder when metrics are disabled. A Prometheus textfile is written and an
// OTLP exporter is flushed when the application stops.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.Config) (metrics.MetricRecorder, error) {
	mc := cfg.RORefCat.Metrics
	if !mc.Enabled {
		return metrics.NewNoOpMetricRecorder(), nil
	}
	if mc.Exporter != "" && mc.Exporter != "prometheus" {
		r, err := NewOTLPRecorder(context.Background(), mc, cfg.RORefCat.Tracing.ServiceName)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: r.Shutdown})
		return r, nil
	}
	r := NewPrometheusRecorder()
	if mc.TextfilePath != "" {
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			if err := r.WriteTextfile(mc.TextfilePath); err != nil {
				logger.Warnf("Failed to write metrics textfile %s: %v", mc.TextfilePath, err)
			}
			return nil
		}})
	}
	return r, nil
}

// NewTracer returns the configured tracer and flushes it on stop.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (metrics.Tracer, error) {
	t, err := NewOpenTelemetryTracer(context.Background(), cfg.RORefCat.Tracing)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: t.Shutdown})
	return t, nil
}

// Module is an Fx module that provides the MetricRecorder and Tracer.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder),
	fx.Provide(NewTracer),
)
