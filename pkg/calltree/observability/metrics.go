package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for calltree metrics.
const MeterName = "calltree"

// MetricsRecorder records calltree metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCall records a recorded call with its duration and error status.
	RecordCall(ctx context.Context, chain, function string, duration time.Duration, err error)

	// RecordPersist records a write through a chain's strategy.
	RecordPersist(ctx context.Context, chain string, sizeBytes int64, err error)

	// RecordRestore records a restore and the number of dropped top-level records.
	RecordRestore(ctx context.Context, chain string, dropped int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	calls          metric.Int64Counter
	callLatency    metric.Float64Histogram
	callErrors     metric.Int64Counter
	persistSize    metric.Int64Histogram
	persistErrors  metric.Int64Counter
	restoreDropped metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the metrics instance bound to the global meter
// provider. Lazily initialized on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter(MeterName))
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	calls, err := meter.Int64Counter("calltree.call.count",
		metric.WithDescription("Number of recorded calls"),
	)
	if err != nil {
		return nil, err
	}

	callLatency, err := meter.Float64Histogram("calltree.call.latency_ms",
		metric.WithDescription("Recorded call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	callErrors, err := meter.Int64Counter("calltree.call.errors",
		metric.WithDescription("Number of recorded calls that failed"),
	)
	if err != nil {
		return nil, err
	}

	persistSize, err := meter.Int64Histogram("calltree.persist.size_bytes",
		metric.WithDescription("Size of persisted chain entries in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	persistErrors, err := meter.Int64Counter("calltree.persist.errors",
		metric.WithDescription("Number of failed persistence writes"),
	)
	if err != nil {
		return nil, err
	}

	restoreDropped, err := meter.Int64Histogram("calltree.restore.dropped",
		metric.WithDescription("Top-level records dropped by a restore"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		calls:          calls,
		callLatency:    callLatency,
		callErrors:     callErrors,
		persistSize:    persistSize,
		persistErrors:  persistErrors,
		restoreDropped: restoreDropped,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFor returns a MetricsRecorder bound to a specific
// meter provider instead of the global one.
func NewMetricsRecorderFor(provider metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(provider.Meter(MeterName))
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCall records a recorded call.
func (m *otelMetrics) RecordCall(ctx context.Context, chain, function string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("chain", chain),
		attribute.String("function", function),
	)

	m.calls.Add(ctx, 1, attrs)
	m.callLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.callErrors.Add(ctx, 1, attrs)
	}
}

// RecordPersist records a persistence write.
func (m *otelMetrics) RecordPersist(ctx context.Context, chain string, sizeBytes int64, err error) {
	attrs := metric.WithAttributes(attribute.String("chain", chain))
	if err != nil {
		m.persistErrors.Add(ctx, 1, attrs)
		return
	}
	m.persistSize.Record(ctx, sizeBytes, attrs)
}

// RecordRestore records a restore.
func (m *otelMetrics) RecordRestore(ctx context.Context, chain string, dropped int64) {
	m.restoreDropped.Record(ctx, dropped, metric.WithAttributes(attribute.String("chain", chain)))
}
