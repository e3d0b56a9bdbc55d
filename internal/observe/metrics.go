// Package observe provides application-wide observability primitives for
// auris: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all auris metrics.
const meterName = "github.com/MrWong99/auris"

// Chunk outcome values for the status attribute on [Metrics.ChunksProcessed].
const (
	ChunkStatusOK    = "ok"
	ChunkStatusEmpty = "empty"
	ChunkStatusError = "inference_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// InferenceDuration tracks per-chunk model inference latency.
	InferenceDuration metric.Float64Histogram

	// ChunksProcessed counts capture chunks by outcome. Use with attribute:
	//   attribute.String("status", ChunkStatusOK | ChunkStatusEmpty | ChunkStatusError)
	ChunksProcessed metric.Int64Counter

	// Detections counts recognition results by category. Use with attribute:
	//   attribute.String("label", ...)
	Detections metric.Int64Counter

	// PipelineErrors counts failures by pipeline stage. Use with attribute:
	//   attribute.String("stage", "capture" | "inference" | "history")
	PipelineErrors metric.Int64Counter

	// ActiveSessions tracks whether a listening session is currently live
	// (0 or 1 for a single-session process).
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for per-chunk inference latencies, which sit well under the 200ms chunk
// interval on healthy hardware.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("auris.inference.duration",
		metric.WithDescription("Latency of per-chunk model inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ChunksProcessed, err = m.Int64Counter("auris.capture.chunks",
		metric.WithDescription("Total capture chunks by processing outcome."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("auris.detections",
		metric.WithDescription("Total recognition results by category label."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("auris.pipeline.errors",
		metric.WithDescription("Total pipeline failures by stage."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("auris.active_sessions",
		metric.WithDescription("Number of live listening sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("auris.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChunk records one processed capture chunk with its outcome.
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.ChunksProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDetection records one recognition result under its category label.
func (m *Metrics) RecordDetection(ctx context.Context, label string) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("label", label)),
	)
}

// RecordPipelineError records a pipeline failure for the given stage.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
