// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Init] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/zanussbaum/fast-penguin"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EmbedDuration tracks embedding generation latency. Use with attribute:
	//   attribute.String("model", ...)
	EmbedDuration metric.Float64Histogram

	// BatchWriteDuration tracks vector-store batch write latency, including
	// retries. Use with attribute:
	//   attribute.String("namespace", ...)
	BatchWriteDuration metric.Float64Histogram

	// --- Upload counters ---

	// RowsUploaded counts rows acknowledged by the vector store. Use with
	// attribute: attribute.String("namespace", ...)
	RowsUploaded metric.Int64Counter

	// BatchesFailed counts batches dropped after exhausting retries.
	BatchesFailed metric.Int64Counter

	// BatchesSkipped counts batches skipped due to vector/row misalignment.
	BatchesSkipped metric.Int64Counter

	// --- Embedding service counters ---

	// EmbedRequests counts embedding requests. Use with attribute:
	//   attribute.String("status", ...)
	EmbedRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Embedding
// calls sit in the tens-of-milliseconds range; batch writes with backoff can
// stretch to tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EmbedDuration, err = m.Float64Histogram("wikivec.embed.duration",
		metric.WithDescription("Latency of embedding generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BatchWriteDuration, err = m.Float64Histogram("wikivec.batch_write.duration",
		metric.WithDescription("Latency of vector-store batch writes including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Upload counters.
	if met.RowsUploaded, err = m.Int64Counter("wikivec.rows.uploaded",
		metric.WithDescription("Total rows acknowledged by the vector store, by namespace."),
	); err != nil {
		return nil, err
	}
	if met.BatchesFailed, err = m.Int64Counter("wikivec.batches.failed",
		metric.WithDescription("Total batches dropped after exhausting retries."),
	); err != nil {
		return nil, err
	}
	if met.BatchesSkipped, err = m.Int64Counter("wikivec.batches.skipped",
		metric.WithDescription("Total batches skipped due to vector/row misalignment."),
	); err != nil {
		return nil, err
	}

	// Embedding service counters.
	if met.EmbedRequests, err = m.Int64Counter("wikivec.embed.requests",
		metric.WithDescription("Total embedding requests by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wikivec.http.request.duration",
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

// RecordEmbedRequest records an embedding request counter increment with the
// standard attribute set.
func (m *Metrics) RecordEmbedRequest(ctx context.Context, status string) {
	m.EmbedRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordRowsUploaded records n acknowledged rows for a namespace.
func (m *Metrics) RecordRowsUploaded(ctx context.Context, namespace string, n int64) {
	m.RowsUploaded.Add(ctx, n,
		metric.WithAttributes(attribute.String("namespace", namespace)),
	)
}

// RecordBatchFailed records one permanently dropped batch for a namespace.
func (m *Metrics) RecordBatchFailed(ctx context.Context, namespace string) {
	m.BatchesFailed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("namespace", namespace)),
	)
}

// RecordBatchSkipped records one misaligned, skipped batch for a namespace.
func (m *Metrics) RecordBatchSkipped(ctx context.Context, namespace string) {
	m.BatchesSkipped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("namespace", namespace)),
	)
}
