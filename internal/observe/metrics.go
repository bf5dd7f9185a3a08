// Package observe provides application-wide observability primitives for
// MindfulCart: OpenTelemetry metrics, distributed tracing, trace-aware
// structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider], so they can be scraped from /metrics. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] instead of
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MindfulCart metrics.
const meterName = "github.com/MrWong99/mindfulcart"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// ProviderDuration tracks the latency of a single provider attempt. Use
	// with attributes provider and status.
	ProviderDuration metric.Float64Histogram

	// ProviderRequests counts provider attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("reason", ...)
	ProviderErrors metric.Int64Counter

	// ChatRequests counts answered chat requests by the service that produced
	// the reply. Use with attribute:
	//   attribute.String("service", ...)
	ChatRequests metric.Int64Counter

	// LocalFallbacks counts replies produced by the built-in responder because
	// no remote provider succeeded.
	LocalFallbacks metric.Int64Counter

	// ChatInFlight tracks chat requests currently being processed.
	ChatInFlight metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote completion calls bounded by a per-attempt timeout.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProviderDuration, err = m.Float64Histogram("mindfulcart.provider.duration",
		metric.WithDescription("Latency of a single provider attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("mindfulcart.provider.requests",
		metric.WithDescription("Total provider attempts by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mindfulcart.provider.errors",
		metric.WithDescription("Total failed provider attempts by provider and reason."),
	); err != nil {
		return nil, err
	}
	if met.ChatRequests, err = m.Int64Counter("mindfulcart.chat.requests",
		metric.WithDescription("Total answered chat requests by replying service."),
	); err != nil {
		return nil, err
	}
	if met.LocalFallbacks, err = m.Int64Counter("mindfulcart.chat.local_fallbacks",
		metric.WithDescription("Total replies produced by the built-in responder."),
	); err != nil {
		return nil, err
	}

	if met.ChatInFlight, err = m.Int64UpDownCounter("mindfulcart.chat.in_flight",
		metric.WithDescription("Number of chat requests currently being processed."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mindfulcart.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderAttempt records the latency and outcome of one provider
// attempt. status is "ok" or the failure reason.
func (m *Metrics) RecordProviderAttempt(ctx context.Context, provider, kind, status string, seconds float64) {
	m.ProviderDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a failed provider attempt.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, reason string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		),
	)
}

// RecordChatReply records an answered chat request. Replies from the
// built-in responder also increment [Metrics.LocalFallbacks].
func (m *Metrics) RecordChatReply(ctx context.Context, service string, local bool) {
	m.ChatRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("service", service)),
	)
	if local {
		m.LocalFallbacks.Add(ctx, 1)
	}
}
