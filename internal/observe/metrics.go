// Package observe provides application-wide observability primitives for
// voxlabel: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] so that metrics can be scraped
// via /metrics. Tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxlabel metrics.
const meterName = "github.com/MrWong99/voxlabel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// OverridesApplied counts successful speaker overrides.
	OverridesApplied metric.Int64Counter

	// Reverts counts reverted overrides. Use with attribute:
	//   attribute.String("scope", "single"|"all")
	Reverts metric.Int64Counter

	// SessionsPurged counts dropped sessions. Use with attribute:
	//   attribute.String("reason", "expired"|"cleared"|"shutdown")
	SessionsPurged metric.Int64Counter

	// ValidationFailures counts rejected name/role inputs. Use with attribute:
	//   attribute.String("field", "name"|"role")
	ValidationFailures metric.Int64Counter

	// SummaryDuration tracks summariser latency.
	SummaryDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.OverridesApplied, err = m.Int64Counter("voxlabel.overrides.applied",
		metric.WithDescription("Total speaker overrides applied."),
	); err != nil {
		return nil, err
	}
	if met.Reverts, err = m.Int64Counter("voxlabel.overrides.reverted",
		metric.WithDescription("Total speaker overrides reverted by scope."),
	); err != nil {
		return nil, err
	}
	if met.SessionsPurged, err = m.Int64Counter("voxlabel.sessions.purged",
		metric.WithDescription("Total sessions purged by reason."),
	); err != nil {
		return nil, err
	}
	if met.ValidationFailures, err = m.Int64Counter("voxlabel.validation.failures",
		metric.WithDescription("Total rejected speaker inputs by field."),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("voxlabel.summary.duration",
		metric.WithDescription("Latency of transcript summarisation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxlabel.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveActiveSessions registers an asynchronous gauge reporting count() as
// the number of live sessions at each collection.
func (m *Metrics) ObserveActiveSessions(count func() int) error {
	_, err := m.meter.Int64ObservableGauge("voxlabel.sessions.active",
		metric.WithDescription("Number of live override sessions."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(count()))
			return nil
		}),
	)
	return err
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordOverride records one applied override.
func (m *Metrics) RecordOverride(ctx context.Context) {
	m.OverridesApplied.Add(ctx, 1)
}

// RecordReverts records n reverted overrides for scope "single" or "all".
func (m *Metrics) RecordReverts(ctx context.Context, scope string, n int) {
	if n <= 0 {
		return
	}
	m.Reverts.Add(ctx, int64(n), metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordPurge records one purged session.
func (m *Metrics) RecordPurge(ctx context.Context, reason string) {
	m.SessionsPurged.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordValidationFailure records one rejected field.
func (m *Metrics) RecordValidationFailure(ctx context.Context, field string) {
	m.ValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}
