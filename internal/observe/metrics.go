// Package observe provides application-wide observability primitives for the
// gateway: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/MrWong99/mcp-gateway"

// Metrics holds all OpenTelemetry metric instruments for the gateway. All
// fields are safe for concurrent use — the underlying OTel types handle their
// own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// UseToolDuration tracks use_tool (and each multi_use_tool call) latency,
	// from argument validation through the upstream CallTool round trip.
	UseToolDuration metric.Float64Histogram

	// UpstreamConnectDuration tracks how long GetClient takes to establish a
	// new upstream connection, including eager-connect retries.
	UpstreamConnectDuration metric.Float64Histogram

	// CatalogRefreshDuration tracks how long a ListTools round trip to an
	// upstream takes when (re)populating the tool catalog.
	CatalogRefreshDuration metric.Float64Histogram

	// MultiUseToolBatchDuration tracks the wall-clock time of an entire
	// multi_use_tool batch, from dispatch to the last call finishing.
	MultiUseToolBatchDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts use_tool invocations. Use with attributes:
	//   attribute.String("package", ...), attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// UpstreamConnects counts GetClient connection attempts. Use with
	// attributes: attribute.String("package", ...), attribute.String("result", ...)
	UpstreamConnects metric.Int64Counter

	// AuthFlows counts authenticate meta-tool invocations. Use with
	// attributes: attribute.String("package", ...), attribute.String("action", ...)
	AuthFlows metric.Int64Counter

	// ConfigReloads counts config hot-reload cycles triggered by the watcher.
	// Use with attribute.String("result", "ok"|"error").
	ConfigReloads metric.Int64Counter

	// --- Error counters ---

	// ToolErrors counts use_tool/multi_use_tool failures by error code. Use
	// with attributes: attribute.String("package", ...), attribute.String("code", ...)
	ToolErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePackages tracks the number of configured, non-disabled packages
	// in the current snapshot.
	ActivePackages metric.Int64UpDownCounter

	// ConnectedPackages tracks the number of packages currently holding a
	// live upstream connection.
	ConnectedPackages metric.Int64UpDownCounter

	// InFlightBatchCalls tracks how many multi_use_tool calls are currently
	// running (started, not yet completed) across all in-flight batches.
	InFlightBatchCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time (/healthz,
	// /readyz, /metrics). Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from a fast validation-only failure up to a slow upstream call
// against the batch deadline.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.UseToolDuration, err = m.Float64Histogram("mcp_gateway.use_tool.duration",
		metric.WithDescription("Latency of a single use_tool call, validation through upstream response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UpstreamConnectDuration, err = m.Float64Histogram("mcp_gateway.upstream_connect.duration",
		metric.WithDescription("Latency of establishing a connection to an upstream package."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CatalogRefreshDuration, err = m.Float64Histogram("mcp_gateway.catalog_refresh.duration",
		metric.WithDescription("Latency of refreshing a package's tool catalog via ListTools."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MultiUseToolBatchDuration, err = m.Float64Histogram("mcp_gateway.multi_use_tool.batch_duration",
		metric.WithDescription("Wall-clock duration of a multi_use_tool batch from dispatch to last completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("mcp_gateway.tool.calls",
		metric.WithDescription("Total use_tool invocations by package, tool and status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamConnects, err = m.Int64Counter("mcp_gateway.upstream.connects",
		metric.WithDescription("Total upstream connection attempts by package and result."),
	); err != nil {
		return nil, err
	}
	if met.AuthFlows, err = m.Int64Counter("mcp_gateway.auth.flows",
		metric.WithDescription("Total authenticate meta-tool invocations by package and action."),
	); err != nil {
		return nil, err
	}
	if met.ConfigReloads, err = m.Int64Counter("mcp_gateway.config.reloads",
		metric.WithDescription("Total config hot-reload cycles by result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ToolErrors, err = m.Int64Counter("mcp_gateway.tool.errors",
		metric.WithDescription("Total use_tool/multi_use_tool failures by package and error code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePackages, err = m.Int64UpDownCounter("mcp_gateway.active_packages",
		metric.WithDescription("Number of configured, non-disabled packages in the current snapshot."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedPackages, err = m.Int64UpDownCounter("mcp_gateway.connected_packages",
		metric.WithDescription("Number of packages currently holding a live upstream connection."),
	); err != nil {
		return nil, err
	}
	if met.InFlightBatchCalls, err = m.Int64UpDownCounter("mcp_gateway.multi_use_tool.in_flight_calls",
		metric.WithDescription("Number of multi_use_tool calls currently started and running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mcp_gateway.http.request.duration",
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

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, pkg, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordUpstreamConnect is a convenience method that records an upstream
// connect-attempt counter increment.
func (m *Metrics) RecordUpstreamConnect(ctx context.Context, pkg, result string) {
	m.UpstreamConnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("result", result),
		),
	)
}

// RecordAuthFlow is a convenience method that records an authenticate
// meta-tool invocation.
func (m *Metrics) RecordAuthFlow(ctx context.Context, pkg, action string) {
	m.AuthFlows.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("action", action),
		),
	)
}

// RecordToolError is a convenience method that records a use_tool/
// multi_use_tool error counter increment.
func (m *Metrics) RecordToolError(ctx context.Context, pkg, code string) {
	m.ToolErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("package", pkg),
			attribute.String("code", code),
		),
	)
}

// RecordConfigReload is a convenience method that records a config
// hot-reload cycle.
func (m *Metrics) RecordConfigReload(ctx context.Context, result string) {
	m.ConfigReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}
