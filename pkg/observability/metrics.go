package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records engine, coordinator and tool activity.
type Metrics interface {
	RecordSend(ctx context.Context, agent string, duration time.Duration, events int, err error)
	RecordPoll(ctx context.Context, agent string, attempts int, settled bool)
	RecordTask(ctx context.Context, agent string, state string, duration time.Duration)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	OnRetry(operation string, attempt int, err error)
}

// PrometheusMetrics implements Metrics with OpenTelemetry instruments
// exported through a Prometheus registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	sendDuration metric.Float64Histogram
	sendTotal    metric.Int64Counter
	sendErrors   metric.Int64Counter
	sendEvents   metric.Int64Counter

	pollAttempts  metric.Int64Counter
	pollUnsettled metric.Int64Counter

	taskDuration metric.Float64Histogram
	taskTotal    metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolErrors   metric.Int64Counter

	httpDuration metric.Float64Histogram
	retries      metric.Int64Counter
}

// NewMetrics creates the instruments on a fresh registry. The registry is
// shared with other collectors through Registry.
func NewMetrics(cfg MetricsConfig) (*PrometheusMetrics, error) {
	cfg.SetDefaults()
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &PrometheusMetrics{registry: registry, provider: provider}

	if m.sendDuration, err = meter.Float64Histogram("send_duration_seconds",
		metric.WithDescription("Duration of one message exchange with a remote agent")); err != nil {
		return nil, fmt.Errorf("failed to create send duration histogram: %w", err)
	}
	if m.sendTotal, err = meter.Int64Counter("sends_total",
		metric.WithDescription("Messages sent to remote agents")); err != nil {
		return nil, fmt.Errorf("failed to create sends counter: %w", err)
	}
	if m.sendErrors, err = meter.Int64Counter("send_errors_total",
		metric.WithDescription("Failed message exchanges")); err != nil {
		return nil, fmt.Errorf("failed to create send errors counter: %w", err)
	}
	if m.sendEvents, err = meter.Int64Counter("stream_events_total",
		metric.WithDescription("Streamed events received from remote agents")); err != nil {
		return nil, fmt.Errorf("failed to create stream events counter: %w", err)
	}
	if m.pollAttempts, err = meter.Int64Counter("poll_attempts_total",
		metric.WithDescription("tasks/get calls made while waiting for completion")); err != nil {
		return nil, fmt.Errorf("failed to create poll attempts counter: %w", err)
	}
	if m.pollUnsettled, err = meter.Int64Counter("poll_unsettled_total",
		metric.WithDescription("Completion polls that gave up before the task settled")); err != nil {
		return nil, fmt.Errorf("failed to create poll unsettled counter: %w", err)
	}
	if m.taskDuration, err = meter.Float64Histogram("task_duration_seconds",
		metric.WithDescription("Server-side task execution time")); err != nil {
		return nil, fmt.Errorf("failed to create task duration histogram: %w", err)
	}
	if m.taskTotal, err = meter.Int64Counter("tasks_total",
		metric.WithDescription("Server-side tasks by final state")); err != nil {
		return nil, fmt.Errorf("failed to create tasks counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram("tool_call_duration_seconds",
		metric.WithDescription("MCP tool call duration")); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter("tool_errors_total",
		metric.WithDescription("Failed MCP tool calls")); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}
	if m.retries, err = meter.Int64Counter("retries_total",
		metric.WithDescription("Retried operations")); err != nil {
		return nil, fmt.Errorf("failed to create retries counter: %w", err)
	}

	return m, nil
}

// Registry returns the Prometheus registry backing the exporter.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Shutdown flushes the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *PrometheusMetrics) RecordSend(ctx context.Context, agent string, duration time.Duration, events int, err error) {
	if m == nil || m.sendTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.sendDuration.Record(ctx, duration.Seconds(), attrs)
	m.sendTotal.Add(ctx, 1, attrs)
	if events > 0 {
		m.sendEvents.Add(ctx, int64(events), attrs)
	}
	if err != nil {
		m.sendErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordPoll(ctx context.Context, agent string, attempts int, settled bool) {
	if m == nil || m.pollAttempts == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.pollAttempts.Add(ctx, int64(attempts), attrs)
	if !settled {
		m.pollUnsettled.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordTask(ctx context.Context, agent string, state string, duration time.Duration) {
	if m == nil || m.taskTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("state", state),
	)
	m.taskDuration.Record(ctx, duration.Seconds(), attrs)
	m.taskTotal.Add(ctx, 1, attrs)
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	m.httpDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", strconv.Itoa(status)),
	))
}

// OnRetry satisfies retry.Observer.
func (m *PrometheusMetrics) OnRetry(operation string, _ int, _ error) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordSend(context.Context, string, time.Duration, int, error) {}
func (NoopMetrics) RecordPoll(context.Context, string, int, bool) {}
func (NoopMetrics) RecordTask(context.Context, string, string, time.Duration) {}
func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordHTTPRequest(string, string, int, time.Duration) {}
func (NoopMetrics) OnRetry(string, int, error) {}

// SetGlobalMetrics replaces the process-wide Metrics. nil restores the no-op.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide Metrics.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
