package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// Manager owns the tracer and metrics of one process.
type Manager struct {
	mu      sync.RWMutex
	config  Config
	tracer  *Tracer
	metrics *PrometheusMetrics
}

// NewManager creates a Manager. Call Initialize before use.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{config: cfg}
}

// Initialize builds the configured exporters and installs the metrics as
// the global Metrics.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.config.Validate(); err != nil {
		return err
	}

	var opts []TracerOption
	if m.config.Tracing.DebugExporter {
		opts = append(opts, WithDebugExporter(NewDebugExporter(0)))
	}
	tracer, err := NewTracer(ctx, &m.config.Tracing, opts...)
	if err != nil {
		return err
	}
	m.tracer = tracer

	if m.config.Metrics.Enabled {
		metrics, err := NewMetrics(m.config.Metrics)
		if err != nil {
			return err
		}
		m.metrics = metrics
		SetGlobalMetrics(metrics)
	}
	return nil
}

// Tracer returns the tracer. It is nil when tracing is disabled, which is
// still safe to use.
func (m *Manager) Tracer() *Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

// Metrics returns the active Metrics, a no-op when disabled.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// Prometheus returns the Prometheus-backed metrics, or nil when disabled.
func (m *Manager) Prometheus() *PrometheusMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsPath returns where the metrics handler should be mounted.
func (m *Manager) MetricsPath() string {
	return m.config.Metrics.Endpoint
}

// MetricsHandler returns the exposition handler, or nil when disabled.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return nil
	}
	return m.metrics.Handler()
}

// Shutdown flushes exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	SetGlobalMetrics(nil)
	return errors.Join(errs...)
}
