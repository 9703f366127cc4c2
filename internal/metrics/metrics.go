// Package metrics exposes Prometheus collectors for the listeners, the
// WebSocket hub and the document store. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation in tests.
package metrics

import (
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gamedesk"

// Metrics owns a private registry and every collector registered on it.
type Metrics struct {
	registry *prometheus.Registry

	// ConnectionsTotal counts accepted connections by listener.
	ConnectionsTotal *prometheus.CounterVec
	// ConnectionsActive tracks open connections, upgraded subscribers included.
	ConnectionsActive *prometheus.GaugeVec
	// RequestsTotal counts routed requests by kind.
	RequestsTotal *prometheus.CounterVec
	// HandlerFaultsTotal counts failed dynamic handler invocations by key.
	HandlerFaultsTotal *prometheus.CounterVec
	// Subscribers tracks registered WebSocket subscribers.
	Subscribers prometheus.Gauge
	// FramesTotal counts frames written by outcome.
	FramesTotal *prometheus.CounterVec
	// SourceLoadsTotal counts source parses by status.
	SourceLoadsTotal *prometheus.CounterVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by listener",
		}, []string{"listener"}),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open connections by listener, including upgraded subscribers",
		}, []string{"listener"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routed requests by kind (static, listing, dynamic, error, socket)",
		}, []string{"kind"}),
		HandlerFaultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_faults_total",
			Help:      "Dynamic handler failures by handler key",
		}, []string{"handler"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_subscribers",
			Help:      "Registered WebSocket subscribers across all channels",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_frames_total",
			Help:      "WebSocket frames written by status (ok, failed)",
		}, []string{"status"}),
		SourceLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_loads_total",
			Help:      "Data source parses by file and status (ok, error)",
		}, []string{"file", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.RequestsTotal,
		m.HandlerFaultsTotal,
		m.Subscribers,
		m.FramesTotal,
		m.SourceLoadsTotal,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened(listener string) {
	if m == nil {
		return
	}
	m.ConnectionsTotal.WithLabelValues(listener).Inc()
	m.ConnectionsActive.WithLabelValues(listener).Inc()
}

// ConnClosed records a connection closing.
func (m *Metrics) ConnClosed(listener string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(listener).Dec()
}

// Request records one routed request.
func (m *Metrics) Request(kind string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind).Inc()
}

// HandlerFault records a failed dynamic handler invocation.
func (m *Metrics) HandlerFault(key string) {
	if m == nil {
		return
	}
	m.HandlerFaultsTotal.WithLabelValues(key).Inc()
}

// SubscriberAdded records a new WebSocket subscriber.
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

// SubscribersRemoved records pruned subscribers.
func (m *Metrics) SubscribersRemoved(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Subscribers.Sub(float64(n))
}

// FramesWritten records the outcome of one publish sweep.
func (m *Metrics) FramesWritten(ok, failed int) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues("ok").Add(float64(ok))
	m.FramesTotal.WithLabelValues("failed").Add(float64(failed))
}

// SourceLoaded records one parsed data source.
func (m *Metrics) SourceLoaded(path string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SourceLoadsTotal.WithLabelValues(filepath.Base(path), status).Inc()
}
