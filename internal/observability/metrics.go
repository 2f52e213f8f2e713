package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "giftmap"

// Scan transitions counted by EngineMetrics.RecordScan.
const (
	ScanStarted   = "started"
	ScanCompleted = "completed"
	ScanFaulted   = "faulted"
	ScanStopped   = "stopped"
)

// EngineMetrics holds the Prometheus collectors for the graph engine. All
// methods are safe on a nil receiver.
type EngineMetrics struct {
	registry *prometheus.Registry

	EventsApplied   *prometheus.CounterVec
	EventsRejected  *prometheus.CounterVec
	ApplyDuration   prometheus.Histogram
	Nodes           *prometheus.GaugeVec
	Edges           *prometheus.GaugeVec
	GiftVolume      prometheus.Gauge
	ScanTransitions *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	Exports         *prometheus.CounterVec
}

// NewEngineMetrics registers the engine collectors on reg. A nil reg gets a
// fresh registry that also carries the Go and process collectors.
func NewEngineMetrics(reg *prometheus.Registry) *EngineMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &EngineMetrics{
		registry: reg,
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_applied_total",
			Help:      "Events merged into the graph, by kind.",
		}, []string{"kind"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_rejected_total",
			Help:      "Malformed events rejected, by kind.",
		}, []string{"kind"}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "apply_duration_seconds",
			Help:      "Time spent merging one event.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		Nodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "graph_nodes",
			Help:      "Nodes in the current session graph, by kind.",
		}, []string{"kind"}),
		Edges: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "graph_edges",
			Help:      "Edges in the current session graph, by kind.",
		}, []string{"kind"}),
		GiftVolume: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "graph_gift_volume",
			Help:      "Sum of gift edge weights in the current session graph.",
		}),
		ScanTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scan_transitions_total",
			Help:      "Scan queue transitions, by kind.",
		}, []string{"transition"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scan_queue_depth",
			Help:      "Targets waiting in the scan queue.",
		}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "exports_total",
			Help:      "Graph exports, by format and result.",
		}, []string{"format", "result"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *EngineMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics.
func (m *EngineMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordApply counts one apply attempt.
func (m *EngineMetrics) RecordApply(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EventsRejected.WithLabelValues(kind).Inc()
		return
	}
	m.EventsApplied.WithLabelValues(kind).Inc()
	m.ApplyDuration.Observe(duration.Seconds())
}

// SetGraphSize publishes the current graph size.
func (m *EngineMetrics) SetGraphSize(accounts, channels, memberships, gifts, volume int) {
	if m == nil {
		return
	}
	m.Nodes.WithLabelValues("account").Set(float64(accounts))
	m.Nodes.WithLabelValues("channel").Set(float64(channels))
	m.Edges.WithLabelValues("membership").Set(float64(memberships))
	m.Edges.WithLabelValues("gift").Set(float64(gifts))
	m.GiftVolume.Set(float64(volume))
}

// RecordScan counts a scan queue transition.
func (m *EngineMetrics) RecordScan(transition string) {
	if m == nil {
		return
	}
	m.ScanTransitions.WithLabelValues(transition).Inc()
}

// SetQueueDepth publishes the pending queue length.
func (m *EngineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordExport counts one export attempt.
func (m *EngineMetrics) RecordExport(format string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Exports.WithLabelValues(format, result).Inc()
}
