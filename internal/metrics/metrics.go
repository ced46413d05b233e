// Package metrics exposes Prometheus collectors for tasks, the admission
// gate, the progress bus and the retention sweeper.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ytget/ytfetch/internal/model"
)

const namespace = "ytfetch"

// Task outcomes
const (
	OutcomeFinished = "finished"
	OutcomeAborted  = "aborted"
	OutcomeError    = "error"
)

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	gateInUse      prometheus.Gauge
	gateWaiting    prometheus.Gauge
	proxyBytes     prometheus.Counter
	eventsDropped  prometheus.Counter
	filesSwept     prometheus.Counter
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Fetch tasks accepted, by kind.",
		}, []string{"kind"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Fetch tasks that reached a terminal phase, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		gateInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_in_use",
			Help:      "Transfer slots currently held.",
		}),
		gateWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_waiting",
			Help:      "Tasks waiting for a transfer slot.",
		}),
		proxyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_bytes_total",
			Help:      "Bytes streamed to clients by the proxy path.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Progress events a slow listener missed.",
		}),
		filesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_swept_total",
			Help:      "Expired output files removed by the retention sweeper.",
		}),
	}

	m.registry.MustRegister(
		m.tasksSubmitted,
		m.tasksFinished,
		m.gateInUse,
		m.gateWaiting,
		m.proxyBytes,
		m.eventsDropped,
		m.filesSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TaskSubmitted counts an accepted task
func (m *Metrics) TaskSubmitted(kind model.TaskKind) {
	m.tasksSubmitted.WithLabelValues(string(kind)).Inc()
}

// TaskFinished counts a task reaching a terminal phase
func (m *Metrics) TaskFinished(kind model.TaskKind, phase model.Phase) {
	outcome := OutcomeFinished
	switch phase {
	case model.PhaseAborted:
		outcome = OutcomeAborted
	case model.PhaseError:
		outcome = OutcomeError
	}
	m.tasksFinished.WithLabelValues(string(kind), outcome).Inc()
}

// GateChanged implements admission.Observer
func (m *Metrics) GateChanged(inUse, waiting int) {
	m.gateInUse.Set(float64(inUse))
	m.gateWaiting.Set(float64(waiting))
}

// EventDropped implements events.DropCounter
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// ProxyBytes adds streamed bytes
func (m *Metrics) ProxyBytes(n int) {
	if n > 0 {
		m.proxyBytes.Add(float64(n))
	}
}

// FilesSwept adds removed files
func (m *Metrics) FilesSwept(n int) {
	if n > 0 {
		m.filesSwept.Add(float64(n))
	}
}
