// Package metrics owns the prometheus collectors exported on /metrics.
//
// All methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stockpulse"

type Metrics struct {
	reg *prometheus.Registry

	pollCycles      *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	queryErrors     *prometheus.CounterVec
	changeEvents    *prometheus.CounterVec
	backendRequests *prometheus.CounterVec
	persistFailures prometheus.Counter
	sectionTotal    *prometheus.GaugeVec
	systemUpdate    prometheus.Gauge
	digestSent      prometheus.Counter
	digestFailed    prometheus.Counter
	streamClients   prometheus.Gauge
	busDropped      *prometheus.CounterVec
}

// New builds the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Finished poll cycles by poller and result.",
		}, []string{"poller", "result"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a poll cycle.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"poller"}),
		queryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "query_errors_total",
			Help:      "Failed backend queries by poller and domain.",
		}, []string{"poller", "domain"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "change_events_total",
			Help:      "Change events submitted to the aggregator.",
		}, []string{"poller"}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Backend query requests by domain and outcome.",
		}, []string{"domain", "outcome"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "persist_failures_total",
			Help:      "State writes that failed after an in-memory mutation.",
		}),
		sectionTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "section_total",
			Help:      "Current aggregated count per section.",
		}, []string{"section"}),
		systemUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "system_update_count",
			Help:      "Current system update flag count.",
		}),
		digestSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "sent_total",
			Help:      "Digest messages delivered.",
		}),
		digestFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "digest",
			Name:      "failed_total",
			Help:      "Digest messages dropped after retries.",
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Connected websocket stream clients.",
		}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Events a slow subscriber missed, by event type.",
		}, []string{"type"}),
	}
	m.reg.MustRegister(m.PrometheusCollectors()...)
	return m
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.pollCycles,
		m.pollDuration,
		m.queryErrors,
		m.changeEvents,
		m.backendRequests,
		m.persistFailures,
		m.sectionTotal,
		m.systemUpdate,
		m.digestSent,
		m.digestFailed,
		m.streamClients,
		m.busDropped,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(poller, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(poller, result).Inc()
	m.pollDuration.WithLabelValues(poller).Observe(d.Seconds())
}

func (m *Metrics) QueryFailed(poller, domain string) {
	if m == nil {
		return
	}
	m.queryErrors.WithLabelValues(poller, domain).Inc()
}

func (m *Metrics) ChangeSubmitted(poller string) {
	if m == nil {
		return
	}
	m.changeEvents.WithLabelValues(poller).Inc()
}

func (m *Metrics) BackendRequest(domain, outcome string) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(domain, outcome).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) SetSectionTotal(section string, v uint64) {
	if m == nil {
		return
	}
	m.sectionTotal.WithLabelValues(section).Set(float64(v))
}

func (m *Metrics) SetSystemUpdate(v uint64) {
	if m == nil {
		return
	}
	m.systemUpdate.Set(float64(v))
}

func (m *Metrics) DigestSent() {
	if m == nil {
		return
	}
	m.digestSent.Inc()
}

func (m *Metrics) DigestFailed() {
	if m == nil {
		return
	}
	m.digestFailed.Inc()
}

func (m *Metrics) StreamClientAdded(delta int) {
	if m == nil {
		return
	}
	m.streamClients.Add(float64(delta))
}

// BusDropped counts subscribers that missed one published event.
func (m *Metrics) BusDropped(eventType string, missed int) {
	if m == nil || missed <= 0 {
		return
	}
	m.busDropped.WithLabelValues(eventType).Add(float64(missed))
}
