// Package metric holds the emulator's prometheus instrumentation. The
// dispatcher feeds it; the operator scrapes it from the endpoint served
// by Server.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the dispatch-level collectors.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	OperationsInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudemu",
				Subsystem: "dispatch",
				Name:      "operations_total",
				Help:      "Operations dispatched, by provider, service and operation name",
			},
			[]string{"provider", "service", "operation"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudemu",
				Subsystem: "dispatch",
				Name:      "errors_total",
				Help:      "Failed operations, by service and error kind",
			},
			[]string{"service", "kind"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cloudemu",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Operation handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),
		OperationsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cloudemu",
				Subsystem: "dispatch",
				Name:      "in_flight",
				Help:      "Operations currently being handled",
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.OperationsTotal,
		m.ErrorsTotal,
		m.OperationDuration,
		m.OperationsInFlight,
	)
	return m
}

// Registry exposes the private registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
