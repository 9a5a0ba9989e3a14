// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connmetrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/switchboard/lib/connection"
	"github.com/bureau-foundation/switchboard/lib/netutil"
	"github.com/bureau-foundation/switchboard/lib/workerpool"
)

const namespace = "switchboard"

// Outcome label values for switchboard_connections_closed_total.
const (
	OutcomeOK            = "ok"
	OutcomeInterrupted   = "interrupted"
	OutcomeProtocolError = "protocol_error"
	OutcomeError         = "error"
)

// Metrics records connection manager events into a private Prometheus
// registry. It is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	up           *prometheus.GaugeVec
	accepted     *prometheus.CounterVec
	active       *prometheus.GaugeVec
	closed       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	acceptErrors *prometheus.CounterVec
}

var _ connection.Observer = (*Metrics)(nil)

// New creates a Metrics with its own registry. The registry also
// carries the standard Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_up",
			Help:      "Whether the named listener is accepting connections.",
		}, []string{"listener"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted, by listener.",
		}, []string{"listener"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently being handled, by listener.",
		}, []string{"listener"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Connections closed, by listener and how the handler finished.",
		}, []string{"listener", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Time from accept to close, by listener.",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30, 120, 600, 3600},
		}, []string{"listener"}),
		acceptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Accept calls that failed with something other than a timeout.",
		}, []string{"listener"}),
	}
	m.registry.MustRegister(
		m.up, m.accepted, m.active, m.closed, m.duration, m.acceptErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePool exports a worker pool's Stats as gauges labelled by
// pool name. Registering the same name twice returns an error.
func (m *Metrics) ObservePool(name string, pool *workerpool.Pool) error {
	gauge := func(metric, help string, value func(workerpool.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        metric,
			Help:        help,
			ConstLabels: prometheus.Labels{"pool": name},
		}, func() float64 { return float64(value(pool.Stats())) })
	}
	for _, collector := range []prometheus.Collector{
		gauge("workers", "Live worker goroutines, busy or idle.", func(s workerpool.Stats) int { return s.Workers }),
		gauge("idle_workers", "Workers parked waiting for work.", func(s workerpool.Stats) int { return s.Idle }),
		gauge("queued", "Units of work waiting for a worker.", func(s workerpool.Stats) int { return s.Queued }),
	} {
		if err := m.registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ListenerStarted(listener, _ string) {
	m.up.WithLabelValues(listener).Set(1)
}

func (m *Metrics) ListenerStopped(listener string) {
	m.up.WithLabelValues(listener).Set(0)
}

func (m *Metrics) ConnectionAccepted(listener string) {
	m.accepted.WithLabelValues(listener).Inc()
	m.active.WithLabelValues(listener).Inc()
}

func (m *Metrics) ConnectionClosed(listener string, duration time.Duration, err error) {
	m.active.WithLabelValues(listener).Dec()
	m.closed.WithLabelValues(listener, Outcome(err)).Inc()
	m.duration.WithLabelValues(listener).Observe(duration.Seconds())
}

func (m *Metrics) AcceptFailed(listener string, _ error) {
	m.acceptErrors.WithLabelValues(listener).Inc()
}

// Outcome classifies how a handler finished. The peer hanging up
// counts as ok.
func Outcome(err error) string {
	var protocolErr *connection.ProtocolError
	switch {
	case err == nil, netutil.IsExpectedCloseError(err):
		return OutcomeOK
	case errors.Is(err, context.Canceled), netutil.IsTimeout(err):
		return OutcomeInterrupted
	case errors.As(err, &protocolErr):
		return OutcomeProtocolError
	default:
		return OutcomeError
	}
}
