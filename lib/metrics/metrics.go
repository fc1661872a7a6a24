// Copyright 2026 The Cordon Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics instruments the daemons with Prometheus counters and
// gauges. A nil *Metrics is a valid disabled instance: every recorder
// checks the receiver, so components take a *Metrics without caring
// whether metrics are enabled. The exposition endpoint (Server) is only
// constructed when they are.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the instrument set shared by the transport, dispatcher,
// and authority layers. Each instance carries its own registry, so
// tests and multi-daemon processes never collide on metric names.
type Metrics struct {
	registry *prometheus.Registry

	handshakes  *prometheus.CounterVec
	sessions    prometheus.Gauge
	decisions   *prometheus.CounterVec
	enrollments *prometheus.CounterVec
	requests    *prometheus.CounterVec
	storeErrors prometheus.Counter
}

// New creates a Metrics instance backed by a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "handshakes_total",
		Help:      "Completed handshake attempts by result (established, failed).",
	}, []string{"result"})
	m.sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cordon",
		Name:      "sessions_active",
		Help:      "Secure channel sessions currently registered.",
	})
	m.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "decisions_total",
		Help:      "Policy decisions by outcome (allow, deny).",
	}, []string{"decision"})
	m.enrollments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "enrollments_total",
		Help:      "Enrollment attempts by result.",
	}, []string{"result"})
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "requests_total",
		Help:      "Dispatched requests by response status.",
	}, []string{"status"})
	m.storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cordon",
		Name:      "store_errors_total",
		Help:      "Trust store operations that failed with a storage error.",
	})
	m.registry.MustRegister(
		m.handshakes,
		m.sessions,
		m.decisions,
		m.enrollments,
		m.requests,
		m.storeErrors,
	)
	return m
}

// HandshakeEstablished records a handshake that produced a session.
func (m *Metrics) HandshakeEstablished() {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("established").Inc()
}

// HandshakeFailed records a handshake that ended in the failed state.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("failed").Inc()
}

// SessionsActive sets the active session gauge. Callers pass the
// registry size after each register or remove rather than pairing
// increments with decrements.
func (m *Metrics) SessionsActive(count int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(count))
}

// Decision records one policy decision ("allow" or "deny").
func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

// Enrollment records one enrollment attempt by result. The authority
// service picks the result vocabulary ("issued", "rejected", "error").
func (m *Metrics) Enrollment(result string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(result).Inc()
}

// Request records one dispatched request by response status.
func (m *Metrics) Request(status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(status).Inc()
}

// StoreError records a trust store operation that failed below the
// business layer.
func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

// Handler serves this instance's registry in Prometheus exposition
// format. Requires a non-nil receiver; a disabled (nil) Metrics has
// nothing to expose and no Server to mount it on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
