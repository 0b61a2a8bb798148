// Package metrics provides Prometheus collectors for the gateway's HTTP surface,
// session lifecycle, message dispatch and broadcast fan-out.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics owns a private registry and the gateway's collectors.
// All recording methods are safe to call on a nil *Metrics.
type Metrics struct {
	reg *prometheus.Registry
	log logger.Logger

	httpRequests *prometheus.CounterVec
	httpDuration prometheus.Histogram

	transitions    *prometheus.CounterVec
	initFailures   prometheus.Counter
	messages       *prometheus.CounterVec
	broadcastSends *prometheus.CounterVec
}

// NewMetrics creates the collectors. HTTP collectors are only registered when httpMetrics is set.
func NewMetrics(httpMetrics bool, l logger.Logger) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: l,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session lifecycle transitions by target state",
		}, []string{"state"}),
		initFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_init_failures_total",
			Help:      "Connector initialisation failures across all sessions",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Inbound messages by kind and dispatch outcome",
		}, []string{"kind", "outcome"}),
		broadcastSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Broadcast deliveries by outcome",
		}, []string{"outcome"}),
	}
	m.reg.MustRegister(m.transitions, m.initFailures, m.messages, m.broadcastSends)

	if httpMetrics {
		m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by status code",
		}, []string{"code"})
		m.httpDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 3.0, 10.0, 30.0},
		})
		m.reg.MustRegister(m.httpRequests, m.httpDuration)
	}
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// AddCustomMetric registers an additional collector.
func (m *Metrics) AddCustomMetric(c prometheus.Collector) {
	m.reg.MustRegister(c)
}

// RegisterSessionStates exposes gateway_sessions{state} computed from fn at scrape time.
func (m *Metrics) RegisterSessionStates(fn func() map[string]int) {
	m.AddCustomMetric(&stateCollector{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "sessions"),
			"Registered sessions by lifecycle state", []string{"state"}, nil),
		fn: fn,
	})
}

// SessionTransition records a lifecycle transition into state.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// SessionInitFailure records one failed connector initialisation.
func (m *Metrics) SessionInitFailure() {
	if m == nil {
		return
	}
	m.initFailures.Inc()
}

// MessageHandled records the outcome of dispatching one inbound message.
func (m *Metrics) MessageHandled(kind, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, outcome).Inc()
}

// BroadcastSend records a single broadcast delivery attempt.
func (m *Metrics) BroadcastSend(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "sent"
	}
	m.broadcastSends.WithLabelValues(outcome).Inc()
}

// IncrementHTTPResponseCounter increments the counter for the given HTTP status code.
func (m *Metrics) IncrementHTTPResponseCounter(code int) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// HTTPMiddleware returns a chi-compatible middleware recording status codes and latency.
// It is a pass-through when HTTP metrics are disabled.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil || m.httpRequests == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.httpDuration.Observe(time.Since(start).Seconds())
			m.IncrementHTTPResponseCounter(status)
		})
	}
}

type stateCollector struct {
	desc *prometheus.Desc
	fn   func() map[string]int
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	for state, n := range c.fn() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), state)
	}
}
